package stake

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

const (
	// MarinadeStateAccount is the liquid staking program's global state account.
	MarinadeStateAccount = "8szGkuLTAux9XMgZ2vtY39jVSowEcpBfFfD8hXSEqdGC"
	// MarinadeProgramID owns MarinadeStateAccount.
	MarinadeProgramID = "MarBmsSgKXdrN1egZf5sqe1TMai9K1rChYNDJgjq7aD"
)

// Layout of the State account: an 8 byte account discriminator, four pubkeys
// (msol mint, admin, operational sol account, treasury msol account), two
// bump seeds and rent_exempt_for_token_acc (u64), then reward_fee as a u32
// in basis points.
const (
	rewardFeeOffset = 8 + 4*32 + 2 + 8
	rewardFeeEnd    = rewardFeeOffset + 4
)

// sha256("account:State")[:8]
var stateDiscriminator = []byte{216, 146, 107, 94, 104, 75, 182, 177}

var ErrInvalidState = errors.New("invalid marinade state account")

// AccountInfoRPC is the subset of the Solana RPC client used to read raw account data.
type AccountInfoRPC interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *solanarpc.GetAccountInfoOpts) (*solanarpc.GetAccountInfoResult, error)
}

// ReadManagementFee returns the pool's reward fee, as a percent, from the
// State account at state.
func ReadManagementFee(ctx context.Context, rpc AccountInfoRPC, state solana.PublicKey) (float64, error) {
	start := time.Now()
	res, err := rpc.GetAccountInfoWithOpts(ctx, state, &solanarpc.GetAccountInfoOpts{
		Commitment: solanarpc.CommitmentConfirmed,
		Encoding:   solana.EncodingBase64,
	})
	observe("getAccountInfo", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get state account %s: %w", state, err)
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("%w: account %s not found", ErrInvalidState, state)
	}
	return decodeRewardFee(res.Value)
}

func decodeRewardFee(acc *solanarpc.Account) (float64, error) {
	if !acc.Owner.Equals(solana.MustPublicKeyFromBase58(MarinadeProgramID)) {
		return 0, fmt.Errorf("%w: owned by %s", ErrInvalidState, acc.Owner)
	}
	var data []byte
	if acc.Data != nil {
		data = acc.Data.GetBinary()
	}
	if len(data) < rewardFeeEnd {
		return 0, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidState, len(data), rewardFeeEnd)
	}
	if !bytes.Equal(data[:len(stateDiscriminator)], stateDiscriminator) {
		return 0, fmt.Errorf("%w: unexpected discriminator %v", ErrInvalidState, data[:len(stateDiscriminator)])
	}
	bps := binary.LittleEndian.Uint32(data[rewardFeeOffset:rewardFeeEnd])
	if bps > 10_000 {
		return 0, fmt.Errorf("%w: reward fee %d bps out of range", ErrInvalidState, bps)
	}
	return float64(bps) / 100, nil
}
