package stake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"
)

type mockSolanaRPC struct {
	getProgramAccountsFunc func(context.Context, solana.PublicKey, *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error)
	getInflationRewardFunc func(context.Context, []solana.PublicKey, *solanarpc.GetInflationRewardOpts) ([]*solanarpc.GetInflationRewardResult, error)
	getAccountInfoFunc     func(context.Context, solana.PublicKey, *solanarpc.GetAccountInfoOpts) (*solanarpc.GetAccountInfoResult, error)
}

func (m *mockSolanaRPC) GetProgramAccountsWithOpts(ctx context.Context, programID solana.PublicKey, opts *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error) {
	if m.getProgramAccountsFunc != nil {
		return m.getProgramAccountsFunc(ctx, programID, opts)
	}
	return solanarpc.GetProgramAccountsResult{}, nil
}

func (m *mockSolanaRPC) GetInflationReward(ctx context.Context, addresses []solana.PublicKey, opts *solanarpc.GetInflationRewardOpts) ([]*solanarpc.GetInflationRewardResult, error) {
	if m.getInflationRewardFunc != nil {
		return m.getInflationRewardFunc(ctx, addresses, opts)
	}
	return make([]*solanarpc.GetInflationRewardResult, len(addresses)), nil
}

func (m *mockSolanaRPC) GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *solanarpc.GetAccountInfoOpts) (*solanarpc.GetAccountInfoResult, error) {
	if m.getAccountInfoFunc != nil {
		return m.getAccountInfoFunc(ctx, account, opts)
	}
	return nil, solanarpc.ErrNotFound
}

func newPubkey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func uint8Ptr(v uint8) *uint8 {
	return &v
}

// testStakeAccount describes a stake account as returned by getProgramAccounts
// with jsonParsed encoding. A zero voter means the account is not delegated.
type testStakeAccount struct {
	pubkey          solana.PublicKey
	activationEpoch uint64
	voter           solana.PublicKey
}

func programAccounts(t *testing.T, accounts ...testStakeAccount) solanarpc.GetProgramAccountsResult {
	t.Helper()

	items := make([]string, 0, len(accounts))
	for _, a := range accounts {
		info := `{"meta":{"rentExemptReserve":"2282880"}}`
		typ := "initialized"
		if !a.voter.IsZero() {
			typ = "delegated"
			info = fmt.Sprintf(`{"meta":{"rentExemptReserve":"2282880"},"stake":{"creditsObserved":1,"delegation":{`+
				`"activationEpoch":"%d","deactivationEpoch":"18446744073709551615","stake":"5000000000",`+
				`"voter":"%s","warmupCooldownRate":0.25}}}`, a.activationEpoch, a.voter)
		}
		items = append(items, fmt.Sprintf(`{"pubkey":"%s","account":{"data":{"program":"stake","parsed":{"type":"%s","info":%s},"space":200},`+
			`"executable":false,"lamports":5002282880,"owner":"%s","space":200}}`, a.pubkey, typ, info, solana.StakeProgramID))
	}

	var out solanarpc.GetProgramAccountsResult
	require.NoError(t, json.Unmarshal([]byte("["+strings.Join(items, ",")+"]"), &out))
	return out
}

func TestStakeAPY_Stake_ParseDelegation(t *testing.T) {
	t.Parallel()

	t.Run("delegated account", func(t *testing.T) {
		t.Parallel()

		d, err := ParseDelegation([]byte(`{"program":"stake","parsed":{"type":"delegated","info":{"stake":{"delegation":{` +
			`"activationEpoch":"300","deactivationEpoch":"18446744073709551615","stake":"42","voter":"Vote111111111111111111111111111111111111111",` +
			`"warmupCooldownRate":0.25}}}}}`))
		require.NoError(t, err)
		require.Equal(t, &Delegation{
			ActivationEpoch:    300,
			DeactivationEpoch:  18446744073709551615,
			StakeLamports:      42,
			Voter:              "Vote111111111111111111111111111111111111111",
			WarmupCooldownRate: 0.25,
		}, d)
	})

	t.Run("initialized account has no delegation", func(t *testing.T) {
		t.Parallel()

		d, err := ParseDelegation([]byte(`{"parsed":{"type":"initialized","info":{"meta":{}}}}`))
		require.NoError(t, err)
		require.Nil(t, d)
	})

	t.Run("malformed epochs are an error", func(t *testing.T) {
		t.Parallel()

		_, err := ParseDelegation([]byte(`{"parsed":{"info":{"stake":{"delegation":{"activationEpoch":"abc"}}}}}`))
		require.Error(t, err)
	})
}

func TestStakeAPY_Stake_Eligible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		activation uint64
		epoch      uint64
		want       bool
	}{
		{name: "activated one epoch before", activation: 499, epoch: 500, want: true},
		{name: "activated in the epoch", activation: 500, epoch: 500, want: false},
		{name: "activated after the epoch", activation: 501, epoch: 500, want: false},
		{name: "activated at base epoch", activation: MarinadeBaseEpoch, epoch: 208, want: true},
		{name: "activated before base epoch", activation: MarinadeBaseEpoch - 1, epoch: 500, want: false},
		{name: "epoch zero", activation: MarinadeBaseEpoch, epoch: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Eligible(Delegation{ActivationEpoch: tt.activation}, tt.epoch, MarinadeBaseEpoch))
		})
	}
}

func TestStakeAPY_Stake_ParseSource(t *testing.T) {
	t.Parallel()

	t.Run("explicit account wins", func(t *testing.T) {
		t.Parallel()

		pk := newPubkey()
		src, err := ParseSource(pk.String(), MarinadeStakeAuthority)
		require.NoError(t, err)
		require.Equal(t, SingleAccount{Account: pk}, src)
	})

	t.Run("defaults to pool stake authority", func(t *testing.T) {
		t.Parallel()

		src, err := ParseSource("", "")
		require.NoError(t, err)
		require.Equal(t, Discovery{StakeAuthority: solana.MustPublicKeyFromBase58(MarinadeStakeAuthority)}, src)
	})

	t.Run("rejects invalid addresses", func(t *testing.T) {
		t.Parallel()

		_, err := ParseSource("not-base58-0OIl", "")
		require.ErrorIs(t, err, ErrInvalidAccount)

		_, err = ParseSource("", "abc")
		require.ErrorIs(t, err, ErrInvalidAccount)
	})
}

func TestStakeAPY_Stake_Selector(t *testing.T) {
	t.Parallel()

	t.Run("config validation", func(t *testing.T) {
		t.Parallel()

		_, err := NewSelector(SelectorConfig{Source: SingleAccount{}})
		require.EqualError(t, err, "logger is required")

		_, err = NewSelector(SelectorConfig{Logger: testLogger()})
		require.EqualError(t, err, "source is required")

		_, err = NewSelector(SelectorConfig{Logger: testLogger(), Source: Discovery{}})
		require.EqualError(t, err, "rpc is required for account discovery")
	})

	t.Run("single account bypasses discovery", func(t *testing.T) {
		t.Parallel()

		pk := newPubkey()
		rpc := &mockSolanaRPC{
			getProgramAccountsFunc: func(context.Context, solana.PublicKey, *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error) {
				t.Fatal("discovery must not be called for a single account")
				return nil, nil
			},
		}
		sel, err := NewSelector(SelectorConfig{Logger: testLogger(), RPC: rpc, Source: SingleAccount{Account: pk}})
		require.NoError(t, err)

		got, err := sel.Select(context.Background(), 500)
		require.NoError(t, err)
		require.Equal(t, []solana.PublicKey{pk}, got.Accounts)
		require.Equal(t, []string{""}, got.Voters)
	})

	t.Run("discovery queries stake program with pool filters", func(t *testing.T) {
		t.Parallel()

		authority := solana.MustPublicKeyFromBase58(MarinadeStakeAuthority)
		rpc := &mockSolanaRPC{
			getProgramAccountsFunc: func(_ context.Context, programID solana.PublicKey, opts *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error) {
				require.Equal(t, solana.StakeProgramID, programID)
				require.Equal(t, solana.EncodingJSONParsed, opts.Encoding)
				require.Equal(t, solanarpc.CommitmentConfirmed, opts.Commitment)
				require.Len(t, opts.Filters, 2)
				require.Equal(t, uint64(200), opts.Filters[0].DataSize)
				require.NotNil(t, opts.Filters[1].Memcmp)
				require.Equal(t, uint64(44), opts.Filters[1].Memcmp.Offset)
				require.Equal(t, solana.Base58(authority.Bytes()), opts.Filters[1].Memcmp.Bytes)
				return nil, nil
			},
		}
		sel, err := NewSelector(SelectorConfig{Logger: testLogger(), RPC: rpc, Source: Discovery{StakeAuthority: authority}})
		require.NoError(t, err)

		got, err := sel.Select(context.Background(), 500)
		require.NoError(t, err)
		require.Empty(t, got.Accounts)
	})

	t.Run("filters by activation epoch and skips undelegated accounts", func(t *testing.T) {
		t.Parallel()

		voterA, voterB := newPubkey(), newPubkey()
		prev := testStakeAccount{pubkey: newPubkey(), activationEpoch: 499, voter: voterA}
		same := testStakeAccount{pubkey: newPubkey(), activationEpoch: 500, voter: voterA}
		old := testStakeAccount{pubkey: newPubkey(), activationEpoch: 150, voter: voterB}
		base := testStakeAccount{pubkey: newPubkey(), activationEpoch: MarinadeBaseEpoch, voter: voterB}
		undelegated := testStakeAccount{pubkey: newPubkey()}

		rpc := &mockSolanaRPC{
			getProgramAccountsFunc: func(context.Context, solana.PublicKey, *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error) {
				return programAccounts(t, prev, same, old, base, undelegated), nil
			},
		}
		sel, err := NewSelector(SelectorConfig{Logger: testLogger(), RPC: rpc, Source: Discovery{StakeAuthority: newPubkey()}})
		require.NoError(t, err)

		got, err := sel.Select(context.Background(), 500)
		require.NoError(t, err)
		require.Equal(t, uint64(500), got.Epoch)
		require.Equal(t, []solana.PublicKey{prev.pubkey, base.pubkey}, got.Accounts)
		require.Equal(t, []string{voterA.String(), voterB.String()}, got.Voters)
	})

	t.Run("propagates rpc errors", func(t *testing.T) {
		t.Parallel()

		rpcErr := errors.New("rpc down")
		rpc := &mockSolanaRPC{
			getProgramAccountsFunc: func(context.Context, solana.PublicKey, *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error) {
				return nil, rpcErr
			},
		}
		sel, err := NewSelector(SelectorConfig{Logger: testLogger(), RPC: rpc, Source: Discovery{StakeAuthority: newPubkey()}})
		require.NoError(t, err)

		_, err = sel.Select(context.Background(), 500)
		require.ErrorIs(t, err, rpcErr)
		require.Contains(t, err.Error(), "epoch 500")
	})
}
