package stake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
)

const (
	// MarinadeBaseEpoch is the first epoch in which pool stake accounts were activated.
	MarinadeBaseEpoch = 207

	// MarinadeStakeAuthority is the withdraw authority of all pool-managed stake accounts.
	MarinadeStakeAuthority = "9eG63CdHjsfhHmobHgLtESGC8GabbmRcaSpHAZrtmhco"

	stakeAccountSize = 200
	// Offset of the withdrawer in Meta: enum tag (4) + rent exempt reserve (8) + staker (32).
	withdrawAuthorityOffset = 44
)

var ErrInvalidAccount = errors.New("invalid account address")

// Source decides which stake accounts are read for an epoch.
// It is either SingleAccount or Discovery.
type Source interface {
	isSource()
}

// SingleAccount reads rewards for one explicit stake account.
type SingleAccount struct {
	Account solana.PublicKey
}

// Discovery reads rewards for every delegated stake account whose withdraw
// authority is StakeAuthority.
type Discovery struct {
	StakeAuthority solana.PublicKey
}

func (SingleAccount) isSource() {}
func (Discovery) isSource()     {}

// ParseSource returns SingleAccount when account is set, otherwise Discovery
// over the given stake authority.
func ParseSource(account, stakeAuthority string) (Source, error) {
	if account != "" {
		pk, err := parsePublicKey(account)
		if err != nil {
			return nil, err
		}
		return SingleAccount{Account: pk}, nil
	}
	if stakeAuthority == "" {
		stakeAuthority = MarinadeStakeAuthority
	}
	pk, err := parsePublicKey(stakeAuthority)
	if err != nil {
		return nil, err
	}
	return Discovery{StakeAuthority: pk}, nil
}

func parsePublicKey(s string) (solana.PublicKey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w %q: %v", ErrInvalidAccount, s, err)
	}
	if len(b) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("%w %q: decoded to %d bytes", ErrInvalidAccount, s, len(b))
	}
	return solana.PublicKeyFromBytes(b), nil
}

// Eligible reports whether a delegation counts toward epoch: it must have been
// activated no earlier than baseEpoch and at least one full epoch before epoch.
func Eligible(d Delegation, epoch, baseEpoch uint64) bool {
	return d.ActivationEpoch >= baseEpoch && d.ActivationEpoch+1 <= epoch
}

type SelectorConfig struct {
	Logger    *slog.Logger
	RPC       ProgramAccountsRPC
	Source    Source
	BaseEpoch uint64
}

func (cfg *SelectorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	switch cfg.Source.(type) {
	case SingleAccount:
	case Discovery:
		if cfg.RPC == nil {
			return errors.New("rpc is required for account discovery")
		}
	case nil:
		return errors.New("source is required")
	default:
		return fmt.Errorf("unsupported source %T", cfg.Source)
	}
	if cfg.BaseEpoch == 0 {
		cfg.BaseEpoch = MarinadeBaseEpoch
	}
	return nil
}

// Selection is the set of stake accounts to read for one epoch. Voters is
// aligned with Accounts and holds empty strings when the voter is unknown.
type Selection struct {
	Epoch    uint64
	Accounts []solana.PublicKey
	Voters   []string
}

type Selector struct {
	log *slog.Logger
	cfg SelectorConfig
}

func NewSelector(cfg SelectorConfig) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Selector{log: cfg.Logger, cfg: cfg}, nil
}

func (s *Selector) Select(ctx context.Context, epoch uint64) (*Selection, error) {
	switch src := s.cfg.Source.(type) {
	case SingleAccount:
		return &Selection{
			Epoch:    epoch,
			Accounts: []solana.PublicKey{src.Account},
			Voters:   []string{""},
		}, nil
	case Discovery:
		return s.discover(ctx, epoch, src.StakeAuthority)
	default:
		return nil, fmt.Errorf("unsupported source %T", s.cfg.Source)
	}
}

func (s *Selector) discover(ctx context.Context, epoch uint64, authority solana.PublicKey) (*Selection, error) {
	start := time.Now()
	accounts, err := s.cfg.RPC.GetProgramAccountsWithOpts(ctx, solana.StakeProgramID, &solanarpc.GetProgramAccountsOpts{
		Commitment: solanarpc.CommitmentConfirmed,
		Encoding:   solana.EncodingJSONParsed,
		Filters: []solanarpc.RPCFilter{
			{DataSize: stakeAccountSize},
			{Memcmp: &solanarpc.RPCFilterMemcmp{
				Offset: withdrawAuthorityOffset,
				Bytes:  solana.Base58(authority.Bytes()),
			}},
		},
	})
	observe("getProgramAccounts", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get stake accounts for epoch %d: %w", epoch, err)
	}

	sel := &Selection{Epoch: epoch}
	var undelegated, ineligible int
	for _, acc := range accounts {
		if acc == nil || acc.Account == nil || acc.Account.Data == nil {
			continue
		}
		d, err := ParseDelegation(acc.Account.Data.GetRawJSON())
		if err != nil {
			return nil, fmt.Errorf("failed to parse stake account %s: %w", acc.Pubkey, err)
		}
		if d == nil {
			undelegated++
			continue
		}
		if !Eligible(*d, epoch, s.cfg.BaseEpoch) {
			ineligible++
			continue
		}
		sel.Accounts = append(sel.Accounts, acc.Pubkey)
		sel.Voters = append(sel.Voters, d.Voter)
	}

	s.log.Debug("stake: selected accounts",
		"epoch", epoch,
		"listed", len(accounts),
		"selected", len(sel.Accounts),
		"undelegated", undelegated,
		"ineligible", ineligible)

	return sel, nil
}
