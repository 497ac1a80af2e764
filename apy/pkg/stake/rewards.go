package stake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

const DefaultRewardBatchSize = 100

// Reward is the inflation reward credited to a stake account for one epoch.
type Reward struct {
	AmountLamports      uint64
	PostBalanceLamports uint64
	CommissionPercent   uint8
}

// PreBalanceLamports is the balance before the reward was credited.
func (r Reward) PreBalanceLamports() uint64 {
	if r.AmountLamports > r.PostBalanceLamports {
		return 0
	}
	return r.PostBalanceLamports - r.AmountLamports
}

type RewardFetcherConfig struct {
	Logger    *slog.Logger
	RPC       InflationRewardRPC
	BatchSize int
	// Limiter throttles RPC requests. Optional.
	Limiter *rate.Limiter
}

func (cfg *RewardFetcherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc is required")
	}
	if cfg.BatchSize < 0 {
		return errors.New("batch size must not be negative")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultRewardBatchSize
	}
	return nil
}

type RewardFetcher struct {
	log *slog.Logger
	cfg RewardFetcherConfig
}

func NewRewardFetcher(cfg RewardFetcherConfig) (*RewardFetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RewardFetcher{log: cfg.Logger, cfg: cfg}, nil
}

// Fetch returns the rewards for accounts at epoch. The result is aligned with
// accounts; a nil entry means no reward was credited to that account.
func (f *RewardFetcher) Fetch(ctx context.Context, accounts []solana.PublicKey, epoch uint64) ([]*Reward, error) {
	rewards := make([]*Reward, 0, len(accounts))
	for start := 0; start < len(accounts); start += f.cfg.BatchSize {
		end := min(start+f.cfg.BatchSize, len(accounts))
		batch, err := f.fetchBatch(ctx, accounts[start:end], epoch)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, batch...)
	}

	present := 0
	for _, r := range rewards {
		if r != nil {
			present++
		}
	}
	f.log.Debug("stake: fetched inflation rewards", "epoch", epoch, "accounts", len(accounts), "rewarded", present)

	return rewards, nil
}

func (f *RewardFetcher) fetchBatch(ctx context.Context, accounts []solana.PublicKey, epoch uint64) ([]*Reward, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
		}
	}

	start := time.Now()
	results, err := f.cfg.RPC.GetInflationReward(ctx, accounts, &solanarpc.GetInflationRewardOpts{
		Commitment: solanarpc.CommitmentConfirmed,
		Epoch:      &epoch,
	})
	observe("getInflationReward", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get inflation rewards for epoch %d: %w", epoch, err)
	}
	if len(results) != len(accounts) {
		return nil, fmt.Errorf("got %d inflation rewards for %d accounts in epoch %d", len(results), len(accounts), epoch)
	}

	rewards := make([]*Reward, len(results))
	for i, res := range results {
		if res == nil {
			continue
		}
		r := &Reward{
			AmountLamports:      res.Amount,
			PostBalanceLamports: res.PostBalance,
		}
		if res.Commission != nil {
			r.CommissionPercent = *res.Commission
		}
		rewards[i] = r
	}
	return rewards, nil
}
