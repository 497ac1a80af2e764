// Package window computes the realized yield of the stake pool over a range of epochs.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/stakeapy/apy/pkg/aggregate"
	"github.com/malbeclabs/stakeapy/apy/pkg/compound"
	"github.com/malbeclabs/stakeapy/apy/pkg/metrics"
	"github.com/malbeclabs/stakeapy/apy/pkg/report"
	"github.com/malbeclabs/stakeapy/apy/pkg/stake"
)

// AccountSelector returns the stake accounts to measure for an epoch.
type AccountSelector interface {
	Select(ctx context.Context, epoch uint64) (*stake.Selection, error)
}

// RewardFetcher returns the inflation rewards of accounts for an epoch, aligned with accounts.
type RewardFetcher interface {
	Fetch(ctx context.Context, accounts []solana.PublicKey, epoch uint64) ([]*stake.Reward, error)
}

type Config struct {
	Logger   *slog.Logger
	Selector AccountSelector
	Fetcher  RewardFetcher

	// Sink receives every processed epoch. Optional.
	Sink report.Sink

	// BaseEpoch is the first epoch stake can be activated in; measurement starts one
	// epoch later. Defaults to stake.MarinadeBaseEpoch.
	BaseEpoch uint64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Selector == nil {
		return errors.New("selector is required")
	}
	if cfg.Fetcher == nil {
		return errors.New("fetcher is required")
	}
	if cfg.BaseEpoch == 0 {
		cfg.BaseEpoch = stake.MarinadeBaseEpoch
	}
	return nil
}

type Request struct {
	FromEpoch uint64
	ToEpoch   uint64
	// CurrentEpoch is the epoch the report is produced in. Defaults to ToEpoch+1.
	CurrentEpoch         uint64
	ManagementFeePercent float64
	EpochDurationHours   float64
}

func (r Request) Validate() error {
	if r.ManagementFeePercent < 0 || r.ManagementFeePercent > 100 {
		return fmt.Errorf("management fee %v%% out of range [0, 100]", r.ManagementFeePercent)
	}
	if r.EpochDurationHours <= 0 {
		return fmt.Errorf("epoch duration %v hours must be positive", r.EpochDurationHours)
	}
	return nil
}

// EpochSummary is one epoch of a window. Skipped epochs had no pre-balance to
// measure against and do not count towards the averages.
type EpochSummary struct {
	Epoch          uint64  `json:"epoch"`
	Accounts       int     `json:"accounts"`
	PreBalanceSOL  float64 `json:"preBalance"`
	RawRewardSOL   float64 `json:"rawRewards"`
	NetRewardSOL   float64 `json:"netRewards"`
	RawAPY         float64 `json:"rawApy"`
	PreFeeAPY      float64 `json:"preFeeApy"`
	APY            float64 `json:"apy"`
	DistinctVoters int     `json:"validators"`
	Skipped        bool    `json:"skipped,omitempty"`
}

type Report struct {
	AvgAPY     float64 `json:"avgApy"`
	FromEpoch  uint64  `json:"fromEpoch"`
	ToEpoch    uint64  `json:"toEpoch"`
	Validators int     `json:"validators"`

	AvgRawAPY            float64        `json:"avgRawApy"`
	AvgPreFeeAPY         float64        `json:"avgPreFeeApy"`
	CompoundedAPY        float64        `json:"compoundedApy"`
	EpochCount           int            `json:"epochCount"`
	ManagementFeePercent float64        `json:"managementFee"`
	EpochDurationHours   float64        `json:"epochDurationHours"`
	Epochs               []EpochSummary `json:"epochs"`
}

type Summarizer struct {
	log *slog.Logger
	cfg Config
}

func NewSummarizer(cfg Config) (*Summarizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Summarizer{log: cfg.Logger, cfg: cfg}, nil
}

// summary holds the running accumulators of a window.
type summary struct {
	rawSum, preFeeSum, netSum float64
	totalOneRewards           float64
	count                     int
	voters                    map[string]struct{}
}

// Run processes every epoch from max(FromEpoch, BaseEpoch+1) to ToEpoch in order.
// Any selection, reward or sink error aborts the window.
func (s *Summarizer) Run(ctx context.Context, req Request) (*Report, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	start := time.Now()
	defer func() {
		metrics.WindowDuration.Observe(time.Since(start).Seconds())
	}()

	from := max(req.FromEpoch, s.cfg.BaseEpoch+1)
	reportingEpoch := req.CurrentEpoch
	if reportingEpoch == 0 {
		reportingEpoch = req.ToEpoch + 1
	}
	compounder := compound.New(req.EpochDurationHours)

	rep := &Report{
		FromEpoch:            from,
		ToEpoch:              req.ToEpoch,
		ManagementFeePercent: req.ManagementFeePercent,
		EpochDurationHours:   req.EpochDurationHours,
		Epochs:               []EpochSummary{},
	}
	if from > req.ToEpoch {
		s.log.Warn("window: empty epoch range", "from", from, "to", req.ToEpoch)
		return rep, nil
	}

	sum := &summary{voters: make(map[string]struct{})}
	for epoch := from; epoch <= req.ToEpoch; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		es, err := s.processEpoch(ctx, epoch, reportingEpoch, req, compounder, sum)
		if err != nil {
			metrics.EpochsProcessedTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to process epoch %d: %w", epoch, err)
		}
		rep.Epochs = append(rep.Epochs, *es)
	}

	rep.EpochCount = sum.count
	rep.Validators = len(sum.voters)
	if sum.count > 0 {
		n := float64(sum.count)
		rep.AvgRawAPY = compound.Round(sum.rawSum/n, 2)
		rep.AvgPreFeeAPY = compound.Round(sum.preFeeSum/n, 2)
		rep.AvgAPY = compound.Round(sum.netSum/n, 2)

		compounded, err := compounder.Annualize(sum.count, sum.totalOneRewards)
		if err != nil {
			return nil, fmt.Errorf("failed to compound window: %w", err)
		}
		rep.CompoundedAPY = compounded
	}

	metrics.WindowAPY.WithLabelValues("raw").Set(rep.AvgRawAPY)
	metrics.WindowAPY.WithLabelValues("pre_fee").Set(rep.AvgPreFeeAPY)
	metrics.WindowAPY.WithLabelValues("net").Set(rep.AvgAPY)
	metrics.WindowAPY.WithLabelValues("compounded").Set(rep.CompoundedAPY)
	metrics.WindowValidators.Set(float64(rep.Validators))

	s.log.Info("window: done",
		"from", rep.FromEpoch,
		"to", rep.ToEpoch,
		"epochs", rep.EpochCount,
		"avgApy", rep.AvgAPY,
		"avgRawApy", rep.AvgRawAPY,
		"avgPreFeeApy", rep.AvgPreFeeAPY,
		"compoundedApy", rep.CompoundedAPY,
		"validators", rep.Validators,
		"duration", time.Since(start),
	)
	return rep, nil
}

func (s *Summarizer) processEpoch(ctx context.Context, epoch, reportingEpoch uint64, req Request, compounder compound.Compounder, sum *summary) (*EpochSummary, error) {
	sel, err := s.cfg.Selector.Select(ctx, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to select accounts: %w", err)
	}
	for _, v := range sel.Voters {
		if v != "" {
			sum.voters[v] = struct{}{}
		}
	}

	var rewards []*stake.Reward
	if len(sel.Accounts) > 0 {
		rewards, err = s.cfg.Fetcher.Fetch(ctx, sel.Accounts, epoch)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch rewards: %w", err)
		}
	}

	res, err := aggregate.Aggregate(aggregate.Input{
		Epoch:                epoch,
		Accounts:             sel.Accounts,
		Voters:               sel.Voters,
		Rewards:              rewards,
		ManagementFeePercent: req.ManagementFeePercent,
		Compounder:           compounder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate rewards: %w", err)
	}
	for _, acc := range res.Accounts {
		s.log.Debug("window: account reward",
			"epoch", epoch,
			"pubkey", acc.Pubkey,
			"pre", acc.PreBalanceSOL,
			"rawRewards", acc.RewardSOL,
			"post", acc.PostBalanceSOL,
			"commission", acc.CommissionPercent,
			"apy", acc.APY,
		)
	}

	t := res.Totals
	es := &EpochSummary{
		Epoch:          epoch,
		Accounts:       t.RewardedAccounts,
		PreBalanceSOL:  stake.LamportsToSOL(float64(t.PreBalanceLamports)),
		RawRewardSOL:   stake.LamportsToSOL(float64(t.RawRewardLamports)),
		NetRewardSOL:   stake.LamportsToSOL(t.NetRewardLamports),
		DistinctVoters: t.DistinctVoters,
	}
	rec := &report.EpochRecord{
		ReportingEpoch:       reportingEpoch,
		Totals:               t,
		Accounts:             res.Accounts,
		ManagementFeePercent: req.ManagementFeePercent,
		EpochDurationHours:   req.EpochDurationHours,
	}

	if t.Degenerate() {
		es.Skipped = true
		rec.Skipped = true
		metrics.EpochsProcessedTotal.WithLabelValues("skipped").Inc()
		s.log.Warn("window: epoch has no pre-balance, skipping",
			"epoch", epoch,
			"selected", t.SelectedAccounts,
			"rewarded", t.RewardedAccounts,
		)
	} else {
		if es.RawAPY, err = compounder.Annualize(1, t.RawRate()); err != nil {
			return nil, err
		}
		if es.PreFeeAPY, err = compounder.Annualize(1, t.PreFeeRate()); err != nil {
			return nil, err
		}
		if es.APY, err = compounder.Annualize(1, t.NetRate()); err != nil {
			return nil, err
		}
		rec.RawAPY, rec.PreFeeAPY, rec.APY = es.RawAPY, es.PreFeeAPY, es.APY

		sum.rawSum += es.RawAPY
		sum.preFeeSum += es.PreFeeAPY
		sum.netSum += es.APY
		sum.totalOneRewards += t.NetRate()
		sum.count++

		metrics.EpochsProcessedTotal.WithLabelValues("success").Inc()
		metrics.EpochAPY.WithLabelValues("raw").Set(es.RawAPY)
		metrics.EpochAPY.WithLabelValues("pre_fee").Set(es.PreFeeAPY)
		metrics.EpochAPY.WithLabelValues("net").Set(es.APY)

		s.log.Info("window: epoch processed",
			"epoch", epoch,
			"accounts", t.RewardedAccounts,
			"pre", es.PreBalanceSOL,
			"rewards", es.NetRewardSOL,
			"after", stake.LamportsToSOL(float64(t.PreBalanceLamports)+t.NetRewardLamports),
			"rawRewards", es.RawRewardSOL,
			"rawApy", es.RawAPY,
			"preFeeApy", es.PreFeeAPY,
			"apy", es.APY,
			"fee", req.ManagementFeePercent,
			"validators", t.DistinctVoters,
		)
	}

	if s.cfg.Sink != nil {
		if err := s.cfg.Sink.WriteEpoch(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to write epoch report: %w", err)
		}
	}
	return es, nil
}
