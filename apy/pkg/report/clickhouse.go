package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/stakeapy/apy/pkg/clickhouse"
	"github.com/malbeclabs/stakeapy/apy/pkg/clickhouse/dataset"
)

type AccountRewardRow struct {
	RunID          uuid.UUID `ch:"run_id"`
	ReportingEpoch uint64    `ch:"reporting_epoch"`
	Epoch          uint64    `ch:"epoch"`
	Pubkey         string    `ch:"pubkey"`
	PreBalanceSOL  float64   `ch:"pre_balance_sol"`
	RewardSOL      float64   `ch:"reward_sol"`
	PostBalanceSOL float64   `ch:"post_balance_sol"`
	Commission     uint8     `ch:"commission"`
	RawAPY         float64   `ch:"raw_apy"`
	PreFeeAPY      float64   `ch:"pre_fee_apy"`
	APY            float64   `ch:"apy"`
	IngestedAt     time.Time `ch:"ingested_at"`
}

type EpochAPYRow struct {
	RunID                uuid.UUID `ch:"run_id"`
	ReportingEpoch       uint64    `ch:"reporting_epoch"`
	Epoch                uint64    `ch:"epoch"`
	Accounts             uint32    `ch:"accounts"`
	PreBalanceLamports   uint64    `ch:"pre_balance_lamports"`
	RawRewardLamports    uint64    `ch:"raw_reward_lamports"`
	PreFeeRewardLamports float64   `ch:"pre_fee_reward_lamports"`
	NetRewardLamports    float64   `ch:"net_reward_lamports"`
	RawAPY               float64   `ch:"raw_apy"`
	PreFeeAPY            float64   `ch:"pre_fee_apy"`
	APY                  float64   `ch:"apy"`
	ManagementFee        float64   `ch:"management_fee"`
	EpochDurationHours   float64   `ch:"epoch_duration_hours"`
	Skipped              bool      `ch:"skipped"`
	IngestedAt           time.Time `ch:"ingested_at"`
}

type accountRewardsSchema struct{}

func (accountRewardsSchema) Name() string { return "stake_pool_account_rewards" }

func (accountRewardsSchema) Columns() []string {
	return []string{
		"run_id:UUID",
		"reporting_epoch:UInt64",
		"epoch:UInt64",
		"pubkey:String",
		"pre_balance_sol:Float64",
		"reward_sol:Float64",
		"post_balance_sol:Float64",
		"commission:UInt8",
		"raw_apy:Float64",
		"pre_fee_apy:Float64",
		"apy:Float64",
		"ingested_at:DateTime64(3)",
	}
}

type epochAPYSchema struct{}

func (epochAPYSchema) Name() string { return "stake_pool_epoch_apy" }

func (epochAPYSchema) Columns() []string {
	return []string{
		"run_id:UUID",
		"reporting_epoch:UInt64",
		"epoch:UInt64",
		"accounts:UInt32",
		"pre_balance_lamports:UInt64",
		"raw_reward_lamports:UInt64",
		"pre_fee_reward_lamports:Float64",
		"net_reward_lamports:Float64",
		"raw_apy:Float64",
		"pre_fee_apy:Float64",
		"apy:Float64",
		"management_fee:Float64",
		"epoch_duration_hours:Float64",
		"skipped:Bool",
		"ingested_at:DateTime64(3)",
	}
}

type ClickHouseSinkConfig struct {
	Logger *slog.Logger
	Client clickhouse.Client
	// RunID tags every row written by this sink. Defaults to a random UUID.
	RunID uuid.UUID
	Clock clockwork.Clock
}

func (cfg *ClickHouseSinkConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// ClickHouseSink appends epoch and account rows to the report fact tables.
type ClickHouseSink struct {
	log *slog.Logger
	cfg ClickHouseSinkConfig

	accounts *dataset.TypedFactDataset[AccountRewardRow]
	epochs   *dataset.TypedFactDataset[EpochAPYRow]
}

func NewClickHouseSink(cfg ClickHouseSinkConfig) (*ClickHouseSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	accounts, err := dataset.NewFactDataset(cfg.Logger, accountRewardsSchema{})
	if err != nil {
		return nil, fmt.Errorf("failed to create account rewards dataset: %w", err)
	}
	epochs, err := dataset.NewFactDataset(cfg.Logger, epochAPYSchema{})
	if err != nil {
		return nil, fmt.Errorf("failed to create epoch apy dataset: %w", err)
	}
	return &ClickHouseSink{
		log:      cfg.Logger,
		cfg:      cfg,
		accounts: dataset.NewTypedFactDataset[AccountRewardRow](accounts),
		epochs:   dataset.NewTypedFactDataset[EpochAPYRow](epochs),
	}, nil
}

func (s *ClickHouseSink) RunID() uuid.UUID {
	return s.cfg.RunID
}

func (s *ClickHouseSink) WriteEpoch(ctx context.Context, rec *EpochRecord) error {
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()
	ctx = clickhouse.ContextWithSyncInsert(ctx)

	now := s.cfg.Clock.Now().UTC()
	epoch := rec.Totals.Epoch

	rows := make([]AccountRewardRow, 0, len(rec.Accounts))
	for _, a := range rec.Accounts {
		rows = append(rows, AccountRewardRow{
			RunID:          s.cfg.RunID,
			ReportingEpoch: rec.ReportingEpoch,
			Epoch:          epoch,
			Pubkey:         a.Pubkey,
			PreBalanceSOL:  a.PreBalanceSOL,
			RewardSOL:      a.RewardSOL,
			PostBalanceSOL: a.PostBalanceSOL,
			Commission:     a.CommissionPercent,
			RawAPY:         a.RawAPY,
			PreFeeAPY:      a.PreFeeAPY,
			APY:            a.APY,
			IngestedAt:     now,
		})
	}
	if err := s.accounts.WriteBatch(ctx, conn, rows); err != nil {
		return fmt.Errorf("failed to write account rewards for epoch %d: %w", epoch, err)
	}

	t := rec.Totals
	err = s.epochs.WriteBatch(ctx, conn, []EpochAPYRow{{
		RunID:                s.cfg.RunID,
		ReportingEpoch:       rec.ReportingEpoch,
		Epoch:                epoch,
		Accounts:             uint32(t.RewardedAccounts),
		PreBalanceLamports:   t.PreBalanceLamports,
		RawRewardLamports:    t.RawRewardLamports,
		PreFeeRewardLamports: t.PreFeeRewardLamports,
		NetRewardLamports:    t.NetRewardLamports,
		RawAPY:               rec.RawAPY,
		PreFeeAPY:            rec.PreFeeAPY,
		APY:                  rec.APY,
		ManagementFee:        rec.ManagementFeePercent,
		EpochDurationHours:   rec.EpochDurationHours,
		Skipped:              rec.Skipped,
		IngestedAt:           now,
	}})
	if err != nil {
		return fmt.Errorf("failed to write epoch apy for epoch %d: %w", epoch, err)
	}

	s.log.Debug("report: wrote epoch to clickhouse", "epoch", epoch, "run_id", s.cfg.RunID, "accounts", len(rows))
	return nil
}

// EpochRows returns the epoch rows written under runID, ordered by epoch.
func (s *ClickHouseSink) EpochRows(ctx context.Context, runID uuid.UUID) ([]EpochAPYRow, error) {
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()
	return s.epochs.GetRows(ctx, conn, "run_id = ?", "epoch", runID)
}

// AccountRows returns the account rows of epoch written under runID, by descending APY.
func (s *ClickHouseSink) AccountRows(ctx context.Context, runID uuid.UUID, epoch uint64) ([]AccountRewardRow, error) {
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()
	return s.accounts.GetRows(ctx, conn, "run_id = ? AND epoch = ?", "apy DESC, pubkey", runID, epoch)
}
