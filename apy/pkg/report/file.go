package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// AccountEntry is one element of a per-epoch account artifact.
type AccountEntry struct {
	Pubkey     string  `json:"pubkey"`
	Pre        float64 `json:"pre"`
	Rewards    float64 `json:"rewards"`
	Post       float64 `json:"post"`
	Commission uint8   `json:"commission"`
	APY        float64 `json:"apy"`
}

type FileSinkConfig struct {
	Logger *slog.Logger
	Dir    string
}

func (cfg *FileSinkConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	return nil
}

// FileSink writes the account breakdown of each epoch to a JSON file in Dir.
type FileSink struct {
	log *slog.Logger
	cfg FileSinkConfig
}

func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileSink{log: cfg.Logger, cfg: cfg}, nil
}

// ArtifactName returns the file name of the account artifact for epoch,
// produced while reporting in reportingEpoch.
func ArtifactName(reportingEpoch, epoch uint64) string {
	return fmt.Sprintf("on-epoch-%d-accounts-epoch-%d.json", reportingEpoch, epoch)
}

func (s *FileSink) WriteEpoch(_ context.Context, rec *EpochRecord) error {
	entries := make([]AccountEntry, 0, len(rec.Accounts))
	for _, a := range rec.Accounts {
		entries = append(entries, AccountEntry{
			Pubkey:     a.Pubkey,
			Pre:        a.PreBalanceSOL,
			Rewards:    a.RewardSOL,
			Post:       a.PostBalanceSOL,
			Commission: a.CommissionPercent,
			APY:        a.APY,
		})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	path := filepath.Join(s.cfg.Dir, ArtifactName(rec.ReportingEpoch, rec.Totals.Epoch))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	s.log.Debug("report: wrote account artifact", "path", path, "accounts", len(entries))
	return nil
}
