// Package report persists per-epoch results of a window computation.
package report

import (
	"context"
	"errors"

	"github.com/malbeclabs/stakeapy/apy/pkg/aggregate"
)

// EpochRecord is everything known about one processed epoch.
type EpochRecord struct {
	// ReportingEpoch is the epoch the window computation ran in.
	ReportingEpoch uint64
	Totals         aggregate.EpochTotals
	// Accounts is sorted by descending net APY.
	Accounts []aggregate.AccountAggregate

	RawAPY    float64
	PreFeeAPY float64
	APY       float64

	ManagementFeePercent float64
	EpochDurationHours   float64
	// Skipped is set for epochs without pre-balance; their APYs are zero.
	Skipped bool
}

type Sink interface {
	WriteEpoch(ctx context.Context, rec *EpochRecord) error
}

// MultiSink writes every record to each sink in order and returns the joined errors.
type MultiSink []Sink

func (m MultiSink) WriteEpoch(ctx context.Context, rec *EpochRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteEpoch(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
