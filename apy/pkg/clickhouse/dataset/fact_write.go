package dataset

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/stakeapy/apy/pkg/clickhouse"
)

// WriteBatch inserts count rows with a single prepared batch. writeRowFn returns
// the values of row i in column order.
func (f *FactDataset) WriteBatch(
	ctx context.Context,
	conn clickhouse.Connection,
	count int,
	writeRowFn func(int) ([]any, error),
) error {
	if count == 0 {
		return nil
	}

	f.log.Debug("dataset: writing fact batch", "table", f.TableName(), "count", count)

	batch, err := conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", f.TableName(), joinColumns(f.cols)))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Close()

	for i := range count {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled during batch insert: %w", err)
		}

		row, err := writeRowFn(i)
		if err != nil {
			return fmt.Errorf("failed to get row data %d: %w", i, err)
		}
		if len(row) != len(f.cols) {
			return fmt.Errorf("row %d has %d columns, expected exactly %d", i, len(row), len(f.cols))
		}
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
