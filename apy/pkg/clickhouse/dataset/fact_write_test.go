package dataset

import (
	"testing"
	"time"

	apytesting "github.com/malbeclabs/stakeapy/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func TestStakeAPY_Clickhouse_Dataset_WriteAndRead(t *testing.T) {
	t.Parallel()
	conn := testConn(t)
	ctx := t.Context()

	err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS fact_test_events (
			event_ts DateTime,
			value Int32,
			label Nullable(String),
			ingested_at DateTime
		) ENGINE = MergeTree()
		ORDER BY event_ts
	`)
	require.NoError(t, err)

	ds, err := NewFactDataset(apytesting.NewLogger(), &testFactSchema{
		cols: []string{"event_ts:DateTime", "value:Int32", "label:Nullable(String)", "ingested_at:DateTime"},
	})
	require.NoError(t, err)
	typed := NewTypedFactDataset[testEvent](ds)

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	label := "first"
	rows := []testEvent{
		{EventTS: base, Value: 10, Label: &label, IngestedAt: base},
		{EventTS: base.Add(time.Minute), Value: 20, IngestedAt: base},
		{EventTS: base.Add(2 * time.Minute), Value: 30, IngestedAt: base},
	}
	require.NoError(t, typed.WriteBatch(ctx, conn, rows))

	got, err := typed.GetRows(ctx, conn, "value >= ?", "event_ts", int32(20))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int32(20), got[0].Value)
	require.Nil(t, got[0].Label)
	require.True(t, base.Add(2*time.Minute).Equal(got[1].EventTS))

	all, err := typed.GetRows(ctx, conn, "", "value DESC")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, int32(30), all[0].Value)
	require.NotNil(t, all[2].Label)
	require.Equal(t, "first", *all[2].Label)

	t.Run("row length mismatch", func(t *testing.T) {
		err := ds.WriteBatch(ctx, conn, 1, func(int) ([]any, error) {
			return []any{base, int32(1)}, nil
		})
		require.ErrorContains(t, err, "row 0 has 2 columns, expected exactly 4")
	})
}
