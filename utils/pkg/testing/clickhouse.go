package apytesting

import (
	"testing"

	"github.com/malbeclabs/stakeapy/apy/pkg/clickhouse"
	clickhousetesting "github.com/malbeclabs/stakeapy/apy/pkg/clickhouse/testing"
	"github.com/stretchr/testify/require"
)

// NewMigratedClient returns a client for a fresh database with all report
// migrations applied.
func NewMigratedClient(t *testing.T, db *clickhousetesting.DB) clickhouse.Client {
	info, err := clickhousetesting.NewTestClientWithInfo(t, db)
	require.NoError(t, err)

	err = clickhouse.RunMigrations(t.Context(), NewLogger(), db.MigrationConfig(info.Database))
	require.NoError(t, err)

	return info.Client
}
