package dataset

import (
	"context"
	"os"
	"testing"

	"github.com/malbeclabs/stakeapy/apy/pkg/clickhouse"
	clickhousetesting "github.com/malbeclabs/stakeapy/apy/pkg/clickhouse/testing"
	apytesting "github.com/malbeclabs/stakeapy/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

var sharedDB *clickhousetesting.DB

func TestMain(m *testing.M) {
	log := apytesting.NewLogger()
	ctx := context.Background()

	if clickhousetesting.DockerAvailable(ctx) {
		var err error
		sharedDB, err = clickhousetesting.NewDB(ctx, log, nil)
		if err != nil {
			log.Error("failed to create shared DB", "error", err)
			os.Exit(1)
		}
	}

	code := m.Run()
	if sharedDB != nil {
		sharedDB.Close()
	}
	os.Exit(code)
}

func testConn(t *testing.T) clickhouse.Connection {
	t.Helper()
	if sharedDB == nil {
		t.Skip("docker not available")
	}
	info, err := clickhousetesting.NewTestClientWithInfo(t, sharedDB)
	require.NoError(t, err)
	conn, err := info.Client.Conn(t.Context())
	require.NoError(t, err)
	return conn
}
