package stake

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/malbeclabs/stakeapy/apy/pkg/metrics"
)

// ProgramAccountsRPC is the subset of the Solana RPC client used for stake account discovery.
type ProgramAccountsRPC interface {
	GetProgramAccountsWithOpts(ctx context.Context, publicKey solana.PublicKey, opts *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error)
}

// InflationRewardRPC is the subset of the Solana RPC client used to read epoch rewards.
type InflationRewardRPC interface {
	GetInflationReward(ctx context.Context, addresses []solana.PublicKey, opts *solanarpc.GetInflationRewardOpts) ([]*solanarpc.GetInflationRewardResult, error)
}

// RPC is satisfied by *solanarpc.Client.
type RPC interface {
	ProgramAccountsRPC
	InflationRewardRPC
	AccountInfoRPC
}

var _ RPC = (*solanarpc.Client)(nil)

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports float64) float64 {
	return lamports / float64(solana.LAMPORTS_PER_SOL)
}

func observe(method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	metrics.RPCRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
