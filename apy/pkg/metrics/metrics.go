package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const jobName = "stake_apy"

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stake_apy_build_info",
			Help: "Build information of the stake pool APY job",
		},
		[]string{"version", "commit", "date"},
	)

	EpochDurationFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stake_apy_epoch_duration_fetch_total",
			Help: "Total number of epoch duration lookups by outcome",
		},
		[]string{"status"},
	)

	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stake_apy_rpc_requests_total",
			Help: "Total number of Solana RPC requests",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stake_apy_rpc_request_duration_seconds",
			Help:    "Duration of Solana RPC requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 0.05s to ~102s
		},
		[]string{"method"},
	)

	EpochsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stake_apy_epochs_processed_total",
			Help: "Total number of epochs aggregated",
		},
		[]string{"status"},
	)

	EpochAPY = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stake_apy_epoch_apy_percent",
			Help: "Annualized yield of the last processed epoch",
		},
		[]string{"kind"},
	)

	WindowAPY = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stake_apy_window_apy_percent",
			Help: "Average annualized yield over the reporting window",
		},
		[]string{"kind"},
	)

	WindowValidators = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stake_apy_window_validators",
			Help: "Distinct validators delegated to during the reporting window",
		},
	)

	WindowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stake_apy_window_duration_seconds",
			Help:    "Duration of a window computation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~2048s
		},
	)
)

// Push sends all registered metrics to a Prometheus Pushgateway.
func Push(url string) error {
	return push.New(url, jobName).Gatherer(prometheus.DefaultGatherer).Push()
}
