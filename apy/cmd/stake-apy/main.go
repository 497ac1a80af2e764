package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/stakeapy/apy/pkg/clickhouse"
	"github.com/malbeclabs/stakeapy/apy/pkg/epochduration"
	"github.com/malbeclabs/stakeapy/apy/pkg/metrics"
	"github.com/malbeclabs/stakeapy/apy/pkg/report"
	"github.com/malbeclabs/stakeapy/apy/pkg/stake"
	"github.com/malbeclabs/stakeapy/apy/pkg/window"
	"github.com/malbeclabs/stakeapy/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultRPCURL = "https://api.mainnet-beta.solana.com"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment and flags still apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	rpcURLFlag := flag.String("rpc-url", defaultRPCURL, "Solana RPC URL (or set SOLANA_RPC_URL env var)")

	// Window
	fromEpochFlag := flag.Int64("from-epoch", -1, "First epoch to measure (-1 = to-epoch - 4)")
	toEpochFlag := flag.Int64("to-epoch", -1, "Last epoch to measure (-1 = current epoch - 1)")
	managementFeeFlag := flag.Float64("management-fee", 0, "Pool management fee in percent of rewards (or set MANAGEMENT_FEE_PERCENT env var); read from the pool state account when unset")
	marinadeStateFlag := flag.String("marinade-state", stake.MarinadeStateAccount, "Pool state account the management fee is read from")
	accountFlag := flag.String("account", "", "Measure a single stake account instead of discovering the pool's accounts")
	stakeAuthorityFlag := flag.String("stake-authority", stake.MarinadeStakeAuthority, "Withdraw authority of the pool's stake accounts")
	epochDurationURLFlag := flag.String("epoch-duration-url", epochduration.DefaultURL, "URL reporting the timestamps of the last 3 epochs")

	// RPC
	rpcRateLimitFlag := flag.Float64("rpc-rate-limit", 0, "Maximum reward RPC requests per second (0 = unlimited)")
	rewardBatchSizeFlag := flag.Int("reward-batch-size", stake.DefaultRewardBatchSize, "Accounts per getInflationReward request")

	// Output
	outputDirFlag := flag.String("output-dir", ".", "Directory for per-epoch account artifacts")
	noArtifactsFlag := flag.Bool("no-artifacts", false, "Do not write per-epoch account artifacts")
	pushgatewayURLFlag := flag.String("pushgateway-url", "", "Prometheus Pushgateway URL to push job metrics to (or set PUSHGATEWAY_URL env var)")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port); enables the ClickHouse report sink (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", clickhouse.DefaultDatabase, "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Run ClickHouse report table migrations and exit")

	flag.Parse()

	log := logger.New(*verboseFlag)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	if envRPCURL := os.Getenv("SOLANA_RPC_URL"); envRPCURL != "" {
		*rpcURLFlag = envRPCURL
	}
	if envPushgatewayURL := os.Getenv("PUSHGATEWAY_URL"); envPushgatewayURL != "" {
		*pushgatewayURLFlag = envPushgatewayURL
	}
	if envClickhouseAddr := os.Getenv("CLICKHOUSE_ADDR_TCP"); envClickhouseAddr != "" {
		*clickhouseAddrFlag = envClickhouseAddr
	}
	if envClickhouseDatabase := os.Getenv("CLICKHOUSE_DATABASE"); envClickhouseDatabase != "" {
		*clickhouseDatabaseFlag = envClickhouseDatabase
	}
	if envClickhouseUsername := os.Getenv("CLICKHOUSE_USERNAME"); envClickhouseUsername != "" {
		*clickhouseUsernameFlag = envClickhouseUsername
	}
	if envClickhousePassword := os.Getenv("CLICKHOUSE_PASSWORD"); envClickhousePassword != "" {
		*clickhousePasswordFlag = envClickhousePassword
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}

	chCfg := clickhouse.Config{
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *clickhouseMigrateFlag {
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate")
		}
		return clickhouse.RunMigrations(ctx, log, chCfg.MigrationConfig())
	}

	// Validate inputs before touching the network.
	source, err := stake.ParseSource(*accountFlag, *stakeAuthorityFlag)
	if err != nil {
		return err
	}
	marinadeState, err := solana.PublicKeyFromBase58(*marinadeStateFlag)
	if err != nil {
		return fmt.Errorf("invalid --marinade-state %q: %w", *marinadeStateFlag, err)
	}

	rpcClient := solanarpc.New(*rpcURLFlag)
	managementFee, feeSource, err := resolveManagementFee(ctx, rpcClient, marinadeState,
		os.Getenv("MANAGEMENT_FEE_PERCENT"), flag.CommandLine.Changed("management-fee"), *managementFeeFlag)
	if err != nil {
		return err
	}
	log.Info("management fee resolved", "percent", managementFee, "source", feeSource)

	epochInfo, err := rpcClient.GetEpochInfo(ctx, solanarpc.CommitmentConfirmed)
	if err != nil {
		return fmt.Errorf("failed to get epoch info: %w", err)
	}
	fromEpoch, toEpoch, err := resolveWindow(epochInfo.Epoch, *fromEpochFlag, *toEpochFlag)
	if err != nil {
		return err
	}

	estimator, err := epochduration.New(epochduration.Config{
		Logger: log,
		URL:    *epochDurationURLFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create epoch duration estimator: %w", err)
	}
	duration := estimator.Estimate(ctx)

	selector, err := stake.NewSelector(stake.SelectorConfig{
		Logger: log,
		RPC:    rpcClient,
		Source: source,
	})
	if err != nil {
		return fmt.Errorf("failed to create account selector: %w", err)
	}

	var limiter *rate.Limiter
	if *rpcRateLimitFlag > 0 {
		limiter = rate.NewLimiter(rate.Limit(*rpcRateLimitFlag), 1)
	}
	fetcher, err := stake.NewRewardFetcher(stake.RewardFetcherConfig{
		Logger:    log,
		RPC:       rpcClient,
		BatchSize: *rewardBatchSizeFlag,
		Limiter:   limiter,
	})
	if err != nil {
		return fmt.Errorf("failed to create reward fetcher: %w", err)
	}

	var sinks report.MultiSink
	if !*noArtifactsFlag {
		fileSink, err := report.NewFileSink(report.FileSinkConfig{Logger: log, Dir: *outputDirFlag})
		if err != nil {
			return fmt.Errorf("failed to create file sink: %w", err)
		}
		sinks = append(sinks, fileSink)
	}
	if chCfg.Addr != "" {
		chClient, err := clickhouse.NewClient(ctx, log, chCfg)
		if err != nil {
			return fmt.Errorf("failed to create clickhouse client: %w", err)
		}
		defer chClient.Close()

		chSink, err := report.NewClickHouseSink(report.ClickHouseSinkConfig{Logger: log, Client: chClient})
		if err != nil {
			return fmt.Errorf("failed to create clickhouse sink: %w", err)
		}
		log.Info("clickhouse report sink enabled", "run_id", chSink.RunID())
		sinks = append(sinks, chSink)
	}

	summarizer, err := window.NewSummarizer(window.Config{
		Logger:   log,
		Selector: selector,
		Fetcher:  fetcher,
		Sink:     sinks,
	})
	if err != nil {
		return fmt.Errorf("failed to create summarizer: %w", err)
	}

	log.Info("computing stake pool apy",
		"from", fromEpoch,
		"to", toEpoch,
		"current", epochInfo.Epoch,
		"managementFee", managementFee,
		"epochDurationHours", duration.Hours,
		"epochDurationSource", duration.Source,
	)
	rep, err := summarizer.Run(ctx, window.Request{
		FromEpoch:            fromEpoch,
		ToEpoch:              toEpoch,
		CurrentEpoch:         epochInfo.Epoch,
		ManagementFeePercent: managementFee,
		EpochDurationHours:   duration.Hours,
	})
	if err != nil {
		return err
	}

	if *pushgatewayURLFlag != "" {
		if err := metrics.Push(*pushgatewayURLFlag); err != nil {
			log.Error("failed to push metrics", "url", *pushgatewayURLFlag, "error", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
