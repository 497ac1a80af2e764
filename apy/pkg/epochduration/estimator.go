package epochduration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/malbeclabs/stakeapy/apy/pkg/metrics"
	"github.com/malbeclabs/stakeapy/utils/pkg/retry"
)

const (
	// DefaultURL reports the begin and end timestamps of the last 3 epochs.
	DefaultURL = "https://stakeview.app/apy/prev3.json"

	// FallbackHours is the average epoch duration used when DefaultURL is unavailable
	// (last 3 epochs as of 2022-11-02: 2 days 6 hours 44 minutes).
	FallbackHours = 54.73527

	sampledEpochs = 3

	SourceStakeView = "stakeview"
	SourceFallback  = "fallback"
)

// HTTPClient is the subset of *http.Client used by the estimator.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	Logger     *slog.Logger
	HTTPClient HTTPClient
	URL        string
	Retry      retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Estimate is an average epoch duration and where it came from.
type Estimate struct {
	Hours  float64
	Source string
}

type Estimator struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{log: cfg.Logger, cfg: cfg}, nil
}

type stakeViewEpochs struct {
	BeginTimestamp *float64 `json:"beginTimestamp"`
	EndTimestamp   *float64 `json:"endTimestamp"`
}

// Estimate returns the average duration of the last 3 epochs. It never fails:
// any fetch or payload problem yields FallbackHours.
func (e *Estimator) Estimate(ctx context.Context) Estimate {
	hours, err := e.fetch(ctx)
	if err != nil {
		e.log.Warn("epochduration: using fallback epoch duration", "url", e.cfg.URL, "hours", FallbackHours, "error", err)
		metrics.EpochDurationFetchTotal.WithLabelValues("fallback").Inc()
		return Estimate{Hours: FallbackHours, Source: SourceFallback}
	}
	e.log.Info("epochduration: avg last 3 epoch duration", "hours", hours)
	metrics.EpochDurationFetchTotal.WithLabelValues("success").Inc()
	return Estimate{Hours: hours, Source: SourceStakeView}
}

func (e *Estimator) fetch(ctx context.Context) (float64, error) {
	var payload stakeViewEpochs
	retryCfg := e.cfg.Retry
	retryCfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		e.log.Debug("epochduration: retrying fetch", "attempt", attempt, "backoff", backoff, "error", err)
	}
	err := retry.Do(ctx, retryCfg, func() error {
		var err error
		payload, err = e.get(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return durationHours(payload)
}

func (e *Estimator) get(ctx context.Context) (stakeViewEpochs, error) {
	var payload stakeViewEpochs

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.URL, nil)
	if err != nil {
		return payload, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return payload, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return payload, &retry.StatusError{Code: resp.StatusCode, URL: e.cfg.URL}
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return payload, fmt.Errorf("failed to decode response: %w", err)
	}
	return payload, nil
}

func durationHours(p stakeViewEpochs) (float64, error) {
	if p.BeginTimestamp == nil || p.EndTimestamp == nil {
		return 0, errors.New("response is missing beginTimestamp or endTimestamp")
	}
	begin, end := *p.BeginTimestamp, *p.EndTimestamp
	if begin <= 0 || end <= begin {
		return 0, fmt.Errorf("invalid epoch timestamps: begin=%v end=%v", begin, end)
	}
	return (end - begin) / sampledEpochs / 3600, nil
}
