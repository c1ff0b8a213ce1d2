// Command noesis runs a single research-question pipeline to completion:
// load config, assemble the tiered router and triad reviewer, execute the
// seven-phase pipeline, and write the run report to disk.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/noeticlab/noesis/internal/accountant"
	"github.com/noeticlab/noesis/internal/appcfg"
	"github.com/noeticlab/noesis/internal/artifacts"
	"github.com/noeticlab/noesis/internal/circuitbreaker"
	"github.com/noeticlab/noesis/internal/events"
	"github.com/noeticlab/noesis/internal/feedback"
	"github.com/noeticlab/noesis/internal/health"
	"github.com/noeticlab/noesis/internal/llm"
	"github.com/noeticlab/noesis/internal/logging"
	"github.com/noeticlab/noesis/internal/metrics"
	"github.com/noeticlab/noesis/internal/orchestrator"
	"github.com/noeticlab/noesis/internal/registry"
	"github.com/noeticlab/noesis/internal/router"
	"github.com/noeticlab/noesis/internal/store"
	"github.com/noeticlab/noesis/internal/tracing"
	"github.com/noeticlab/noesis/internal/triad"
)

// version is set at build time via -ldflags.
var version = "dev"

const (
	exitSuccess        = 0
	exitPipelineFail   = 1
	exitConfigError    = 2
	exitCancelled      = 3
	exitPartialFailure = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: noesis <config.json> <question>\n")
		return exitConfigError
	}
	configPath := os.Args[1]
	question := os.Args[2]

	cfg, err := appcfg.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "noesis: config error: %v\n", err)
		return exitConfigError
	}

	level := "info"
	if cfg.Profile == appcfg.ProfileDev {
		level = "debug"
	}
	logger := logging.Setup(level)
	logger.Info("noesis starting", slog.String("version", version), slog.String("profile", string(cfg.Profile)))

	shutdownTracing, err := tracing.Setup(tracing.Config{ServiceName: "noesis"})
	if err != nil {
		logger.Warn("tracing setup failed, continuing without spans", slog.String("error", err.Error()))
	} else {
		defer shutdownTracing(context.Background())
	}

	st, err := store.NewSQLite(cfg.DataRoot + "/noesis.db")
	if err != nil {
		fmt.Fprintf(os.Stderr, "noesis: store init error: %v\n", err)
		return exitConfigError
	}
	defer st.Close()
	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "noesis: store migrate error: %v\n", err)
		return exitConfigError
	}

	metricsReg := metrics.New()
	bus := events.NewBus()

	tracker := health.NewTracker(health.DefaultConfig(), health.WithEventBus(bus))
	reg := registry.New(tracker, registry.WithStore(st))

	// registry.LoadFromConfig registers every credential-backed provider
	// named in cfg.ProviderCredentials, keyed against a handle map. Concrete
	// provider wire clients (the llm.Client implementations behind those
	// handles) are out of scope for this repository; a deployment that
	// wants real providers supplies both the handles here and the matching
	// entries in clients below.
	handles := map[string]registry.ProviderHandle{}
	if err := registry.LoadFromConfig(reg, cfg, nil, handles); err != nil {
		fmt.Fprintf(os.Stderr, "noesis: provider registration error: %v\n", err)
		return exitConfigError
	}

	clients := map[string]llm.Client{}
	if len(cfg.ProviderCredentials) == 0 {
		logger.Warn("no provider clients registered; all routing attempts will fail until one is wired in")
	}

	acc := accountant.New(st)
	throttle := router.NewThrottle(time.Second)
	rt := router.New(reg, acc, clients, router.Config{
		Attempts:      cfg.DefaultRetry.Attempts,
		BaseBackoffMs: cfg.DefaultRetry.BaseBackoffMs,
		QuotaByTier: map[registry.Tier]registry.Quota{
			registry.Premium: {
				MaxCallsPerRun:  cfg.PremiumQuota.MaxCallsPerRun,
				MaxTokensPerRun: cfg.PremiumQuota.MaxTokensPerRun,
				MaxCallsPerDay:  cfg.PremiumQuota.MaxCallsPerDay,
			},
		},
	}, router.WithThrottle(throttle), router.WithMetrics(metricsReg), router.WithEventBus(bus))

	aw := artifacts.New(cfg.DataRoot)
	journal, err := feedback.Open(aw.FeedbackEventsPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "noesis: feedback journal open error: %v\n", err)
		return exitConfigError
	}
	defer journal.Close()

	triadRunner := triad.New(rt, triad.WithMetrics(metricsReg))

	opts := []orchestrator.Option{orchestrator.WithMetrics(metricsReg), orchestrator.WithEventBus(bus)}
	if cfg.Temporal.HostPort != "" {
		c, err := client.Dial(client.Options{HostPort: cfg.Temporal.HostPort, Namespace: cfg.Temporal.Namespace})
		if err != nil {
			logger.Warn("temporal dial failed, running local-only", slog.String("error", err.Error()))
			metricsReg.TemporalUp.Set(0)
		} else {
			defer c.Close()
			metricsReg.TemporalUp.Set(1)
			breaker := circuitbreaker.New(
				circuitbreaker.WithThreshold(3),
				circuitbreaker.WithCooldown(30*time.Second),
				circuitbreaker.WithOnStateChange(func(from, to circuitbreaker.State) {
					logger.Warn("temporal circuit breaker state change", slog.String("from", from.String()), slog.String("to", to.String()))
					metricsReg.TemporalCircuitState.Set(float64(to))
				}),
			)
			opts = append(opts, orchestrator.WithTemporal(c, cfg.Temporal.TaskQueue, breaker))
		}
	} else {
		metricsReg.TemporalUp.Set(0)
	}

	orch := orchestrator.New(rt, triadRunner, aw, journal, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Info("cancellation requested")
		cancel()
	}()

	report := orch.Run(ctx, question, orchestrator.Options{
		TriadRounds:  cfg.TriadRounds,
		RetrieveMode: false,
		WithTriad:    cfg.WithTriadDefault,
	})

	reportPath := aw.RunReportPath(report.RunID, time.Now())
	data, marshalErr := json.MarshalIndent(reportJSON(report), "", "  ")
	if marshalErr == nil {
		if err := aw.WriteAtomic(reportPath, data); err != nil {
			logger.Error("failed to persist run report", slog.String("error", err.Error()))
		}
	}

	if report.Err != nil {
		if report.Outcome.Kind == orchestrator.OutcomeCancelled {
			logger.Error("pipeline cancelled", slog.String("error", report.Err.Error()))
			return exitCancelled
		}
		logger.Error("pipeline failed", slog.String("error", report.Err.Error()))
		return exitPipelineFail
	}

	if report.Outcome.Kind == orchestrator.OutcomePartialFailure {
		logger.Warn("pipeline completed with a degraded result",
			slog.String("run_id", report.RunID), slog.String("reason", report.Outcome.Reason))
		return exitPartialFailure
	}

	logger.Info("pipeline completed", slog.String("run_id", report.RunID), slog.String("draft_path", report.DraftPath))
	return exitSuccess
}

// reportJSON is a small anonymous projection of orchestrator.RunReport,
// since RunReport.Err (an error) is not itself meaningfully serialisable.
func reportJSON(r orchestrator.RunReport) map[string]any {
	out := map[string]any{
		"run_id":      r.RunID,
		"question":    r.Question,
		"phases":      r.Phases,
		"final_draft": r.FinalDraft,
		"draft_path":  r.DraftPath,
		"llm_stats":   r.LlmStats,
		"outcome":     r.Outcome.Kind,
	}
	if r.Outcome.Reason != "" {
		out["reason"] = r.Outcome.Reason
	}
	if r.Err != nil {
		out["error"] = r.Err.Error()
	}
	return out
}
