package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/veridexlabs/veridex/internal/admission"
	"github.com/veridexlabs/veridex/internal/config"
	"github.com/veridexlabs/veridex/internal/extract"
	"github.com/veridexlabs/veridex/internal/ingest"
	"github.com/veridexlabs/veridex/internal/judge"
	"github.com/veridexlabs/veridex/internal/llm"
	"github.com/veridexlabs/veridex/internal/logging"
	"github.com/veridexlabs/veridex/internal/metrics"
	"github.com/veridexlabs/veridex/internal/model"
	"github.com/veridexlabs/veridex/internal/orchestrator"
	"github.com/veridexlabs/veridex/internal/progress"
	"github.com/veridexlabs/veridex/internal/queue"
	"github.com/veridexlabs/veridex/internal/retrieve"
	"github.com/veridexlabs/veridex/internal/search"
	"github.com/veridexlabs/veridex/internal/server"
	"github.com/veridexlabs/veridex/internal/store"
	"github.com/veridexlabs/veridex/internal/verify"
)

// serveCmd runs the HTTP service and the queue consumer.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the veridex HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides config)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}

// pipeline holds the wired stages shared by serve and one-shot check.
type pipeline struct {
	store       *store.Store
	queue       *queue.Queue
	ingestor    *ingest.Ingestor
	broadcaster *progress.Broadcaster
	orch        *orchestrator.Orchestrator
	metrics     *metrics.Metrics
	registry    *prometheus.Registry
	logger      *zap.Logger
}

// buildPipeline wires every stage from config.
func buildPipeline(cfg *config.Config, logger *zap.Logger) (*pipeline, error) {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	st := store.New(db)

	q := queue.New(db, queue.Options{
		Visibility:   cfg.Pipeline.QueueVisibility,
		PollInterval: cfg.Pipeline.QueuePollEvery,
		MaxAttempts:  cfg.Pipeline.QueueMaxAttempts,
		Logger:       logger,
	})
	if err := q.EnsureTable(context.Background()); err != nil {
		return nil, fmt.Errorf("queue table: %w", err)
	}

	chatter := llm.FromConfig(cfg.LLM)
	nliChatter := llm.NewClient(cfg.NLI.APIKey, cfg.NLI.BaseURL, cfg.NLI.Timeout)

	providers, timeouts, err := buildProviders(cfg.Search)
	if err != nil {
		return nil, err
	}
	adapter := search.NewAdapter(providers, search.AdapterOptions{
		Timeouts: timeouts,
		CacheTTL: cfg.Search.CacheTTL,
		Logger:   logger,
	})
	for _, pc := range cfg.Search.Providers {
		adapter.SetProviderRate(pc.Name, pc.RateLimit, 0)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	hub := progress.NewBroadcaster(logger)
	ingestor := ingest.New(cfg.Ingest, cfg.LLM.OCRModel, chatter, logger)

	orch := orchestrator.New(orchestrator.Options{
		Store:        st,
		Ingestor:     ingestor,
		Extractor:    extract.New(chatter, cfg.LLM.ExtractionModel, cfg.Pipeline.MaxClaims, logger),
		Retriever:    retrieve.New(adapter, cfg.Pipeline.MaxEvidence, cfg.Pipeline.RetrievalFanout, m, logger),
		Verifier:     verify.New(nliChatter, cfg.NLI, logger),
		Judger:       judge.New(chatter, cfg.LLM.JudgeModel, cfg.LLM.JudgeTemperature, cfg.LLM.MaxTokens, logger),
		Broadcaster:  hub,
		Metrics:      m,
		CheckTimeout: cfg.Pipeline.CheckTimeout,
		Logger:       logger,
	})

	return &pipeline{
		store:       st,
		queue:       q,
		ingestor:    ingestor,
		broadcaster: hub,
		orch:        orch,
		metrics:     m,
		registry:    registry,
		logger:      logger,
	}, nil
}

// buildProviders instantiates the configured search backends in failover
// order.
func buildProviders(cfg config.SearchConfig) ([]search.Provider, map[string]time.Duration, error) {
	providers := make([]search.Provider, 0, len(cfg.Providers))
	timeouts := make(map[string]time.Duration, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		switch pc.Kind {
		case "brave":
			providers = append(providers, search.NewBraveProvider(pc.Name, pc.APIKey, "", nil))
		case "serpapi":
			providers = append(providers, search.NewSerpAPIProvider(pc.Name, pc.APIKey, "", nil))
		case "template":
			if pc.URLTemplate == "" {
				return nil, nil, fmt.Errorf("provider %s: url_template required for kind template", pc.Name)
			}
			providers = append(providers, search.NewTemplateProvider(pc.Name, pc.URLTemplate, pc.APIKey, nil))
		default:
			return nil, nil, fmt.Errorf("provider %s: unknown kind %q", pc.Name, pc.Kind)
		}
		timeouts[pc.Name] = pc.Timeout
	}
	return providers, timeouts, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(logLevel())
	defer logging.Sync(logger)

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Addr:        cfg.Server.Addr,
		Store:       p.store,
		Queue:       p.queue,
		Gate:        admission.FromConfig(cfg.Admission),
		Ingestor:    p.ingestor,
		Broadcaster: p.broadcaster,
		Registry:    p.registry,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Queue consumer: claims dispatches and runs them through the
	// orchestrator. Duplicate dispatches ack cleanly.
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		p.queue.Run(ctx, cfg.Pipeline.Workers, func(ctx context.Context, d *queue.Dispatch) error {
			err := p.orch.Execute(ctx, d.CheckID)
			if errors.Is(err, model.ErrDuplicateDispatch) {
				return nil // already executing in this process; ack the redelivery
			}
			if err != nil {
				logger.Error("execute check", zap.String("check_id", d.CheckID), zap.Error(err))
			}
			return err
		})
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	select {
	case err := <-serveErr:
		stop()
		<-consumerDone
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.CheckTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	<-consumerDone
	return nil
}

func logLevel() string {
	if verbose {
		return "debug"
	}
	return "info"
}
