package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/compozy/codebook/engine/codebook/chunk"
	"github.com/compozy/codebook/engine/codebook/embedder"
	"github.com/compozy/codebook/engine/codebook/ingest"
	"github.com/compozy/codebook/engine/codebook/lock"
	"github.com/compozy/codebook/engine/codebook/query"
	"github.com/compozy/codebook/engine/codebook/retriever"
	"github.com/compozy/codebook/engine/codebook/status"
	"github.com/compozy/codebook/engine/codebook/vectordb"
	"github.com/compozy/codebook/pkg/config"
	"github.com/compozy/codebook/pkg/logger"
	"github.com/compozy/codebook/pkg/telemetry"
	"github.com/compozy/codebook/pkg/tokens"
)

// app holds the services of one command run. Everything beyond the store and
// the status probe is built on first use so that read-only commands do not
// need model credentials.
type app struct {
	cfg     *config.Config
	store   vectordb.Store
	probe   *status.Probe
	closers []func(context.Context) error

	emb       *embedder.Embedder
	ingestor  *ingest.Ingestor
	retrieval *retriever.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.open(ctx); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	metrics, err := telemetry.New(ctx, a.cfg.Metrics)
	if err != nil {
		return err
	}
	metrics.SetAsGlobal()
	a.closers = append(a.closers, metrics.Shutdown)
	if err := metrics.Start(ctx); err != nil {
		return err
	}
	store, release, err := vectordb.AcquireShared(ctx, vectordb.ConfigFromApp(a.cfg))
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, release)
	a.probe, err = status.FromConfig(store, a.cfg)
	return err
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) embedder() (*embedder.Embedder, error) {
	if a.emb != nil {
		return a.emb, nil
	}
	emb, err := embedder.New(embedder.ConfigFromApp(a.cfg))
	if err != nil {
		return nil, err
	}
	a.emb = emb
	return emb, nil
}

func (a *app) locker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.Redis.URL == "" {
		return lock.NewLocalLocker(), nil
	}
	locker, closeFn, err := lock.Open(ctx, a.cfg.Redis.URL, a.cfg.Redis.Prefix)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return closeFn() })
	return locker, nil
}

func (a *app) ingest(ctx context.Context) (*ingest.Ingestor, error) {
	if a.ingestor != nil {
		return a.ingestor, nil
	}
	emb, err := a.embedder()
	if err != nil {
		return nil, err
	}
	batcher, err := embedder.NewBatcherFor(emb)
	if err != nil {
		return nil, err
	}
	splitter, err := chunk.NewSplitter(chunk.SettingsFromConfig(a.cfg.Chunking))
	if err != nil {
		return nil, err
	}
	opts := ingest.OptionsFromConfig(a.cfg)
	if opts.Locker, err = a.locker(ctx); err != nil {
		return nil, err
	}
	a.ingestor, err = ingest.New(a.store, splitter, batcher, a.probe, opts)
	if err != nil {
		return nil, err
	}
	return a.ingestor, nil
}

func (a *app) maintainer(ctx context.Context) (*ingest.Maintainer, error) {
	ingestor, err := a.ingest(ctx)
	if err != nil {
		return nil, err
	}
	return ingest.NewMaintainer(ingestor)
}

func (a *app) retriever() (*retriever.Service, error) {
	if a.retrieval != nil {
		return a.retrieval, nil
	}
	emb, err := a.embedder()
	if err != nil {
		return nil, err
	}
	a.retrieval, err = retriever.NewService(emb, a.store, retriever.SettingsFromConfig(a.cfg))
	if err != nil {
		return nil, err
	}
	return a.retrieval, nil
}

func (a *app) executor(ctx context.Context, collection string, strategyName string) (*query.Executor, error) {
	svc, err := a.retriever()
	if err != nil {
		return nil, err
	}
	if strategyName == "" {
		strategyName = a.cfg.Retrieval.Strategy
	}
	strategy, err := svc.Strategy(strategyName)
	if err != nil {
		return nil, err
	}
	models, err := query.ModelsFromConfig(a.cfg)
	if err != nil {
		return nil, err
	}
	return query.New(strategy, models, query.SettingsFromConfig(a.cfg, collection), tokens.Default(ctx))
}

// runWithApp builds the app for cmd, runs fn and tears everything down.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return errors.New("configuration not found in context")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.FromContext(ctx).Warn("Failed to release resources", "error", cerr)
		}
	}()
	return fn(ctx, a)
}
