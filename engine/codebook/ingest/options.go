package ingest

import (
	"time"

	"github.com/compozy/codebook/engine/codebook/lock"
	"github.com/compozy/codebook/engine/codebook/retry"
	"github.com/compozy/codebook/engine/codebook/vectordb"
	"github.com/compozy/codebook/pkg/config"
)

const defaultUpsertBatchSize = 50

// Options controls how sections are persisted.
type Options struct {
	Collection      vectordb.CollectionSpec
	UpsertBatchSize int
	// MaxConcurrency bounds concurrently processed sections. Zero means unbounded.
	MaxConcurrency int
	UpsertPolicy   retry.Policy
	// MaintenancePolicy guards purge and clear calls.
	MaintenancePolicy retry.Policy
	// Locker is optional. When set, Ingest and every Maintainer write hold a
	// per-document lock, refreshed while the write runs.
	Locker  lock.Locker
	LockTTL time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Collection: vectordb.CollectionSpec{
			Dimension: cfg.Vector.Dimension,
			Metric:    cfg.Vector.Metric,
		},
		UpsertBatchSize:   cfg.Ingest.UpsertBatchSize,
		MaxConcurrency:    cfg.Ingest.MaxConcurrency,
		UpsertPolicy:      retry.UpsertPolicy(cfg, vectordb.IsTransient),
		MaintenancePolicy: retry.MaintenancePolicy(cfg, vectordb.IsTransient),
		LockTTL:           cfg.Ingest.LockTTL,
	}
}

func (o *Options) normalize() {
	if o.UpsertBatchSize <= 0 {
		o.UpsertBatchSize = defaultUpsertBatchSize
	}
	if o.MaxConcurrency < 0 {
		o.MaxConcurrency = 0
	}
	if o.LockTTL <= 0 {
		o.LockTTL = lock.DefaultTTL
	}
	if o.UpsertPolicy.Attempts == 0 {
		o.UpsertPolicy = retry.Policy{Name: "upsert", Attempts: 1}
	}
	if o.MaintenancePolicy.Attempts == 0 {
		o.MaintenancePolicy = retry.Policy{Name: "maintenance", Attempts: 1}
	}
	o.UpsertPolicy = o.UpsertPolicy.WithRetryable(vectordb.IsTransient)
	o.MaintenancePolicy = o.MaintenancePolicy.WithRetryable(vectordb.IsTransient)
}
