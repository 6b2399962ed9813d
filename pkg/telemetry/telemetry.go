package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/compozy/codebook/pkg/config"
	"github.com/compozy/codebook/pkg/logger"
)

const meterName = "codebook"

// Service owns the meter provider and the optional /metrics endpoint.
type Service struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	registry *prom.Registry
	server   *http.Server
	cfg      config.MetricsConfig
}

// New builds the metrics pipeline. When metrics are disabled it returns a
// service backed by a no-op meter.
func New(ctx context.Context, cfg config.MetricsConfig) (*Service, error) {
	log := logger.FromContext(ctx)
	if !cfg.Enabled {
		log.Debug("Metrics disabled, using no-op meter")
		return &Service{meter: noop.NewMeterProvider().Meter(meterName), cfg: cfg}, nil
	}
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return &Service{
		meter:    provider.Meter(meterName),
		provider: provider,
		registry: registry,
		cfg:      cfg,
	}, nil
}

func (s *Service) Meter() metric.Meter {
	return s.meter
}

func (s *Service) Enabled() bool {
	return s.provider != nil
}

// SetAsGlobal installs the provider as the process-wide meter provider.
func (s *Service) SetAsGlobal() {
	if s.provider != nil {
		otel.SetMeterProvider(s.provider)
	}
}

// Handler serves the Prometheus exposition format.
func (s *Service) Handler() http.Handler {
	if s.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Start listens on the configured address in the background.
func (s *Service) Start(ctx context.Context) error {
	if !s.Enabled() || s.cfg.Addr == "" {
		return nil
	}
	log := logger.FromContext(ctx)
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server stopped", "error", err)
		}
	}()
	log.Info("Serving metrics", "addr", listener.Addr().String())
	return nil
}

// Shutdown stops the server and flushes the provider.
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error
	if s.server != nil {
		errs = append(errs, s.server.Shutdown(ctx))
	}
	if s.provider != nil {
		errs = append(errs, s.provider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
