// Package convertd is a thin facade over the internal packages, providing a
// stable public API for embedding the conversion service.
package convertd

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "convertd/internal/config"
	"convertd/internal/convert"
	"convertd/internal/engine"
	"convertd/internal/history"
	"convertd/internal/history/factory"
	"convertd/internal/metrics"
	"convertd/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type EngineStatus = engine.Status

type HistoryRecord = history.Record

type HistorySink = history.Sink

// Service bundles the supervisor and gateway behind one handle.
type Service struct {
	sup  *engine.Supervisor
	gw   *convert.Gateway
	sink history.Sink
	conf *cfg.Config
}

// LoadConfig reads a TOML config file; an empty path yields defaults.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// New wires a service from config: structured logger, history sink,
// supervisor and gateway. The engine starts lazily on first use.
func New(c *Config) (*Service, error) {
	log := c.Log.NewSlogger()
	sink, err := factory.NewSinkFromDSN(c.History.DSN)
	if err != nil {
		return nil, err
	}
	sup := engine.New(c.EngineConfig(), engine.WithLogger(log))
	return &Service{
		sup:  sup,
		gw:   convert.NewGateway(sup, log),
		sink: sink,
		conf: c,
	}, nil
}

// EnsureReady suspends until the engine is running.
func (s *Service) EnsureReady(ctx context.Context) error { return s.sup.EnsureReady(ctx) }

// Convert runs a conversion for the given format pair and returns the
// destination path.
func (s *Service) Convert(ctx context.Context, src, from, to string) (string, error) {
	return s.gw.Convert(ctx, src, from, to)
}

func (s *Service) DocToDocx(ctx context.Context, src string) (string, error) {
	return s.gw.DocToDocx(ctx, src)
}

func (s *Service) DocxToPDF(ctx context.Context, src string) (string, error) {
	return s.gw.DocxToPDF(ctx, src)
}

func (s *Service) PptToPptx(ctx context.Context, src string) (string, error) {
	return s.gw.PptToPptx(ctx, src)
}

func (s *Service) PptxToPDF(ctx context.Context, src string) (string, error) {
	return s.gw.PptxToPDF(ctx, src)
}

func (s *Service) XlsToXlsx(ctx context.Context, src string) (string, error) {
	return s.gw.XlsToXlsx(ctx, src)
}

// Status reports the supervisor snapshot.
func (s *Service) Status() EngineStatus { return s.sup.Status() }

// Shutdown stops the engine and closes the history sink. Idempotent.
func (s *Service) Shutdown() {
	s.sup.Shutdown()
	_ = s.sink.Close()
}

// NewHTTPServer starts an HTTP server exposing the conversion API.
func (s *Service) NewHTTPServer(addr string) *http.Server {
	log := s.conf.Log.NewSlogger()
	r := server.NewRouter(s.conf.ServerConfig(), s.gw, s.sup, s.sink, log)
	return server.NewServer(addr, r)
}

// RegisterMetrics registers the service's Prometheus collectors.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
