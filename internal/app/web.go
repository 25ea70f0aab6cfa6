package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/chart"
	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/csvexport"
	"github.com/relabs-tech/motion_logger/internal/logging"
	"github.com/relabs-tech/motion_logger/internal/motion"
	"github.com/relabs-tech/motion_logger/internal/sensors"
)

const shutdownTimeout = 5 * time.Second

// WebServer serves the capture UI and its JSON API.
type WebServer struct {
	cfg     *config.Config
	session *capture.Session
	hub     *Hub
	clk     clock.Clock
	logger  *zap.SugaredLogger
}

// NewWebServer wires the handlers to session. hub must already observe session.
func NewWebServer(cfg *config.Config, session *capture.Session, hub *Hub, clk clock.Clock, logger *zap.SugaredLogger) *WebServer {
	return &WebServer{cfg: cfg, session: session, hub: hub, clk: clk, logger: logger}
}

// Handler returns the HTTP routes.
func (s *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.hub.HandleLiveWS(s.session))
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/sensor", s.handleSelect)
	mux.HandleFunc("POST /api/clear", s.command(s.session.Clear))
	mux.HandleFunc("POST /api/pause", s.command(s.session.Pause))
	mux.HandleFunc("POST /api/resume", s.command(s.session.Resume))
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("POST /api/save", s.handleSave)
	mux.HandleFunc("GET /api/chart.png", s.handleChart)

	// Static files from WEB_ROOT as the root
	mux.Handle("/", http.FileServer(http.Dir(s.cfg.WebRoot)))
	return mux
}

func (s *WebServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnw("json encode error", "error", err)
	}
}

// writeError maps err to a status code. Sensor and export failures are also
// pushed to the live clients.
func (s *WebServer) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var failure *csvexport.ExportFailure
	switch {
	case errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, motion.ErrSensorUnavailable):
		code = http.StatusServiceUnavailable
		s.hub.Error(err.Error())
	case errors.As(err, &failure):
		s.hub.Error(err.Error())
	case errors.Is(err, capture.ErrClosed), errors.Is(err, context.Canceled):
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *WebServer) writeStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.session.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r)
}

func (s *WebServer) handleSelect(w http.ResponseWriter, r *http.Request) {
	t, err := parseSensorParam(r.URL.Query().Get("type"))
	if err == nil {
		err = s.session.SelectSensor(r.Context(), t)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatus(w, r)
}

func (s *WebServer) command(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeStatus(w, r)
	}
}

type bufferSink struct {
	bytes.Buffer
}

func (b *bufferSink) Close() error { return nil }

// handleExport streams the CSV as a download. The export is buffered first
// so a failure can still be reported with a status code.
func (s *WebServer) handleExport(w http.ResponseWriter, r *http.Request) {
	sink := &bufferSink{}
	open := func() (io.WriteCloser, error) { return sink, nil }
	if _, err := s.session.Export(r.Context(), open); err != nil {
		s.writeError(w, err)
		return
	}

	name := csvexport.DefaultFileName(s.clk.Now())
	w.Header().Set("Content-Type", csvexport.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := sink.WriteTo(w); err != nil {
		s.logger.Warnw("export download interrupted", "error", err)
	}
}

// saveName validates a client supplied file name. Directories are not
// allowed; an empty name picks the default.
func saveName(name string, now time.Time) (string, error) {
	if name == "" {
		return csvexport.DefaultFileName(now), nil
	}
	if name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: invalid file name %q", errBadRequest, name)
	}
	if filepath.Ext(name) == "" {
		name += ".csv"
	}
	return name, nil
}

func (s *WebServer) handleSave(w http.ResponseWriter, r *http.Request) {
	name, err := saveName(r.URL.Query().Get("name"), s.clk.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	path := filepath.Join(s.cfg.ExportDir, name)
	n, err := s.session.Export(r.Context(), csvexport.FileOpener(path))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"path": path, "samples": n})
}

func (s *WebServer) handleChart(w http.ResponseWriter, r *http.Request) {
	snap, labels, err := s.session.Chart(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := chart.RenderPNG(&buf, snap, labels, chart.DefaultWidth, chart.DefaultHeight); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	buf.WriteTo(w)
}

// RunWeb captures from the configured source and serves the web UI until
// SIGINT or SIGTERM.
func RunWeb() error {
	cfg := config.Get()
	logger := logging.Named("web")
	clk := clock.New()

	src, release, err := sensors.New(cfg, cfg.MQTTClientIDWeb, clk, logger)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := newSession(cfg, src, clk, logger.Named("capture"))
	hub := NewHub(logger.Named("live"))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: NewWebServer(cfg, session, hub, clk, logger).Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runSession(ctx, session) })
	g.Go(func() error {
		if err := session.AddObserver(ctx, hub); err != nil {
			return err
		}
		if err := selectConfigured(ctx, session, cfg, logger); err != nil {
			return err
		}
		logger.Infow("web server listening", "addr", srv.Addr, "root", cfg.WebRoot)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("web server stopped")
	return err
}
