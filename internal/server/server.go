// Package server exposes the diff service over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"image-diff/internal/alignment"
	"image-diff/internal/config"
	"image-diff/internal/logger"
	"image-diff/internal/opencv/memory"
	"image-diff/internal/opencv/safe"
	"image-diff/internal/services"
)

const (
	UploadPath  = "/image_diff/upload-images/"
	HealthPath  = "/healthz"
	uploadField = "images"
	component   = "HTTPServer"
)

const msgWrongCount = "Please upload exactly two images."

// statusClientClosed is reported when the caller went away before the diff
// finished. Nothing is read by the client, it only shows up in logs.
const statusClientClosed = 499

// Differ is the part of services.DiffService the handlers need.
type Differ interface {
	DiffEncoded(ctx context.Context, first, second io.Reader, tracker safe.MemoryTracker) (*services.DiffResult, error)
	WriteCombined(w io.Writer, res *services.DiffResult) error
}

type Server struct {
	cfg    config.ServerConfig
	differ Differ
	log    logger.Logger
	http   *http.Server
}

func New(cfg config.ServerConfig, differ Differ, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{cfg: cfg, differ: differ, log: log}
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
	}
	return s
}

// WithBaseContext parents every request context on ctx. Requests still
// waiting for a worker slot give up once ctx is cancelled.
func (s *Server) WithBaseContext(ctx context.Context) *Server {
	s.http.BaseContext = func(net.Listener) context.Context { return ctx }
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+UploadPath, s.handleUpload)
	mux.HandleFunc("GET "+HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "ok")
	})
	return mux
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	s.log.Info(component, "listening", map[string]interface{}{"addr": s.cfg.Addr})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown() {
	timeout := s.cfg.ShutdownTimeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Error(component, err, map[string]interface{}{"stage": "shutdown"})
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), err)
			return
		}
		s.fail(w, http.StatusBadRequest, "expected a multipart form", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File[uploadField]
	if len(files) != 2 {
		s.fail(w, http.StatusBadRequest, msgWrongCount, fmt.Errorf("got %d files", len(files)))
		return
	}

	first, err := files[0].Open()
	if err != nil {
		s.fail(w, http.StatusBadRequest, "cannot read first image", err)
		return
	}
	defer first.Close()
	second, err := files[1].Open()
	if err != nil {
		s.fail(w, http.StatusBadRequest, "cannot read second image", err)
		return
	}
	defer second.Close()

	tracker := memory.NewTracker()
	res, err := s.differ.DiffEncoded(r.Context(), first, second, tracker)
	if err != nil {
		status := statusFor(err)
		msg := err.Error()
		if status >= http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
		s.fail(w, status, msg, err)
		return
	}
	defer res.Close()

	var body bytes.Buffer
	if err := s.differ.WriteCombined(&body, res); err != nil {
		s.fail(w, http.StatusInternalServerError, "cannot encode result", err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", "attachment; filename=combined_image.jpg")
	w.WriteHeader(http.StatusOK)
	size := body.Len()
	if _, err := body.WriteTo(w); err != nil {
		s.log.Warning(component, "response write failed", map[string]interface{}{"error": err.Error()})
		return
	}

	s.log.Info(component, "upload processed", map[string]interface{}{
		"files":       fileNames(files),
		"contours":    len(res.Contours),
		"bytes":       size,
		"peak_bytes":  tracker.GetStats().PeakBytes,
		"duration_ms": time.Since(started).Milliseconds(),
	})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, alignment.ErrInsufficientCorrespondences),
		errors.Is(err, alignment.ErrDegenerateTransform):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosed
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, message string, err error) {
	fields := map[string]interface{}{"status": status}
	if status >= http.StatusInternalServerError {
		s.log.Error(component, err, fields)
	} else {
		fields["error"] = err.Error()
		s.log.Warning(component, "request rejected", fields)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func fileNames(files []*multipart.FileHeader) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	return names
}
