package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/relabs-tech/locfix/internal/location"
)

// Locator is the part of location.Bridge the HTTP surface needs.
type Locator interface {
	Get(ctx context.Context, req location.Request) (location.Fix, error)
	Cancel()
	Strategy() string
}

// Server serves the location bridge over HTTP and WebSocket.
type Server struct {
	locator Locator
	metrics http.Handler
	logger  logrus.FieldLogger
}

// NewServer returns a server for locator. metrics serves /metrics.
func NewServer(locator Locator, metrics http.Handler, logger logrus.FieldLogger) *Server {
	return &Server{locator: locator, metrics: metrics, logger: logger}
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/location", s.handleGet).Methods(http.MethodPost)
	r.HandleFunc("/api/location", s.handleCancel).Methods(http.MethodDelete)
	r.HandleFunc("/ws/location", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	return otelhttp.NewHandler(r, "locfix-bridge")
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Code    location.Kind `json:"code"`
	Message string        `json:"message"`
}

func newErrorResponse(err error) errorResponse {
	var le *location.Error
	if errors.As(err, &le) {
		return errorResponse{Code: le.Kind, Message: le.Message}
	}
	return errorResponse{Code: location.KindError, Message: err.Error()}
}

// statusFor maps a failure kind to its HTTP status.
func statusFor(kind location.Kind) int {
	switch kind {
	case location.KindUnavailable:
		return http.StatusServiceUnavailable
	case location.KindUnauthorized:
		return http.StatusForbidden
	case location.KindCancelled:
		return http.StatusConflict
	case location.KindTimeout:
		return http.StatusGatewayTimeout
	case location.KindBusy:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

// decodeOptions reads the request body; an empty body means default options.
func decodeOptions(r io.Reader) (location.Request, error) {
	var opts location.Options
	if err := json.NewDecoder(r).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return location.Request{}, &location.Error{Kind: location.KindError, Message: "Invalid location options", Err: err}
	}
	return opts.Request()
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOptions(r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	fix, err := s.locator.Get(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	s.locator.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"strategy": s.locator.Strategy(),
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := newErrorResponse(err)
	s.logger.WithFields(logrus.Fields{
		"code":  resp.Code,
		"error": err,
	}).Debug("location request failed")
	writeJSON(w, statusFor(resp.Code), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}

// newHTTPServer wraps h with the timeouts used by every listener.
func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
