// Package api exposes the HTTP interface for the crawler. Routes:
//   - GET /healthz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawl to crawl a list of symbols, answered as JSON or CSV.
//   - GET /v1/companies to list directory entries.
//   - POST /v1/directory/refresh to reload the company directory.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"stockcrawler/internal/directory"
	"stockcrawler/internal/metrics"
	"stockcrawler/internal/models"
	"stockcrawler/internal/ratelimit"
	"stockcrawler/internal/service"
	"stockcrawler/internal/table"
)

const maxRequestBody = 1 << 20

// CrawlService is the part of service.Service the server calls.
type CrawlService interface {
	Crawl(ctx context.Context, symbols []string) (*service.Outcome, error)
	Refresh(ctx context.Context, sourceURL string) error
	Companies(ctx context.Context, symbols []string) (directory.Resolution, error)
}

// Server wires HTTP handlers to the crawl service.
type Server struct {
	router  chi.Router
	svc     CrawlService
	limiter *ratelimit.Limiter
	logger  *zap.Logger
	now     func() time.Time

	listingURL *url.URL
}

// Option customizes a Server.
type Option func(*Server)

// WithListingURL sets the only listing location a refresh request may name.
// A requested URL must share its scheme and host. Without it, refresh
// requests may not name a URL and the configured default is always used.
func WithListingURL(raw string) Option {
	return func(s *Server) {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			s.listingURL = u
		}
	}
}

// NewServer constructs a Server with middleware and routes. A nil limiter
// disables rate limiting.
func NewServer(svc CrawlService, limiter *ratelimit.Limiter, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = ratelimit.New(0, 0)
	}
	metrics.Init()

	s := &Server{svc: svc, limiter: limiter, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/crawl", s.crawl)
		r.Get("/companies", s.companies)
		r.Post("/directory/refresh", s.refresh)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type crawlRequest struct {
	Symbols json.RawMessage `json:"symbols"`
}

type failureDTO struct {
	Symbol string `json:"symbol"`
	URL    string `json:"url"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
	Kept   bool   `json:"kept"`
}

type crawlResponse struct {
	CrawlID  string       `json:"crawl_id"`
	Table    *table.Table `json:"table"`
	Missing  []string     `json:"missing"`
	Failures []failureDTO `json:"failures"`
	Report   string       `json:"report,omitempty"`
}

// crawl handles POST /v1/crawl. Symbols come from a JSON body
// {"symbols": "AAPL, MSFT"} or {"symbols": ["AAPL", "MSFT"]}, or from the
// stockList form field. It answers 200 with the table, 400 for malformed
// input, 503 when the directory is unavailable and 500 otherwise.
func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	symbols, err := parseSymbols(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.svc.Crawl(r.Context(), symbols)
	if err != nil {
		s.writeServiceError(w, r, "crawl", err)
		return
	}

	if wantsCSV(r) {
		data, err := out.Table.ToCSV()
		if err != nil {
			s.logger.Error("render csv", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to render csv")
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", table.FileName(s.now())))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	resp := crawlResponse{
		CrawlID:  out.CrawlID.String(),
		Table:    out.Table,
		Missing:  out.Missing,
		Failures: make([]failureDTO, 0, len(out.Failures)),
		Report:   out.ReportPath,
	}
	if resp.Missing == nil {
		resp.Missing = []string{}
	}
	for _, f := range out.Failures {
		resp.Failures = append(resp.Failures, failureDTO{
			Symbol: f.Target.Symbol(),
			URL:    f.Target.URL,
			Kind:   string(f.Kind),
			Error:  f.Err.Error(),
			Kept:   f.Kept,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type companiesResponse struct {
	Companies []models.Company `json:"companies"`
	Missing   []string         `json:"missing"`
}

// companies handles GET /v1/companies?symbols=AAPL,MSFT. Without symbols it
// lists the whole directory.
func (s *Server) companies(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Companies(r.Context(), service.ParseSymbols(r.URL.Query().Get("symbols")))
	if err != nil {
		s.writeServiceError(w, r, "companies", err)
		return
	}
	resp := companiesResponse{Companies: res.Companies, Missing: res.Missing}
	if resp.Companies == nil {
		resp.Companies = []models.Company{}
	}
	if resp.Missing == nil {
		resp.Missing = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type refreshRequest struct {
	URL string `json:"url"`
}

// refresh handles POST /v1/directory/refresh with an optional {"url": ...}.
// A named URL must be on the configured listing host.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.URL != "" && !s.allowedListingURL(req.URL) {
		writeError(w, http.StatusBadRequest, "url must point at the configured listing host")
		return
	}

	if err := s.svc.Refresh(r.Context(), req.URL); err != nil {
		if errors.Is(err, service.ErrNoListingURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, directory.ErrUnavailable) {
			s.writeServiceError(w, r, "refresh", err)
			return
		}
		s.logger.Error("refresh failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (s *Server) allowedListingURL(raw string) bool {
	if s.listingURL == nil {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, s.listingURL.Scheme) && strings.EqualFold(u.Host, s.listingURL.Host)
}

// writeServiceError checks context errors first: a lookup cancelled during
// retry backoff carries both the context error and ErrUnavailable.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// client went away; nobody reads the response
		writeError(w, http.StatusRequestTimeout, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timed out")
	case errors.Is(err, directory.ErrUnavailable):
		s.logger.Warn(op+" failed: directory unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "directory unavailable")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func parseSymbols(w http.ResponseWriter, r *http.Request) ([]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		return service.ParseSymbols(r.FormValue("stockList")), nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, errors.New("unreadable body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var req crawlRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.New("invalid JSON")
	}
	raw := bytes.TrimSpace(req.Symbols)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return service.ParseSymbols(text), nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errors.New("symbols must be a string or an array of strings")
	}
	out := make([]string, 0, len(list))
	for _, sym := range list {
		if sym = strings.TrimSpace(sym); sym != "" {
			out = append(out, sym)
		}
	}
	return out, nil
}

func wantsCSV(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/csv")
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey is the peer address of the connection. Forwarding headers are
// client controlled and never consulted.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
