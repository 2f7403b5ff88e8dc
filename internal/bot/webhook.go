package bot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Zimbwa03/nerdx-bot/internal/dedup"
	"github.com/Zimbwa03/nerdx-bot/internal/health"
	"github.com/Zimbwa03/nerdx-bot/internal/metrics"
	"github.com/Zimbwa03/nerdx-bot/internal/worker"
)

const maxWebhookBody = 1 << 20

// ServerConfig wires the HTTP boundary.
type ServerConfig struct {
	Guard      *dedup.Guard
	Pool       *worker.Pool
	Dispatcher *Dispatcher
	Checker    *health.Checker

	VerifyToken       string
	AppSecret         string
	SignatureRequired bool
	AdminToken        string

	Maintenance *atomic.Bool
	Metrics     *metrics.Collector
	Logger      *log.Logger
}

// Server is the webhook plus ops HTTP surface.
type Server struct {
	cfg    ServerConfig
	router chi.Router
	logger *log.Logger
}

// NewServer builds the router.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Maintenance == nil {
		cfg.Maintenance = &atomic.Bool{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/webhook", s.handleVerify)
	r.Post("/webhook", s.handleReceive)
	r.Get("/health", s.handleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/diagnostics", s.handleDiagnostics)
		r.Get("/metrics", s.handleMetrics)
		r.Post("/maintenance", s.handleMaintenance)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

// handleVerify answers the provider's subscription handshake.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.cfg.VerifyToken {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

// handleReceive is the inbound hot path: verify signature, deduplicate, hand
// the work to the pool, and acknowledge within bounded latency.
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if err := s.verifySignature(r.Header.Get("X-Hub-Signature-256"), body); err != nil {
		s.cfg.Metrics.RecordRejected("bad_signature")
		s.logger.Printf("[webhook] rejected delivery: %v", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	messages, err := parseEnvelope(body)
	if err != nil {
		s.cfg.Metrics.RecordRejected("bad_payload")
		s.logger.Printf("[webhook] bad payload: %v", err)
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	for _, in := range messages {
		fresh, err := s.cfg.Guard.RecordIfNew(r.Context(), in.MessageID)
		if err != nil {
			// fail closed: let the provider retry the whole delivery
			s.logger.Printf("[webhook] dedup unavailable msg=%s err=%v", in.MessageID, err)
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		if !fresh {
			s.cfg.Metrics.RecordDuplicate()
			s.logger.Printf("[webhook] duplicate delivery dropped msg=%s user=%s", in.MessageID, in.From)
			continue
		}

		msg := in
		if err := s.cfg.Pool.Submit(func(ctx context.Context) {
			start := time.Now()
			perr := s.cfg.Dispatcher.Process(ctx, msg)
			s.cfg.Metrics.RecordProcessed(time.Since(start), perr)
		}); err != nil {
			// the receipt must not swallow the provider's retry
			if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrStopped) {
				s.cfg.Metrics.RecordQueueFull()
				if ferr := s.cfg.Guard.Forget(r.Context(), msg.MessageID); ferr != nil {
					s.logger.Printf("[webhook] forget receipt failed msg=%s err=%v", msg.MessageID, ferr)
				}
			}
			s.logger.Printf("[webhook] queue rejected msg=%s err=%v", msg.MessageID, err)
			continue
		}
		s.cfg.Metrics.RecordReceived()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"received"}`))
}

func (s *Server) verifySignature(header string, body []byte) error {
	if s.cfg.AppSecret == "" {
		if s.cfg.SignatureRequired {
			return ErrSignatureInvalid
		}
		return nil
	}
	if !s.cfg.SignatureRequired && header == "" {
		return nil
	}
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrSignatureInvalid
	}
	want, err := hex.DecodeString(provided)
	if err != nil {
		return ErrSignatureInvalid
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.AppSecret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrSignatureInvalid
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.cfg.Checker.Check(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if report.Status == health.StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			http.Error(w, "admin surface disabled", http.StatusForbidden)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !subtleCompare(token, s.cfg.AdminToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func subtleCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	snapshot := map[string]any{
		"queue_depth": s.cfg.Pool.Depth(),
		"in_flight":   s.cfg.Pool.InFlight(),
		"maintenance": s.cfg.Maintenance.Load(),
		"health":      s.cfg.Checker.LastReport(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = io.WriteString(w, metrics.FormatPrometheus(s.cfg.Metrics.GetSnapshot()))
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.cfg.Maintenance.Store(req.Enabled)
	s.logger.Printf("[admin] maintenance mode set to %v", req.Enabled)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"maintenance": req.Enabled})
}
