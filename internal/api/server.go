package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arbflow/internal/domain"
	"arbflow/internal/pipeline"
	"arbflow/internal/scheduler"
	"arbflow/internal/store"
)

// Engine is the scheduler handle the control plane drives.
type Engine interface {
	Name() string
	State() scheduler.State
	Tasks() []scheduler.TaskInfo
	Start() error
	Pause() error
	SetEnabled(id string, enabled bool) error
	UpdateContext(patch map[string]any)
	Shared() *scheduler.Shared
}

type Server struct {
	r      *chi.Mux
	engine Engine
	repo   store.Repository
}

type Options struct {
	// Debug mounts the pprof profiler under /debug.
	Debug bool
}

func NewServer(engine Engine, repo store.Repository, gatherer prometheus.Gatherer, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, engine: engine, repo: repo}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/scheduler", s.schedulerStatus)
		r.Post("/scheduler/pause", s.pause)
		r.Post("/scheduler/resume", s.resume)
		r.Put("/scheduler/tasks/{id}/enabled", s.setEnabled)
		r.Put("/scheduler/manual", s.setManual)
		r.Get("/transactions", s.listTransactions)
		r.Get("/transactions/{id}", s.getTransaction)
	})

	if opts.Debug {
		r.Mount("/debug", middleware.Profiler())
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type statusResp struct {
	Name    string               `json:"name"`
	State   scheduler.State      `json:"state"`
	Manual  bool                 `json:"manual"`
	Tasks   []scheduler.TaskInfo `json:"tasks"`
	Context map[string]any       `json:"context"`
}

func (s *Server) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	sh := s.engine.Shared()
	writeJSON(w, http.StatusOK, statusResp{
		Name:    s.engine.Name(),
		State:   s.engine.State(),
		Manual:  sh.Bool(pipeline.KeyManualMode),
		Tasks:   s.engine.Tasks(),
		Context: sh.Snapshot(),
	})
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pause(); err != nil {
		http.Error(w, err.Error(), stateErrCode(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.engine.State()})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(); err != nil {
		http.Error(w, err.Error(), stateErrCode(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.engine.State()})
}

type toggleReq struct {
	Enabled *bool `json:"enabled"`
}

func decodeToggle(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req toggleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return false, false
	}
	if req.Enabled == nil {
		http.Error(w, "enabled is required", 400)
		return false, false
	}
	return *req.Enabled, true
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	enabled, ok := decodeToggle(w, r)
	if !ok {
		return
	}
	if err := s.engine.SetEnabled(id, enabled); err != nil {
		if errors.Is(err, scheduler.ErrUnknownTask) {
			http.Error(w, "not found", 404)
			return
		}
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

func (s *Server) setManual(w http.ResponseWriter, r *http.Request) {
	enabled, ok := decodeToggle(w, r)
	if !ok {
		return
	}
	s.engine.UpdateContext(map[string]any{pipeline.KeyManualMode: enabled})
	writeJSON(w, http.StatusOK, map[string]any{"manual": enabled})
}

type txView struct {
	ID              string          `json:"id"`
	PayoutID        *string         `json:"payout_id,omitempty"`
	AdvertisementID string          `json:"advertisement_id"`
	OrderID         *string         `json:"order_id,omitempty"`
	Status          domain.TxStatus `json:"status"`
	ChatStep        int             `json:"chat_step"`
	Amount          string          `json:"amount"`
	Currency        string          `json:"currency"`
	Wallet          string          `json:"wallet"`
	Bank            string          `json:"bank,omitempty"`
	PaymentSentAt   *time.Time      `json:"payment_sent_at,omitempty"`
	CheckReceivedAt *time.Time      `json:"check_received_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func viewOf(t domain.Transaction) txView {
	return txView{
		ID:              t.ID,
		PayoutID:        t.PayoutID,
		AdvertisementID: t.AdvertisementID,
		OrderID:         t.OrderID,
		Status:          t.Status,
		ChatStep:        t.ChatStep,
		Amount:          t.Amount.String(),
		Currency:        t.Currency,
		Wallet:          t.Wallet,
		Bank:            t.Bank,
		PaymentSentAt:   t.PaymentSentAt,
		CheckReceivedAt: t.CheckReceivedAt,
		CompletedAt:     t.CompletedAt,
		FailureReason:   t.FailureReason,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	f := store.TxFilter{Limit: 50}
	if v := r.URL.Query().Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := domain.TxStatus(strings.TrimSpace(part))
			if !st.Valid() {
				http.Error(w, "invalid status: "+string(st), 400)
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", 400)
			return
		}
		f.Limit = n
	}

	txs, err := s.repo.ListTransactions(r.Context(), f)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	out := make([]txView, 0, len(txs))
	for _, t := range txs {
		out = append(out, viewOf(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.repo.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", 404)
			return
		}
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(t))
}

func stateErrCode(err error) int {
	if errors.Is(err, scheduler.ErrInvalidState) || errors.Is(err, scheduler.ErrNotInitialized) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
