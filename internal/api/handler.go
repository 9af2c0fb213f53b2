package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/walletwatch/internal/domain"
	"github.com/opensource-finance/walletwatch/internal/explain"
	"github.com/opensource-finance/walletwatch/internal/history"
	"github.com/opensource-finance/walletwatch/internal/loader"
	"github.com/opensource-finance/walletwatch/internal/risk"
	"github.com/opensource-finance/walletwatch/internal/worker"
)

// maxUploadBytes bounds transaction uploads.
const maxUploadBytes = 32 << 20

// Explainer writes the forensic report for a flagged check.
type Explainer interface {
	Explain(ctx context.Context, in explain.PromptInput) (string, error)
}

// Oracle records a clean transaction on the ledger.
type Oracle interface {
	AddTransaction(ctx context.Context, tx domain.Transaction) (string, error)
}

// BatchRunner executes a batch job synchronously.
type BatchRunner interface {
	Run(ctx context.Context, job *domain.BatchJob) error
}

// Deps holds the collaborators of the API handlers. Explainer, Oracle and
// Bus are optional.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Service   *risk.Service
	Explainer Explainer
	Oracle    Oracle
	Batch     BatchRunner

	// AsyncBatch hands batch jobs to the worker over the bus instead of
	// running them inside the request.
	AsyncBatch bool

	Version string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// AMLCheckResponse is the response for POST /aml-checks.
type AMLCheckResponse struct {
	Flag         bool                  `json:"flag"`
	Message      string                `json:"message"`
	AssessmentID string                `json:"assessmentId,omitempty"`
	Sender       *domain.WalletMetrics `json:"sender,omitempty"`
	Receiver     *domain.WalletMetrics `json:"receiver,omitempty"`
}

// AMLCheck handles POST /aml-checks. Both parties are evaluated against
// their stored history with the candidate merged in. A flagged transaction
// gets a forensic report; a clean one is submitted to the oracle and
// appended to the history.
func (h *Handler) AMLCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Sender == "" || req.Receiver == "" || req.Amount.IsZero() || req.Timestamp == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Missing required fields",
		})
		return
	}

	tx, err := newTransaction(req)
	if err != nil {
		writeError(w, err)
		return
	}

	check, err := h.Service.CheckTransaction(ctx, h.Repo, tx, h.Service.Config().WindowSize)
	if err != nil {
		writeError(w, err)
		return
	}

	a := check.Assessment
	if a.Metadata.TraceID == "" {
		a.Metadata.TraceID = GetTraceID(ctx)
	}

	resp := AMLCheckResponse{
		Flag:         a.Flagged(),
		AssessmentID: a.ID,
		Sender:       a.Sender,
		Receiver:     a.Receiver,
	}

	var extErr error
	if a.Flagged() {
		resp.Message, extErr = h.report(ctx, check)
		a.Report = resp.Message
		h.publish(ctx, domain.TopicAlert, a)
	} else {
		resp.Message, extErr = h.record(ctx, tx)
	}

	if err := h.Repo.SaveAssessment(ctx, a); err != nil {
		slog.Error("failed to save assessment",
			"assessment_id", a.ID,
			"error", err,
		)
	}
	h.publish(ctx, domain.TopicDecision, a)

	slog.Info("aml check completed",
		"assessment_id", a.ID,
		"tx_id", tx.ID,
		"status", a.Status,
		"total_ms", a.Metadata.TotalMs,
	)

	if extErr != nil {
		resp.Message = "Exception occurred: " + extErr.Error()
		writeJSON(w, statusFor(extErr), resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// report produces the message for a flagged check.
func (h *Handler) report(ctx context.Context, check *risk.Check) (string, error) {
	if h.Explainer == nil {
		return flaggedSummary(check), nil
	}

	in := explain.PromptInput{
		Candidate:       check.Assessment.Candidate,
		Windows:         []domain.WalletWindow{check.Sender.Window},
		Metrics:         []domain.WalletMetrics{check.Sender.Metrics},
		Rules:           h.Service.Definitions(),
		BigTxnThreshold: h.Service.Config().BigTxnThreshold,
	}
	if check.Receiver.Window.Wallet != check.Sender.Window.Wallet {
		in.Windows = append(in.Windows, check.Receiver.Window)
		in.Metrics = append(in.Metrics, check.Receiver.Metrics)
	}

	return h.Explainer.Explain(ctx, in)
}

// record submits a clean transaction to the oracle, when configured, and
// appends it to the stored history. Once the oracle has accepted the
// transaction the check succeeds; a failed local store is only logged so a
// client retry cannot submit it twice.
func (h *Handler) record(ctx context.Context, tx domain.Transaction) (string, error) {
	if h.Oracle == nil {
		if err := h.Repo.SaveTransaction(ctx, &tx); err != nil {
			return "", fmt.Errorf("failed to store transaction: %w", err)
		}
		return "Transaction recorded", nil
	}

	if _, err := h.Oracle.AddTransaction(ctx, tx); err != nil {
		return "", err
	}
	if err := h.Repo.SaveTransaction(ctx, &tx); err != nil {
		slog.ErrorContext(ctx, "transaction accepted by oracle but not stored",
			"tx_id", tx.ID,
			"sender", tx.Sender,
			"receiver", tx.Receiver,
			"error", err,
		)
	}
	return "Added to blockchain successfully", nil
}

// flaggedSummary lists the triggered rules per flagged side.
func flaggedSummary(check *risk.Check) string {
	sides := []domain.WalletMetrics{check.Sender.Metrics}
	if check.Receiver.Metrics.Wallet != check.Sender.Metrics.Wallet {
		sides = append(sides, check.Receiver.Metrics)
	}

	var parts []string
	for _, m := range sides {
		if m.Fraudulent {
			parts = append(parts, m.Wallet+": "+strings.Join(m.TriggeredRules, ", "))
		}
	}
	return "Transaction flagged (" + strings.Join(parts, "; ") + ")"
}

func (h *Handler) publish(ctx context.Context, topic string, a *domain.Assessment) {
	if h.Bus == nil {
		return
	}
	payload, err := json.Marshal(a)
	if err != nil {
		slog.Error("failed to marshal assessment", "error", err)
		return
	}
	if err := h.Bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish event",
			"topic", topic,
			"assessment_id", a.ID,
			"error", err,
		)
	}
}

// WalletResponse is the response for the wallet endpoints.
type WalletResponse struct {
	Metrics domain.WalletMetrics `json:"metrics"`
	Results []domain.RuleResult  `json:"results"`
	Window  *domain.WalletWindow `json:"window,omitempty"`
}

// EvaluateWallet handles POST /wallets/{address}/evaluate. The optional body
// is a candidate transaction merged into the stored history.
func (h *Handler) EvaluateWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wallet := chi.URLParam(r, "address")

	windowSize, err := h.windowParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var candidate *domain.Transaction
	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Sender != "" || req.Receiver != "" {
		tx, err := newTransaction(req)
		if err != nil {
			writeError(w, err)
			return
		}
		candidate = &tx
	}

	txs, err := h.Repo.ListWalletTransactions(ctx, wallet, windowSize)
	if err != nil {
		writeError(w, err)
		return
	}

	ev, err := h.Service.Evaluate(ctx, wallet, txs, candidate, windowSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, WalletResponse{
		Metrics: ev.Metrics,
		Results: ev.Results,
		Window:  &ev.Window,
	})
}

// WalletMetrics handles GET /wallets/{address}/metrics?window=N.
func (h *Handler) WalletMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wallet := chi.URLParam(r, "address")

	windowSize, err := h.windowParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	txs, err := h.Repo.ListWalletTransactions(ctx, wallet, windowSize)
	if err != nil {
		writeError(w, err)
		return
	}

	ev, err := h.Service.Evaluate(ctx, wallet, txs, nil, windowSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, WalletResponse{
		Metrics: ev.Metrics,
		Results: ev.Results,
	})
}

// windowParam reads the optional "window" query parameter.
func (h *Handler) windowParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return h.Service.Config().WindowSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: window must be a positive integer, got %q", history.ErrInvalidWindowSize, raw)
	}
	return n, nil
}

// CreateTransactions handles POST /transactions with a JSON array body.
func (h *Handler) CreateTransactions(w http.ResponseWriter, r *http.Request) {
	var reqs []domain.TransactionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	txs := make([]domain.Transaction, 0, len(reqs))
	for i, req := range reqs {
		tx, err := newTransaction(req)
		if err != nil {
			writeError(w, fmt.Errorf("transaction %d: %w", i, err))
			return
		}
		txs = append(txs, tx)
	}

	h.store(w, r, txs)
}

// UploadTransactions handles POST /transactions/upload. The body is a CSV
// file, either raw or as the "file" part of a multipart form.
func (h *Handler) UploadTransactions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	body := io.Reader(r.Body)

	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "multipart upload requires a \"file\" part",
			})
			return
		}
		defer file.Close()
		body = file
	}

	txs, err := loader.Read(body)
	if err != nil {
		writeError(w, err)
		return
	}

	h.store(w, r, txs)
}

func (h *Handler) store(w http.ResponseWriter, r *http.Request, txs []domain.Transaction) {
	if err := h.Repo.SaveTransactions(r.Context(), txs); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("transactions stored", "count", len(txs))
	writeJSON(w, http.StatusCreated, map[string]int{
		"stored": len(txs),
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Repo.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// BatchRequest is the optional request body for POST /batch.
type BatchRequest struct {
	WindowSize int `json:"windowSize"`
}

// CreateBatch handles POST /batch. The job evaluates every stored wallet;
// it runs on the worker when async batching is enabled, otherwise inline.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.WindowSize == 0 {
		req.WindowSize = h.Service.Config().WindowSize
	}
	if req.WindowSize < 0 {
		writeError(w, fmt.Errorf("%w: %d", history.ErrInvalidWindowSize, req.WindowSize))
		return
	}

	job := &domain.BatchJob{
		ID:         uuid.New().String(),
		Status:     domain.JobPending,
		WindowSize: req.WindowSize,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Repo.SaveBatchJob(ctx, job); err != nil {
		writeError(w, err)
		return
	}

	if h.AsyncBatch && h.Bus != nil {
		payload, _ := json.Marshal(worker.BatchRequest{JobID: job.ID})
		if err := h.Bus.Publish(ctx, domain.TopicBatchRequested, payload); err != nil {
			writeError(w, fmt.Errorf("failed to queue batch job: %w", err))
			return
		}
		writeJSON(w, http.StatusAccepted, job)
		return
	}

	if h.Batch == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "batch analysis not available",
		})
		return
	}

	if err := h.Batch.Run(ctx, job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GetBatch handles GET /batch/{id}.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	job, err := h.Repo.GetBatchJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GetAssessment handles GET /assessments/{id}.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Repo.GetAssessment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListRules returns the rule table with its thresholds.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	cfg := h.Service.Config()
	defs := h.Service.Definitions()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":           defs,
		"count":           len(defs),
		"windowSize":      cfg.WindowSize,
		"intervalPolicy":  cfg.IntervalPolicy,
		"bigTxnThreshold": cfg.BigTxnThreshold,
		"engineVersion":   risk.EngineVersion,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.Repo != nil {
		if err := h.Repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.Cache != nil {
		if err := h.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.Bus != nil {
		if err := h.Bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.Version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil || h.Repo.Ping(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// newTransaction validates req and turns it into a transaction with an ID.
func newTransaction(req domain.TransactionRequest) (domain.Transaction, error) {
	ts, err := loader.ParseTimestamp(req.Timestamp)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx := domain.Transaction{
		ID:        req.ID,
		Sender:    req.Sender,
		Receiver:  req.Receiver,
		Amount:    req.Amount,
		Timestamp: ts,
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	return tx, loader.Validate(tx)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var ext *domain.ErrExternalService
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, history.ErrInvalidWindowSize),
		errors.Is(err, history.ErrCandidateMismatch):
		return http.StatusBadRequest
	case errors.Is(err, history.ErrNoHistory),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ext):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
