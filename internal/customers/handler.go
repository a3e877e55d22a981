package customers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/scaffold-rental/rental-admin/internal/platform/httpx"
	"github.com/scaffold-rental/rental-admin/internal/shared"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyModule = "customers.contracts"
)

// IdempotencyGuard rejects replayed mutation requests.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// RecomputeEnqueuer schedules an asynchronous status recompute and returns the task id.
type RecomputeEnqueuer interface {
	EnqueueStatusRecompute(ctx context.Context, batchSize int, reason string) (string, error)
}

type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency IdempotencyGuard
	jobs        RecomputeEnqueuer
}

func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyGuard, jobs RecomputeEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, idempotency: idempotency, jobs: jobs}
}

type listResponse struct {
	Data       []Customer        `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ListCustomersRequest{}
	if status := strings.ToUpper(strings.TrimSpace(q.Get("status"))); status != "" {
		st := Status(status)
		req.Status = &st
	}
	if search := strings.TrimSpace(q.Get("search")); search != "" {
		req.Search = &search
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		req.Page = page
	}
	if perPage, err := strconv.Atoi(q.Get("per_page")); err == nil {
		req.PerPage = perPage
	}

	items, pagination, err := h.service.List(r.Context(), req)
	if err != nil {
		h.fail(w, r, "list customers", err)
		return
	}
	if items == nil {
		items = []Customer{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Data: items, Pagination: pagination})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	customer, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get customer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, customer)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.badBody(w, err)
		return
	}
	customer, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, "create customer", err)
		return
	}
	w.Header().Set("Location", "/api/customers/"+strconv.FormatInt(customer.ID, 10))
	httpx.JSON(w, http.StatusCreated, customer)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateCustomerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.badBody(w, err)
		return
	}
	customer, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, "update customer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, customer)
}

func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	contracts, err := h.service.ListContracts(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list contracts", err)
		return
	}
	if contracts == nil {
		contracts = []Contract{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": contracts})
}

func (h *Handler) AddContract(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req ContractRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.badBody(w, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			h.fail(w, r, "idempotency check", err)
			return
		}
	}

	result, err := h.service.AddContract(r.Context(), id, req)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(r.Context(), key, idempotencyModule); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.fail(w, r, "add contract", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) UpdateContract(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	contractID, ok := h.pathID(w, r, "contractID")
	if !ok {
		return
	}
	var req ContractRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.badBody(w, err)
		return
	}
	result, err := h.service.UpdateContract(r.Context(), id, contractID, req)
	if err != nil {
		h.fail(w, r, "update contract", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) RemoveContract(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	contractID, ok := h.pathID(w, r, "contractID")
	if !ok {
		return
	}
	result, err := h.service.RemoveContract(r.Context(), id, contractID)
	if err != nil {
		h.fail(w, r, "remove contract", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) CustomerStatusLog(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	req := ListStatusLogRequest{CustomerID: &id}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		req.Limit = limit
	}
	h.writeStatusLog(w, r, req)
}

func (h *Handler) StatusLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ListStatusLogRequest{}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		req.Limit = limit
	}
	if reason := strings.TrimSpace(q.Get("reason")); reason != "" {
		cr := ChangeReason(reason)
		req.Reason = &cr
	}
	if raw := q.Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid customer_id")
			return
		}
		req.CustomerID = &id
	}
	h.writeStatusLog(w, r, req)
}

func (h *Handler) writeStatusLog(w http.ResponseWriter, r *http.Request, req ListStatusLogRequest) {
	entries, err := h.service.StatusLog(r.Context(), req)
	if err != nil {
		h.fail(w, r, "status log", err)
		return
	}
	if entries == nil {
		entries = []StatusChange{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.fail(w, r, "status summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) Drift(w http.ResponseWriter, r *http.Request) {
	stale, err := h.service.Drift(r.Context())
	if err != nil {
		h.fail(w, r, "status drift", err)
		return
	}
	if stale == nil {
		stale = []Customer{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": stale, "count": len(stale)})
}

func (h *Handler) EnqueueRecompute(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "job queue not configured")
		return
	}
	var batch int
	if raw := r.URL.Query().Get("batch_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch_size")
			return
		}
		batch = n
	}
	taskID, err := h.jobs.EnqueueStatusRecompute(r.Context(), batch, "manual:"+shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("enqueue status recompute", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "could not enqueue recompute")
		return
	}
	status := "queued"
	if taskID == "" {
		status = "already_queued"
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": status})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fmt.Sprintf("invalid %s", param))
		return 0, false
	}
	return id, true
}

func (h *Handler) badBody(w http.ResponseWriter, err error) {
	httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body: "+err.Error())
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	classified := httpx.Classify(err, mapError)
	if !errors.Is(classified, httpx.ErrNotFound) && !errors.Is(classified, httpx.ErrValidation) && !errors.Is(classified, httpx.ErrDuplicate) {
		h.logger.Error(op+" failed",
			slog.Any("error", err),
			slog.String("path", r.URL.Path),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		)
	}
	httpx.RespondError(w, classified)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrContractNotFound):
		return httpx.ErrNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, shared.ErrIdempotencyConflict):
		return httpx.ErrDuplicate
	case errors.Is(err, ErrInvalidInput):
		return httpx.ErrValidation
	}
	return nil
}
