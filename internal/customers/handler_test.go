package customers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scaffold-rental/rental-admin/internal/platform/httpx"
	"github.com/scaffold-rental/rental-admin/internal/shared"
	_ "github.com/scaffold-rental/rental-admin/testing"
)

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}

type stubEnqueuer struct {
	batch  int
	reason string
	err    error
}

func (s *stubEnqueuer) EnqueueStatusRecompute(_ context.Context, batchSize int, reason string) (string, error) {
	s.batch = batchSize
	s.reason = reason
	if s.err != nil {
		return "", s.err
	}
	return "task-123", nil
}

type handlerFixture struct {
	*serviceFixture
	idempotency *memoryIdempotency
	jobs        *stubEnqueuer
	router      chi.Router
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		serviceFixture: newServiceFixture(t, nil),
		idempotency:    &memoryIdempotency{},
		jobs:           &stubEnqueuer{},
	}
	h := NewHandler(nil, f.service, f.idempotency, f.jobs)
	r := chi.NewRouter()
	r.Route("/api", h.MountRoutes)
	f.router = r
	return f
}

func (f *handlerFixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return problem
}

func TestHandlerCreateAndShowCustomer(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodPost, "/api/customers", `{"name":"Ana Lima","email":"ana@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/customers/1", rec.Header().Get("Location"))

	rec = f.do(http.MethodGet, "/api/customers/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var customer Customer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &customer))
	assert.Equal(t, "Ana Lima", customer.Name)
	assert.Equal(t, StatusInactive, customer.Status)
}

func TestHandlerRejectsUnknownFields(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodPost, "/api/customers", `{"name":"Ana","status":"ACTIVE"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeProblem(t, rec).Detail, "malformed JSON body")
}

func TestHandlerListFiltersByStatus(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.seedCustomer(Customer{Name: "Ana", Status: StatusActive})
	f.repo.seedCustomer(Customer{Name: "Bruno"})

	rec := f.do(http.MethodGet, "/api/customers?status=active", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []Customer `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "Ana", body.Data[0].Name)
}

func TestHandlerContractLifecycle(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.seedCustomer(Customer{Name: "Ana"})

	rec := f.do(http.MethodPost, "/api/customers/1/contracts", `{"number":"CT-1","status":"ativo","end_date":"2027-01-31"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"end_date":"2027-01-31"`)
	var added ContractResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	require.NotNil(t, added.Contract)
	assert.Equal(t, "2027-01-31", added.Contract.EndDate.Format("2006-01-02"))
	assert.Equal(t, StatusActive, added.Customer.Status)
	require.NotNil(t, added.Change)

	rec = f.do(http.MethodPut, "/api/customers/1/contracts/1", `{"number":"CT-1","status":"cancelado"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated ContractResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, StatusInactive, updated.Customer.Status)

	rec = f.do(http.MethodDelete, "/api/customers/1/contracts/1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/customers/1/status-log", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var log struct {
		Data []StatusChange `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &log))
	require.Len(t, log.Data, 2)
	assert.Equal(t, ReasonContractUpdated, log.Data[0].Reason)
	assert.Equal(t, ReasonContractAdded, log.Data[1].Reason)
}

func TestHandlerUnknownContractIs404(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.seedCustomer(Customer{Name: "Ana"})

	rec := f.do(http.MethodDelete, "/api/customers/1/contracts/9", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", decodeProblem(t, rec).Title)

	rec = f.do(http.MethodPut, "/api/customers/1/contracts/9", `{"number":"CT-9","status":"ativo"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerMalformedDateIs400(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.seedCustomer(Customer{Name: "Ana"})

	rec := f.do(http.MethodPost, "/api/customers/1/contracts", `{"number":"CT-1","status":"ativo","end_date":"2027-02-30"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.repo.contracts)
}

func TestHandlerInvalidPathID(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodGet, "/api/customers/abc", "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid id", decodeProblem(t, rec).Detail)
}

func TestHandlerIdempotentAddContract(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.seedCustomer(Customer{Name: "Ana"})
	body := `{"number":"CT-1","status":"ativo"}`

	rec := f.do(http.MethodPost, "/api/customers/1/contracts", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodPost, "/api/customers/1/contracts", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, f.repo.contracts, 1)
}

func TestHandlerFailedAddReleasesIdempotencyKey(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodPost, "/api/customers/7/contracts", `{"number":"CT-1","status":"ativo"}`, "Idempotency-Key", "retry-me")
	require.Equal(t, http.StatusNotFound, rec.Code)

	f.repo.seedCustomer(Customer{Name: "Ana"})
	rec = f.do(http.MethodPost, "/api/customers/1/contracts", `{"number":"CT-1","status":"ativo"}`, "Idempotency-Key", "retry-me")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHandlerStatusEndpoints(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.seedCustomer(Customer{Name: "Ana", Status: StatusActive})

	rec := f.do(http.MethodGet, "/api/status/drift", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var drift struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drift))
	assert.Equal(t, 1, drift.Count)

	rec = f.do(http.MethodGet, "/api/status/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Active)
	assert.Equal(t, 1, summary.Drift)

	rec = f.do(http.MethodGet, "/api/status/log?reason=bogus", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/status/log?customer_id=x", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerEnqueueRecompute(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodPost, "/api/status/recompute?batch_size=50", "")

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"task_id":"task-123","status":"queued"}`, rec.Body.String())
	assert.Equal(t, 50, f.jobs.batch)
	assert.Equal(t, "manual:system", f.jobs.reason)

	f.jobs.err = errors.New("redis unavailable")
	rec = f.do(http.MethodPost, "/api/status/recompute", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerEnqueueRecomputeRejectsBadBatchSize(t *testing.T) {
	f := newHandlerFixture(t)

	for _, raw := range []string{"abc", "0", "-5"} {
		rec := f.do(http.MethodPost, "/api/status/recompute?batch_size="+raw, "")

		require.Equal(t, http.StatusBadRequest, rec.Code, raw)
		assert.Equal(t, "invalid batch_size", decodeProblem(t, rec).Detail)
	}
	assert.Empty(t, f.jobs.reason, "nothing enqueued")
}

func TestHandlerInternalErrorHidesDetail(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.getError = errors.New("pq: relation does not exist")

	rec := f.do(http.MethodGet, "/api/customers/1", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, decodeProblem(t, rec).Detail)
}
