package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("customer missing")

func TestRespondErrorClassified(t *testing.T) {
	mapper := func(err error) error {
		if errors.Is(err, errMissing) {
			return ErrNotFound
		}
		return nil
	}
	err := Classify(fmt.Errorf("load: %w", errMissing), mapper)

	rr := httptest.NewRecorder()
	RespondError(rr, err)

	require.Equal(t, http.StatusNotFound, rr.Code)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "load: customer missing", body.Detail)
	require.True(t, errors.Is(err, errMissing))
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("pq: connection reset"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "connection reset")
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}
