package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botica-erp/botica/internal/shared"
)

func TestRespondErrorSharedSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("user 7: %w", shared.ErrNotFound), http.StatusNotFound},
		{shared.ErrInvalidCredentials, http.StatusUnauthorized},
		{shared.ErrUnauthenticated, http.StatusUnauthorized},
		{errors.New("pool exhausted"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code)

		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
		require.Equal(t, tc.status, problem.Status)
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("dial tcp 10.0.0.4:5432: connection refused"))

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Empty(t, problem.Detail)
}
