package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/stageflow/internal/feedback"
	"github.com/vnykmshr/stageflow/pkg/persistence/store"
	"github.com/vnykmshr/stageflow/pkg/result"
	"github.com/vnykmshr/stageflow/pkg/usecase"
)

type envelope struct {
	Success bool              `json:"success"`
	Error   *result.ErrorKind `json:"error_kind"`
	Message string            `json:"message"`
	Payload json.RawMessage   `json:"payload"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc, err := feedback.NewService(feedback.Config{
		Auth: feedback.AllowList{"T1": true},
		Directory: feedback.NewMemoryDirectory(
			[]feedback.Tourist{{ID: "T1", Name: "Ada"}},
			[]feedback.Site{{ID: "S1", Name: "Colosseum"}, {ID: "S2", Name: "Uffizi"}},
		),
		Records: store.NewMemory(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(svc, Config{RequestTimeout: 5 * time.Second, RetryAfter: 30 * time.Second}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, actor, body string) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if actor != "" {
		req.Header.Set(HeaderActor, actor)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func TestInsertFeedbackOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	body := `{"tourist_id":"T1","site_id":"S1","rating":5,"comment":"Great"}`

	resp, env := do(t, srv, http.MethodPost, "/v1/feedback", "T1", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
	assert.NotEmpty(t, resp.Header.Get(HeaderCorrelationID))

	resp, env = do(t, srv, http.MethodPost, "/v1/feedback", "T1", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.True(t, env.Error.Is(result.ValidationFailed("duplicate")))
	assert.Empty(t, env.Payload)

	resp, env = do(t, srv, http.MethodGet, "/v1/tourists/T1/visited", "T1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var visited []feedback.VisitedSite
	require.NoError(t, json.Unmarshal(env.Payload, &visited))
	require.Len(t, visited, 1)
	assert.Equal(t, "S1", visited[0].SiteID)
}

func TestStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   string
		status int
		kind   result.Kind
	}{
		{"anonymous", http.MethodPost, "/v1/feedback", "", `{"tourist_id":"T1","site_id":"S1","rating":5,"comment":"x"}`, http.StatusUnauthorized, result.KindValidationFailed},
		{"bad rating", http.MethodPost, "/v1/feedback", "T1", `{"tourist_id":"T1","site_id":"S1","rating":9,"comment":"x"}`, http.StatusUnprocessableEntity, result.KindValidationFailed},
		{"missing rating", http.MethodPost, "/v1/feedback/eligibility", "T1", `{"tourist_id":"T1","site_id":"S1","comment":"x"}`, http.StatusUnprocessableEntity, result.KindValidationFailed},
		{"malformed body", http.MethodPost, "/v1/feedback", "T1", `{"tourist_id":`, http.StatusUnprocessableEntity, result.KindValidationFailed},
		{"unknown field", http.MethodPost, "/v1/feedback", "T1", `{"stars":5}`, http.StatusUnprocessableEntity, result.KindValidationFailed},
		{"unknown site", http.MethodGet, "/v1/sites/S9", "T1", "", http.StatusNotFound, result.KindNotFound},
		{"unknown tourist", http.MethodGet, "/v1/tourists/T9/visited", "T1", "", http.StatusNotFound, result.KindNotFound},
		{"missing ids", http.MethodGet, "/v1/sites", "T1", "", http.StatusUnprocessableEntity, result.KindValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := do(t, srv, tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.kind, env.Error.Kind)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestGetSitesOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	resp, env := do(t, srv, http.MethodGet, "/v1/sites?ids=S2,S1", "T1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var sites []feedback.Site
	require.NoError(t, json.Unmarshal(env.Payload, &sites))
	require.Len(t, sites, 2)
	assert.Equal(t, "Uffizi", sites[0].Name)
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/sites/S1", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderActor, "T1")
	req.Header.Set(HeaderCorrelationID, "corr-42")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "corr-42", resp.Header.Get(HeaderCorrelationID))
}

// unavailable fails every use case with UPSTREAM_UNAVAILABLE.
type unavailable struct{ Feedback }

func (unavailable) GetSite(context.Context, *usecase.Request) result.Envelope[feedback.Site] {
	return result.Fail[feedback.Site](result.UpstreamUnavailable(), "")
}

func TestUnavailableAdvertisesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(NewServer(unavailable{}, Config{RetryAfter: 30 * time.Second}).Handler())
	defer srv.Close()

	resp, env := do(t, srv, http.MethodGet, "/v1/sites/S1", "T1", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "30", resp.Header.Get("Retry-After"))
	assert.Equal(t, result.KindUpstreamUnavailable, env.Error.Kind)
}

func TestRetryAfterRoundsUpToWholeSeconds(t *testing.T) {
	tests := []struct {
		after time.Duration
		want  string
	}{
		{200 * time.Millisecond, "1"},
		{time.Second, "1"},
		{1500 * time.Millisecond, "2"},
	}

	for _, tt := range tests {
		t.Run(tt.after.String(), func(t *testing.T) {
			srv := httptest.NewServer(NewServer(unavailable{}, Config{RetryAfter: tt.after}).Handler())
			defer srv.Close()

			resp, _ := do(t, srv, http.MethodGet, "/v1/sites/S1", "T1", "")
			assert.Equal(t, tt.want, resp.Header.Get("Retry-After"))
		})
	}
}

// panicking panics inside a use case.
type panicking struct{ Feedback }

func (panicking) GetSite(context.Context, *usecase.Request) result.Envelope[feedback.Site] {
	panic("boom")
}

func TestHandlerPanicRendersInternal(t *testing.T) {
	srv := httptest.NewServer(NewServer(panicking{}, Config{}).Handler())
	defer srv.Close()

	resp, env := do(t, srv, http.MethodGet, "/v1/sites/S1", "T1", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, result.KindInternal, env.Error.Kind)
}

func TestRendererStatus(t *testing.T) {
	r := Renderer{}
	partial := result.PartialWriteFailure("saveFeedback", "addVisitedSite", true)
	dup := result.Duplicate()
	rejected := result.UpstreamRejected()

	assert.Equal(t, http.StatusOK, r.Status(nil))
	assert.Equal(t, http.StatusInternalServerError, r.Status(&partial))
	assert.Equal(t, http.StatusConflict, r.Status(&dup))
	assert.Equal(t, http.StatusBadGateway, r.Status(&rejected))
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
