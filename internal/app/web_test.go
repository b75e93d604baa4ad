package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/locfix/internal/location"
	"github.com/relabs-tech/locfix/internal/observability"
)

type fakeLocator struct {
	mu      sync.Mutex
	fix     location.Fix
	err     error
	block   bool
	reqs    []location.Request
	cancels int
	aborted chan struct{}
}

func (f *fakeLocator) Get(ctx context.Context, req location.Request) (location.Fix, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	block, fix, err := f.block, f.fix, f.err
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		if f.aborted != nil {
			close(f.aborted)
		}
		return location.Fix{}, &location.Error{Kind: location.KindCancelled, Message: "Location request abandoned by caller", Err: ctx.Err()}
	}
	return fix, err
}

func (f *fakeLocator) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeLocator) Strategy() string { return "legacy" }

func (f *fakeLocator) requests() []location.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]location.Request(nil), f.reqs...)
}

var sampleFix = location.Fix{
	Provider:  "gps",
	Latitude:  48.1173,
	Longitude: 11.516667,
	Accuracy:  4.5,
	Altitude:  545.4,
	Speed:     11.52,
	Bearing:   84.4,
	Time:      1768480519000,
}

func newTestServer(t *testing.T, loc Locator) *httptest.Server {
	t.Helper()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("locfix_request_pending 0\n")) //nolint:errcheck
	})
	srv := httptest.NewServer(NewServer(loc, metrics, observability.Discard()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postLocation(t *testing.T, srv *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/location", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestServer_GetLocation(t *testing.T) {
	loc := &fakeLocator{fix: sampleFix}
	srv := newTestServer(t, loc)

	resp, body := postLocation(t, srv, `{"enableHighAccuracy":true,"timeout":5000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var fix location.Fix
	require.NoError(t, json.Unmarshal(body, &fix))
	assert.Equal(t, sampleFix, fix)
	assert.Equal(t, []location.Request{{HighAccuracy: true, Timeout: 5 * time.Second}}, loc.requests())
}

func TestServer_EmptyBodyUsesDefaults(t *testing.T) {
	loc := &fakeLocator{fix: sampleFix}
	srv := newTestServer(t, loc)

	resp, _ := postLocation(t, srv, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []location.Request{{}}, loc.requests())
}

func TestServer_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{location.ErrUnavailable, http.StatusServiceUnavailable},
		{location.ErrUnauthorized, http.StatusForbidden},
		{location.ErrCancelled, http.StatusConflict},
		{location.ErrTimeout, http.StatusGatewayTimeout},
		{location.ErrBusy, http.StatusTooManyRequests},
		{&location.Error{Kind: location.KindError, Message: "Error using fused location method"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		kind := location.KindOf(tt.err)
		t.Run(string(kind), func(t *testing.T) {
			srv := newTestServer(t, &fakeLocator{err: tt.err})

			resp, body := postLocation(t, srv, `{}`)
			assert.Equal(t, tt.status, resp.StatusCode)

			var e errorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.Equal(t, kind, e.Code)
			assert.NotEmpty(t, e.Message)
		})
	}
}

func TestServer_RejectsBadOptions(t *testing.T) {
	loc := &fakeLocator{fix: sampleFix}
	srv := newTestServer(t, loc)

	for _, body := range []string{`{"timeout":-1}`, `{"timeout":`, `[1,2]`} {
		resp, data := postLocation(t, srv, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Contains(t, string(data), `"code":"ERROR"`, body)
	}
	assert.Empty(t, loc.requests())
}

func TestServer_CancelHealthAndMetrics(t *testing.T) {
	loc := &fakeLocator{}
	srv := newTestServer(t, loc)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/location", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, loc.cancels)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, map[string]string{"status": "healthy", "strategy": "legacy"}, health)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/location")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
