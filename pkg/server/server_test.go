package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/elonfeng/swarm2sqlite/internal/ingest"
	"github.com/elonfeng/swarm2sqlite/internal/store"
	"github.com/elonfeng/swarm2sqlite/pkg/checkin"
	"github.com/elonfeng/swarm2sqlite/pkg/source"
)

type fixtureSource struct {
	records []source.Record
	err     error
}

func (f *fixtureSource) Name() string { return "fixture" }

func (f *fixtureSource) Fetch(ctx context.Context, opts source.FetchOptions, fn func(source.Record) error) error {
	if f.err != nil {
		return f.err
	}
	for _, r := range f.records {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func loadFixture(t *testing.T) source.Record {
	t.Helper()
	f, err := os.Open("../checkin/testdata/checkin.json")
	require.NoError(t, err)
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.UseNumber()
	var r source.Record
	require.NoError(t, dec.Decode(&r))
	return r
}

func newTestServer(t *testing.T, src source.Source) (*httptest.Server, *ingest.Pipeline) {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p := ingest.New(st, checkin.NullAlways, zaptest.NewLogger(t))
	srv := httptest.NewServer(New(st, p, src, 0, zaptest.NewLogger(t)).Handler())
	t.Cleanup(srv.Close)
	return srv, p
}

func getJSON(t *testing.T, url string, want int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, want, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func postJSON(t *testing.T, url string, want int) map[string]any {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, want, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	assert.Equal(t, map[string]any{"status": "ok"}, getJSON(t, srv.URL+"/health", http.StatusOK))
}

func TestViewsBeforeAnyImport(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	body := getJSON(t, srv.URL+"/api/v1/checkins", http.StatusOK)
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []any{}, body["data"])
}

func TestSyncAndRead(t *testing.T) {
	srv, _ := newTestServer(t, &fixtureSource{records: []source.Record{loadFixture(t)}})

	assert.Equal(t, map[string]any{"imported": float64(1)}, postJSON(t, srv.URL+"/api/v1/sync", http.StatusOK))

	checkins := getJSON(t, srv.URL+"/api/v1/checkins?limit=10", http.StatusOK)
	require.Equal(t, float64(1), checkins["count"])
	row := checkins["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "592b2cfe09e28339ac543fde", row["id"])
	assert.Equal(t, "Restaurant Name", row["venue_name"])
	assert.Equal(t, "A movie", row["event_name"])

	venues := getJSON(t, srv.URL+"/api/v1/venues", http.StatusOK)
	require.Equal(t, float64(1), venues["count"])
	assert.Equal(t, "Category Name", venues["data"].([]any)[0].(map[string]any)["venue_categories"])

	tables := getJSON(t, srv.URL+"/api/v1/tables", http.StatusOK)
	assert.Equal(t, float64(13), tables["count"])
	counts := map[string]float64{}
	for _, v := range tables["data"].([]any) {
		info := v.(map[string]any)
		counts[info["name"].(string)] = info["rows"].(float64)
	}
	assert.Equal(t, float64(5), counts["users"])
	assert.Equal(t, float64(3), counts["photos"])
}

func TestSyncErrors(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	postJSON(t, srv.URL+"/api/v1/sync", http.StatusServiceUnavailable)

	failing, _ := newTestServer(t, &fixtureSource{err: errors.New("token revoked")})
	body := postJSON(t, failing.URL+"/api/v1/sync", http.StatusBadGateway)
	assert.Contains(t, body["error"], "token revoked")
}

func TestBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	getJSON(t, srv.URL+"/api/v1/checkins?limit=abc", http.StatusBadRequest)
	getJSON(t, srv.URL+"/api/v1/venues?limit=-1", http.StatusBadRequest)
	getJSON(t, srv.URL+"/api/v1/sync", http.StatusMethodNotAllowed)
	postJSON(t, srv.URL+"/api/v1/tables", http.StatusMethodNotAllowed)
}

func TestParseLimit(t *testing.T) {
	n, err := parseLimit("")
	require.NoError(t, err)
	assert.Equal(t, defaultLimit, n)

	n, err = parseLimit("5000")
	require.NoError(t, err)
	assert.Equal(t, maxLimit, n)

	_, err = parseLimit("0")
	assert.Error(t, err)
}
