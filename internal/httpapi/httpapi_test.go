package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/camlsync/camlsync/internal/diffengine"
	"github.com/camlsync/camlsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s := store.New(t.TempDir())
	_, err := s.Init("secret", "http://127.0.0.1:8080", store.DefaultPort)
	require.NoError(t, err)
	return New(s, slog.New(slog.DiscardHandler)), s
}

func TestHandleVersion(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/version?token=secret")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(0), body["version"])
}

func TestHandleVersion_WrongToken(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/version?token=wrong")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleGetDiff_MissingFrom(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/diff?token=secret")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleGetDiff_FromExceedsCurrent(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/diff?token=secret&from=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleGetDiff_Success(t *testing.T) {
	srv, s := newTestServer(t)
	_, err := s.Append(diffengine.VersionDiff{
		EditedFiles: []diffengine.FileDiff{
			{FileName: "./a.ml", ContentDiff: diffengine.CalcDiff(nil, []string{"x"})},
		},
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/diff?token=secret&from=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	vd, err := diffengine.UnmarshalVersionDiff(mustReadAll(t, resp))
	require.NoError(t, err)
	require.Len(t, vd.EditedFiles, 1)
	assert.Equal(t, "./a.ml", vd.EditedFiles[0].FileName)
}

func TestHandleGetDiff_WithToParamComposesRange(t *testing.T) {
	srv, s := newTestServer(t)
	_, err := s.Append(diffengine.VersionDiff{EditedFiles: []diffengine.FileDiff{
		{FileName: "./a.ml", ContentDiff: diffengine.CalcDiff(nil, []string{"x"})},
	}})
	require.NoError(t, err)
	_, err = s.Append(diffengine.VersionDiff{EditedFiles: []diffengine.FileDiff{
		{FileName: "./b.ml", ContentDiff: diffengine.CalcDiff(nil, []string{"y"})},
	}})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/diff?token=secret&from=0&to=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	vd, err := diffengine.UnmarshalVersionDiff(mustReadAll(t, resp))
	require.NoError(t, err)
	require.Len(t, vd.EditedFiles, 1)
	assert.Equal(t, "./a.ml", vd.EditedFiles[0].FileName)
}

func TestHandlePostDiff_AppendsAndReturnsVersion(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	vd := diffengine.VersionDiff{EditedFiles: []diffengine.FileDiff{
		{FileName: "./a.ml", ContentDiff: diffengine.CalcDiff(nil, []string{"x"})},
	}}
	payload, err := diffengine.MarshalVersionDiff(vd)
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/diff?token=secret", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(1), body["version"])
}

func TestHandlePostDiff_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/diff?token=secret", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleHistory(t *testing.T) {
	srv, s := newTestServer(t)
	_, err := s.Append(diffengine.VersionDiff{})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/history?token=secret")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Log []store.HistoryEntry `json:"log"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Log, 2)
}

func mustReadAll(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.Bytes()
}
