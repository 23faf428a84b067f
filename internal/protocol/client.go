// Package protocol implements the client-side sync protocol adapter:
// the HTTP operations a client issues against a camlsync server.
// Structured like the teacher's obsidian.Client -- a thin http.Client
// wrapper with a single low-level request helper -- but against a
// plain-token query-parameter scheme instead of the teacher's
// session-cookie API, and with a hard per-call timeout instead of
// transient-error retry classification (this protocol never retries).
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	camlerrors "github.com/camlsync/camlsync/internal/errors"
	"github.com/camlsync/camlsync/internal/diffengine"
	"github.com/tidwall/gjson"
)

const (
	// requestTimeout bounds every call this client makes (section 4.5).
	requestTimeout = 5 * time.Second

	// maxResponseBytes caps response body reads.
	maxResponseBytes = 8 * 1024 * 1024
)

// Client talks to a camlsync server over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient builds a Client against baseURL, authenticating every
// request with token. If httpClient is nil, http.DefaultClient's
// transport is reused with no additional timeout -- the per-call
// context deadline governs instead.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, token: token}
}

// GetLatestVersion issues GET /version.
func (c *Client) GetLatestVersion(ctx context.Context) (int64, error) {
	body, err := c.do(ctx, http.MethodGet, "/version", nil, nil)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decoding version response: %w", camlerrors.ErrServerError)
	}
	return resp.Version, nil
}

// GetUpdateDiff issues GET /diff?from=<from>, returning the version
// diff needed to bring a client at `from` up to the server's head.
func (c *Client) GetUpdateDiff(ctx context.Context, from int64) (diffengine.VersionDiff, error) {
	return c.getDiff(ctx, from, nil)
}

// GetDiffRange issues GET /diff?from=<from>&to=<to>, composing an
// arbitrary historical range instead of always ending at head. Used
// by `history <N>` to materialize a past version as a standalone tree.
func (c *Client) GetDiffRange(ctx context.Context, from, to int64) (diffengine.VersionDiff, error) {
	return c.getDiff(ctx, from, &to)
}

func (c *Client) getDiff(ctx context.Context, from int64, to *int64) (diffengine.VersionDiff, error) {
	q := url.Values{"from": {fmt.Sprintf("%d", from)}}
	if to != nil {
		q.Set("to", fmt.Sprintf("%d", *to))
	}
	body, err := c.do(ctx, http.MethodGet, "/diff", q, nil)
	if err != nil {
		return diffengine.VersionDiff{}, err
	}

	vd, err := diffengine.UnmarshalVersionDiff(body)
	if err != nil {
		return diffengine.VersionDiff{}, fmt.Errorf("decoding diff response: %w", camlerrors.ErrServerError)
	}
	return vd, nil
}

// GetHistory issues GET /history, returning the server's persisted
// version log.
func (c *Client) GetHistory(ctx context.Context) ([]HistoryEntry, error) {
	body, err := c.do(ctx, http.MethodGet, "/history", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Log []HistoryEntry `json:"log"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding history response: %w", camlerrors.ErrServerError)
	}
	return resp.Log, nil
}

// HistoryEntry mirrors store.HistoryEntry on the wire.
type HistoryEntry struct {
	Version   int64   `json:"version"`
	Timestamp float64 `json:"timestamp"`
}

// PostLocalDiff issues POST /diff with vd as the JSON body, returning
// the new server version number the server assigned on accept.
func (c *Client) PostLocalDiff(ctx context.Context, vd diffengine.VersionDiff) (int64, error) {
	payload, err := diffengine.MarshalVersionDiff(vd)
	if err != nil {
		return 0, fmt.Errorf("marshalling local diff: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/diff", nil, payload)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decoding accept response: %w", camlerrors.ErrServerError)
	}
	return resp.Version, nil
}

// do issues a single HTTP request with a 5-second deadline, appending
// the token as a query parameter, and maps the response to the
// protocol's error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if query == nil {
		query = url.Values{}
	}
	query.Set("token", c.token)

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query.Encode(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, camlerrors.ErrTimeout)
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s %s: %w", method, path, camlerrors.ErrUnauthorized)
	case resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%s %s: %w", method, path, camlerrors.ErrBadRequest)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := gjson.GetBytes(respBody, "error").String()
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: %s: %w", method, path, msg, camlerrors.ErrServerError)
	}

	return respBody, nil
}
