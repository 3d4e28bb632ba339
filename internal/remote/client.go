// Package remote is the REST adapter over the per-user remote folder:
// content and metadata objects addressed by document ID, a delta change
// feed, a full listing, and an optional index snapshot. The remote
// service only ever sees encrypted payloads.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/avbaker/shelfsync/internal/models"
	"github.com/avbaker/shelfsync/internal/syncerrors"
	"github.com/tidwall/gjson"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided. Individual calls own their
	// timeouts; the sync coordinator does not.
	httpClientTimeout = 30 * time.Second

	// maxMetaResponseBytes caps metadata/feed response body reads so a
	// misbehaving server cannot consume unbounded memory.
	maxMetaResponseBytes = 4 * 1024 * 1024

	// maxContentResponseBytes caps content downloads (~200MB).
	maxContentResponseBytes = 200 * 1024 * 1024
)

// Client talks to the remote folder API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenProvider
	device     string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents the bearer token
// from leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a remote client for the folder rooted at baseURL.
// If httpClient is nil, a client with a 30-second timeout and same-host
// redirect policy is created. device identifies this installation in
// request headers for server-side diagnostics.
func NewClient(baseURL string, tokens TokenProvider, device string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		device:     device,
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying on a later cycle.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// request describes one call to the folder API.
type request struct {
	method  string
	path    string
	query   url.Values
	body    []byte
	etag    string // If-Match header when non-empty
	maxBody int64
}

// response is the decoded-enough result of a call.
type response struct {
	status int
	etag   string
	body   []byte
}

// do executes a request with bearer auth and maps failures onto the
// shared error taxonomy. Status handling beyond 401/transient is left
// to the caller.
func (c *Client) do(ctx context.Context, r request) (*response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring token: %w", err)
	}

	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Shelf-Device", c.device)

	if r.body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	if r.etag != "" {
		req.Header.Set("If-Match", r.etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		wrapped := fmt.Errorf("sending %s %s: %w", r.method, r.path, err)
		return nil, &syncerrors.TransientError{Err: wrapped}
	}
	defer resp.Body.Close()

	maxBody := r.maxBody
	if maxBody == 0 {
		maxBody = maxMetaResponseBytes
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", r.path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%s %s returned %d: %w", r.method, r.path, resp.StatusCode, syncerrors.ErrNoToken)
	}

	if isTransientStatus(resp.StatusCode) {
		err := fmt.Errorf("%s %s returned status %d: %s", r.method, r.path, resp.StatusCode, sanitizeResponseBody(respBody))
		return nil, &syncerrors.TransientError{Err: err}
	}

	return &response{
		status: resp.StatusCode,
		etag:   resp.Header.Get("ETag"),
		body:   respBody,
	}, nil
}

// UploadContent stores the encrypted content object for a document.
func (c *Client) UploadContent(ctx context.Context, id string, data []byte) error {
	resp, err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/files/" + url.PathEscape(id+contentSuffix),
		body:   data,
	})
	if err != nil {
		return fmt.Errorf("uploading content %s: %w", id, err)
	}

	if resp.status != http.StatusOK && resp.status != http.StatusCreated {
		return fmt.Errorf("uploading content %s: status %d: %s", id, resp.status, sanitizeResponseBody(resp.body))
	}

	return nil
}

// UploadMetadata stores the metadata object for a document. With a
// non-empty etag the write is conditional: if the remote copy changed
// since that etag was read, the call fails with ErrPreconditionFailed.
// An empty etag performs an unconditional overwrite. Returns the new
// etag.
func (c *Client) UploadMetadata(ctx context.Context, id string, meta models.DocumentMetadata, etag string) (string, error) {
	// The etag travels in headers, never in the body.
	meta.ETag = ""

	payload, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encoding metadata %s: %w", id, err)
	}

	resp, err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/files/" + url.PathEscape(id+metaSuffix),
		body:   payload,
		etag:   etag,
	})
	if err != nil {
		return "", fmt.Errorf("uploading metadata %s: %w", id, err)
	}

	switch resp.status {
	case http.StatusOK, http.StatusCreated:
		return resp.etag, nil
	case http.StatusPreconditionFailed:
		return "", fmt.Errorf("uploading metadata %s: %w", id, syncerrors.ErrPreconditionFailed)
	default:
		return "", fmt.Errorf("uploading metadata %s: status %d: %s", id, resp.status, sanitizeResponseBody(resp.body))
	}
}

// DownloadContent fetches the encrypted content object for a document.
func (c *Client) DownloadContent(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.do(ctx, request{
		method:  http.MethodGet,
		path:    "/files/" + url.PathEscape(id+contentSuffix),
		maxBody: maxContentResponseBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("downloading content %s: %w", id, err)
	}

	switch resp.status {
	case http.StatusOK:
		return resp.body, nil
	case http.StatusNotFound, http.StatusGone:
		return nil, fmt.Errorf("downloading content %s: %w", id, syncerrors.ErrNotFound)
	default:
		return nil, fmt.Errorf("downloading content %s: status %d: %s", id, resp.status, sanitizeResponseBody(resp.body))
	}
}

// DownloadMetadata fetches the metadata object for a document, with
// its current etag attached.
func (c *Client) DownloadMetadata(ctx context.Context, id string) (models.DocumentMetadata, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/files/" + url.PathEscape(id+metaSuffix),
	})
	if err != nil {
		return models.DocumentMetadata{}, fmt.Errorf("downloading metadata %s: %w", id, err)
	}

	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return models.DocumentMetadata{}, fmt.Errorf("downloading metadata %s: %w", id, syncerrors.ErrNotFound)
	default:
		return models.DocumentMetadata{}, fmt.Errorf("downloading metadata %s: status %d: %s", id, resp.status, sanitizeResponseBody(resp.body))
	}

	var meta models.DocumentMetadata
	if err := json.Unmarshal(resp.body, &meta); err != nil {
		return models.DocumentMetadata{}, fmt.Errorf("decoding metadata %s: %w", id, err)
	}

	meta.ETag = resp.etag

	return meta, nil
}

// Delete removes both objects for a document. Deleting an already
// absent document succeeds.
func (c *Client) Delete(ctx context.Context, id string) error {
	resp, err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/files/" + url.PathEscape(id),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}

	switch resp.status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound, http.StatusGone:
		return nil
	default:
		return fmt.Errorf("deleting %s: status %d: %s", id, resp.status, sanitizeResponseBody(resp.body))
	}
}

// Delta fetches one page of the change feed. An empty token requests a
// full listing; a token the server no longer recognises is retried
// once without a token, and the resulting page is marked FullResync.
func (c *Client) Delta(ctx context.Context, token string) (DeltaPage, error) {
	page, status, err := c.deltaOnce(ctx, token)
	if err != nil {
		return DeltaPage{}, err
	}

	if status == http.StatusGone && token != "" {
		// Continuation token expired server-side. Start over from a
		// full listing.
		page, status, err = c.deltaOnce(ctx, "")
		if err != nil {
			return DeltaPage{}, err
		}

		page.FullResync = true
	}

	if status != http.StatusOK {
		return DeltaPage{}, fmt.Errorf("delta query: status %d", status)
	}

	if token == "" {
		page.FullResync = true
	}

	return page, nil
}

// deltaOnce issues a single /delta request and decodes the page. The
// feed's item shapes vary by event type (names and facets come and
// go), so items are picked apart with gjson rather than a rigid
// struct.
func (c *Client) deltaOnce(ctx context.Context, token string) (DeltaPage, int, error) {
	query := url.Values{}
	if token != "" {
		query.Set("token", token)
	}

	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/delta",
		query:  query,
	})
	if err != nil {
		return DeltaPage{}, 0, fmt.Errorf("delta query: %w", err)
	}

	if resp.status != http.StatusOK {
		return DeltaPage{}, resp.status, nil
	}

	if !gjson.ValidBytes(resp.body) {
		return DeltaPage{}, 0, fmt.Errorf("delta query: invalid response body")
	}

	root := gjson.ParseBytes(resp.body)

	page := DeltaPage{
		NextToken:  root.Get("nextToken").Str,
		Done:       root.Get("done").Bool(),
		FullResync: root.Get("fullResync").Bool(),
	}

	root.Get("items").ForEach(func(_, item gjson.Result) bool {
		page.Items = append(page.Items, DeltaItem{
			Deleted:     item.Get("deleted").Bool(),
			ContentName: item.Get("content").Str,
			MetaName:    item.Get("meta").Str,
		})

		return true
	})

	return page, http.StatusOK, nil
}

// ListAll enumerates every metadata object in the folder.
func (c *Client) ListAll(ctx context.Context) (Listing, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/files",
	})
	if err != nil {
		return Listing{}, fmt.Errorf("listing folder: %w", err)
	}

	if resp.status != http.StatusOK {
		return Listing{}, fmt.Errorf("listing folder: status %d: %s", resp.status, sanitizeResponseBody(resp.body))
	}

	var listing Listing
	if err := json.Unmarshal(resp.body, &listing); err != nil {
		return Listing{}, fmt.Errorf("decoding folder listing: %w", err)
	}

	return listing, nil
}

// DownloadIndex fetches the optional full metadata snapshot used for
// fast first-sync bootstrap. ErrNotFound when the snapshot has never
// been written.
func (c *Client) DownloadIndex(ctx context.Context) ([]models.DocumentMetadata, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/index",
	})
	if err != nil {
		return nil, fmt.Errorf("downloading index snapshot: %w", err)
	}

	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, fmt.Errorf("downloading index snapshot: %w", syncerrors.ErrNotFound)
	default:
		return nil, fmt.Errorf("downloading index snapshot: status %d: %s", resp.status, sanitizeResponseBody(resp.body))
	}

	var items []models.DocumentMetadata
	if err := json.Unmarshal(resp.body, &items); err != nil {
		return nil, fmt.Errorf("decoding index snapshot: %w", err)
	}

	return items, nil
}

// UploadIndex replaces the full metadata snapshot.
func (c *Client) UploadIndex(ctx context.Context, items []models.DocumentMetadata) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding index snapshot: %w", err)
	}

	resp, err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/index",
		body:   payload,
	})
	if err != nil {
		return fmt.Errorf("uploading index snapshot: %w", err)
	}

	if resp.status != http.StatusOK && resp.status != http.StatusCreated {
		return fmt.Errorf("uploading index snapshot: status %d: %s", resp.status, sanitizeResponseBody(resp.body))
	}

	return nil
}
