// Package remote talks to the sync service: health probe, inventory fetch
// and publish, transfer URL lookup and download confirmation.
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

	"github.com/italolelis/puttr/internal/inventory"
	"github.com/italolelis/puttr/internal/logctx"
	"github.com/italolelis/puttr/internal/transfer"
)

const maxErrorBody = 512

// Service is the set of remote calls a sync cycle depends on.
type Service interface {
	Ping(ctx context.Context) error
	FetchInventories(ctx context.Context) (*Inventories, error)
	Publish(ctx context.Context, inv inventory.Inventory) error
	DownloadURL(ctx context.Context, remoteID string) (string, error)
	ConfirmDownload(ctx context.Context, remoteID string) error
}

type Client struct {
	host       string
	authKey    string
	httpClient *http.Client
}

var _ Service = (*Client)(nil)

// NewClient returns a client for the service at host. The auth key is the
// opaque credential embedded in every API path.
func NewClient(host, authKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		host:       strings.TrimRight(host, "/"),
		authKey:    authKey,
		httpClient: httpClient,
	}
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, 0, len(parts)+2)
	escaped = append(escaped, "API", url.PathEscape(c.authKey))

	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}

	return c.host + "/" + strings.Join(escaped, "/")
}

// Ping probes the service. Anything but 200 is reported as unavailable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint("ping"), nil)
	if err != nil {
		return &transfer.ServiceUnavailableError{Operation: "ping", Err: err}
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return unavailable(ctx, "ping", resp)
	}

	return nil
}

// FetchInventories returns the cloud view and the remote-local view in one call.
func (c *Client) FetchInventories(ctx context.Context) (*Inventories, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint("sync"), nil)
	if err != nil {
		return nil, &transfer.ServiceUnavailableError{Operation: "fetch_inventories", Err: err}
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, unavailable(ctx, "fetch_inventories", resp)
	}

	var payload syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &transfer.ServiceUnavailableError{
			Operation: "fetch_inventories",
			Err:       fmt.Errorf("failed to decode sync response: %w", err),
		}
	}

	return payload.toInventories(), nil
}

// FetchCloud returns only the files offered for download.
func (c *Client) FetchCloud(ctx context.Context) ([]CloudEntry, error) {
	inv, err := c.FetchInventories(ctx)
	if err != nil {
		return nil, err
	}

	return inv.Cloud, nil
}

// FetchLocalView returns only the remote's view of the local files.
func (c *Client) FetchLocalView(ctx context.Context) (map[string]LocalEntry, error) {
	inv, err := c.FetchInventories(ctx)
	if err != nil {
		return nil, err
	}

	return inv.Local, nil
}

// Publish replaces the remote's record of the local state with inv.
func (c *Client) Publish(ctx context.Context, inv inventory.Inventory) error {
	if inv == nil {
		inv = inventory.Inventory{}
	}

	body, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to marshal inventory: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.endpoint("sync"), body)
	if err != nil {
		return &transfer.ServiceUnavailableError{Operation: "publish", Err: err}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unavailable(ctx, "publish", resp)
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "inventory published", "files", len(inv), "status_code", resp.StatusCode)

	return nil
}

// DownloadURL asks for a short-lived transfer URL for remoteID. Failures are
// transient so the download loop retries them.
func (c *Client) DownloadURL(ctx context.Context, remoteID string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint("downloads", "url", remoteID), nil)
	if err != nil {
		return "", &transfer.TransientNetworkError{Operation: "download_url", Err: err}
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return "", transient(ctx, "download_url", resp)
	}

	var payload downloadURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &transfer.TransientNetworkError{
			Operation: "download_url",
			Err:       fmt.Errorf("failed to decode download url response: %w", err),
		}
	}

	if payload.URL == "" {
		return "", &transfer.TransientNetworkError{Operation: "download_url", Err: errors.New("empty transfer url")}
	}

	return payload.URL, nil
}

// ConfirmDownload tells the service remoteID was downloaded and verified.
func (c *Client) ConfirmDownload(ctx context.Context, remoteID string) error {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint("downloads", "completed", remoteID), nil)
	if err != nil {
		return &transfer.TransientNetworkError{Operation: "confirm_download", Err: err}
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return transient(ctx, "confirm_download", resp)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func unavailable(ctx context.Context, operation string, resp *http.Response) error {
	logNonOK(ctx, operation, resp)

	err := &transfer.ServiceUnavailableError{Operation: operation, StatusCode: resp.StatusCode}
	if isAuthStatus(resp.StatusCode) {
		err.Err = &transfer.AuthenticationError{Operation: operation}
	}

	return err
}

func transient(ctx context.Context, operation string, resp *http.Response) error {
	logNonOK(ctx, operation, resp)

	if isAuthStatus(resp.StatusCode) {
		return &transfer.AuthenticationError{
			Operation: operation,
			Err:       fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	return &transfer.TransientNetworkError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Err:        errors.New(http.StatusText(resp.StatusCode)),
	}
}

func logNonOK(ctx context.Context, operation string, resp *http.Response) {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "non-200 response from remote service",
		"operation", operation,
		"status", resp.StatusCode,
		"body", string(b),
	)
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
