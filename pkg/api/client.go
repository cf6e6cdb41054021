package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"

	"github.com/blobscan/blob-indexer/pkg/errs"
)

// maxAuthRetries bounds forced token refreshes within one request. A second
// rejection of a freshly minted token means the secret is wrong, not the
// token stale.
const maxAuthRetries = 1

// API is the downstream indexing surface the sync pipeline writes to.
type API interface {
	// PutRecords delivers one slot's worth of normalized records. Idempotent
	// on the server side, so retries after ambiguous failures are safe.
	PutRecords(ctx context.Context, req *IndexRequest) error

	// GetCheckpoint reads the persisted sync state. ok is false when the
	// server holds no checkpoint yet.
	GetCheckpoint(ctx context.Context) (slot uint64, ok bool, err error)

	// PutCheckpoint persists the last fully indexed slot.
	PutCheckpoint(ctx context.Context, slot uint64) error
}

type Client struct {
	baseURL *url.URL
	client  *http.Client
	tokens  *TokenProvider

	backoffMaxElapsed time.Duration
}

type ClientConfig struct {
	Endpoint          string
	SecretKey         string
	RequestTimeout    time.Duration
	BackoffMaxElapsed time.Duration
}

func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "invalid api endpoint")
	}

	return &Client{
		baseURL:           baseURL,
		client:            &http.Client{Timeout: cfg.RequestTimeout},
		tokens:            NewTokenProvider(cfg.SecretKey),
		backoffMaxElapsed: cfg.BackoffMaxElapsed,
	}, nil
}

func (c *Client) PutRecords(ctx context.Context, req *IndexRequest) error {
	return c.do(ctx, http.MethodPut, "/indexer/block-txs-blobs", req, nil)
}

func (c *Client) GetCheckpoint(ctx context.Context) (uint64, bool, error) {
	var res syncStateResponse

	err := c.do(ctx, http.MethodGet, "/blockchain-sync-state", nil, &res)
	if err != nil {
		if errs.IsValidation(err) {
			// No state recorded yet.
			return 0, false, nil
		}

		return 0, false, err
	}
	if res.LastSyncedSlot == nil {
		return 0, false, nil
	}

	return *res.LastSyncedSlot, true, nil
}

func (c *Client) PutCheckpoint(ctx context.Context, slot uint64) error {
	return c.do(ctx, http.MethodPut, "/blockchain-sync-state", &syncStateRequest{LastSyncedSlot: slot}, nil)
}

// do runs one request under the retry policy. Transient failures back off
// and retry until the elapsed budget runs out; auth rejections trigger one
// forced token refresh before giving up.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errs.Permanent(errors.Wrapf(err, "encoding %s %s request", method, path))
		}
	}

	authRetries := 0

	operation := func() error {
		err := c.doOnce(ctx, method, path, payload, out)
		switch {
		case err == nil:
			return nil
		case errs.IsAuth(err):
			if authRetries < maxAuthRetries {
				authRetries++
				c.tokens.Invalidate()

				return err
			}

			return backoff.Permanent(err)
		case errs.IsTransient(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.backoffMaxElapsed

	notify := func(err error, d time.Duration) {
		logger.Debugf("retrying %s %s in %v: %v", method, path, d, err)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	u := c.baseURL.JoinPath(path)

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return errs.Permanent(errors.Wrapf(err, "creating %s %s request", method, path))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errs.Transient(errors.Wrapf(err, "%s %s failed", method, path))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode < 300:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errs.Auth(errors.Errorf("%s %s: %s", method, path, responseMessage(resp)))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return errs.Transient(errors.Errorf("%s %s: %s", method, path, responseMessage(resp)))
	case resp.StatusCode == http.StatusNotFound:
		return errs.Validation(errors.Errorf("%s %s: %s", method, path, responseMessage(resp)))
	default:
		return errs.Permanent(errors.Errorf("%s %s: %s", method, path, responseMessage(resp)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errs.Permanent(errors.Wrapf(err, "decoding %s %s response", method, path))
		}
	}

	return nil
}

// responseMessage extracts the server's error message when the body carries
// one, falling back to the bare status.
func responseMessage(resp *http.Response) string {
	var res errorResponse

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && json.Unmarshal(data, &res) == nil && res.Message != "" {
		return fmt.Sprintf("status %d: %s", resp.StatusCode, res.Message)
	}

	return fmt.Sprintf("status %d", resp.StatusCode)
}
