package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/blobscan/blob-indexer/pkg/errs"
)

// BeaconAPI is the capability interface for the consensus client. Concrete
// and mock variants implement it.
type BeaconAPI interface {
	// Header resolves a block ID ("head", "finalized" or a slot number) to
	// its header. Returns nil when no block exists for the ID.
	Header(ctx context.Context, blockID string) (*BlockHeader, error)

	// Block fetches the beacon block at a slot. Returns nil for empty slots.
	Block(ctx context.Context, slot uint64) (*BeaconBlock, error)

	// BlobSidecars fetches the blob sidecars proposed at a slot. Returns an
	// empty slice when the slot has no sidecars.
	BlobSidecars(ctx context.Context, slot uint64) ([]BlobSidecar, error)
}

type BeaconClient struct {
	baseURL *url.URL
	client  *http.Client
}

type BeaconConfig struct {
	Endpoint       string
	RequestTimeout time.Duration
}

func NewBeaconClient(cfg BeaconConfig) (*BeaconClient, error) {
	baseURL, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "invalid beacon endpoint")
	}

	return &BeaconClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

func (c *BeaconClient) Header(ctx context.Context, blockID string) (*BlockHeader, error) {
	var res headerResponse

	found, err := c.getJSON(ctx, fmt.Sprintf("/eth/v1/beacon/headers/%s", blockID), &res)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	slot, err := parseSlot(res.Data.Header.Message.Slot)
	if err != nil {
		return nil, err
	}

	return &BlockHeader{Slot: slot, Root: res.Data.Root}, nil
}

func (c *BeaconClient) Block(ctx context.Context, slot uint64) (*BeaconBlock, error) {
	var res blockResponse

	found, err := c.getJSON(ctx, fmt.Sprintf("/eth/v2/beacon/blocks/%d", slot), &res)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	return &res.Data.Message, nil
}

func (c *BeaconClient) BlobSidecars(ctx context.Context, slot uint64) ([]BlobSidecar, error) {
	var res sidecarsResponse

	found, err := c.getJSON(ctx, fmt.Sprintf("/eth/v1/beacon/blob_sidecars/%d", slot), &res)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	return res.Data, nil
}

// getJSON performs one GET and decodes the response. The (found, error)
// split keeps 404 a valid outcome rather than a fault: empty slots are
// expected on the beacon chain.
func (c *BeaconClient) getJSON(ctx context.Context, path string, out interface{}) (bool, error) {
	u := c.baseURL.JoinPath(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, errors.Wrap(err, "creating beacon request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, errs.Transient(errors.Wrapf(err, "beacon request %s failed", path))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return false, errs.Transient(errors.Errorf("beacon request %s: status %d", path, resp.StatusCode))
	case resp.StatusCode >= 400:
		return false, errs.Permanent(errors.Errorf("beacon request %s: status %d", path, resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, errs.Permanent(errors.Wrapf(err, "decoding beacon response for %s", path))
	}

	return true, nil
}
