// Package sync drives slot indexing: a processor handles one slot end to
// end, the backfill pool walks historical ranges in parallel, and the
// realtime follower tracks the chain head over the beacon event stream.
package sync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flare-foundation/go-flare-common/pkg/logger"

	"github.com/blobscan/blob-indexer/pkg/api"
	"github.com/blobscan/blob-indexer/pkg/chain"
	"github.com/blobscan/blob-indexer/pkg/errs"
	"github.com/blobscan/blob-indexer/pkg/normalize"
)

// Deliverer receives one slot's normalized records.
type Deliverer interface {
	PutRecords(ctx context.Context, req *api.IndexRequest) error
}

// Processor indexes single slots: fetch, normalize, deliver. Fetching
// retries transient node failures under its own backoff; delivery carries
// its own retry policy inside the client.
type Processor struct {
	fetcher           chain.SlotFetcher
	deliverer         Deliverer
	backoffMaxElapsed time.Duration
}

func NewProcessor(fetcher chain.SlotFetcher, deliverer Deliverer, backoffMaxElapsed time.Duration) *Processor {
	return &Processor{
		fetcher:           fetcher,
		deliverer:         deliverer,
		backoffMaxElapsed: backoffMaxElapsed,
	}
}

// ProcessSlot indexes one slot. Empty slots and slots without blobs complete
// successfully with nothing delivered.
func (p *Processor) ProcessSlot(ctx context.Context, slot uint64) error {
	data, err := p.fetchWithRetry(ctx, slot)
	if err != nil {
		return err
	}
	if data == nil {
		logger.Debugf("slot %d skipped: nothing to index", slot)
		return nil
	}

	req, err := normalize.Normalize(data)
	if err != nil {
		return err
	}

	if err := p.deliverer.PutRecords(ctx, req); err != nil {
		return err
	}

	logger.Infof("slot %d indexed: %d transactions, %d blobs", slot, len(req.Transactions), len(req.Blobs))

	return nil
}

func (p *Processor) fetchWithRetry(ctx context.Context, slot uint64) (*chain.SlotData, error) {
	var data *chain.SlotData

	operation := func() error {
		var err error
		data, err = p.fetcher.FetchSlot(ctx, slot)
		if err != nil && !errs.IsTransient(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = p.backoffMaxElapsed

	notify := func(err error, d time.Duration) {
		logger.Debugf("retrying slot %d fetch in %v: %v", slot, d, err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, err
	}

	return data, nil
}
