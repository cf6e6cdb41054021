// Package indexer wires the sync tasks together: it resolves where to start,
// runs the historical backfill and the realtime head follower, and persists
// final progress on shutdown.
package indexer

import (
	"context"
	"time"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/blobscan/blob-indexer/pkg/chain"
	"github.com/blobscan/blob-indexer/pkg/checkpoint"
	"github.com/blobscan/blob-indexer/pkg/errs"
	syncer "github.com/blobscan/blob-indexer/pkg/sync"
)

const flushTimeout = 10 * time.Second

type Indexer struct {
	beacon    chain.BeaconAPI
	store     *checkpoint.Store
	processor syncer.SlotProcessor
	streamer  chain.HeadStreamer

	cfg Config
}

type Config struct {
	// FromSlot and ToSlot override the start and end of the historical
	// range. A set ToSlot switches to range mode: the backfill runs to
	// completion and the process exits without following the head.
	FromSlot *uint64
	ToSlot   *uint64

	NumWorkers       uint64
	DisableBackfill  bool
	OnPermanentError syncer.PermanentErrorPolicy

	RealtimeStaleTimeout             time.Duration
	RealtimeMaxConsecutiveReconnects uint64
	RealtimeSlotsPerSave             uint64
}

func New(beacon chain.BeaconAPI, store *checkpoint.Store, processor syncer.SlotProcessor, streamer chain.HeadStreamer, cfg Config) *Indexer {
	return &Indexer{
		beacon:    beacon,
		store:     store,
		processor: processor,
		streamer:  streamer,
		cfg:       cfg,
	}
}

// Run drives the whole pipeline until the context is cancelled, the
// configured range is drained, or a fatal error occurs. Progress is flushed
// before returning, whatever the cause.
func (ix *Indexer) Run(ctx context.Context) (err error) {
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()

		ix.store.Flush(flushCtx)
	}()

	head, err := ix.headSlot(ctx)
	if err != nil {
		return errors.Wrap(err, "resolving chain head")
	}

	from, err := ix.resolveStart(ctx)
	if err != nil {
		return err
	}

	if ix.cfg.ToSlot != nil {
		return ignoreCanceled(ix.runRange(ctx, from, *ix.cfg.ToSlot))
	}

	eg, ctx := errgroup.WithContext(ctx)

	if !ix.cfg.DisableBackfill && from <= head {
		backfill := syncer.NewBackfill(ix.processor, ix.store, ix.cfg.NumWorkers, ix.cfg.OnPermanentError)

		eg.Go(func() error {
			return errors.Wrap(backfill.Run(ctx, from, head), "backfill failed")
		})
	}

	realtime := syncer.NewRealtime(ix.processor, ix.streamer, ix.store, syncer.RealtimeConfig{
		StartSlot:                head + 1,
		StaleTimeout:             ix.cfg.RealtimeStaleTimeout,
		MaxConsecutiveReconnects: ix.cfg.RealtimeMaxConsecutiveReconnects,
		SlotsPerSave:             ix.cfg.RealtimeSlotsPerSave,
		OnPermanentError:         ix.cfg.OnPermanentError,
	})

	eg.Go(func() error {
		return errors.Wrap(realtime.Run(ctx), "realtime sync failed")
	})

	return ignoreCanceled(eg.Wait())
}

// ignoreCanceled keeps an orchestrated shutdown a clean exit: cancellation
// propagating out of the sync tasks is the signal handler at work, not a
// fault.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runRange indexes a fixed historical range and returns. Used for targeted
// re-indexing of a known slot window.
func (ix *Indexer) runRange(ctx context.Context, from, to uint64) error {
	logger.Infof("range mode: indexing slots %d to %d", from, to)

	backfill := syncer.NewBackfill(ix.processor, ix.store, ix.cfg.NumWorkers, ix.cfg.OnPermanentError)

	if err := backfill.Run(ctx, from, to); err != nil {
		return errors.Wrap(err, "backfill failed")
	}

	logger.Infof("range mode: slots %d to %d fully indexed", from, to)

	return nil
}

// resolveStart picks the first slot to index: the explicit override when
// given, one past the persisted checkpoint otherwise, genesis on a fresh
// deployment.
func (ix *Indexer) resolveStart(ctx context.Context) (uint64, error) {
	if ix.cfg.FromSlot != nil {
		return *ix.cfg.FromSlot, nil
	}

	cp, ok, err := ix.store.Resume(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "resuming from sync state")
	}
	if !ok {
		logger.Infof("no sync state found, starting from slot 0")
		return 0, nil
	}

	logger.Infof("resuming from sync state: last synced slot %d", cp)

	return cp + 1, nil
}

func (ix *Indexer) headSlot(ctx context.Context) (uint64, error) {
	header, err := ix.beacon.Header(ctx, "head")
	if err != nil {
		return 0, err
	}
	if header == nil {
		return 0, errs.Permanentf("beacon node reports no head block")
	}

	return header.Slot, nil
}
