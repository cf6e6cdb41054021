package sync

import (
	"context"
	"time"

	"github.com/flare-foundation/go-flare-common/pkg/logger"

	"github.com/blobscan/blob-indexer/pkg/chain"
	"github.com/blobscan/blob-indexer/pkg/checkpoint"
	"github.com/blobscan/blob-indexer/pkg/errs"
)

// Realtime follows the chain head over the beacon event stream. Head events
// arrive roughly one per slot but gaps happen, both on the chain (missed
// proposals) and on the wire (dropped connections), so every event triggers
// a range sync from the last indexed slot up to the event's slot.
type Realtime struct {
	processor SlotProcessor
	streamer  chain.HeadStreamer
	store     *checkpoint.Store

	startSlot     uint64
	staleTimeout  time.Duration
	maxReconnects uint64
	slotsPerSave  uint64
	onPermErr     PermanentErrorPolicy
}

type RealtimeConfig struct {
	// StartSlot is the lower bound of this follower's responsibility. Slots
	// below it belong to the backfill and are never re-synced here, even
	// when the persisted checkpoint trails behind.
	StartSlot uint64

	// StaleTimeout forces a reconnect when no head event arrives for this
	// long. Head events are expected every slot, so a quiet minute means a
	// dead connection the server never closed.
	StaleTimeout time.Duration

	// MaxConsecutiveReconnects bounds reconnect attempts that yield no
	// event. The counter resets once an event comes through.
	MaxConsecutiveReconnects uint64

	// SlotsPerSave forces a checkpoint save every this many indexed slots,
	// independent of the coarser global cadence.
	SlotsPerSave uint64

	OnPermanentError PermanentErrorPolicy
}

func NewRealtime(processor SlotProcessor, streamer chain.HeadStreamer, store *checkpoint.Store, cfg RealtimeConfig) *Realtime {
	slotsPerSave := cfg.SlotsPerSave
	if slotsPerSave == 0 {
		slotsPerSave = 1
	}

	return &Realtime{
		processor:     processor,
		streamer:      streamer,
		store:         store,
		startSlot:     cfg.StartSlot,
		staleTimeout:  cfg.StaleTimeout,
		maxReconnects: cfg.MaxConsecutiveReconnects,
		slotsPerSave:  slotsPerSave,
		onPermErr:     cfg.OnPermanentError,
	}
}

// Run follows the head until the context is cancelled, reconnecting on
// stream failures. It returns nil on cancellation and an error only when
// following cannot continue: repeated reconnects without progress, an auth
// failure, or a halting slot error.
func (r *Realtime) Run(ctx context.Context) error {
	prod := r.store.Register("realtime")

	next := r.startSlot
	reconnects := uint64(0)

	for {
		progressed, err := r.followOnce(ctx, prod, &next)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && (errs.IsAuth(err) || errs.IsConfig(err) || errs.IsPermanent(err) || errs.IsValidation(err)) {
			return err
		}

		if progressed {
			reconnects = 0
		}
		reconnects++

		if reconnects > r.maxReconnects {
			return errs.Subscriptionf("head stream failed %d times without progress: %v", reconnects, err)
		}

		logger.Warnf("head stream lost, reconnecting (%d/%d): %v", reconnects, r.maxReconnects, err)
	}
}

// followOnce holds one stream connection until it fails or goes stale.
// progressed reports whether at least one event was handled.
func (r *Realtime) followOnce(ctx context.Context, prod *checkpoint.Producer, next *uint64) (bool, error) {
	// The persisted checkpoint may have advanced since the last connection,
	// for example by a concurrent backfill. Re-reading it keeps the first
	// catchup range tight after a long disconnect.
	if cp, ok, err := r.store.Resume(ctx); err == nil && ok && cp+1 > *next && cp+1 > r.startSlot {
		*next = cp + 1
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, errc, err := r.streamer.SubscribeHeads(streamCtx)
	if err != nil {
		return false, err
	}

	logger.Infof("following chain head from slot %d", *next)

	stale := time.NewTimer(r.staleTimeout)
	defer stale.Stop()

	progressed := false
	sinceSave := uint64(0)

	for {
		select {
		case <-ctx.Done():
			return progressed, ctx.Err()

		case err := <-errc:
			return progressed, err

		case <-stale.C:
			return progressed, errs.Subscriptionf("no head event for %v", r.staleTimeout)

		case ev, ok := <-events:
			if !ok {
				return progressed, errs.Subscriptionf("head event channel closed")
			}

			if !stale.Stop() {
				<-stale.C
			}
			stale.Reset(r.staleTimeout)

			if ev.Slot < *next {
				continue
			}

			for slot := *next; slot <= ev.Slot; slot++ {
				if err := r.processor.ProcessSlot(ctx, slot); err != nil {
					// A slot abandoned by shutdown must not be marked
					// completed; the next run re-syncs it.
					if ctx.Err() != nil {
						return progressed, ctx.Err()
					}
					if errs.IsAuth(err) || errs.IsConfig(err) || r.onPermErr == HaltSync {
						return progressed, err
					}

					logger.Errorf("slot %d failed, skipping: %v", slot, err)
				}

				prod.Update(ctx, slot)
				*next = slot + 1
				progressed = true

				sinceSave++
				if sinceSave >= r.slotsPerSave {
					sinceSave = 0
					r.store.Flush(ctx)
				}
			}
		}
	}
}
