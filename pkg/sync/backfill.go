package sync

import (
	"context"
	"fmt"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/blobscan/blob-indexer/pkg/checkpoint"
	"github.com/blobscan/blob-indexer/pkg/errs"
)

// SlotProcessor handles one slot end to end.
type SlotProcessor interface {
	ProcessSlot(ctx context.Context, slot uint64) error
}

// PermanentErrorPolicy decides what a worker does with a slot that failed
// with a non-retryable error.
type PermanentErrorPolicy string

const (
	// SkipSlot logs the failure and moves on. The default: one corrupt slot
	// should not stall historical sync.
	SkipSlot PermanentErrorPolicy = "skip"

	// HaltSync aborts the whole backfill.
	HaltSync PermanentErrorPolicy = "halt"
)

// Backfill walks a historical slot range with a pool of parallel workers,
// each owning a contiguous sub-range.
type Backfill struct {
	processor  SlotProcessor
	store      *checkpoint.Store
	numWorkers uint64
	onPermErr  PermanentErrorPolicy
}

func NewBackfill(processor SlotProcessor, store *checkpoint.Store, numWorkers uint64, onPermErr PermanentErrorPolicy) *Backfill {
	if numWorkers == 0 {
		numWorkers = 1
	}

	return &Backfill{
		processor:  processor,
		store:      store,
		numWorkers: numWorkers,
		onPermErr:  onPermErr,
	}
}

// Run indexes every slot in [from, to] inclusive. It returns once all
// workers finish, with the first worker error if any.
func (b *Backfill) Run(ctx context.Context, from, to uint64) error {
	if from > to {
		return errs.Configf("invalid slot range: from %d is above to %d", from, to)
	}

	chunks := partition(from, to, b.numWorkers)

	logger.Infof("backfilling slots %d to %d with %d workers", from, to, len(chunks))

	eg, ctx := errgroup.WithContext(ctx)

	for i, c := range chunks {
		prod := b.store.Register(workerName(i))
		chunk := c

		eg.Go(func() error {
			return b.runWorker(ctx, chunk, prod)
		})
	}

	return eg.Wait()
}

type chunk struct {
	from, to uint64
}

func (b *Backfill) runWorker(ctx context.Context, c chunk, prod *checkpoint.Producer) error {
	for slot := c.from; slot <= c.to; slot++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := b.processor.ProcessSlot(ctx, slot); err != nil {
			// A slot abandoned by shutdown is not a failed slot; it must not
			// be marked completed or the checkpoint would advance past it.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errs.IsAuth(err) || errs.IsConfig(err) {
				return err
			}
			if b.onPermErr == SkipSlot {
				logger.Errorf("slot %d failed, skipping: %v", slot, err)
			} else {
				return errors.Wrapf(err, "slot %d failed", slot)
			}
		}

		prod.Update(ctx, slot)
	}

	// Only a fully completed range releases its hold on the checkpoint
	// floor. A worker that errored out above stays registered so a restart
	// re-covers its remaining slots.
	prod.Close(ctx)

	logger.Infof("backfill worker finished slots %d to %d", c.from, c.to)

	return nil
}

// partition splits [from, to] into up to n contiguous chunks of equal size,
// with the remainder going to the last chunk. Fewer chunks come back when
// the range has fewer slots than workers.
func partition(from, to, n uint64) []chunk {
	total := to - from + 1
	if n > total {
		n = total
	}

	size := total / n
	chunks := make([]chunk, 0, n)

	for i := uint64(0); i < n; i++ {
		c := chunk{
			from: from + i*size,
			to:   from + (i+1)*size - 1,
		}
		if i == n-1 {
			c.to = to
		}
		chunks = append(chunks, c)
	}

	return chunks
}

func workerName(i int) string {
	return fmt.Sprintf("backfill-%d", i)
}
