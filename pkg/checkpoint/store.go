// Package checkpoint tracks how far the sync pipeline has progressed and
// persists that position downstream so a restart resumes where the previous
// run left off.
//
// Multiple producers advance independently: each backfill worker owns a
// contiguous slot range and the realtime follower trails the chain head. The
// persisted value is the minimum across producers still working, so a crash
// can never skip a slot a slower worker still owed.
package checkpoint

import (
	"context"
	"sync"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"
)

// API is the persistence surface for sync state.
type API interface {
	GetCheckpoint(ctx context.Context) (slot uint64, ok bool, err error)
	PutCheckpoint(ctx context.Context, slot uint64) error
}

type Store struct {
	api      API
	every    uint64
	disabled bool

	// saveMu serializes writes so saves from concurrent producers cannot
	// land out of order.
	saveMu sync.Mutex

	mu        sync.Mutex
	producers map[*Producer]struct{}
	sinceSave uint64
	lastSaved uint64
	haveSaved bool
}

// Producer is one independent source of progress, registered with Register.
// Update and Close must be called from a single goroutine; the Store
// serializes across producers.
type Producer struct {
	store   *Store
	name    string
	slot    uint64
	started bool
	done    bool
}

type Config struct {
	// SlotsPerSave is the save cadence: progress is persisted once per this
	// many slot completions. Zero saves after every slot.
	SlotsPerSave uint64

	// Disabled suppresses writes. Reads still work, so a run without saves
	// can resume from state an earlier run persisted.
	Disabled bool
}

func NewStore(api API, cfg Config) *Store {
	every := cfg.SlotsPerSave
	if every == 0 {
		every = 1
	}

	return &Store{
		api:       api,
		every:     every,
		disabled:  cfg.Disabled,
		producers: make(map[*Producer]struct{}),
	}
}

// Resume reads the persisted checkpoint. ok is false on a fresh deployment.
func (s *Store) Resume(ctx context.Context) (uint64, bool, error) {
	slot, ok, err := s.api.GetCheckpoint(ctx)
	if err != nil {
		return 0, false, errors.Wrap(err, "reading sync state")
	}

	return slot, ok, nil
}

// Register adds a progress producer. Persistence pauses until every
// registered producer has reported at least once.
func (s *Store) Register(name string) *Producer {
	p := &Producer{store: s, name: name}

	s.mu.Lock()
	s.producers[p] = struct{}{}
	s.mu.Unlock()

	return p
}

// Update records that the producer finished the given slot and persists the
// global floor when the cadence is due. Save failures are logged and
// retried at the next cadence point rather than failing the caller: the
// pipeline keeps indexing, the restart position just lags.
func (p *Producer) Update(ctx context.Context, slot uint64) {
	s := p.store

	s.mu.Lock()
	p.slot = slot
	p.started = true
	s.sinceSave++
	due := s.sinceSave >= s.every
	if due {
		s.sinceSave = 0
	}
	s.mu.Unlock()

	if due {
		s.save(ctx)
	}
}

// Close marks the producer's whole range as completed successfully, lifting
// it out of the floor calculation. A failed producer must not be closed so
// the checkpoint cannot advance past its unfinished slots.
func (p *Producer) Close(ctx context.Context) {
	s := p.store

	s.mu.Lock()
	p.done = true
	s.mu.Unlock()

	logger.Debugf("producer %s completed at slot %d", p.name, p.slot)

	s.save(ctx)
}

// Flush persists the current floor unconditionally. Called at shutdown.
func (s *Store) Flush(ctx context.Context) {
	s.save(ctx)
}

func (s *Store) save(ctx context.Context) {
	if s.disabled {
		return
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	floor, ok := s.floorLocked()
	if ok && s.haveSaved && floor <= s.lastSaved {
		// Never move the persisted position backwards.
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	if err := s.api.PutCheckpoint(ctx, floor); err != nil {
		logger.Errorf("saving sync state at slot %d: %v", floor, err)

		return
	}

	s.mu.Lock()
	s.lastSaved = floor
	s.haveSaved = true
	s.mu.Unlock()

	logger.Debugf("sync state saved at slot %d", floor)
}

// floorLocked returns the slot safe to persist: the minimum across
// producers still working, since anything beyond the slowest one may be
// unindexed. A producer that registered but never reported withholds
// persistence entirely; its range could start anywhere. Once every producer
// has completed its range, the ranges jointly cover everything up to the
// highest completed slot, so the floor becomes the maximum.
func (s *Store) floorLocked() (uint64, bool) {
	var (
		floor   uint64
		ceiling uint64
		active  bool
		closed  bool
	)

	for p := range s.producers {
		if !p.started {
			if p.done {
				continue
			}
			return 0, false
		}
		if p.done {
			if !closed || p.slot > ceiling {
				ceiling = p.slot
				closed = true
			}
			continue
		}
		if !active || p.slot < floor {
			floor = p.slot
			active = true
		}
	}

	if active {
		return floor, true
	}

	return ceiling, closed
}
