package indexer

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/blobscan/blob-indexer/pkg/chain"
	"github.com/blobscan/blob-indexer/pkg/checkpoint"
	syncer "github.com/blobscan/blob-indexer/pkg/sync"
)

type mockBeacon struct {
	headSlot uint64
}

func (m *mockBeacon) Header(ctx context.Context, blockID string) (*chain.BlockHeader, error) {
	if blockID != "head" {
		return nil, errors.Errorf("unexpected block id %q", blockID)
	}
	return &chain.BlockHeader{Slot: m.headSlot, Root: common.Hash{0x01}}, nil
}

func (m *mockBeacon) Block(ctx context.Context, slot uint64) (*chain.BeaconBlock, error) {
	return nil, errors.New("not implemented")
}

func (m *mockBeacon) BlobSidecars(ctx context.Context, slot uint64) ([]chain.BlobSidecar, error) {
	return nil, errors.New("not implemented")
}

type mockProcessor struct {
	mu    sync.Mutex
	slots []uint64
}

func (m *mockProcessor) ProcessSlot(ctx context.Context, slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slots = append(m.slots, slot)
	return nil
}

func (m *mockProcessor) sorted() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots := append([]uint64(nil), m.slots...)
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

type mockSyncState struct {
	mu   sync.Mutex
	slot *uint64
}

func (m *mockSyncState) GetCheckpoint(ctx context.Context) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.slot == nil {
		return 0, false, nil
	}
	return *m.slot, true, nil
}

func (m *mockSyncState) PutCheckpoint(ctx context.Context, slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slot = &slot
	return nil
}

type idleStream struct{}

func (idleStream) SubscribeHeads(ctx context.Context) (<-chan chain.HeadEvent, <-chan error, error) {
	return make(chan chain.HeadEvent), make(chan error, 1), nil
}

func uint64Ptr(v uint64) *uint64 { return &v }

func TestRunRangeMode(t *testing.T) {
	processor := &mockProcessor{}
	state := &mockSyncState{}
	store := checkpoint.NewStore(state, checkpoint.Config{SlotsPerSave: 1})

	ix := New(&mockBeacon{headSlot: 1000}, store, processor, idleStream{}, Config{
		FromSlot:         uint64Ptr(100),
		ToSlot:           uint64Ptr(109),
		NumWorkers:       2,
		OnPermanentError: syncer.SkipSlot,
	})

	// Range mode runs the historical range to completion and returns
	// without following the head.
	err := ix.Run(context.Background())
	require.NoError(t, err)

	expected := make([]uint64, 0, 10)
	for slot := uint64(100); slot <= 109; slot++ {
		expected = append(expected, slot)
	}
	require.Equal(t, expected, processor.sorted())

	saved, ok, err := state.GetCheckpoint(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(109), saved)
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	processor := &mockProcessor{}

	cp := uint64(104)
	state := &mockSyncState{slot: &cp}
	store := checkpoint.NewStore(state, checkpoint.Config{SlotsPerSave: 1})

	ix := New(&mockBeacon{headSlot: 1000}, store, processor, idleStream{}, Config{
		ToSlot:           uint64Ptr(109),
		NumWorkers:       1,
		OnPermanentError: syncer.SkipSlot,
	})

	err := ix.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []uint64{105, 106, 107, 108, 109}, processor.sorted())
}

func TestRunBackfillAndRealtime(t *testing.T) {
	processor := &mockProcessor{}
	state := &mockSyncState{}
	store := checkpoint.NewStore(state, checkpoint.Config{SlotsPerSave: 1})

	events := make(chan chain.HeadEvent, 1)
	stream := &eventStream{events: events}

	ix := New(&mockBeacon{headSlot: 104}, store, processor, stream, Config{
		FromSlot:             uint64Ptr(100),
		NumWorkers:           2,
		OnPermanentError:     syncer.SkipSlot,
		RealtimeStaleTimeout: 5 * time.Second,
		RealtimeSlotsPerSave: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.Run(ctx) }()

	events <- chain.HeadEvent{Slot: 106}

	// Backfill covers up to the head, realtime picks up from the next slot.
	require.Eventually(t, func() bool {
		return len(processor.sorted()) == 7
	}, 2*time.Second, 10*time.Millisecond)

	expected := make([]uint64, 0, 7)
	for slot := uint64(100); slot <= 106; slot++ {
		expected = append(expected, slot)
	}
	require.Equal(t, expected, processor.sorted())

	cancel()
	require.NoError(t, <-done)
}

// stallingProcessor blocks at one slot until the run is cancelled, holding
// the backfill mid-range the way a shutdown signal catches it.
type stallingProcessor struct {
	mockProcessor
	stallAt uint64
}

func (p *stallingProcessor) ProcessSlot(ctx context.Context, slot uint64) error {
	if slot == p.stallAt {
		<-ctx.Done()
		return ctx.Err()
	}

	return p.mockProcessor.ProcessSlot(ctx, slot)
}

func TestRunShutdownMidBackfillIsClean(t *testing.T) {
	processor := &stallingProcessor{stallAt: 102}
	state := &mockSyncState{}
	store := checkpoint.NewStore(state, checkpoint.Config{SlotsPerSave: 1})

	ix := New(&mockBeacon{headSlot: 1000}, store, processor, idleStream{}, Config{
		FromSlot:         uint64Ptr(100),
		ToSlot:           uint64Ptr(109),
		NumWorkers:       1,
		OnPermanentError: syncer.SkipSlot,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(processor.sorted()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	// A signal-driven shutdown is a graceful exit, not a failure, and the
	// stalled slot stays unindexed for the next run.
	require.NoError(t, <-done)
	require.Equal(t, []uint64{100, 101}, processor.sorted())

	saved, ok, err := state.GetCheckpoint(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(101), saved)
}

type eventStream struct {
	events chan chain.HeadEvent
}

func (s *eventStream) SubscribeHeads(ctx context.Context) (<-chan chain.HeadEvent, <-chan error, error) {
	return s.events, make(chan error, 1), nil
}
