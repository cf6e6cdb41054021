package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"

	"github.com/blobscan/blob-indexer/pkg/errs"
)

// SlotFetcher retrieves the raw data for one slot from both node APIs.
type SlotFetcher interface {
	// FetchSlot returns nil when the slot is terminally empty: no proposed
	// block, no execution payload, or no blob commitments.
	FetchSlot(ctx context.Context, slot uint64) (*SlotData, error)
}

type Fetcher struct {
	beacon    BeaconAPI
	execution ExecutionAPI

	chainIDMu sync.Mutex
	chainID   *big.Int
}

func NewFetcher(beacon BeaconAPI, execution ExecutionAPI) *Fetcher {
	return &Fetcher{
		beacon:    beacon,
		execution: execution,
	}
}

func (f *Fetcher) FetchSlot(ctx context.Context, slot uint64) (*SlotData, error) {
	beaconBlock, err := f.beacon.Block(ctx, slot)
	if err != nil {
		return nil, err
	}
	if beaconBlock == nil {
		logger.Debugf("slot %d: no beacon block proposed", slot)
		return nil, nil
	}

	payload := beaconBlock.Body.ExecutionPayload
	if payload == nil {
		logger.Debugf("slot %d: beacon block has no execution payload", slot)
		return nil, nil
	}

	if len(beaconBlock.Body.BlobKZGCommitments) == 0 {
		logger.Debugf("slot %d: beacon block has no blob commitments", slot)
		return nil, nil
	}

	execBlock, err := f.execution.BlockByHash(ctx, payload.BlockHash)
	if err != nil {
		return nil, err
	}

	hasBlobTxs := false
	for _, tx := range execBlock.Transactions() {
		if len(tx.BlobHashes()) > 0 {
			hasBlobTxs = true
			break
		}
	}
	if !hasBlobTxs {
		return nil, errs.Permanent(errors.Errorf(
			"blocks mismatch at slot %d: beacon block carries %d blob commitments but execution block %s has no blob transactions",
			slot, len(beaconBlock.Body.BlobKZGCommitments), payload.BlockHash,
		))
	}

	sidecars, err := f.beacon.BlobSidecars(ctx, slot)
	if err != nil {
		return nil, err
	}
	if len(sidecars) == 0 {
		return nil, errs.Permanent(errors.Errorf(
			"blob sidecars missing at slot %d despite %d commitments",
			slot, len(beaconBlock.Body.BlobKZGCommitments),
		))
	}

	chainID, err := f.getChainID(ctx)
	if err != nil {
		return nil, err
	}

	return &SlotData{
		Slot:     slot,
		Block:    execBlock,
		Sidecars: sidecars,
		ChainID:  chainID,
	}, nil
}

// The chain ID never changes for a given endpoint, so it is fetched once and
// cached. A failed fetch leaves the cache empty so the next slot retries.
func (f *Fetcher) getChainID(ctx context.Context) (*big.Int, error) {
	f.chainIDMu.Lock()
	defer f.chainIDMu.Unlock()

	if f.chainID != nil {
		return f.chainID, nil
	}

	chainID, err := f.execution.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	f.chainID = chainID
	return chainID, nil
}
