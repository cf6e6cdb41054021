package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/blobscan/blob-indexer/pkg/errs"
)

type mockBeacon struct {
	blocks   map[uint64]*BeaconBlock
	sidecars map[uint64][]BlobSidecar
}

func (m *mockBeacon) Header(ctx context.Context, blockID string) (*BlockHeader, error) {
	return nil, errors.New("not implemented")
}

func (m *mockBeacon) Block(ctx context.Context, slot uint64) (*BeaconBlock, error) {
	return m.blocks[slot], nil
}

func (m *mockBeacon) BlobSidecars(ctx context.Context, slot uint64) ([]BlobSidecar, error) {
	return m.sidecars[slot], nil
}

type mockExecution struct {
	blocks       map[common.Hash]*types.Block
	chainID      *big.Int
	chainIDCalls int
}

func (m *mockExecution) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	block, ok := m.blocks[hash]
	if !ok {
		return nil, errs.Transientf("block %s not yet available", hash)
	}

	return block, nil
}

func (m *mockExecution) ChainID(ctx context.Context) (*big.Int, error) {
	m.chainIDCalls++
	return m.chainID, nil
}

func makeBlobBlock(t *testing.T, chainID *big.Int, blobHashes []common.Hash) *types.Block {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tx, err := types.SignNewTx(key, types.NewCancunSigner(chainID), &types.BlobTx{
		ChainID:    uint256.MustFromBig(chainID),
		Nonce:      0,
		GasTipCap:  uint256.NewInt(2),
		GasFeeCap:  uint256.NewInt(10),
		Gas:        21000,
		To:         common.HexToAddress("0xff00000000000000000000000000000000000000"),
		BlobFeeCap: uint256.NewInt(1_000_000),
		BlobHashes: blobHashes,
	})
	require.NoError(t, err)

	blobGasUsed := uint64(131072)
	excessBlobGas := uint64(0)
	header := &types.Header{
		Number:        big.NewInt(1000),
		Time:          1700000000,
		BaseFee:       big.NewInt(7),
		BlobGasUsed:   &blobGasUsed,
		ExcessBlobGas: &excessBlobGas,
	}

	return types.NewBlockWithHeader(header).WithBody(types.Body{
		Transactions: types.Transactions{tx},
	})
}

func makePlainBlock(t *testing.T, chainID *big.Int) *types.Block {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	to := common.HexToAddress("0xff00000000000000000000000000000000000000")
	tx, err := types.SignNewTx(key, types.NewCancunSigner(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     0,
		GasTipCap: big.NewInt(2),
		GasFeeCap: big.NewInt(10),
		Gas:       21000,
		To:        &to,
	})
	require.NoError(t, err)

	header := &types.Header{
		Number:  big.NewInt(1000),
		Time:    1700000000,
		BaseFee: big.NewInt(7),
	}

	return types.NewBlockWithHeader(header).WithBody(types.Body{
		Transactions: types.Transactions{tx},
	})
}

func TestFetchSlot(t *testing.T) {
	chainID := big.NewInt(1)
	block := makeBlobBlock(t, chainID, []common.Hash{{0x01, 0xaa}})
	sidecars := []BlobSidecar{{Index: "0", KZGCommitment: "0xabcd"}}

	beacon := &mockBeacon{
		blocks: map[uint64]*BeaconBlock{
			42: {
				Slot: "42",
				Body: BeaconBlockBody{
					ExecutionPayload:   &ExecutionPayload{BlockHash: block.Hash()},
					BlobKZGCommitments: []string{"0xabcd"},
				},
			},
		},
		sidecars: map[uint64][]BlobSidecar{42: sidecars},
	}
	execution := &mockExecution{
		blocks:  map[common.Hash]*types.Block{block.Hash(): block},
		chainID: chainID,
	}

	fetcher := NewFetcher(beacon, execution)

	data, err := fetcher.FetchSlot(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, data)
	require.Equal(t, uint64(42), data.Slot)
	require.Equal(t, block.Hash(), data.Block.Hash())
	require.Equal(t, sidecars, data.Sidecars)
	require.Equal(t, chainID, data.ChainID)
}

func TestFetchSlotEmpty(t *testing.T) {
	beacon := &mockBeacon{blocks: map[uint64]*BeaconBlock{}}
	fetcher := NewFetcher(beacon, &mockExecution{})

	data, err := fetcher.FetchSlot(context.Background(), 42)
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestFetchSlotNoPayload(t *testing.T) {
	beacon := &mockBeacon{
		blocks: map[uint64]*BeaconBlock{
			42: {Slot: "42", Body: BeaconBlockBody{}},
		},
	}
	fetcher := NewFetcher(beacon, &mockExecution{})

	data, err := fetcher.FetchSlot(context.Background(), 42)
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestFetchSlotNoCommitments(t *testing.T) {
	beacon := &mockBeacon{
		blocks: map[uint64]*BeaconBlock{
			42: {
				Slot: "42",
				Body: BeaconBlockBody{
					ExecutionPayload: &ExecutionPayload{BlockHash: common.Hash{0x01}},
				},
			},
		},
	}
	fetcher := NewFetcher(beacon, &mockExecution{})

	data, err := fetcher.FetchSlot(context.Background(), 42)
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestFetchSlotExecutionLag(t *testing.T) {
	beacon := &mockBeacon{
		blocks: map[uint64]*BeaconBlock{
			42: {
				Slot: "42",
				Body: BeaconBlockBody{
					ExecutionPayload:   &ExecutionPayload{BlockHash: common.Hash{0x01}},
					BlobKZGCommitments: []string{"0xabcd"},
				},
			},
		},
	}
	fetcher := NewFetcher(beacon, &mockExecution{blocks: map[common.Hash]*types.Block{}})

	_, err := fetcher.FetchSlot(context.Background(), 42)
	require.Error(t, err)
	require.True(t, errs.IsTransient(err))
}

func TestFetchSlotBlocksMismatch(t *testing.T) {
	chainID := big.NewInt(1)
	block := makePlainBlock(t, chainID)

	beacon := &mockBeacon{
		blocks: map[uint64]*BeaconBlock{
			42: {
				Slot: "42",
				Body: BeaconBlockBody{
					ExecutionPayload:   &ExecutionPayload{BlockHash: block.Hash()},
					BlobKZGCommitments: []string{"0xabcd"},
				},
			},
		},
	}
	execution := &mockExecution{
		blocks:  map[common.Hash]*types.Block{block.Hash(): block},
		chainID: chainID,
	}

	fetcher := NewFetcher(beacon, execution)

	_, err := fetcher.FetchSlot(context.Background(), 42)
	require.Error(t, err)
	require.True(t, errs.IsPermanent(err))
}

func TestFetchSlotMissingSidecars(t *testing.T) {
	chainID := big.NewInt(1)
	block := makeBlobBlock(t, chainID, []common.Hash{{0x01, 0xaa}})

	beacon := &mockBeacon{
		blocks: map[uint64]*BeaconBlock{
			42: {
				Slot: "42",
				Body: BeaconBlockBody{
					ExecutionPayload:   &ExecutionPayload{BlockHash: block.Hash()},
					BlobKZGCommitments: []string{"0xabcd"},
				},
			},
		},
		sidecars: map[uint64][]BlobSidecar{},
	}
	execution := &mockExecution{
		blocks:  map[common.Hash]*types.Block{block.Hash(): block},
		chainID: chainID,
	}

	fetcher := NewFetcher(beacon, execution)

	_, err := fetcher.FetchSlot(context.Background(), 42)
	require.Error(t, err)
	require.True(t, errs.IsPermanent(err))
}

func TestFetcherCachesChainID(t *testing.T) {
	chainID := big.NewInt(1)
	block := makeBlobBlock(t, chainID, []common.Hash{{0x01, 0xaa}})

	beacon := &mockBeacon{
		blocks: map[uint64]*BeaconBlock{
			42: {
				Slot: "42",
				Body: BeaconBlockBody{
					ExecutionPayload:   &ExecutionPayload{BlockHash: block.Hash()},
					BlobKZGCommitments: []string{"0xabcd"},
				},
			},
			43: {
				Slot: "43",
				Body: BeaconBlockBody{
					ExecutionPayload:   &ExecutionPayload{BlockHash: block.Hash()},
					BlobKZGCommitments: []string{"0xabcd"},
				},
			},
		},
		sidecars: map[uint64][]BlobSidecar{
			42: {{Index: "0"}},
			43: {{Index: "0"}},
		},
	}
	execution := &mockExecution{
		blocks:  map[common.Hash]*types.Block{block.Hash(): block},
		chainID: chainID,
	}

	fetcher := NewFetcher(beacon, execution)

	_, err := fetcher.FetchSlot(context.Background(), 42)
	require.NoError(t, err)
	_, err = fetcher.FetchSlot(context.Background(), 43)
	require.NoError(t, err)

	require.Equal(t, 1, execution.chainIDCalls)
}
