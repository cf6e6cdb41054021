package chain

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blobscan/blob-indexer/pkg/errs"
)

// HeadEvent is one notification from the beacon head-event stream.
type HeadEvent struct {
	Slot  uint64
	Block common.Hash
}

// BlobSidecar is the out-of-band blob payload fetched alongside a beacon
// block: raw data plus its KZG commitment and proof.
type BlobSidecar struct {
	Index         string        `json:"index"`
	KZGCommitment string        `json:"kzg_commitment"`
	KZGProof      string        `json:"kzg_proof"`
	Blob          hexutil.Bytes `json:"blob"`
}

// SlotData is the raw material for one slot: the execution block referenced
// by the beacon block's payload, and the blob sidecars proposed with it.
// A slot with no proposed block, no execution payload, or no blob
// commitments yields no SlotData at all.
type SlotData struct {
	Slot     uint64
	Block    *types.Block
	Sidecars []BlobSidecar
	ChainID  *big.Int
}

// Beacon API wire types. Numeric fields arrive as decimal strings.

type BeaconBlock struct {
	Slot string          `json:"slot"`
	Body BeaconBlockBody `json:"body"`
}

type BeaconBlockBody struct {
	ExecutionPayload   *ExecutionPayload `json:"execution_payload"`
	BlobKZGCommitments []string          `json:"blob_kzg_commitments"`
}

type ExecutionPayload struct {
	BlockHash common.Hash `json:"block_hash"`
}

type BlockHeader struct {
	Slot uint64
	Root common.Hash
}

type blockResponse struct {
	Data struct {
		Message BeaconBlock `json:"message"`
	} `json:"data"`
}

type sidecarsResponse struct {
	Data []BlobSidecar `json:"data"`
}

type headerResponse struct {
	Data struct {
		Root   common.Hash `json:"root"`
		Header struct {
			Message struct {
				Slot string `json:"slot"`
			} `json:"message"`
		} `json:"header"`
	} `json:"data"`
}

type headEventData struct {
	Slot  string      `json:"slot"`
	Block common.Hash `json:"block"`
}

func parseSlot(s string) (uint64, error) {
	slot, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errs.Validationf("invalid slot value %q", s)
	}
	return slot, nil
}
