package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Block is the canonical record for one slot: consensus identity plus the
// execution payload reference.
type Block struct {
	Number        uint64      `json:"number"`
	Hash          common.Hash `json:"hash"`
	Timestamp     uint64      `json:"timestamp"`
	Slot          uint64      `json:"slot"`
	BlobGasUsed   uint64      `json:"blobGasUsed"`
	ExcessBlobGas uint64      `json:"excessBlobGas"`
}

// Transaction is a blob-carrying execution transaction.
type Transaction struct {
	Hash             common.Hash     `json:"hash"`
	From             common.Address  `json:"from"`
	To               *common.Address `json:"to,omitempty"`
	BlockNumber      uint64          `json:"blockNumber"`
	Index            uint64          `json:"index"`
	GasPrice         *hexutil.Big    `json:"gasPrice"`
	MaxFeePerBlobGas *hexutil.Big    `json:"maxFeePerBlobGas"`
}

// Blob is one blob payload with its commitment and proof, positioned within
// its carrying transaction.
type Blob struct {
	VersionedHash common.Hash   `json:"versionedHash"`
	Commitment    string        `json:"commitment"`
	Proof         string        `json:"proof"`
	Data          hexutil.Bytes `json:"data"`
	TxHash        common.Hash   `json:"txHash"`
	Index         uint64        `json:"index"`
}

// IndexRequest is the bundle delivered to the downstream upsert endpoint.
// Submitting the same slot's bundle twice is indistinguishable downstream
// from submitting it once.
type IndexRequest struct {
	Block        Block         `json:"block"`
	Transactions []Transaction `json:"transactions"`
	Blobs        []Blob        `json:"blobs"`
}

type syncStateRequest struct {
	LastSyncedSlot uint64 `json:"lastSyncedSlot"`
}

type syncStateResponse struct {
	LastSyncedSlot *uint64 `json:"lastSyncedSlot"`
}

type errorResponse struct {
	Message string `json:"message"`
}
