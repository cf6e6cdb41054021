// Package normalize turns raw per-slot chain data into the canonical records
// delivered downstream. It performs no I/O.
package normalize

import (
	"crypto/sha256"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blobscan/blob-indexer/pkg/api"
	"github.com/blobscan/blob-indexer/pkg/chain"
	"github.com/blobscan/blob-indexer/pkg/errs"
)

const blobCommitmentVersionKZG = 0x01

// Normalize transforms one slot's raw data into a Block record, its
// blob-carrying Transactions, and their Blobs. Structurally malformed input
// fails with a ValidationError; re-fetching would reproduce it, so the slot
// is not retried.
func Normalize(data *chain.SlotData) (*api.IndexRequest, error) {
	block := data.Block
	header := block.Header()

	if header.BlobGasUsed == nil {
		return nil, errs.Validationf("execution block %s (number %d) is missing blob_gas_used", block.Hash(), block.NumberU64())
	}
	if header.ExcessBlobGas == nil {
		return nil, errs.Validationf("execution block %s (number %d) is missing excess_blob_gas", block.Hash(), block.NumberU64())
	}

	sidecarsByHash, err := mapSidecarsByVersionedHash(data.Sidecars)
	if err != nil {
		return nil, err
	}

	signer := types.LatestSignerForChainID(data.ChainID)

	var (
		txs   []api.Transaction
		blobs []api.Blob
	)

	for txIndex, tx := range block.Transactions() {
		blobHashes := tx.BlobHashes()
		if len(blobHashes) == 0 {
			continue
		}

		from, err := types.Sender(signer, tx)
		if err != nil {
			return nil, errs.Validationf("recovering sender of tx %s: %v", tx.Hash(), err)
		}

		txs = append(txs, api.Transaction{
			Hash:             tx.Hash(),
			From:             from,
			To:               tx.To(),
			BlockNumber:      block.NumberU64(),
			Index:            uint64(txIndex),
			GasPrice:         (*hexutil.Big)(effectiveGasPrice(tx, header.BaseFee)),
			MaxFeePerBlobGas: (*hexutil.Big)(tx.BlobGasFeeCap()),
		})

		for i, versionedHash := range blobHashes {
			sidecar, ok := sidecarsByHash[versionedHash]
			if !ok {
				return nil, errs.Validationf(
					"sidecar not found for blob %d with versioned hash %s from tx %s",
					i, versionedHash, tx.Hash(),
				)
			}

			blobs = append(blobs, api.Blob{
				VersionedHash: versionedHash,
				Commitment:    sidecar.KZGCommitment,
				Proof:         sidecar.KZGProof,
				Data:          sidecar.Blob,
				TxHash:        tx.Hash(),
				Index:         uint64(i),
			})
		}
	}

	if len(txs) == 0 {
		return nil, errs.Validationf("execution block %s has no blob transactions", block.Hash())
	}

	return &api.IndexRequest{
		Block: api.Block{
			Number:        block.NumberU64(),
			Hash:          block.Hash(),
			Timestamp:     block.Time(),
			Slot:          data.Slot,
			BlobGasUsed:   *header.BlobGasUsed,
			ExcessBlobGas: *header.ExcessBlobGas,
		},
		Transactions: txs,
		Blobs:        blobs,
	}, nil
}

func mapSidecarsByVersionedHash(sidecars []chain.BlobSidecar) (map[common.Hash]chain.BlobSidecar, error) {
	byHash := make(map[common.Hash]chain.BlobSidecar, len(sidecars))

	for _, sidecar := range sidecars {
		versionedHash, err := VersionedHash(sidecar.KZGCommitment)
		if err != nil {
			return nil, err
		}

		if _, ok := byHash[versionedHash]; !ok {
			byHash[versionedHash] = sidecar
		}
	}

	return byHash, nil
}

// VersionedHash derives a blob's versioned hash from its KZG commitment:
// sha256 of the commitment with the first byte replaced by the commitment
// version.
func VersionedHash(commitment string) (common.Hash, error) {
	raw, err := hexutil.Decode(commitment)
	if err != nil {
		return common.Hash{}, errs.Validationf("decoding commitment %q: %v", commitment, err)
	}

	hash := sha256.Sum256(raw)
	hash[0] = blobCommitmentVersionKZG

	return common.Hash(hash), nil
}

// effectiveGasPrice mirrors the price the transaction actually paid: for
// dynamic-fee transactions the base fee plus the effective tip, capped by
// the fee cap.
func effectiveGasPrice(tx *types.Transaction, baseFee *big.Int) *big.Int {
	if baseFee == nil {
		return tx.GasPrice()
	}
	return new(big.Int).Add(baseFee, tx.EffectiveGasTipValue(baseFee))
}
