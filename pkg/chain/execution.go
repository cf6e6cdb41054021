package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/blobscan/blob-indexer/pkg/errs"
)

// ExecutionAPI is the capability interface for the execution client.
type ExecutionAPI interface {
	BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

type ExecutionClient struct {
	eth *ethclient.Client
}

func NewExecutionClient(ctx context.Context, endpoint string) (*ExecutionClient, error) {
	eth, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "dialing execution client")
	}

	return &ExecutionClient{eth: eth}, nil
}

func (c *ExecutionClient) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	block, err := c.eth.BlockByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			// The beacon chain referenced this payload, so the execution
			// client is lagging and the block will appear; not a fault.
			return nil, errs.Transient(errors.Wrapf(err, "execution block %s not yet available", hash))
		}
		return nil, errs.Transient(errors.Wrapf(err, "fetching execution block %s", hash))
	}

	return block, nil
}

func (c *ExecutionClient) ChainID(ctx context.Context) (*big.Int, error) {
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, errs.Transient(errors.Wrap(err, "fetching chain ID"))
	}

	return chainID, nil
}

func (c *ExecutionClient) Close() {
	c.eth.Close()
}
