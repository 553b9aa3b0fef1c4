package erc4337

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Node is the subset of a bundler / node JSON-RPC surface the paymaster
// service needs at startup.
type Node interface {
	ChainId(ctx context.Context) (*big.Int, error)
	SupportedEntryPoints(ctx context.Context) ([]common.Address, error)
	Close()
}

type NodeClient struct {
	client *rpc.Client
	eth    *ethclient.Client
}

func DialContext(ctx context.Context, rawurl string) (Node, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return NewNodeClient(c), nil
}

func NewNodeClient(c *rpc.Client) Node {
	return &NodeClient{client: c, eth: ethclient.NewClient(c)}
}

func (n *NodeClient) ChainId(ctx context.Context) (*big.Int, error) {
	return n.eth.ChainID(ctx)
}

func (n *NodeClient) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var result []common.Address
	err := n.client.CallContext(ctx, &result, "eth_supportedEntryPoints")
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (n *NodeClient) Close() {
	n.eth.Close()
}
