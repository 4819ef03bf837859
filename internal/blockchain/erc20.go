package blockchain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20ABI = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"payable":false,"stateMutability":"view","type":"function"}
]`

// TokenMetadata describes an ERC-20 contract
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// TokenMetadata reads decimals, symbol and name of an ERC-20 contract.
// decimals is required; symbol and name are left empty when the contract
// does not expose them.
func (c *Client) TokenMetadata(ctx context.Context, contract string) (TokenMetadata, error) {
	if !common.IsHexAddress(contract) {
		return TokenMetadata{}, fmt.Errorf("invalid contract address %q", contract)
	}
	addr := common.HexToAddress(contract)

	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	var meta TokenMetadata

	decimals, err := c.call(rpcCtx, addr, "decimals")
	if err != nil {
		return meta, fmt.Errorf("decimals: %w", err)
	}
	d, ok := decimals.(uint8)
	if !ok {
		return meta, fmt.Errorf("decimals: unexpected type %T", decimals)
	}
	meta.Decimals = d

	if symbol, err := c.call(rpcCtx, addr, "symbol"); err == nil {
		meta.Symbol, _ = symbol.(string)
	}
	if name, err := c.call(rpcCtx, addr, "name"); err == nil {
		meta.Name, _ = name.(string)
	}

	return meta, nil
}

// call invokes a no-argument view method and returns its single output
func (c *Client) call(ctx context.Context, addr common.Address, method string) (any, error) {
	var out []any
	err := c.retryWithBackoff(ctx, func(ethClient *ethclient.Client) error {
		contract := bind.NewBoundContract(addr, c.parsedABI, ethClient, ethClient, ethClient)
		out = nil
		return contract.Call(&bind.CallOpts{Context: ctx}, &out, method)
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out[0], nil
}
