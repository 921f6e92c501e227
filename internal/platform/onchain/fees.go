// Package onchain reads Uniswap v3 state directly from an Ethereum JSON-RPC
// endpoint. The subgraph lags the chain by a few blocks and never exposes
// uncollected fees, so those are read here with static calls.
package onchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// positionManagerAddress is the Uniswap v3 NonfungiblePositionManager. The
// address is the same on mainnet and most L2s.
const positionManagerAddress = "0xC36442b4a4522E871399CD717aBDD847Ab11FE88"

// collectSelector is the 4-byte selector of
// collect((uint256,address,uint128,uint128)).
var collectSelector = []byte{0xfc, 0x6f, 0x78, 0x65}

// maxUint128 passed as both amount caps makes collect() report the full
// claimable fees without executing a transaction.
var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// ContractCaller is the subset of ethclient.Client used for static calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Fees holds the uncollected fee amounts of a position in human units.
type Fees struct {
	Fees0 decimal.Decimal
	Fees1 decimal.Decimal
}

// FeeReader fetches uncollected LP fees with eth_call.
type FeeReader struct {
	caller  ContractCaller
	manager common.Address
	logger  *slog.Logger
}

// NewFeeReader creates a FeeReader on top of an existing RPC caller.
func NewFeeReader(caller ContractCaller, logger *slog.Logger) *FeeReader {
	return &FeeReader{
		caller:  caller,
		manager: common.HexToAddress(positionManagerAddress),
		logger:  logger.With(slog.String("component", "onchain")),
	}
}

// Dial connects to a JSON-RPC endpoint and returns a FeeReader backed by it.
func Dial(ctx context.Context, rpcURL string, logger *slog.Logger) (*FeeReader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial %s: %w", rpcURL, err)
	}
	return NewFeeReader(client, logger), nil
}

// UncollectedFees returns the pending fees of a position NFT, converted to
// human units with the pool token decimals.
func (r *FeeReader) UncollectedFees(ctx context.Context, nftID string, decimals0, decimals1 int) (Fees, error) {
	tokenID, ok := new(big.Int).SetString(nftID, 10)
	if !ok {
		return Fees{}, fmt.Errorf("onchain: invalid nft id %q", nftID)
	}

	data := encodeCollectCall(tokenID)
	msg := ethereum.CallMsg{To: &r.manager, Data: data}

	result, err := r.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return Fees{}, fmt.Errorf("onchain: collect call for %s: %w", nftID, err)
	}
	if len(result) < 64 {
		return Fees{}, fmt.Errorf("onchain: collect call for %s: short return data (%d bytes)", nftID, len(result))
	}

	amount0 := new(big.Int).SetBytes(result[:32])
	amount1 := new(big.Int).SetBytes(result[32:64])

	return Fees{
		Fees0: decimal.NewFromBigInt(amount0, -int32(decimals0)),
		Fees1: decimal.NewFromBigInt(amount1, -int32(decimals1)),
	}, nil
}

// encodeCollectCall ABI-encodes collect((tokenId, recipient, amount0Max,
// amount1Max)) with a zero recipient and max caps.
func encodeCollectCall(tokenID *big.Int) []byte {
	data := make([]byte, 0, 4+4*32)
	data = append(data, collectSelector...)
	data = append(data, common.LeftPadBytes(tokenID.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(nil, 32)...) // recipient: zero address
	data = append(data, common.LeftPadBytes(maxUint128.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(maxUint128.Bytes(), 32)...)
	return data
}
