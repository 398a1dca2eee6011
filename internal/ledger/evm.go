package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// receiptFetcher is the subset of *ethclient.Client used here.
type receiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVM confirms ERC-20 payments to a fixed payee.
type EVM struct {
	eth     receiptFetcher
	payee   common.Address
	tokens  map[common.Address]string // address -> configured spelling
	timeout time.Duration
}

func NewEVM(rpcURL, payee string, tokens []string, timeout time.Duration) (*EVM, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return newEVM(eth, payee, tokens, timeout)
}

func newEVM(eth receiptFetcher, payee string, tokens []string, timeout time.Duration) (*EVM, error) {
	if !common.IsHexAddress(payee) {
		return nil, fmt.Errorf("invalid payee address %q", payee)
	}
	accepted := make(map[common.Address]string, len(tokens))
	for _, t := range tokens {
		if !common.IsHexAddress(t) {
			return nil, fmt.Errorf("invalid token address %q", t)
		}
		accepted[common.HexToAddress(t)] = t
	}
	return &EVM{eth: eth, payee: common.HexToAddress(payee), tokens: accepted, timeout: timeout}, nil
}

func (e *EVM) QueryTransaction(ctx context.Context, reference string) (*Transaction, error) {
	hash, err := parseTxHash(reference)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	receipt, err := e.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return notFound(reference), nil
		}
		return nil, fmt.Errorf("TransactionReceipt %s: %w", reference, err)
	}

	tx := &Transaction{
		Reference: reference,
		Found:     true,
		Succeeded: receipt.Status == types.ReceiptStatusSuccessful,
		Payee:     e.payee.Hex(),
	}
	if !tx.Succeeded {
		return tx, nil
	}

	// Sum transfers to the payee per token; the first accepted token wins.
	var token common.Address
	total := new(big.Int)
	for _, l := range receipt.Logs {
		if l == nil || len(l.Topics) != 3 || l.Topics[0] != transferTopic {
			continue
		}
		if _, ok := e.tokens[l.Address]; !ok {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != e.payee {
			continue
		}
		if total.Sign() > 0 && l.Address != token {
			continue
		}
		token = l.Address
		total.Add(total, new(big.Int).SetBytes(l.Data))
	}
	// Asset is reported as configured so registry lookups by asset match
	// regardless of address case.
	if total.Sign() > 0 {
		tx.Asset = e.tokens[token]
		tx.Amount = total
	}
	return tx, nil
}

func parseTxHash(reference string) (common.Hash, error) {
	s := strings.TrimPrefix(strings.ToLower(reference), "0x")
	if len(s) != 64 {
		return common.Hash{}, fmt.Errorf("%w: want 32-byte hex, got %d chars", ErrInvalidReference, len(s))
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return common.Hash{}, fmt.Errorf("%w: non-hex character %q", ErrInvalidReference, r)
		}
	}
	return common.HexToHash(s), nil
}
