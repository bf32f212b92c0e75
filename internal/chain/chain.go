// Package chain handles all settlement-network interactions for the treasury.
//
// It is a thin wrapper over the JSON-RPC surface: balance reads, gas
// quotes, transaction signing and broadcast, receipt and event-log reads.
// Broadcast is the only state-changing call; everything else is an
// idempotent read. Nonce policy lives in the nonce package, retry policy
// in the submitter; this package never retries on its own.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrInvalidKey      = errors.New("chain: invalid treasury key")
	ErrInvalidAddress  = errors.New("chain: invalid address")
	ErrRPCConnection   = errors.New("chain: RPC connection failed")
	ErrReceiptNotFound = errors.New("chain: receipt not found")
)

// CallError wraps RPC failures with the operation that produced them.
type CallError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *CallError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// Interfaces
// -----------------------------------------------------------------------------

// RPCClient abstracts the go-ethereum client for testing.
type RPCClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// ERC20 minimal ABI for transfer and balanceOf
const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

// transferEventSig is the keccak hash of Transfer(address,address,uint256).
var transferEventSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const (
	// DefaultGasLimit for ERC20 transfers
	DefaultGasLimit = uint64(100000)

	// gasQuoteTTL bounds how long a gas price quote is reused.
	gasQuoteTTL = 10 * time.Second
)

// Config for creating a treasury client.
type Config struct {
	RPCURL        string
	TreasuryKey   string // Hex string, with or without 0x prefix
	ChainID       int64
	TokenContract string
}

// Option configures the treasury client.
type Option func(*Treasury)

// WithClient sets a custom RPC client (useful for testing).
func WithClient(client RPCClient) Option {
	return func(t *Treasury) {
		t.client = client
	}
}

// TokenTransfer is a decoded ERC-20 Transfer event.
type TokenTransfer struct {
	TxHash      string
	From        string
	To          string
	Amount      *big.Int
	BlockNumber uint64
}

// Treasury signs and broadcasts SKILL transfers from the treasury identity.
type Treasury struct {
	client        RPCClient
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	chainID       *big.Int
	tokenContract common.Address
	tokenABI      abi.ABI

	// Gas quote cache
	gasMu       sync.Mutex
	gasQuote    *big.Int
	gasQuotedAt time.Time
}

// New creates a treasury client from config.
func New(cfg Config, opts ...Option) (*Treasury, error) {
	key := strings.TrimPrefix(cfg.TreasuryKey, "0x")
	if len(key) != 64 {
		return nil, fmt.Errorf("%w: must be 64 hex characters", ErrInvalidKey)
	}
	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidKey)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("chain ID required")
	}
	if cfg.TokenContract == "" {
		return nil, fmt.Errorf("token contract address required")
	}

	t := &Treasury{
		privateKey:    privateKey,
		address:       crypto.PubkeyToAddress(*publicKey),
		chainID:       big.NewInt(cfg.ChainID),
		tokenContract: common.HexToAddress(cfg.TokenContract),
		tokenABI:      parsedABI,
	}

	for _, opt := range opts {
		opt(t)
	}

	// Connect to RPC if no client provided
	if t.client == nil {
		if cfg.RPCURL == "" {
			return nil, fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
		}
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		t.client = client
	}

	return t, nil
}

// Address returns the treasury signer's address.
func (t *Treasury) Address() common.Address {
	return t.address
}

// TokenBalance returns the SKILL balance of any address in raw units.
func (t *Treasury) TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	data, err := t.tokenABI.Pack("balanceOf", addr)
	if err != nil {
		return nil, &CallError{Op: "pack_balance", Err: err}
	}

	result, err := t.client.CallContract(ctx, ethereum.CallMsg{
		To:   &t.tokenContract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, &CallError{Op: "balance_of", Err: err}
	}

	balance := new(big.Int)
	balance.SetBytes(result)
	return balance, nil
}

// TreasuryBalance returns the treasury's own SKILL balance in raw units.
func (t *Treasury) TreasuryBalance(ctx context.Context) (*big.Int, error) {
	return t.TokenBalance(ctx, t.address)
}

// PendingNonce fetches the treasury's pending-state transaction count.
func (t *Treasury) PendingNonce(ctx context.Context) (uint64, error) {
	nonce, err := t.client.PendingNonceAt(ctx, t.address)
	if err != nil {
		return 0, &CallError{Op: "pending_nonce", Err: err}
	}
	return nonce, nil
}

// QuoteGasPrice returns the network's suggested gas price, cached briefly
// so a burst of concurrent submits doesn't stampede the RPC endpoint.
func (t *Treasury) QuoteGasPrice(ctx context.Context) (*big.Int, error) {
	t.gasMu.Lock()
	if t.gasQuote != nil && time.Since(t.gasQuotedAt) < gasQuoteTTL {
		quote := new(big.Int).Set(t.gasQuote)
		t.gasMu.Unlock()
		return quote, nil
	}
	t.gasMu.Unlock()

	price, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &CallError{Op: "gas_price", Err: err}
	}

	t.gasMu.Lock()
	t.gasQuote = new(big.Int).Set(price)
	t.gasQuotedAt = time.Now()
	t.gasMu.Unlock()

	return price, nil
}

// SignTransfer builds and signs a SKILL transfer without broadcasting it.
func (t *Treasury) SignTransfer(nonce uint64, gasPrice *big.Int, to common.Address, amount *big.Int) (*types.Transaction, error) {
	data, err := t.tokenABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, &CallError{Op: "pack_transfer", Err: err}
	}

	tx := types.NewTransaction(nonce, t.tokenContract, big.NewInt(0), DefaultGasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(t.chainID), t.privateKey)
	if err != nil {
		return nil, &CallError{Op: "sign", Err: err}
	}
	return signedTx, nil
}

// Broadcast submits a signed transaction to the network.
func (t *Treasury) Broadcast(ctx context.Context, tx *types.Transaction) error {
	if err := t.client.SendTransaction(ctx, tx); err != nil {
		return &CallError{Op: "broadcast", TxHash: tx.Hash().Hex(), Err: err}
	}
	return nil
}

// Receipt fetches the receipt for a transaction hash. Returns
// ErrReceiptNotFound while the transaction is unmined.
func (t *Treasury) Receipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	receipt, err := t.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, &CallError{Op: "receipt", TxHash: txHash, Err: err}
	}
	return receipt, nil
}

// BlockNumber returns the latest block number.
func (t *Treasury) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := t.client.BlockNumber(ctx)
	if err != nil {
		return 0, &CallError{Op: "block_number", Err: err}
	}
	return n, nil
}

// OutboundTransfers returns SKILL Transfer events sent *from* the given
// address within the block range. Used by the post-payout dump monitor.
func (t *Treasury) OutboundTransfers(ctx context.Context, from common.Address, fromBlock, toBlock uint64) ([]TokenTransfer, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{t.tokenContract},
		Topics: [][]common.Hash{
			{transferEventSig},
			{common.BytesToHash(from.Bytes())}, // from address (indexed)
		},
	}

	logs, err := t.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, &CallError{Op: "filter_logs", Err: err}
	}

	var result []TokenTransfer
	for _, vLog := range logs {
		if len(vLog.Topics) < 3 {
			continue
		}
		result = append(result, TokenTransfer{
			TxHash:      vLog.TxHash.Hex(),
			From:        strings.ToLower(common.HexToAddress(vLog.Topics[1].Hex()).Hex()),
			To:          strings.ToLower(common.HexToAddress(vLog.Topics[2].Hex()).Hex()),
			Amount:      new(big.Int).SetBytes(vLog.Data),
			BlockNumber: vLog.BlockNumber,
		})
	}
	return result, nil
}

// Close closes the underlying RPC connection.
func (t *Treasury) Close() error {
	if t.client != nil {
		t.client.Close()
	}
	return nil
}
