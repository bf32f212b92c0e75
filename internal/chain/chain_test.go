package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// fakeRPC is a scriptable RPCClient for tests.
type fakeRPC struct {
	nonce       uint64
	nonceErr    error
	gasPrice    *big.Int
	gasPriceErr error
	gasCalls    int
	sendErr     error
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	logs        []types.Log
	block       uint64
}

func (f *fakeRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, f.nonceErr
}

func (f *fakeRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	f.gasCalls++
	if f.gasPriceErr != nil {
		return nil, f.gasPriceErr
	}
	if f.gasPrice == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return f.gasPrice, nil
}

func (f *fakeRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeRPC) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeRPC) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return big.NewInt(42).FillBytes(make([]byte, 32)), nil
}

func (f *fakeRPC) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return f.logs, nil
}

func (f *fakeRPC) BlockNumber(ctx context.Context) (uint64, error) { return f.block, nil }

func (f *fakeRPC) Close() {}

func newTestTreasury(t *testing.T, rpc RPCClient) *Treasury {
	t.Helper()
	tr, err := New(Config{
		TreasuryKey:   testKey,
		ChainID:       84532,
		TokenContract: "0x41C3DdE96a8871Dcf458A275b95E73A53057f1A3",
	}, WithClient(rpc))
	require.NoError(t, err)
	return tr
}

func TestNew_RejectsBadKey(t *testing.T) {
	_, err := New(Config{TreasuryKey: "short", ChainID: 1, TokenContract: "0x1"})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNew_AcceptsPrefixedKey(t *testing.T) {
	tr, err := New(Config{
		TreasuryKey:   "0x" + testKey,
		ChainID:       1,
		TokenContract: "0x41C3DdE96a8871Dcf458A275b95E73A53057f1A3",
	}, WithClient(&fakeRPC{}))
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, tr.Address())
}

func TestSignTransfer_RecoversTreasurySender(t *testing.T) {
	tr := newTestTreasury(t, &fakeRPC{})

	tx, err := tr.SignTransfer(7, big.NewInt(1_000_000_000),
		common.HexToAddress("0x1111111111111111111111111111111111111111"), big.NewInt(1000))
	require.NoError(t, err)

	assert.Equal(t, uint64(7), tx.Nonce())

	signer := types.NewEIP155Signer(big.NewInt(84532))
	from, err := types.Sender(signer, tx)
	require.NoError(t, err)
	assert.Equal(t, tr.Address(), from)
}

func TestBroadcast_WrapsErrorWithHash(t *testing.T) {
	rpc := &fakeRPC{sendErr: errors.New("nonce too low")}
	tr := newTestTreasury(t, rpc)

	tx, err := tr.SignTransfer(0, big.NewInt(1), common.Address{}, big.NewInt(1))
	require.NoError(t, err)

	err = tr.Broadcast(context.Background(), tx)
	require.Error(t, err)

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "broadcast", ce.Op)
	assert.NotEmpty(t, ce.TxHash)
}

func TestReceipt_NotFound(t *testing.T) {
	tr := newTestTreasury(t, &fakeRPC{})

	_, err := tr.Receipt(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestQuoteGasPrice_Caches(t *testing.T) {
	rpc := &fakeRPC{gasPrice: big.NewInt(5)}
	tr := newTestTreasury(t, rpc)

	for i := 0; i < 3; i++ {
		price, err := tr.QuoteGasPrice(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(5), price.Int64())
	}
	assert.Equal(t, 1, rpc.gasCalls)
}

func TestQuoteGasPrice_RefreshesAfterTTL(t *testing.T) {
	rpc := &fakeRPC{gasPrice: big.NewInt(5)}
	tr := newTestTreasury(t, rpc)

	_, err := tr.QuoteGasPrice(context.Background())
	require.NoError(t, err)

	tr.gasMu.Lock()
	tr.gasQuotedAt = time.Now().Add(-time.Minute)
	tr.gasMu.Unlock()

	_, err = tr.QuoteGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rpc.gasCalls)
}

func TestOutboundTransfers_DecodesLogs(t *testing.T) {
	from := common.HexToAddress("0x2222222222222222222222222222222222222222")
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")

	rpc := &fakeRPC{logs: []types.Log{
		{
			TxHash:      common.HexToHash("0xaa"),
			BlockNumber: 100,
			Topics: []common.Hash{
				transferEventSig,
				common.BytesToHash(from.Bytes()),
				common.BytesToHash(to.Bytes()),
			},
			Data: big.NewInt(900).FillBytes(make([]byte, 32)),
		},
		{
			// Malformed log (missing topics) is skipped
			TxHash: common.HexToHash("0xbb"),
			Topics: []common.Hash{transferEventSig},
		},
	}}
	tr := newTestTreasury(t, rpc)

	transfers, err := tr.OutboundTransfers(context.Background(), from, 1, 200)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, int64(900), transfers[0].Amount.Int64())
	assert.Equal(t, uint64(100), transfers[0].BlockNumber)
}

func TestIsNonceError(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"nonce too low", true},
		{"replacement transaction underpriced", true},
		{"already known", true},
		{"rpc error -32000: invalid input", true},
		{"execution reverted", false},
		{"connection refused", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsNonceError(errors.New(tt.msg)), tt.msg)
	}
	assert.False(t, IsNonceError(nil))
}

func TestIsTerminalError(t *testing.T) {
	assert.True(t, IsTerminalError(errors.New("execution reverted: cap")))
	assert.True(t, IsTerminalError(errors.New("insufficient funds for gas * price + value")))
	assert.False(t, IsTerminalError(errors.New("nonce too low")))
	assert.False(t, IsTerminalError(nil))
}
