package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atxp-dev/atxp-go/paymentmaker"
)

type stubClient struct {
	balance       *big.Int
	receiptStatus uint64
	blockNumber   uint64
	confirmedAt   uint64
	sentTx        *types.Transaction
}

func (s *stubClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}
func (s *stubClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (s *stubClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 60000, nil
}
func (s *stubClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	s.sentTx = tx
	return nil
}
func (s *stubClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: s.receiptStatus, BlockNumber: big.NewInt(int64(s.confirmedAt))}, nil
}
func (s *stubClient) BlockNumber(ctx context.Context) (uint64, error) {
	return s.blockNumber, nil
}
func (s *stubClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	word := make([]byte, 32)
	s.balance.FillBytes(word)
	return word, nil
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return priv
}

func TestMakePayment_Succeeds(t *testing.T) {
	priv := testKey(t)
	client := &stubClient{
		balance:       big.NewInt(1_000_000),
		receiptStatus: types.ReceiptStatusSuccessful,
		blockNumber:   105,
		confirmedAt:   100,
	}
	m := NewMaker(priv, client, Config{
		Network:       "base",
		TokenContract: common.HexToAddress("0x1122"),
		Currency:      "USDC",
		ChainID:       big.NewInt(8453),
		RequiredConfirmations: 2,
		PropagationDelay:      0,
	})

	dest := paymentmaker.Destination{
		Network: "base", Address: "0x000000000000000000000000000000000000aa",
		Amount: "0.5", Currency: "USDC",
	}
	result, err := m.MakePayment(context.Background(), []paymentmaker.Destination{dest}, "memo", "")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "base", result.Network)
	assert.NotNil(t, client.sentTx)
}

func TestMakePayment_NoCompatibleDestination(t *testing.T) {
	priv := testKey(t)
	client := &stubClient{balance: big.NewInt(0)}
	m := NewMaker(priv, client, Config{Network: "base", Currency: "USDC", ChainID: big.NewInt(8453)})

	result, err := m.MakePayment(context.Background(), []paymentmaker.Destination{
		{Network: "polygon", Address: "0xaa", Amount: "1", Currency: "USDC"},
	}, "memo", "")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestMakePayment_InsufficientFunds(t *testing.T) {
	priv := testKey(t)
	client := &stubClient{balance: big.NewInt(10)}
	m := NewMaker(priv, client, Config{Network: "base", Currency: "USDC", ChainID: big.NewInt(8453)})

	dest := paymentmaker.Destination{Network: "base", Address: "0x000000000000000000000000000000000000aa", Amount: "100", Currency: "USDC"}
	_, err := m.MakePayment(context.Background(), []paymentmaker.Destination{dest}, "memo", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestEncodeTransfer_AppendsMemoAfterFixedArgs(t *testing.T) {
	to := common.HexToAddress("0x000000000000000000000000000000000000aa")
	amount := big.NewInt(12345)
	data := encodeTransfer(to, amount, []byte("hello"))

	require.True(t, len(data) >= 4+32+32)
	assert.Equal(t, erc20TransferSelector[:], data[0:4])
	assert.Equal(t, "hello", string(data[4+32+32:]))
}

func TestGenerateJWT_SignsWithES256K(t *testing.T) {
	priv := testKey(t)
	client := &stubClient{balance: big.NewInt(0)}
	m := NewMaker(priv, client, Config{Network: "base", Currency: "USDC", ChainID: big.NewInt(8453)})

	token, err := m.GenerateJWT(context.Background(), paymentmaker.JWTRequest{PaymentRequestID: "preq-1"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	parsed, err := jwtlib.Parse(token, func(tok *jwtlib.Token) (any, error) {
		return &priv.PublicKey, nil
	}, jwtlib.WithValidMethods([]string{"ES256K"}))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	require.True(t, ok)
	assert.Equal(t, m.addr.Hex(), claims["sub"])
	assert.Equal(t, "preq-1", claims["payment_request_id"])
}
