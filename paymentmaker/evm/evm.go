// Package evm implements the EVM-based PaymentMaker variants: an EOA
// main-wallet variant that submits an ERC-20 transfer directly, and a
// smart-wallet spend-permission variant that routes through a bundler's
// user-operation flow. Both satisfy the same paymentmaker.Maker contract;
// neither inherits from the other.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/atxp-dev/atxp-go/atxperrors"
	"github.com/atxp-dev/atxp-go/money"
	"github.com/atxp-dev/atxp-go/paymentmaker"
)

// Config configures one EOA Maker instance.
type Config struct {
	RPCURL string
	// Network is the chain identifier reported by this maker and matched
	// against destination.Network (e.g. "base", "polygon", "worldchain").
	Network string
	// TokenContract is the ERC-20 token address this maker transfers.
	TokenContract common.Address
	// Currency is the human currency code the token represents.
	Currency string
	// ChainID is required to sign EIP-155 transactions.
	ChainID *big.Int

	RequiredConfirmations uint64
	ConfirmationTimeout   time.Duration
	PropagationDelay      time.Duration

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.RequiredConfirmations == 0 {
		c.RequiredConfirmations = 2
	}
	if c.ConfirmationTimeout == 0 {
		c.ConfirmationTimeout = 120 * time.Second
	}
	if c.PropagationDelay == 0 {
		c.PropagationDelay = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ethClient is the subset of *ethclient.Client the maker depends on, kept
// narrow so tests can substitute a stub instead of spinning up a real node.
type ethClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ ethClient = (*ethclient.Client)(nil)

// Maker is the EOA main-wallet PaymentMaker: it signs and submits ERC-20
// transfers directly from a single secp256k1 key.
type Maker struct {
	priv   *ecdsa.PrivateKey
	addr   common.Address
	client ethClient
	cfg    Config
}

// NewMaker constructs a Maker signing with priv and submitting transactions
// through client.
func NewMaker(priv *ecdsa.PrivateKey, client ethClient, cfg Config) *Maker {
	cfg.setDefaults()
	return &Maker{
		priv:   priv,
		addr:   crypto.PubkeyToAddress(priv.PublicKey),
		client: client,
		cfg:    cfg,
	}
}

func (m *Maker) Network() string { return m.cfg.Network }

func (m *Maker) GetSourceAddresses(ctx context.Context, q paymentmaker.SourceQuery) ([]paymentmaker.SourceAddress, error) {
	return []paymentmaker.SourceAddress{{Network: m.cfg.Network, Address: m.addr.Hex()}}, nil
}

func (m *Maker) MakePayment(ctx context.Context, destinations []paymentmaker.Destination, memo string, paymentRequestID string) (*paymentmaker.PaymentObject, error) {
	dest, ok := m.pickDestination(destinations)
	if !ok {
		return nil, nil
	}

	amountMinor, err := money.ToMinorUnits(dest.Amount, dest.Currency)
	if err != nil {
		return nil, &atxperrors.PaymentNetworkError{Network: m.cfg.Network, Cause: fmt.Errorf("converting amount %q %s: %w", dest.Amount, dest.Currency, err)}
	}
	amount := big.NewInt(amountMinor)

	if err := m.checkBalance(ctx, amount, dest); err != nil {
		return nil, err
	}

	toAddr := common.HexToAddress(dest.Address)
	calldata := encodeTransfer(toAddr, amount, []byte(memo))

	txHash, err := m.submitTransfer(ctx, calldata)
	if err != nil {
		return nil, &atxperrors.PaymentNetworkError{Network: m.cfg.Network, Cause: err}
	}

	if err := m.waitForConfirmations(ctx, txHash); err != nil {
		return nil, &atxperrors.PaymentNetworkError{Network: m.cfg.Network, Cause: err}
	}

	time.Sleep(m.cfg.PropagationDelay)

	return &paymentmaker.PaymentObject{
		Network:       m.cfg.Network,
		TransactionID: txHash.Hex(),
		Amount:        dest.Amount,
		Currency:      dest.Currency,
		Address:       dest.Address,
	}, nil
}

func (m *Maker) pickDestination(destinations []paymentmaker.Destination) (paymentmaker.Destination, bool) {
	for _, d := range destinations {
		if d.Network != m.cfg.Network {
			continue
		}
		if m.cfg.Currency != "" && d.Currency != m.cfg.Currency {
			continue
		}
		return d, true
	}
	return paymentmaker.Destination{}, false
}

// balanceOfSelector is keccak256("balanceOf(address)")[:4].
var balanceOfSelector = [4]byte{0x70, 0xa0, 0x82, 0x31}

func (m *Maker) checkBalance(ctx context.Context, amount *big.Int, dest paymentmaker.Destination) error {
	var addrWord [32]byte
	copy(addrWord[12:], m.addr.Bytes())
	calldata := append(append([]byte{}, balanceOfSelector[:]...), addrWord[:]...)

	out, err := m.client.CallContract(ctx, ethereum.CallMsg{To: &m.cfg.TokenContract, Data: calldata}, nil)
	if err != nil {
		return &atxperrors.PaymentNetworkError{Network: m.cfg.Network, Cause: fmt.Errorf("calling balanceOf: %w", err)}
	}
	balance := new(big.Int).SetBytes(out)
	if balance.Cmp(amount) < 0 {
		return &atxperrors.InsufficientFundsError{
			Currency: dest.Currency, Required: dest.Amount, Available: balance.String(), Network: m.cfg.Network,
		}
	}
	return nil
}

func (m *Maker) submitTransfer(ctx context.Context, calldata []byte) (common.Hash, error) {
	nonce, err := m.client.PendingNonceAt(ctx, m.addr)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetching nonce: %w", err)
	}
	gasPrice, err := m.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetching gas price: %w", err)
	}
	gasLimit, err := m.client.EstimateGas(ctx, ethereum.CallMsg{
		From: m.addr, To: &m.cfg.TokenContract, Data: calldata,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimating gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &m.cfg.TokenContract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})

	signer := types.NewEIP155Signer(m.cfg.ChainID)
	signedTx, err := types.SignTx(tx, signer, m.priv)
	if err != nil {
		return common.Hash{}, fmt.Errorf("signing transaction: %w", err)
	}

	if err := m.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("submitting transaction: %w", err)
	}
	return signedTx.Hash(), nil
}

func (m *Maker) waitForConfirmations(ctx context.Context, txHash common.Hash) error {
	deadline := time.Now().Add(m.cfg.ConfirmationTimeout)
	for time.Now().Before(deadline) {
		receipt, err := m.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("transaction %s reverted", txHash)
			}
			head, err := m.client.BlockNumber(ctx)
			if err == nil && head >= receipt.BlockNumber.Uint64()+m.cfg.RequiredConfirmations-1 {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("timed out waiting for %d confirmations of %s", m.cfg.RequiredConfirmations, txHash)
}
