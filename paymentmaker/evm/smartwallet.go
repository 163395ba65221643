package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atxp-dev/atxp-go/atxperrors"
	"github.com/atxp-dev/atxp-go/money"
	"github.com/atxp-dev/atxp-go/paymentmaker"
)

// Bundler is the narrow surface this maker needs from a user-operation
// bundler/relayer. A production implementation talks ERC-4337 JSON-RPC
// (eth_sendUserOperation / eth_getUserOperationReceipt); tests substitute a
// stub.
type Bundler interface {
	SendUserOperation(ctx context.Context, op UserOperation) (string, error)
	WaitForReceipt(ctx context.Context, userOpHash string, timeout time.Duration) (txHash common.Hash, err error)
}

// UserOperation is the minimal ERC-4337 envelope this maker constructs: a
// spend-permission call against the user's main wallet followed by the
// token transfer from the ephemeral smart wallet.
type UserOperation struct {
	Sender   common.Address
	CallData []byte
	Nonce    *big.Int
}

// SmartWalletConfig configures the spend-permission variant.
type SmartWalletConfig struct {
	Network               string
	TokenContract         common.Address
	Currency              string
	SmartWalletAddress    common.Address
	SpendPermissionCaller common.Address // the contract exercising the granted spend permission

	RequiredConfirmations uint64
	ConfirmationTimeout   time.Duration
	PropagationDelay      time.Duration

	Logger *slog.Logger
}

func (c *SmartWalletConfig) setDefaults() {
	if c.RequiredConfirmations == 0 {
		c.RequiredConfirmations = 1
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

// SmartWalletMaker builds user-operations for an ephemeral smart wallet
// that draws funds from the user's main wallet via a previously granted
// spend permission, and hands them to a Bundler. The UserOperation it builds
// carries no signature; signing it is left to the Bundler.
type SmartWalletMaker struct {
	signerKey *ecdsa.PrivateKey // the smart wallet's owner key, used to sign the JWT from GenerateJWT
	bundler   Bundler
	client    ethClient
	cfg       SmartWalletConfig
}

// NewSmartWalletMaker constructs a SmartWalletMaker. signerKey is the owner
// key of cfg.SmartWalletAddress and signs the JWTs; bundler submits the
// user-operations.
func NewSmartWalletMaker(signerKey *ecdsa.PrivateKey, bundler Bundler, client ethClient, cfg SmartWalletConfig) *SmartWalletMaker {
	cfg.setDefaults()
	return &SmartWalletMaker{signerKey: signerKey, bundler: bundler, client: client, cfg: cfg}
}

func (m *SmartWalletMaker) Network() string { return m.cfg.Network }

func (m *SmartWalletMaker) GetSourceAddresses(ctx context.Context, q paymentmaker.SourceQuery) ([]paymentmaker.SourceAddress, error) {
	return []paymentmaker.SourceAddress{{Network: m.cfg.Network, Address: m.cfg.SmartWalletAddress.Hex()}}, nil
}

// spendPermissionSelector is a placeholder selector for the
// "spendFromPermission(address,uint256)"-shaped call the spend-permission
// contract exposes; production wiring supplies the real ABI once the
// specific spend-permission contract version is pinned.
var spendPermissionSelector = [4]byte{0x9a, 0x9d, 0x7c, 0x1a}

// MakePayment submits the spend-permission draw and the token transfer as
// one user-operation, then waits for its receipt and confirmations. It does
// not check any balance before submitting.
func (m *SmartWalletMaker) MakePayment(ctx context.Context, destinations []paymentmaker.Destination, memo string, paymentRequestID string) (*paymentmaker.PaymentObject, error) {
	dest, ok := m.pickDestination(destinations)
	if !ok {
		return nil, nil
	}

	amountMinor, err := money.ToMinorUnits(dest.Amount, dest.Currency)
	if err != nil {
		return nil, &atxperrors.PaymentNetworkError{Network: m.cfg.Network, Cause: fmt.Errorf("converting amount %q %s: %w", dest.Amount, dest.Currency, err)}
	}
	amount := big.NewInt(amountMinor)

	toAddr := common.HexToAddress(dest.Address)

	var spendWord [32]byte
	copy(spendWord[12:], m.cfg.SmartWalletAddress.Bytes())
	var spendAmountWord [32]byte
	amount.FillBytes(spendAmountWord[:])
	spendCall := append(append(append([]byte{}, spendPermissionSelector[:]...), spendWord[:]...), spendAmountWord[:]...)

	transferCall := encodeTransfer(toAddr, amount, []byte(memo))

	callData := append(append([]byte{}, spendCall...), transferCall...)

	nonce, err := m.client.PendingNonceAt(ctx, m.cfg.SmartWalletAddress)
	if err != nil {
		return nil, &atxperrors.PaymentNetworkError{Network: m.cfg.Network, Cause: fmt.Errorf("fetching smart wallet nonce: %w", err)}
	}

	op := UserOperation{
		Sender:   m.cfg.SmartWalletAddress,
		CallData: callData,
		Nonce:    new(big.Int).SetUint64(nonce),
	}

	userOpHash, err := m.bundler.SendUserOperation(ctx, op)
	if err != nil {
		return nil, &atxperrors.PaymentNetworkError{Network: m.cfg.Network, Cause: fmt.Errorf("submitting user operation: %w", err)}
	}

	txHash, err := m.bundler.WaitForReceipt(ctx, userOpHash, m.cfg.ConfirmationTimeout)
	if err != nil {
		return nil, &atxperrors.PaymentNetworkError{Network: m.cfg.Network, Cause: fmt.Errorf("waiting for user operation receipt: %w", err)}
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

func (m *SmartWalletMaker) pickDestination(destinations []paymentmaker.Destination) (paymentmaker.Destination, bool) {
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

func (m *SmartWalletMaker) waitForConfirmations(ctx context.Context, txHash common.Hash) error {
	deadline := time.Now().Add(m.cfg.ConfirmationTimeout)
	for time.Now().Before(deadline) {
		receipt, err := m.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
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
	return fmt.Errorf("timed out waiting for confirmation of %s", txHash)
}

// GenerateJWT produces the same ES256K JWT as the EOA Maker, signed by the
// owner key, with the smart wallet address as subject. The signature does
// not recover to the subject address, so it can only be checked through the
// wallet contract (EIP-1271 isValidSignature). The header alg is "ES256K";
// no separate human-readable message is signed.
func (m *SmartWalletMaker) GenerateJWT(ctx context.Context, req paymentmaker.JWTRequest) (string, error) {
	eoa := &Maker{priv: m.signerKey, addr: m.cfg.SmartWalletAddress, cfg: Config{Network: m.cfg.Network}}
	return eoa.GenerateJWT(ctx, req)
}
