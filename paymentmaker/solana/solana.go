// Package solana implements the ed25519-based PaymentMaker variant: an SPL
// token transfer from a single keypair-controlled source address, with an
// SPL Memo instruction appended to defeat the duplicate-submission race
// that a retried transaction built against the same recent blockhash would
// otherwise hit (identical instructions sign identically and the second
// submission is rejected as a duplicate).
package solana

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/atxp-dev/atxp-go/atxperrors"
	"github.com/atxp-dev/atxp-go/money"
	"github.com/atxp-dev/atxp-go/paymentmaker"
)

// MemoProgramAddress is the well-known SPL Memo program id.
const MemoProgramAddress = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"

// Network is the identifier this maker reports for destination matching.
const Network = "solana"

// DefaultComputeUnitLimit and DefaultComputeUnitPriceMicrolamports are
// compute-budget values exported for callers. buildInstructions adds no
// compute-budget instruction, so transactions use the cluster's default
// budget.
const (
	DefaultComputeUnitLimit             = uint32(20000)
	DefaultComputeUnitPriceMicrolamports = uint64(1)
)

// Config configures one Maker instance.
type Config struct {
	RPCURL string

	// Mint is the SPL token mint address this maker transfers (e.g. the
	// USDC mint on the configured cluster).
	Mint string
	// Currency is the human currency code the mint represents, used for
	// minor-unit conversion and destination-currency matching.
	Currency string

	// ConfirmationTimeout bounds how long MakePayment waits for the
	// transaction to reach at least one confirmation.
	ConfirmationTimeout time.Duration
	// PropagationDelay is slept after confirmation to let the transaction
	// propagate to the RPC endpoints downstream observers query.
	PropagationDelay time.Duration

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.ConfirmationTimeout == 0 {
		c.ConfirmationTimeout = 60 * time.Second
	}
	if c.PropagationDelay == 0 {
		c.PropagationDelay = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Maker is the Solana PaymentMaker: a single ed25519 keypair paying SPL
// tokens from its own associated token account.
type Maker struct {
	keypair solanago.PrivateKey
	client  *rpc.Client
	cfg     Config
}

// NewMaker constructs a Maker signing with keypair and submitting
// transactions through cfg.RPCURL.
func NewMaker(keypair solanago.PrivateKey, cfg Config) *Maker {
	cfg.setDefaults()
	return &Maker{
		keypair: keypair,
		client:  rpc.New(cfg.RPCURL),
		cfg:     cfg,
	}
}

func (m *Maker) Network() string { return Network }

// GetSourceAddresses reports this maker's single address as a source
// candidate; the pipeline is responsible for deduplicating across makers.
func (m *Maker) GetSourceAddresses(ctx context.Context, q paymentmaker.SourceQuery) ([]paymentmaker.SourceAddress, error) {
	return []paymentmaker.SourceAddress{
		{Network: Network, Address: m.keypair.PublicKey().String()},
	}, nil
}

// MakePayment transfers to the first destination on the solana network
// whose currency matches this maker's configured mint. Returns nil (no
// error) if no destination is compatible.
func (m *Maker) MakePayment(ctx context.Context, destinations []paymentmaker.Destination, memo string, paymentRequestID string) (*paymentmaker.PaymentObject, error) {
	dest, ok := m.pickDestination(destinations)
	if !ok {
		return nil, nil
	}

	amountMinor, err := money.ToMinorUnits(dest.Amount, dest.Currency)
	if err != nil {
		return nil, &atxperrors.PaymentNetworkError{Network: Network, Cause: fmt.Errorf("converting amount %q %s: %w", dest.Amount, dest.Currency, err)}
	}

	if err := m.checkBalance(ctx, amountMinor, dest); err != nil {
		return nil, err
	}

	sig, err := m.submitTransfer(ctx, dest, amountMinor, memo)
	if err != nil {
		return nil, &atxperrors.PaymentNetworkError{Network: Network, Cause: err}
	}

	if err := m.waitForConfirmation(ctx, sig); err != nil {
		return nil, &atxperrors.PaymentNetworkError{Network: Network, Cause: err}
	}

	time.Sleep(m.cfg.PropagationDelay)

	return &paymentmaker.PaymentObject{
		Network:       Network,
		TransactionID: sig.String(),
		Amount:        dest.Amount,
		Currency:      dest.Currency,
		Address:       dest.Address,
	}, nil
}

func (m *Maker) pickDestination(destinations []paymentmaker.Destination) (paymentmaker.Destination, bool) {
	for _, d := range destinations {
		if d.Network != Network {
			continue
		}
		if m.cfg.Currency != "" && d.Currency != m.cfg.Currency {
			continue
		}
		return d, true
	}
	return paymentmaker.Destination{}, false
}

// buildInstructions assembles the SPL token transfer followed by an SPL
// Memo instruction carrying 16 random bytes, hex-encoded. The memo's only
// purpose is to make otherwise-identical transactions distinct so a
// duplicate submission racing the same blockhash doesn't collide; it is
// intentionally unsigned (no accounts) since SPL Memo doesn't require one
// and adding a signer here breaks downstream verification.
func buildInstructions(source, destinationOwner solanago.PublicKey, mint solanago.PublicKey, amount uint64) ([]solanago.Instruction, error) {
	sourceATA, _, err := solanago.FindAssociatedTokenAddress(source, mint)
	if err != nil {
		return nil, fmt.Errorf("deriving source ATA: %w", err)
	}
	destATA, _, err := solanago.FindAssociatedTokenAddress(destinationOwner, mint)
	if err != nil {
		return nil, fmt.Errorf("deriving destination ATA: %w", err)
	}

	transferIx := token.NewTransferInstruction(amount, sourceATA, destATA, source, nil).Build()

	memoBytes := make([]byte, 16)
	if _, err := rand.Read(memoBytes); err != nil {
		return nil, fmt.Errorf("generating memo nonce: %w", err)
	}
	memoData := []byte(hex.EncodeToString(memoBytes))

	memoIx := solanago.NewInstruction(
		solanago.MustPublicKeyFromBase58(MemoProgramAddress),
		solanago.AccountMetaSlice{},
		memoData,
	)

	return []solanago.Instruction{transferIx, memoIx}, nil
}

func (m *Maker) submitTransfer(ctx context.Context, dest paymentmaker.Destination, amount int64, memo string) (solanago.Signature, error) {
	mint := solanago.MustPublicKeyFromBase58(m.cfg.Mint)
	destOwner, err := solanago.PublicKeyFromBase58(dest.Address)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("malformed destination address %q: %w", dest.Address, err)
	}

	instructions, err := buildInstructions(m.keypair.PublicKey(), destOwner, mint, uint64(amount))
	if err != nil {
		return solanago.Signature{}, err
	}

	latest, err := m.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("fetching latest blockhash: %w", err)
	}

	tx, err := solanago.NewTransaction(instructions, latest.Value.Blockhash, solanago.TransactionPayer(m.keypair.PublicKey()))
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("building transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(m.keypair.PublicKey()) {
			return &m.keypair
		}
		return nil
	}); err != nil {
		return solanago.Signature{}, fmt.Errorf("signing transaction: %w", err)
	}

	sig, err := m.client.SendTransaction(ctx, tx)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("submitting transaction: %w", err)
	}
	return sig, nil
}

func (m *Maker) checkBalance(ctx context.Context, amount int64, dest paymentmaker.Destination) error {
	mint := solanago.MustPublicKeyFromBase58(m.cfg.Mint)
	sourceATA, _, err := solanago.FindAssociatedTokenAddress(m.keypair.PublicKey(), mint)
	if err != nil {
		return &atxperrors.PaymentNetworkError{Network: Network, Cause: err}
	}

	balance, err := m.client.GetTokenAccountBalance(ctx, sourceATA, rpc.CommitmentFinalized)
	if err != nil {
		// The associated token account may not exist yet; treat as zero
		// balance rather than a network failure so InsufficientFunds can be
		// raised with a meaningful message.
		m.cfg.Logger.Debug("solana maker: token account balance lookup failed, treating as zero", "error", err)
		return &atxperrors.InsufficientFundsError{Currency: dest.Currency, Required: dest.Amount, Available: "0", Network: Network}
	}

	available := balance.Value.Amount
	availableInt, err := parseUint64(available)
	if err != nil {
		return &atxperrors.PaymentNetworkError{Network: Network, Cause: fmt.Errorf("parsing balance %q: %w", available, err)}
	}
	if availableInt < uint64(amount) {
		return &atxperrors.InsufficientFundsError{Currency: dest.Currency, Required: dest.Amount, Available: balance.Value.UiAmountString, Network: Network}
	}
	return nil
}

func (m *Maker) waitForConfirmation(ctx context.Context, sig solanago.Signature) error {
	deadline := time.Now().Add(m.cfg.ConfirmationTimeout)
	for time.Now().Before(deadline) {
		statuses, err := m.client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(statuses.Value) == 1 && statuses.Value[0] != nil {
			st := statuses.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction %s failed on-chain: %v", sig, st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(400 * time.Millisecond):
		}
	}
	return fmt.Errorf("timed out waiting for confirmation of %s", sig)
}

func parseUint64(s string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
