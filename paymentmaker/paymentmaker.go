// Package paymentmaker defines the polymorphic PaymentMaker contract that
// every chain-specific implementation satisfies. Each variant is
// self-contained: the pipeline never dispatches across chains by
// inheritance, only by trying each configured maker in order and asking it
// whether it recognizes a destination.
package paymentmaker

import (
	"context"
)

// Destination is one place a payment could settle to.
type Destination struct {
	Network  string
	Address  string
	Amount   string // decimal string, e.g. "0.01"
	Currency string
}

// SourceQuery is the input to GetSourceAddresses.
type SourceQuery struct {
	Amount   string
	Currency string
	Receiver string
	Memo     string
}

// SourceAddress is one candidate a maker can pay from.
type SourceAddress struct {
	Network string
	Address string
}

// PaymentObject is the settlement record a successful makePayment call
// produces; it is both returned to the pipeline and PUT to the
// payment-request URL at settlement time.
type PaymentObject struct {
	Network       string `json:"network"`
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Address       string `json:"address"`
}

// JWTRequest is the input to GenerateJWT.
type JWTRequest struct {
	PaymentRequestID string
	CodeChallenge    string
}

// Maker is the contract every chain-specific PaymentMaker implementation
// satisfies.
type Maker interface {
	// GetSourceAddresses enumerates addresses this maker can pay from for
	// the given query. A maker with no usable source address returns an
	// empty slice, not an error.
	GetSourceAddresses(ctx context.Context, q SourceQuery) ([]SourceAddress, error)

	// MakePayment inspects destinations and returns nil (no error) when
	// none of them are compatible with this maker. Otherwise it performs a
	// balance check, builds and submits a transfer, waits for
	// confirmation, and returns the settlement record.
	//
	// paymentRequestID identifies the payment request being paid; callers
	// pass "" when not applicable. The makers in this module accept it but
	// do not use it.
	MakePayment(ctx context.Context, destinations []Destination, memo string, paymentRequestID string) (*PaymentObject, error)

	// GenerateJWT produces a bearer JWT whose subject is this maker's
	// public address, signed with the algorithm matching its key material.
	GenerateJWT(ctx context.Context, req JWTRequest) (string, error)

	// Network identifies the chain this maker transacts on (e.g. "solana",
	// "base"), used for logging and destination-compatibility checks.
	Network() string
}
