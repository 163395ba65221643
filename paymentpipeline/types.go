// Package paymentpipeline implements the three-stage payment pipeline:
// fetch the payment-request record, collect candidate source addresses
// from every configured PaymentMaker, run the destination mappers,
// dispatch to the first maker willing to pay, and settle the result with a
// JWT-authenticated PUT back to the authorization server.
package paymentpipeline

import (
	"context"

	"github.com/atxp-dev/atxp-go/paymentmaker"
)

// PaymentRequestData is the record fetched from the authorization server at
// the start of a payment flow. A legacy single-destination response is
// normalized to a one-element Destinations slice by the fetch step so the
// rest of the pipeline only ever sees the list shape.
type PaymentRequestData struct {
	Destinations []paymentmaker.Destination
	Resource     string
	ResourceName string
	Issuer       string
}

// ProspectivePayment is the caller-visible description of a pending payment,
// passed to the approval callback and to every observer callback. Network,
// Currency and Amount are updated after dispatch to reflect what was
// actually used, which may differ from the representative destination used
// to build the prospective payment (e.g. if multiple destinations named
// different networks and dispatch picked one).
type ProspectivePayment struct {
	AccountID    string
	ResourceURL  string
	ResourceName string
	Network      string
	Currency     string
	Amount       string
	Issuer       string
}

// ApprovalFunc decides whether a prospective payment should proceed. A false
// return is a soft failure: the pipeline aborts with ErrApprovalDenied and
// the interceptor returns the original response to the caller.
type ApprovalFunc func(ctx context.Context, payment ProspectivePayment) bool

// SelectorFunc reorders or filters the destination list immediately before
// dispatch, without changing the "first maker that returns non-null wins"
// contract of stage 3.
type SelectorFunc func(ctx context.Context, destinations []paymentmaker.Destination) []paymentmaker.Destination

// Callbacks are the observer hooks invoked (and awaited) at the
// corresponding transitions; a panic inside one is logged and swallowed
// rather than propagated into the request path.
type Callbacks struct {
	OnPayment        func(ctx context.Context, payment ProspectivePayment)
	OnPaymentFailure func(ctx context.Context, payment ProspectivePayment, err error)
}

// Result is what Run returns on a completed (not soft-failed) payment.
type Result struct {
	Settlement *paymentmaker.PaymentObject
	Payment    ProspectivePayment
}
