package paymentpipeline

import "errors"

// ErrApprovalDenied and ErrNoCompatibleMaker classify the pipeline's two
// soft failures: the interceptor returns the original buffered response to
// the caller rather than propagating these as errors, so they're exported
// sentinels rather than typed atxperrors entries.
var (
	ErrApprovalDenied   = errors.New("paymentpipeline: approval callback declined the payment")
	ErrNoCompatibleMaker = errors.New("paymentpipeline: no configured payment maker could handle any mapped destination")
)
