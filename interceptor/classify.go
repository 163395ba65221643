package interceptor

import (
	"log/slog"

	"github.com/atxp-dev/atxp-go/mcperror"
)

type classificationKind int

const (
	classOK classificationKind = iota
	classPaymentRequired
	classMultiplePaymentRequired
)

type classification struct {
	kind classificationKind
	refs []mcperror.PaymentRequestRef // len 1 for classPaymentRequired, >1 for classMultiplePaymentRequired
}

// classify inspects a buffered MCP response body and returns the state
// machine's InspectBody classification. A 401 never reaches here:
// oauth.Client.Fetch already translates it into an
// AuthenticationRequiredError before the body would need inspecting.
func classify(body []byte, logger *slog.Logger) classification {
	refs := mcperror.Parse(body, logger)
	switch len(refs) {
	case 0:
		return classification{kind: classOK}
	case 1:
		return classification{kind: classPaymentRequired, refs: refs}
	default:
		return classification{kind: classMultiplePaymentRequired, refs: refs}
	}
}
