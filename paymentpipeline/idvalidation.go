package paymentpipeline

import "regexp"

// paymentIDPattern is the character-class constraint every payment-request
// id must satisfy before it's trusted as a JWT claim: the id is captured
// out of an error-message regex, so a malformed capture must fail loudly
// here rather than being forwarded to a signing key. No minimum length is
// enforced since short ids (e.g. "foo") are valid in practice.
var paymentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validPaymentRequestID reports whether id is non-empty and contains only
// the allowed character set.
func validPaymentRequestID(id string) bool {
	return id != "" && paymentIDPattern.MatchString(id)
}
