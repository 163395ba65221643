// Package interceptor implements the request-wrapping state machine:
// detect a 401 OAuth challenge or an in-band MCP payment-required error,
// orchestrate remediation through the OAuth client and payment pipeline,
// and retry the original request once after a successful remediation
// (with one documented exception: when the retry after an OAuth
// remediation meets a payment-required response, the payment is made and
// the request is sent once more).
package interceptor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/atxp-dev/atxp-go/atxperrors"
	"github.com/atxp-dev/atxp-go/mcperror"
	"github.com/atxp-dev/atxp-go/oauth"
	"github.com/atxp-dev/atxp-go/paymentpipeline"
)

// Config holds an Interceptor's fixed configuration, assembled via
// functional options to match the rest of this module's constructors.
//
// Payment-side observer callbacks (onPayment/onPaymentFailure) live on the
// Pipeline passed to New, since the pipeline already invokes them at the
// point it owns (right after settlement); the Interceptor only owns the
// OAuth-side pair, which fire at its own NeedsAuth transition.
type Config struct {
	Logger *slog.Logger

	OnAuthorize        func(ctx context.Context, accountID, resourceURL string)
	OnAuthorizeFailure func(ctx context.Context, accountID, resourceURL string, err error)
}

// Option configures an Interceptor at construction time.
type Option func(*Config)

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithOnAuthorize(fn func(ctx context.Context, accountID, resourceURL string)) Option {
	return func(c *Config) { c.OnAuthorize = fn }
}

func WithOnAuthorizeFailure(fn func(ctx context.Context, accountID, resourceURL string, err error)) Option {
	return func(c *Config) { c.OnAuthorizeFailure = fn }
}

func defaultConfig() Config {
	return Config{Logger: slog.Default()}
}

// Interceptor wraps an OAuth client and a payment pipeline into the single
// entry point callers use to perform a (potentially remediated) MCP request.
type Interceptor struct {
	oauth    *oauth.Client
	pipeline *paymentpipeline.Pipeline
	cfg      Config
}

// New constructs an Interceptor. oauthClient handles token attachment,
// discovery, and the authorization-code flow; pipeline handles payment
// remediation. Both must be pre-configured by the caller.
func New(oauthClient *oauth.Client, pipeline *paymentpipeline.Pipeline, opts ...Option) *Interceptor {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Interceptor{oauth: oauthClient, pipeline: pipeline, cfg: cfg}
}

// Do sends req on behalf of accountID, transparently performing OAuth and/or
// payment remediation. A single remediation is followed by one retry; an
// OAuth remediation whose retry comes back payment-required is followed by
// a payment and one more dispatch, so at most three requests are sent. Every
// response is read in full to classify it, so the returned response's body
// is always a buffered copy, never the underlying transport's stream.
func (ic *Interceptor) Do(ctx context.Context, accountID string, req *http.Request) (*http.Response, error) {
	tmpl, err := snapshotRequest(req)
	if err != nil {
		return nil, err
	}

	resp, authErr, err := ic.send(ctx, accountID, tmpl)
	if err != nil {
		return nil, err
	}

	if authErr != nil {
		return ic.remediateAuthThenDispatch(ctx, accountID, tmpl, authErr)
	}

	return ic.inspectInitial(ctx, accountID, tmpl, resp)
}

// send builds a fresh request from tmpl and dispatches it through the OAuth
// client, which attaches a bearer token when one is on file. A 401 surfaces
// as a typed AuthenticationRequiredError rather than a plain response
// (oauth.Client.Fetch's contract), so callers branch on authErr instead of
// status code.
func (ic *Interceptor) send(ctx context.Context, accountID string, tmpl *requestTemplate) (*http.Response, *atxperrors.AuthenticationRequiredError, error) {
	req, err := tmpl.build()
	if err != nil {
		return nil, nil, err
	}
	req = req.WithContext(ctx)

	resp, err := ic.oauth.Fetch(ctx, accountID, req)
	if err != nil {
		var authErr *atxperrors.AuthenticationRequiredError
		if errors.As(err, &authErr) {
			return nil, authErr, nil
		}
		return nil, nil, err
	}
	return resp, nil, nil
}

// inspectInitial handles the InspectBody transition for the very first
// dispatch of an incoming call, before any remediation has happened.
func (ic *Interceptor) inspectInitial(ctx context.Context, accountID string, tmpl *requestTemplate, resp *http.Response) (*http.Response, error) {
	body, reconstruct, err := bufferResponse(resp)
	if err != nil {
		return nil, err
	}

	c := classify(body, ic.cfg.Logger)
	switch c.kind {
	case classOK:
		return reconstruct(), nil

	case classMultiplePaymentRequired:
		return nil, &atxperrors.MultiplePaymentRequiredError{Candidates: toCandidates(c.refs)}

	case classPaymentRequired:
		ref := c.refs[0]
		_, err := ic.pipeline.Run(ctx, accountID, ref.URL, ref.ID, "")
		if err != nil {
			if isSoftPaymentFailure(err) {
				return reconstruct(), nil
			}
			return nil, err
		}

		// The one retry permitted for this incoming call, now spent.
		resp2, authErr2, err2 := ic.send(ctx, accountID, tmpl)
		if err2 != nil {
			return nil, err2
		}
		if authErr2 != nil {
			// Only OAuth->payment is a permitted retry-sharing chain, not
			// payment->OAuth; surface this as a terminal error rather than
			// looping.
			return nil, authErr2
		}
		_, reconstruct2, err2 := bufferResponse(resp2)
		if err2 != nil {
			return nil, err2
		}
		return reconstruct2(), nil
	}

	return reconstruct(), nil
}

// remediateAuthThenDispatch performs the NeedsAuth transition and its
// retry, then — as the one documented exception to the single-retry rule —
// allows that retry's response to trigger a payment remediation without
// spending a second retry budget.
func (ic *Interceptor) remediateAuthThenDispatch(ctx context.Context, accountID string, tmpl *requestTemplate, authErr *atxperrors.AuthenticationRequiredError) (*http.Response, error) {
	if err := ic.authorize(ctx, accountID, authErr.ResourceURL); err != nil {
		return nil, err
	}

	resp, authErr2, err := ic.send(ctx, accountID, tmpl)
	if err != nil {
		return nil, err
	}
	if authErr2 != nil {
		// Authenticating twice in a row means the server still won't accept
		// us; don't loop forever.
		return nil, authErr2
	}

	body, reconstruct, err := bufferResponse(resp)
	if err != nil {
		return nil, err
	}

	c := classify(body, ic.cfg.Logger)
	switch c.kind {
	case classOK:
		return reconstruct(), nil

	case classMultiplePaymentRequired:
		return nil, &atxperrors.MultiplePaymentRequiredError{Candidates: toCandidates(c.refs)}

	case classPaymentRequired:
		ref := c.refs[0]
		_, err := ic.pipeline.Run(ctx, accountID, ref.URL, ref.ID, "")
		if err != nil {
			if isSoftPaymentFailure(err) {
				return reconstruct(), nil
			}
			return nil, err
		}

		// The chained remediation's own dispatch; whatever comes back is
		// final, since the retry budget is already exhausted.
		resp3, authErr3, err3 := ic.send(ctx, accountID, tmpl)
		if err3 != nil {
			return nil, err3
		}
		if authErr3 != nil {
			return nil, authErr3
		}
		_, reconstruct3, err3 := bufferResponse(resp3)
		if err3 != nil {
			return nil, err3
		}
		return reconstruct3(), nil
	}

	return reconstruct(), nil
}

// authorize runs the OAuth authorization-code flow end to end. The
// non-standard "redirect=false" authorize call already returns a URL
// carrying both `code` and `state` (no end-user browser round trip is
// required), so the same URL is fed straight into HandleCallback.
func (ic *Interceptor) authorize(ctx context.Context, accountID, resourceURL string) error {
	redirectURL, err := ic.oauth.MakeAuthorizationURL(ctx, accountID, resourceURL, nil)
	if err != nil {
		ic.invokeAuthorizeFailure(ctx, accountID, resourceURL, err)
		return err
	}

	if err := ic.oauth.HandleCallback(ctx, accountID, redirectURL); err != nil {
		ic.invokeAuthorizeFailure(ctx, accountID, resourceURL, err)
		return err
	}

	ic.invokeAuthorize(ctx, accountID, resourceURL)
	return nil
}

func (ic *Interceptor) invokeAuthorize(ctx context.Context, accountID, resourceURL string) {
	if ic.cfg.OnAuthorize == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			ic.cfg.Logger.Warn("interceptor: onAuthorize callback panicked, ignoring", "panic", r)
		}
	}()
	ic.cfg.OnAuthorize(ctx, accountID, resourceURL)
}

func (ic *Interceptor) invokeAuthorizeFailure(ctx context.Context, accountID, resourceURL string, err error) {
	if ic.cfg.OnAuthorizeFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			ic.cfg.Logger.Warn("interceptor: onAuthorizeFailure callback panicked, ignoring", "panic", r)
		}
	}()
	ic.cfg.OnAuthorizeFailure(ctx, accountID, resourceURL, err)
}

// isSoftPaymentFailure reports whether err is one of the pipeline's two soft
// failures, which the interceptor absorbs by returning the original
// response instead of propagating an error.
func isSoftPaymentFailure(err error) bool {
	return errors.Is(err, paymentpipeline.ErrApprovalDenied) || errors.Is(err, paymentpipeline.ErrNoCompatibleMaker)
}

func toCandidates(refs []mcperror.PaymentRequestRef) []atxperrors.PaymentRequiredError {
	out := make([]atxperrors.PaymentRequiredError, 0, len(refs))
	for _, r := range refs {
		out = append(out, atxperrors.PaymentRequiredError{URL: r.URL, ID: r.ID})
	}
	return out
}
