package paymentpipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/atxp-dev/atxp-go/destmapper"
	"github.com/atxp-dev/atxp-go/money"
	"github.com/atxp-dev/atxp-go/paymentmaker"
)

// Config holds a Pipeline's fixed configuration, assembled via functional
// options to match the rest of this module's constructors.
type Config struct {
	// Makers are tried in this order at dispatch and queried in this order
	// for source addresses. The first element also supplies the JWT that
	// authenticates the settlement PUT.
	Makers []paymentmaker.Maker

	// Mappers run sequentially over the destination list (stage 2).
	Mappers []destmapper.Mapper

	// Selector reorders/filters the mapped destination list immediately
	// before dispatch (stage 3), without changing the "first maker that
	// returns non-null wins" semantics — e.g. to prefer a cheaper network
	// when more than one mapped destination would satisfy the same maker.
	// Defaults to a no-op pass-through.
	Selector SelectorFunc

	// Approve is invoked once per payment with a representative
	// ProspectivePayment; a false return is a soft failure.
	Approve ApprovalFunc

	Callbacks Callbacks

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option configures a Pipeline at construction time.
type Option func(*Config)

func WithMakers(makers ...paymentmaker.Maker) Option {
	return func(c *Config) { c.Makers = makers }
}

func WithMappers(mappers ...destmapper.Mapper) Option {
	return func(c *Config) { c.Mappers = mappers }
}

func WithApprove(fn ApprovalFunc) Option {
	return func(c *Config) { c.Approve = fn }
}

// WithRequirementsSelector installs a hook that runs once, right before
// dispatch, over the fully-mapped destination list (grounded on the
// PaymentRequirementsSelector pattern of reordering candidates by priority
// before committing to one).
func WithRequirementsSelector(fn SelectorFunc) Option {
	return func(c *Config) { c.Selector = fn }
}

func WithCallbacks(cb Callbacks) Option {
	return func(c *Config) { c.Callbacks = cb }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func defaultConfig() Config {
	return Config{
		HTTPClient: http.DefaultClient,
		Logger:     slog.Default(),
		Approve:    func(context.Context, ProspectivePayment) bool { return true },
		Selector:   func(_ context.Context, destinations []paymentmaker.Destination) []paymentmaker.Destination { return destinations },
	}
}

// Pipeline composes the configured PaymentMakers and DestinationMappers into
// the three-stage payment algorithm: collect source addresses, map
// destinations, dispatch and settle.
type Pipeline struct {
	cfg Config
}

// New constructs a Pipeline. At least one Maker should be configured via
// WithMakers or every Run call ends in ErrNoCompatibleMaker.
func New(opts ...Option) *Pipeline {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pipeline{cfg: cfg}
}

// Run executes one payment-required remediation: fetch the payment-request
// record at paymentRequestURL, validate it, seek approval, collect source
// addresses, map destinations, dispatch to a maker, and settle. memo is
// threaded into every maker's MakePayment call (e.g. an order reference);
// callers with none should pass "".
func (p *Pipeline) Run(ctx context.Context, accountID, paymentRequestURL, paymentRequestID, memo string) (*Result, error) {
	if paymentRequestID != "" && !validPaymentRequestID(paymentRequestID) {
		return nil, fmt.Errorf("paymentpipeline: malformed payment-request id %q", paymentRequestID)
	}

	data, err := fetchPaymentRequest(ctx, p.cfg.HTTPClient, paymentRequestURL)
	if err != nil {
		return nil, err
	}
	if err := validateDestinations(data.Destinations); err != nil {
		return nil, err
	}

	representative := data.Destinations[0]
	payment := ProspectivePayment{
		AccountID:    accountID,
		ResourceURL:  data.Resource,
		ResourceName: data.ResourceName,
		Network:      representative.Network,
		Currency:     representative.Currency,
		Amount:       representative.Amount,
		Issuer:       data.Issuer,
	}

	if !p.cfg.Approve(ctx, payment) {
		return nil, ErrApprovalDenied
	}

	sources := p.collectSourceAddresses(ctx, representative, memo)
	destinations, err := destmapper.Chain(ctx, data.Destinations, sources, p.cfg.Mappers)
	if err != nil {
		return nil, fmt.Errorf("paymentpipeline: destination mapping failed: %w", err)
	}
	if p.cfg.Selector != nil {
		destinations = p.cfg.Selector(ctx, destinations)
	}

	settlement := p.dispatch(ctx, destinations, memo, paymentRequestID)
	if settlement == nil {
		p.invokeFailure(ctx, payment, ErrNoCompatibleMaker)
		return nil, ErrNoCompatibleMaker
	}

	payment.Network = settlement.Network
	payment.Currency = settlement.Currency
	payment.Amount = settlement.Amount

	if len(p.cfg.Makers) == 0 {
		return nil, ErrNoCompatibleMaker
	}
	jwt, err := p.cfg.Makers[0].GenerateJWT(ctx, paymentmaker.JWTRequest{PaymentRequestID: paymentRequestID})
	if err != nil {
		err = fmt.Errorf("paymentpipeline: signing settlement JWT: %w", err)
		p.invokeFailure(ctx, payment, err)
		return nil, err
	}

	if err := settle(ctx, p.cfg.HTTPClient, paymentRequestURL, jwt, settlement); err != nil {
		p.invokeFailure(ctx, payment, err)
		return nil, err
	}

	if p.cfg.Callbacks.OnPayment != nil {
		func() {
			defer p.recoverCallback("onPayment")
			p.cfg.Callbacks.OnPayment(ctx, payment)
		}()
	}

	return &Result{Settlement: settlement, Payment: payment}, nil
}

func (p *Pipeline) invokeFailure(ctx context.Context, payment ProspectivePayment, err error) {
	if p.cfg.Callbacks.OnPaymentFailure != nil {
		defer p.recoverCallback("onPaymentFailure")
		p.cfg.Callbacks.OnPaymentFailure(ctx, payment, err)
	}
}

func (p *Pipeline) recoverCallback(name string) {
	if r := recover(); r != nil {
		p.cfg.Logger.Warn("paymentpipeline: "+name+" callback panicked, ignoring", "panic", r)
	}
}

// validateDestinations requires every destination to carry a positive
// amount, a currency, and a network.
func validateDestinations(dests []paymentmaker.Destination) error {
	for _, d := range dests {
		if d.Network == "" {
			return fmt.Errorf("paymentpipeline: destination missing network")
		}
		if d.Currency == "" {
			return fmt.Errorf("paymentpipeline: destination missing currency")
		}
		if !money.IsPositive(d.Amount) {
			return fmt.Errorf("paymentpipeline: destination amount %q is not positive", d.Amount)
		}
	}
	return nil
}

// collectSourceAddresses runs stage 1: ask every configured maker for its
// candidate source addresses, preserving maker order and deduplicating by
// (network, address). A maker that errors is logged and skipped.
func (p *Pipeline) collectSourceAddresses(ctx context.Context, representative paymentmaker.Destination, memo string) []paymentmaker.SourceAddress {
	seen := make(map[paymentmaker.SourceAddress]bool)
	var out []paymentmaker.SourceAddress

	query := paymentmaker.SourceQuery{
		Amount:   representative.Amount,
		Currency: representative.Currency,
		Receiver: representative.Address,
		Memo:     memo,
	}

	for _, maker := range p.cfg.Makers {
		addrs, err := maker.GetSourceAddresses(ctx, query)
		if err != nil {
			p.cfg.Logger.Warn("paymentpipeline: maker failed to report source addresses, skipping", "network", maker.Network(), "error", err)
			continue
		}
		for _, a := range addrs {
			if seen[a] {
				continue
			}
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// dispatch runs stage 3: try each configured maker in order; the first one
// that returns a non-nil settlement wins. A maker that errors is logged and
// the next one is tried. Returns nil if every maker declined or errored,
// which the caller surfaces as ErrNoCompatibleMaker.
func (p *Pipeline) dispatch(ctx context.Context, destinations []paymentmaker.Destination, memo, paymentRequestID string) *paymentmaker.PaymentObject {
	for _, maker := range p.cfg.Makers {
		obj, err := maker.MakePayment(ctx, destinations, memo, paymentRequestID)
		if err != nil {
			p.cfg.Logger.Warn("paymentpipeline: maker failed to make payment, trying next", "network", maker.Network(), "error", err)
			continue
		}
		if obj != nil {
			return obj
		}
	}
	return nil
}
