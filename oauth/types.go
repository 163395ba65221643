// Package oauth implements the resource-discovery + dynamic client
// registration + PKCE authorization-code client, including the
// non-standard "redirect=false" accommodation some resource servers
// require.
package oauth

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/atxp-dev/atxp-go/store"
)

// JWTSignRequest is the input to a JWTSigner, mirroring PaymentMaker's
// generateJWT contract so the OAuth client never needs to know which chain
// backs the signature.
type JWTSignRequest struct {
	PaymentRequestID string
	CodeChallenge    string
}

// JWTSigner produces the bearer JWT that authenticates the non-standard
// "/authorize" call. In production this is backed by a PaymentMaker; tests
// can supply a stub.
type JWTSigner interface {
	GenerateJWT(ctx context.Context, req JWTSignRequest) (string, error)
}

// ProtectedResourceMetadata is the OAuth2 Protected Resource Metadata
// document served at /.well-known/oauth-protected-resource.
type ProtectedResourceMetadata struct {
	Resource              string   `json:"resource"`
	AuthorizationServers  []string `json:"authorization_servers"`
}

// AuthorizationServerMetadata is the subset of RFC 8414 metadata this
// client depends on.
type AuthorizationServerMetadata struct {
	Issuer                 string `json:"issuer"`
	AuthorizationEndpoint  string `json:"authorization_endpoint"`
	TokenEndpoint          string `json:"token_endpoint"`
	RegistrationEndpoint   string `json:"registration_endpoint"`
}

// Config holds the OAuth client's fixed configuration, assembled via
// functional options — the dominant construction idiom across the pack
// (x402.ClientOption, gin.X402Payment(Config{...})).
type Config struct {
	// AllowedIssuers is the caller-configured allow-list; a discovered
	// issuer not present here is a hard failure (UnknownAuthorizationServer).
	// An empty list disables the check and accepts any issuer.
	AllowedIssuers []string

	// RedirectURI is the client's registered redirect URI, used both in
	// dynamic client registration and in authorize requests.
	RedirectURI string

	// ClientName is advertised during dynamic client registration.
	ClientName string

	// StrictDiscovery disables the AS-on-RS discovery fallback (treating
	// the resource server's own origin as the authorization server) when
	// the PRM document 404s.
	StrictDiscovery bool

	// HTTPClient is the transport used for discovery, registration, token
	// exchange, and the authorize call. Defaults to http.DefaultClient if nil.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Option configures a Client at construction time.
type Option func(*Config)

func WithAllowedIssuers(issuers ...string) Option {
	return func(c *Config) { c.AllowedIssuers = issuers }
}

func WithRedirectURI(uri string) Option {
	return func(c *Config) { c.RedirectURI = uri }
}

func WithClientName(name string) Option {
	return func(c *Config) { c.ClientName = name }
}

func WithStrictDiscovery(strict bool) Option {
	return func(c *Config) { c.StrictDiscovery = strict }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func defaultConfig() Config {
	return Config{
		ClientName:      "atxp-go-client",
		StrictDiscovery: false,
		HTTPClient:      http.DefaultClient,
		Logger:          slog.Default(),
	}
}

// Client is the OAuth2 resource-discovery + DCR + PKCE authorization-code
// client.
type Client struct {
	cfg    Config
	db     store.OAuthDb
	signer JWTSigner

	regMu    sync.Mutex
	regLocks map[string]*registrationCall
}

// NewClient constructs an OAuth Client backed by db for persistence and
// signer for producing the JWT that authenticates the authorize call.
func NewClient(db store.OAuthDb, signer JWTSigner, opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{
		cfg:      cfg,
		db:       db,
		signer:   signer,
		regLocks: make(map[string]*registrationCall),
	}
}

// authorizeTimeout is a 30-second bound declared for the authorize call. No
// request in this package applies it: discovery, registration, the
// authorize call and the token exchange all run under the caller's context
// and the configured HTTPClient's own timeout.
const authorizeTimeout = 30 * time.Second
