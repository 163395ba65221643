// Package envconfig loads the example CLI's runtime configuration from the
// environment. It backs cmd/atxp-demo only — the library packages never
// read the environment themselves, so every setting here maps onto an
// explicit functional option at the call site.
package envconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the example CLI's configuration.
type Config struct {
	// AccountID identifies the caller to the OAuthDb and payment pipeline.
	AccountID string

	// RedirectURI is the demo client's registered OAuth redirect URI.
	RedirectURI string

	// AllowedIssuers is the OAuth discovery allow-list.
	AllowedIssuers []string

	// SolanaRPCURL is the Solana JSON-RPC endpoint used by the Solana
	// PaymentMaker.
	SolanaRPCURL string

	// SolanaPrivateKeyHex is the hex-encoded 64-byte ed25519 private key
	// (seed followed by public key) of the demo's Solana payer keypair.
	SolanaPrivateKeyHex string

	// TokenCacheTTL is the sweep interval passed to store.NewMemoryDB.
	TokenCacheTTL time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first, if present (dev convenience); it is a
// no-op in production where real environment variables are set directly.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AccountID:           getEnv("ATXP_ACCOUNT_ID", "demo-account"),
		RedirectURI:         getEnv("ATXP_REDIRECT_URI", "http://localhost:8080/callback"),
		AllowedIssuers:      splitCSV(getEnv("ATXP_ALLOWED_ISSUERS", "https://auth.atxp.ai")),
		SolanaRPCURL:        getEnv("ATXP_SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		SolanaPrivateKeyHex: getEnv("ATXP_SOLANA_PRIVATE_KEY", ""),
		TokenCacheTTL:       time.Duration(getEnvInt("ATXP_TOKEN_CACHE_SWEEP_MINUTES", 10)) * time.Minute,
	}

	if cfg.SolanaPrivateKeyHex == "" {
		return nil, fmt.Errorf("ATXP_SOLANA_PRIVATE_KEY env var is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}
