// Command atxp-demo wires the OAuth client, a single Solana PaymentMaker,
// and the payment pipeline into an Interceptor, then performs one POST
// against a caller-supplied MCP endpoint — illustrating the wrapper's public
// surface end to end. It is not part of the core library; see
// internal/envconfig for the environment variables it reads.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/atxp-dev/atxp-go/interceptor"
	"github.com/atxp-dev/atxp-go/internal/envconfig"
	"github.com/atxp-dev/atxp-go/oauth"
	"github.com/atxp-dev/atxp-go/paymentmaker"
	"github.com/atxp-dev/atxp-go/paymentmaker/solana"
	"github.com/atxp-dev/atxp-go/paymentpipeline"
	"github.com/atxp-dev/atxp-go/store"
)

// jwtSignerAdapter bridges a paymentmaker.Maker (whose GenerateJWT speaks
// paymentmaker.JWTRequest) to oauth.JWTSigner (which speaks
// oauth.JWTSignRequest) — the two packages intentionally don't share a
// type so neither depends on the other.
type jwtSignerAdapter struct {
	maker paymentmaker.Maker
}

func (a jwtSignerAdapter) GenerateJWT(ctx context.Context, req oauth.JWTSignRequest) (string, error) {
	return a.maker.GenerateJWT(ctx, paymentmaker.JWTRequest{
		PaymentRequestID: req.PaymentRequestID,
		CodeChallenge:    req.CodeChallenge,
	})
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "atxp-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: atxp-demo <mcp-url>")
	}
	targetURL := os.Args[1]

	cfg, err := envconfig.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	seed, err := hex.DecodeString(strings.TrimPrefix(cfg.SolanaPrivateKeyHex, "0x"))
	if err != nil {
		return fmt.Errorf("decoding ATXP_SOLANA_PRIVATE_KEY: %w", err)
	}
	keypair := solanago.PrivateKey(seed)

	maker := solana.NewMaker(keypair, solana.Config{
		RPCURL:   cfg.SolanaRPCURL,
		Mint:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC on mainnet-beta
		Currency: "USDC",
		Logger:   logger,
	})

	db := store.NewMemoryDB(cfg.TokenCacheTTL)

	oauthClient := oauth.NewClient(db, jwtSignerAdapter{maker: maker},
		oauth.WithRedirectURI(cfg.RedirectURI),
		oauth.WithAllowedIssuers(cfg.AllowedIssuers...),
		oauth.WithClientName("atxp-demo"),
		oauth.WithLogger(logger),
	)

	pipeline := paymentpipeline.New(
		paymentpipeline.WithMakers(maker),
		paymentpipeline.WithLogger(logger),
		paymentpipeline.WithCallbacks(paymentpipeline.Callbacks{
			OnPayment: func(ctx context.Context, payment paymentpipeline.ProspectivePayment) {
				logger.Info("payment settled", "network", payment.Network, "amount", payment.Amount, "currency", payment.Currency)
			},
			OnPaymentFailure: func(ctx context.Context, payment paymentpipeline.ProspectivePayment, err error) {
				logger.Error("payment failed", "error", err)
			},
		}),
	)

	ic := interceptor.New(oauthClient, pipeline,
		interceptor.WithLogger(logger),
		interceptor.WithOnAuthorize(func(ctx context.Context, accountID, resourceURL string) {
			logger.Info("authorized", "account", accountID, "resource", resourceURL)
		}),
		interceptor.WithOnAuthorizeFailure(func(ctx context.Context, accountID, resourceURL string, err error) {
			logger.Error("authorization failed", "account", accountID, "resource", resourceURL, "error", err)
		}),
	)

	req, err := http.NewRequest(http.MethodPost, targetURL, strings.NewReader(`{}`))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	resp, err := ic.Do(ctx, cfg.AccountID, req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	fmt.Println(string(body))
	return nil
}
