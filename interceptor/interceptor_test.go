package interceptor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atxp-dev/atxp-go/atxperrors"
	"github.com/atxp-dev/atxp-go/oauth"
	"github.com/atxp-dev/atxp-go/paymentmaker"
	"github.com/atxp-dev/atxp-go/paymentpipeline"
	"github.com/atxp-dev/atxp-go/store"
)

type stubSigner struct{ jwt string }

func (s stubSigner) GenerateJWT(ctx context.Context, req oauth.JWTSignRequest) (string, error) {
	return s.jwt, nil
}

// stubMaker is a minimal paymentmaker.Maker, mirroring paymentpipeline's own
// test double, so this package's tests don't need a chain SDK dependency.
type stubMaker struct {
	network  string
	currency string
	address  string
	jwt      string
	declines bool
}

func (m *stubMaker) Network() string { return m.network }

func (m *stubMaker) GetSourceAddresses(ctx context.Context, q paymentmaker.SourceQuery) ([]paymentmaker.SourceAddress, error) {
	return []paymentmaker.SourceAddress{{Network: m.network, Address: m.address}}, nil
}

func (m *stubMaker) MakePayment(ctx context.Context, destinations []paymentmaker.Destination, memo, paymentRequestID string) (*paymentmaker.PaymentObject, error) {
	if m.declines {
		return nil, nil
	}
	for _, d := range destinations {
		if d.Network != m.network {
			continue
		}
		return &paymentmaker.PaymentObject{
			Network:       m.network,
			TransactionID: "testPaymentId",
			Amount:        d.Amount,
			Currency:      d.Currency,
			Address:       d.Address,
		}, nil
	}
	return nil, nil
}

func (m *stubMaker) GenerateJWT(ctx context.Context, req paymentmaker.JWTRequest) (string, error) {
	return m.jwt, nil
}

const helloWorldBody = `{"content":[{"type":"text","text":"hello world"}]}`

func paymentRequiredBody(url string) string {
	return `{"jsonrpc":"2.0","id":1,"result":{"isError":true,"content":[{"type":"text","text":"Payment via ATXP is required to use this tool. Visit ` + url + ` to pay."}]}}`
}

func newInterceptor(t *testing.T, makers ...paymentmaker.Maker) (*Interceptor, store.OAuthDb) {
	db := store.NewMemoryDB(time.Minute)
	oauthClient := oauth.NewClient(db, stubSigner{jwt: "test-jwt"},
		oauth.WithRedirectURI("http://localhost/callback"),
	)
	pipeline := paymentpipeline.New(paymentpipeline.WithMakers(makers...))
	return New(oauthClient, pipeline), db
}

// Scenario 1: happy path, no remediation, exactly one outgoing request.
func TestDo_HappyPath(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(helloWorldBody))
	}))
	defer srv.Close()

	ic, _ := newInterceptor(t)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader("{}"))
	require.NoError(t, err)

	resp, err := ic.Do(context.Background(), "bdj", req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := readAll(resp)
	assert.JSONEq(t, helloWorldBody, string(body))
	assert.Equal(t, 1, hits)
}

// Scenario 2: 402 -> payment -> settlement -> retry, exactly two outgoing
// requests to the resource URL.
func TestDo_PaymentRequiredThenRetry(t *testing.T) {
	var mcpHits int

	mux := http.NewServeMux()
	var paymentRequestURL string
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		mcpHits++
		if mcpHits == 1 {
			_, _ = w.Write([]byte(paymentRequiredBody(paymentRequestURL)))
			return
		}
		_, _ = w.Write([]byte(helloWorldBody))
	})
	mux.HandleFunc("/payment-request/foo", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"network":  "solana",
				"address":  "SolRecv111111111111111111111111111111111",
				"amount":   "0.01",
				"currency": "USDC",
				"iss":      "https://auth.atxp.ai",
			})
		case http.MethodPut:
			assert.Equal(t, "Bearer testJWT", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	paymentRequestURL = srv.URL + "/payment-request/foo"

	maker := &stubMaker{network: "solana", currency: "USDC", address: "SolPayer1111111111111111111111111111111", jwt: "testJWT"}
	ic, _ := newInterceptor(t, maker)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader("{}"))
	require.NoError(t, err)

	resp, err := ic.Do(context.Background(), "bdj", req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := readAll(resp)
	assert.JSONEq(t, helloWorldBody, string(body))
	assert.Equal(t, 2, mcpHits)
}

// Scenario 3: 401 -> OAuth -> retry. DB ends up holding the access token
// under (account id, resource URL).
func TestDo_UnauthorizedThenRetry(t *testing.T) {
	var mcpHits int

	mux := http.NewServeMux()
	var serverURL string

	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(oauth.ProtectedResourceMetadata{
			Resource:             serverURL,
			AuthorizationServers: []string{serverURL},
		})
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(oauth.AuthorizationServerMetadata{
			Issuer:                serverURL,
			AuthorizationEndpoint: serverURL + "/authorize",
			TokenEndpoint:         serverURL + "/token",
			RegistrationEndpoint:  serverURL + "/register",
		})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"client_id": "client-123", "client_secret": "secret-456"})
	})
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-jwt" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		state := r.URL.Query().Get("state")
		http.Redirect(w, r, "https://atxp.ai?state="+state+"&code=testCode", http.StatusFound)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "testAccessToken"})
	})
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		mcpHits++
		if r.Header.Get("Authorization") != "Bearer testAccessToken" {
			w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="`+serverURL+`/.well-known/oauth-protected-resource"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(helloWorldBody))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	serverURL = srv.URL

	db := store.NewMemoryDB(time.Minute)
	oauthClient := oauth.NewClient(db, stubSigner{jwt: "test-jwt"},
		oauth.WithRedirectURI("http://localhost/callback"),
		oauth.WithAllowedIssuers(serverURL),
	)
	pipeline := paymentpipeline.New()
	ic := New(oauthClient, pipeline)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader("{}"))
	require.NoError(t, err)

	resp, err := ic.Do(context.Background(), "bdj", req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := readAll(resp)
	assert.JSONEq(t, helloWorldBody, string(body))
	assert.Equal(t, 2, mcpHits)

	token, err := db.GetAccessToken(context.Background(), "bdj", srv.URL+"/mcp")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "testAccessToken", token.AccessToken)
}

// Scenario 4: denied approval. No settlement PUT; caller sees the original
// tool-result-error response unchanged.
func TestDo_ApprovalDenied(t *testing.T) {
	var paymentRequestURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(paymentRequiredBody(paymentRequestURL)))
	})
	mux.HandleFunc("/payment-request/foo", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			t.Fatal("settlement should not be attempted")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"network": "solana", "address": "SolRecv1", "amount": "0.01", "currency": "USDC",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	paymentRequestURL = srv.URL + "/payment-request/foo"

	maker := &stubMaker{network: "solana", currency: "USDC", address: "SolPayer1", jwt: "testJWT"}
	db := store.NewMemoryDB(time.Minute)
	oauthClient := oauth.NewClient(db, stubSigner{jwt: "test-jwt"}, oauth.WithRedirectURI("http://localhost/callback"))
	pipeline := paymentpipeline.New(
		paymentpipeline.WithMakers(maker),
		paymentpipeline.WithApprove(func(context.Context, paymentpipeline.ProspectivePayment) bool { return false }),
	)
	ic := New(oauthClient, pipeline)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader("{}"))
	require.NoError(t, err)

	resp, err := ic.Do(context.Background(), "bdj", req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := readAll(resp)
	assert.Contains(t, string(body), "Payment via ATXP is required")
}

// Scenario 5: multiple payment requests in one response is a hard,
// non-retryable error; no payment is attempted.
func TestDo_MultiplePaymentRequired(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":1,"result":{"isError":true,"content":[` +
		`{"type":"text","text":"Payment via ATXP is required: https://auth.atxp.ai/payment-request/one"},` +
		`{"type":"text","text":"Payment via ATXP is required: https://auth.atxp.ai/payment-request/two"}` +
		`]}}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	ic, _ := newInterceptor(t)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader("{}"))
	require.NoError(t, err)

	_, err = ic.Do(context.Background(), "bdj", req)
	require.Error(t, err)
	var multiErr *atxperrors.MultiplePaymentRequiredError
	require.ErrorAs(t, err, &multiErr)
	assert.Len(t, multiErr.Candidates, 2)
}

func readAll(resp *http.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}
