package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atxp-dev/atxp-go/atxperrors"
	"github.com/atxp-dev/atxp-go/store"
)

type stubSigner struct {
	jwt string
	err error
}

func (s stubSigner) GenerateJWT(ctx context.Context, req JWTSignRequest) (string, error) {
	return s.jwt, s.err
}

// testServer wires up a minimal resource server + authorization server pair
// covering PRM discovery, DCR, the redirect=false authorize call, and token
// exchange.
type testServer struct {
	*httptest.Server
	redirectMode string // "302" or "json"
	registered   *registrationRequest
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{redirectMode: "302"}
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ProtectedResourceMetadata{
			Resource:             "http://" + r.Host,
			AuthorizationServers: []string{"http://" + r.Host},
		})
	})

	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		_ = json.NewEncoder(w).Encode(AuthorizationServerMetadata{
			Issuer:                base,
			AuthorizationEndpoint: base + "/authorize",
			TokenEndpoint:         base + "/token",
			RegistrationEndpoint:  base + "/register",
		})
	})

	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		var req registrationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		ts.registered = &req
		_ = json.NewEncoder(w).Encode(registrationResponse{
			ClientID:     "client-123",
			ClientSecret: "secret-456",
			RedirectURIs: req.RedirectURIs,
		})
	})

	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer test-jwt" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		assert.NotEmpty(t, q.Get("resource"), "authorize request must carry the resource parameter")
		redirectTo := "http://localhost/callback?code=abc&state=" + q.Get("state")
		if ts.redirectMode == "json" {
			_ = json.NewEncoder(w).Encode(map[string]string{"redirect": redirectTo})
			return
		}
		http.Redirect(w, r, redirectTo, http.StatusFound)
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "abc", r.Form.Get("code"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-xyz",
			"refresh_token": "refresh-xyz",
			"expires_in":    3600,
		})
	})

	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-xyz" {
			w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="`+ts.URL+`/.well-known/oauth-protected-resource"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	ts.Server = httptest.NewServer(mux)
	return ts
}

func newTestClient(ts *testServer) (*Client, store.OAuthDb) {
	db := store.NewMemoryDB(time.Minute)
	c := NewClient(db, stubSigner{jwt: "test-jwt"},
		WithRedirectURI("http://localhost/callback"),
		WithClientName("test-client"),
	)
	return c, db
}

func TestMakeAuthorizationURL_302Redirect(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	c, _ := newTestClient(ts)
	authURL, err := c.MakeAuthorizationURL(context.Background(), "acct1", ts.URL+"/protected", nil)
	require.NoError(t, err)
	assert.Contains(t, authURL, "code=abc")
	assert.NotNil(t, ts.registered)
}

func TestMakeAuthorizationURL_JSONRedirect(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()
	ts.redirectMode = "json"

	c, _ := newTestClient(ts)
	authURL, err := c.MakeAuthorizationURL(context.Background(), "acct1", ts.URL+"/protected", nil)
	require.NoError(t, err)
	assert.Contains(t, authURL, "code=abc")
}

func TestMakeAuthorizationURL_RegistrationCachedAcrossCalls(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	c, _ := newTestClient(ts)
	ctx := context.Background()

	_, err := c.MakeAuthorizationURL(ctx, "acct1", ts.URL+"/protected", nil)
	require.NoError(t, err)
	first := ts.registered
	ts.registered = nil

	_, err = c.MakeAuthorizationURL(ctx, "acct2", ts.URL+"/protected", nil)
	require.NoError(t, err)
	assert.Nil(t, ts.registered, "second call must reuse cached client credentials, not re-register")
	assert.NotNil(t, first)
}

func TestMakeAuthorizationURL_AuthorizeErrorParam(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		_ = json.NewEncoder(w).Encode(AuthorizationServerMetadata{
			Issuer: base, AuthorizationEndpoint: base + "/authorize",
			TokenEndpoint: base + "/token", RegistrationEndpoint: base + "/register",
		})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(registrationResponse{ClientID: "c1"})
	})
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://localhost/callback?error=access_denied&error_description=nope", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	db := store.NewMemoryDB(time.Minute)
	c := NewClient(db, stubSigner{jwt: "t"}, WithRedirectURI("http://localhost/callback"))
	_, err := c.MakeAuthorizationURL(context.Background(), "acct1", srv.URL+"/res", nil)
	require.Error(t, err)
	var subflowErr *atxperrors.OAuthSubflowError
	require.ErrorAs(t, err, &subflowErr)
	assert.ErrorIs(t, err, atxperrors.ErrAuthorizeFailed)
}

func TestHandleCallback_RoundTrip(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	c, db := newTestClient(ts)
	ctx := context.Background()

	authURL, err := c.MakeAuthorizationURL(ctx, "acct1", ts.URL+"/protected", nil)
	require.NoError(t, err)

	require.NoError(t, c.HandleCallback(ctx, "acct1", authURL))

	token, err := db.GetAccessToken(ctx, "acct1", ts.URL+"/protected")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "access-xyz", token.AccessToken)
	assert.Equal(t, "refresh-xyz", token.RefreshToken)

	u, _ := url.Parse(authURL)
	_, err = db.GetPKCE(ctx, "acct1", u.Query().Get("state"))
	require.NoError(t, err)
}

func TestHandleCallback_UnknownState(t *testing.T) {
	db := store.NewMemoryDB(time.Minute)
	c := NewClient(db, stubSigner{jwt: "t"}, WithRedirectURI("http://localhost/callback"))
	err := c.HandleCallback(context.Background(), "acct1", "http://localhost/callback?code=x&state=unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, atxperrors.ErrPKCENotFound)
}

func TestFetch_AttachesBearerToken(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	c, db := newTestClient(ts)
	ctx := context.Background()
	require.NoError(t, db.SaveAccessToken(ctx, "acct1", store.AccessToken{
		AccessToken: "access-xyz",
		ResourceURL: ts.URL + "/protected",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/protected", nil)
	require.NoError(t, err)
	resp, err := c.Fetch(ctx, "acct1", req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFetch_401SynthesizesAuthenticationRequired(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	c, _ := newTestClient(ts)
	ctx := context.Background()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/protected", nil)
	require.NoError(t, err)
	_, err = c.Fetch(ctx, "acct1", req)
	require.Error(t, err)

	var authErr *atxperrors.AuthenticationRequiredError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ts.URL+"/.well-known/oauth-protected-resource", authErr.ResourceURL)
}

func TestDiscover_UnknownIssuerRejected(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	db := store.NewMemoryDB(time.Minute)
	c := NewClient(db, stubSigner{jwt: "t"},
		WithRedirectURI("http://localhost/callback"),
		WithAllowedIssuers("https://some-other-issuer.example"),
	)
	_, err := c.MakeAuthorizationURL(context.Background(), "acct1", ts.URL+"/protected", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, atxperrors.ErrUnknownAuthorizationServer)
}

// TestDiscover_PathSpecificProtectedResourceMetadata guards against
// re-deriving origin+suffix when a 401's resource_metadata hint already
// names a path-specific PRM document (e.g. ".../oauth-protected-resource/mcp"
// rather than the bare origin). Discovery must fetch exactly that URL
// instead of dropping its path suffix.
func TestDiscover_PathSpecificProtectedResourceMetadata(t *testing.T) {
	mux := http.NewServeMux()
	var hitPath string
	mux.HandleFunc("/.well-known/oauth-protected-resource/mcp", func(w http.ResponseWriter, r *http.Request) {
		hitPath = r.URL.Path
		base := "http://" + r.Host
		_ = json.NewEncoder(w).Encode(ProtectedResourceMetadata{
			Resource:             base + "/mcp",
			AuthorizationServers: []string{base},
		})
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		_ = json.NewEncoder(w).Encode(AuthorizationServerMetadata{
			Issuer: base, AuthorizationEndpoint: base + "/authorize",
			TokenEndpoint: base + "/token", RegistrationEndpoint: base + "/register",
		})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(registrationResponse{ClientID: "c1"})
	})
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		http.Redirect(w, r, "http://localhost/callback?code=abc&state="+q.Get("state"), http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	db := store.NewMemoryDB(time.Minute)
	c := NewClient(db, stubSigner{jwt: "t"}, WithRedirectURI("http://localhost/callback"))

	_, err := c.MakeAuthorizationURL(context.Background(), "acct1", srv.URL+"/.well-known/oauth-protected-resource/mcp", nil)
	require.NoError(t, err)
	assert.Equal(t, "/.well-known/oauth-protected-resource/mcp", hitPath)
}
