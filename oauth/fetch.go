package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/atxp-dev/atxp-go/atxperrors"
)

// Fetch sends req on behalf of accountID, attaching a bearer access token
// scoped to req's URL (minus query string) if one is on file. A 401 response
// is never returned to the caller as a plain *http.Response: it's translated
// into an AuthenticationRequiredError carrying whatever resource-metadata
// hint the server supplied, so the Interceptor can route it into the OAuth
// subflow.
func (c *Client) Fetch(ctx context.Context, accountID string, req *http.Request) (*http.Response, error) {
	resourceURL := resourceKey(req.URL)

	token, err := c.db.GetAccessToken(ctx, accountID, resourceURL)
	if err != nil {
		return nil, err
	}
	if token != nil {
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		defer resp.Body.Close()
		if token != nil {
			_ = c.db.DeleteAccessToken(ctx, accountID, resourceURL)
		}
		return nil, &atxperrors.AuthenticationRequiredError{
			ResourceURL: resourceMetadataHint(resp, resourceURL),
			Challenge:   resp.Header.Get("WWW-Authenticate"),
		}
	}

	return resp, nil
}

func resourceKey(u *url.URL) string {
	stripped := *u
	stripped.RawQuery = ""
	stripped.Fragment = ""
	return stripped.String()
}

// resourceMetadataHint extracts the resource_metadata URL from a 401's
// WWW-Authenticate header (RFC 9728) when present, falling back to the
// request's own resource URL so discovery still has somewhere to start.
func resourceMetadataHint(resp *http.Response, fallback string) string {
	challenge := resp.Header.Get("WWW-Authenticate")
	const marker = "resource_metadata="
	if idx := strings.Index(challenge, marker); idx >= 0 {
		rest := challenge[idx+len(marker):]
		rest = strings.TrimPrefix(rest, `"`)
		if end := strings.IndexAny(rest, `", `); end >= 0 {
			rest = rest[:end]
		}
		if rest != "" {
			return rest
		}
	}
	return fallback
}
