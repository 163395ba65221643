package destmapper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/atxp-dev/atxp-go/paymentmaker"
)

// networkAliases normalizes network identifiers an address-discovery
// endpoint might report under a legacy name to the name the rest of this
// module uses.
var networkAliases = map[string]string{
	"ethereum": "base",
}

func normalizeNetwork(network string) string {
	if alias, ok := networkAliases[network]; ok {
		return alias
	}
	return network
}

type discoveredAddress struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// AddressDiscovery resolves a destination whose "address" field is really an
// account identifier into one or more concrete on-chain addresses, by
// calling <origin>/addresses?currency=<currency> on the account's origin
// server with HTTP Basic auth. The response must name at least one address;
// an empty or malformed response is a hard failure, since silently dropping
// a destination a caller expected to be paid would be worse than erroring.
type AddressDiscovery struct {
	HTTPClient  *http.Client
	BasicAuthToken string // sent as the HTTP Basic "password" with an empty username
}

func NewAddressDiscovery(httpClient *http.Client, basicAuthToken string) *AddressDiscovery {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AddressDiscovery{HTTPClient: httpClient, BasicAuthToken: basicAuthToken}
}

func (a *AddressDiscovery) Map(ctx context.Context, destinations []paymentmaker.Destination, sources []paymentmaker.SourceAddress) ([]paymentmaker.Destination, error) {
	var out []paymentmaker.Destination
	for _, d := range destinations {
		resolved, err := a.resolveOne(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved...)
	}
	return out, nil
}

func (a *AddressDiscovery) resolveOne(ctx context.Context, d paymentmaker.Destination) ([]paymentmaker.Destination, error) {
	origin, err := originOf(d.Address)
	if err != nil {
		// Not a resolvable account identifier (e.g. already a concrete
		// on-chain address); pass it through unchanged.
		return []paymentmaker.Destination{d}, nil
	}

	endpoint := strings.TrimRight(origin, "/") + "/addresses?currency=" + url.QueryEscape(d.Currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("destmapper: building address-discovery request: %w", err)
	}
	req.SetBasicAuth("", a.BasicAuthToken)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("destmapper: address-discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("destmapper: address-discovery endpoint %s returned status %d: %s", endpoint, resp.StatusCode, string(body))
	}

	var entries []discoveredAddress
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("destmapper: malformed address-discovery response from %s: %w", endpoint, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("destmapper: address-discovery endpoint %s returned no addresses", endpoint)
	}

	out := make([]paymentmaker.Destination, 0, len(entries))
	for _, e := range entries {
		if e.Address == "" || e.Network == "" {
			return nil, fmt.Errorf("destmapper: address-discovery endpoint %s returned a malformed entry %+v", endpoint, e)
		}
		out = append(out, paymentmaker.Destination{
			Network:  normalizeNetwork(e.Network),
			Address:  e.Address,
			Amount:   d.Amount,
			Currency: d.Currency,
		})
	}
	return out, nil
}

// originOf reports the scheme://host origin of addr if addr parses as an
// absolute URL-shaped account identifier (e.g. "https://pay.atxp.ai/alice"),
// and an error otherwise.
func originOf(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("not a URL-shaped account identifier: %q", addr)
	}
	return u.Scheme + "://" + u.Host, nil
}
