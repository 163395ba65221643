package paymentpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/atxp-dev/atxp-go/paymentmaker"
)

// wireDestination mirrors both the multi-destination list entry and the
// legacy single-destination top-level fields a payment-request record may
// use on the wire.
type wireDestination struct {
	Network  string `json:"network"`
	Address  string `json:"address"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type paymentRequestWire struct {
	Destinations []wireDestination `json:"destinations"`
	wireDestination
	Resource     string `json:"resource"`
	ResourceName string `json:"resourceName"`
	Issuer       string `json:"iss"`
}

// fetchPaymentRequest GETs the payment-request record at url and normalizes
// the legacy single-destination shape into the list shape.
func fetchPaymentRequest(ctx context.Context, httpClient *http.Client, url string) (*PaymentRequestData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("paymentpipeline: building payment-request fetch: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paymentpipeline: fetching payment-request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("paymentpipeline: payment-request %s returned status %d: %s", url, resp.StatusCode, string(body))
	}

	var wire paymentRequestWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("paymentpipeline: malformed payment-request record from %s: %w", url, err)
	}

	dests := wire.Destinations
	if len(dests) == 0 && wire.wireDestination.Address != "" {
		dests = []wireDestination{wire.wireDestination}
	}
	if len(dests) == 0 {
		return nil, fmt.Errorf("paymentpipeline: payment-request %s named no destinations", url)
	}

	out := make([]paymentmaker.Destination, 0, len(dests))
	for _, d := range dests {
		out = append(out, paymentmaker.Destination{
			Network:  d.Network,
			Address:  d.Address,
			Amount:   d.Amount,
			Currency: d.Currency,
		})
	}

	return &PaymentRequestData{
		Destinations: out,
		Resource:     wire.Resource,
		ResourceName: wire.ResourceName,
		Issuer:       wire.Issuer,
	}, nil
}
