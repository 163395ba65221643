package paymentpipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/atxp-dev/atxp-go/atxperrors"
	"github.com/atxp-dev/atxp-go/paymentmaker"
)

type settlementBody struct {
	TransactionID string `json:"transactionId"`
	Network       string `json:"network"`
	Currency      string `json:"currency"`
}

// settle PUTs the settlement record to the payment-request URL with a
// JWT-authenticated bearer token. Non-2xx is a hard failure carrying the
// response body, matching SettlementFailedError.
func settle(ctx context.Context, httpClient *http.Client, url, jwt string, obj *paymentmaker.PaymentObject) error {
	payload, err := json.Marshal(settlementBody{
		TransactionID: obj.TransactionID,
		Network:       obj.Network,
		Currency:      obj.Currency,
	})
	if err != nil {
		return fmt.Errorf("paymentpipeline: encoding settlement body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("paymentpipeline: building settlement request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paymentpipeline: settlement PUT to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &atxperrors.SettlementFailedError{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}
