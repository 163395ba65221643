// Package mcperror recognizes payment-required conditions embedded in MCP
// (Model Context Protocol) responses, independent of whether the response
// is framed as plain JSON-RPC or as an SSE event stream. Parsing is pure
// and side-effect-free: malformed input anywhere produces an empty result
// rather than an error.
package mcperror

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// paymentRequestURLPattern matches a payment-request URL embedded in free
// text (an error message or a tool-result text block).
var paymentRequestURLPattern = regexp.MustCompile(`https?://[^ ]+/payment-request/[^ ]+`)

// Parse classifies a response body and returns the ordered list of
// payment-request references it contains. An empty slice means "not a
// payment-required condition" — including the case where the body doesn't
// parse as JSON or SSE at all. logger may be nil.
func Parse(body []byte, logger *slog.Logger) []PaymentRequestRef {
	if logger == nil {
		logger = slog.Default()
	}

	text := string(body)
	var refs []PaymentRequestRef

	if looksLikeSSE(text) {
		for _, msg := range splitSSEMessages(text) {
			refs = append(refs, parseOneMessage([]byte(msg), logger)...)
		}
		return refs
	}

	return parseOneMessage(body, logger)
}

func parseOneMessage(raw []byte, logger *slog.Logger) []PaymentRequestRef {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil
	}

	var msg jsonRPCMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		logger.Debug("mcperror: malformed JSON-RPC message, ignoring", "error", err)
		return nil
	}

	if msg.Error != nil {
		switch msg.Error.Code {
		case PaymentRequiredCode:
			if ref, ok := refFromPaymentError(msg.Error, logger); ok {
				return []PaymentRequestRef{ref}
			}
			return nil
		case ElicitationRequiredCode:
			return refsFromElicitation(msg.Error, logger)
		}
		return nil
	}

	if msg.Result != nil && msg.Result.IsError {
		return refsFromToolResult(msg.Result)
	}

	return nil
}

func refFromPaymentError(e *jsonRPCError, logger *slog.Logger) (PaymentRequestRef, bool) {
	if len(e.Data) > 0 {
		var data jsonRPCErrorData
		if err := json.Unmarshal(e.Data, &data); err != nil {
			logger.Debug("mcperror: malformed error.data, falling back to message scan", "error", err)
		} else if data.PaymentRequestURL != "" {
			return PaymentRequestRef{URL: data.PaymentRequestURL, ID: idTail(data.PaymentRequestURL)}, true
		}
	}

	match := paymentRequestURLPattern.FindString(e.Message)
	if match == "" {
		return PaymentRequestRef{}, false
	}
	return PaymentRequestRef{URL: match, ID: idTail(match)}, true
}

func refsFromElicitation(e *jsonRPCError, logger *slog.Logger) []PaymentRequestRef {
	if len(e.Data) == 0 {
		return nil
	}
	var data jsonRPCErrorData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		logger.Debug("mcperror: malformed elicitation error.data", "error", err)
		return nil
	}

	var refs []PaymentRequestRef
	for _, el := range data.Elicitations {
		if el.Mode != "url" {
			continue
		}
		match := paymentRequestURLPattern.FindString(el.URL)
		if match == "" {
			continue
		}
		refs = append(refs, PaymentRequestRef{URL: match, ID: idTail(match)})
	}
	return refs
}

func refsFromToolResult(result *jsonRPCResult) []PaymentRequestRef {
	var refs []PaymentRequestRef
	for _, item := range result.Content {
		if item.Type != "text" {
			continue
		}
		if !strings.Contains(item.Text, preamble) {
			continue
		}
		match := paymentRequestURLPattern.FindString(item.Text)
		if match == "" {
			continue
		}
		refs = append(refs, PaymentRequestRef{URL: match, ID: idTail(match)})
	}
	return refs
}

// idTail extracts the trailing id segment following "/payment-request/".
func idTail(url string) string {
	const marker = "/payment-request/"
	idx := strings.Index(url, marker)
	if idx < 0 {
		return ""
	}
	tail := url[idx+len(marker):]
	// Strip any trailing query string or fragment that slipped into the match.
	if i := strings.IndexAny(tail, "?#"); i >= 0 {
		tail = tail[:i]
	}
	return tail
}
