package mcperror

import "strings"

// looksLikeSSE reports whether body uses SSE framing: any line, after
// trimming whitespace, begins with one of the SSE field prefixes.
func looksLikeSSE(body string) bool {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "event:"),
			strings.HasPrefix(trimmed, "data:"),
			strings.HasPrefix(trimmed, "id:"),
			strings.HasPrefix(trimmed, "retry:"):
			return true
		}
	}
	return false
}

// splitSSEMessages splits an SSE body into its constituent "data:" payloads.
// Within one message, consecutive data: lines are newline-joined. Messages
// are delimited by a blank line; malformed (unrecognized) lines are
// ignored; a trailing message with no closing blank line is still emitted.
func splitSSEMessages(body string) []string {
	var messages []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			messages = append(messages, strings.Join(current, "\n"))
			current = nil
		}
	}

	for _, rawLine := range strings.Split(body, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			flush()
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "data:"):
			data := strings.TrimPrefix(trimmed, "data:")
			data = strings.TrimPrefix(data, " ")
			current = append(current, data)
		case strings.HasPrefix(trimmed, "event:"),
			strings.HasPrefix(trimmed, "id:"),
			strings.HasPrefix(trimmed, "retry:"):
			// Recognized but not part of the JSON payload; ignored here.
		default:
			// Malformed line outside a recognized field; ignored.
		}
	}
	flush()

	return messages
}
