package interceptor

import (
	"bytes"
	"io"
	"net/http"
)

// bufferResponse reads and closes resp's body, returning the raw bytes and a
// function that reconstructs a fresh *http.Response carrying the original
// status line, headers, and body bytes — including SSE framing, which is
// just bytes and a Content-Type header, so no special-casing is needed here.
func bufferResponse(resp *http.Response) ([]byte, func() *http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, nil, err
	}

	reconstruct := func() *http.Response {
		return &http.Response{
			Status:     resp.Status,
			StatusCode: resp.StatusCode,
			Proto:      resp.Proto,
			ProtoMajor: resp.ProtoMajor,
			ProtoMinor: resp.ProtoMinor,
			Header:     resp.Header.Clone(),
			Body:       io.NopCloser(bytes.NewReader(body)),
			Request:    resp.Request,
		}
	}
	return body, reconstruct, nil
}
