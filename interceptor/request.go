package interceptor

import (
	"bytes"
	"io"
	"net/http"
)

// requestTemplate captures everything needed to build a fresh *http.Request
// for each dispatch attempt. It is immutable across retries: the body is
// buffered once up front so every attempt can replay it, rather than
// relying on the caller's request supporting GetBody.
type requestTemplate struct {
	method string
	url    string
	header http.Header
	body   []byte
}

func snapshotRequest(req *http.Request) (*requestTemplate, error) {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		body = b
	}
	return &requestTemplate{
		method: req.Method,
		url:    req.URL.String(),
		header: req.Header.Clone(),
		body:   body,
	}, nil
}

func (t *requestTemplate) build() (*http.Request, error) {
	var bodyReader io.Reader
	if t.body != nil {
		bodyReader = bytes.NewReader(t.body)
	}
	req, err := http.NewRequest(t.method, t.url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header = t.header.Clone()
	return req, nil
}
