// Package httpclient provides in-process access to the FHIR HTTP surface
// without a network hop, by invoking the mux.Router's ServeHTTP directly
// with an httptest.ResponseRecorder.
//
// The Bundle Processor (C10) is the main consumer: each batch/transaction
// entry carries a method and a relative URL, and is executed by replaying
// it through the very same router that serves external requests, so that
// plugin ordering (C8), interaction guarding (C4) and schema routing (C5)
// apply identically whether a request arrived over HTTP or inside a
// bundle.
package httpclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

// Client replays requests against a mux.Router in-process.
type Client struct {
	router *mux.Router
	ctx    context.Context
	header http.Header
}

// NewWithRouter creates a client bound to router.
func NewWithRouter(router *mux.Router) Client {
	return Client{router: router, header: http.Header{}}
}

// WithContext returns a client that uses ctx as the base request context,
// e.g. one already carrying an Authorization and a request-scoped logger.
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// WithHeader returns a client that adds the given header to every request
// it issues, e.g. a tenant header or Content-Type.
func (c Client) WithHeader(key, value string) Client {
	h := http.Header{}
	for k, v := range c.header {
		h[k] = v
	}
	h.Set(key, value)
	c.header = h
	return c
}

func (c Client) context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Do replays one HTTP request against the bound router and returns the
// recorded status, header, and body. It is the primitive the Bundle
// Processor uses for every entry.
func (c Client) Do(method, path string, body []byte) (status int, header http.Header, respBody []byte, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(c.context(), method, path, reader)
	if err != nil {
		return 0, nil, nil, err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/fhir+json")
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	res := rec.Result()
	return res.StatusCode, res.Header, rec.Body.Bytes(), nil
}

// Get is a convenience wrapper around Do that decodes a JSON response body.
func (c Client) Get(path string, result interface{}) (int, error) {
	status, _, body, err := c.Do(http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	if result == nil || len(body) == 0 {
		return status, nil
	}
	return status, json.Unmarshal(body, result)
}
