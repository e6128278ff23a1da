package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// Request is a raw request configuration structure used to initiate
// API requests to the profile bridge.
type Request struct {
	Method      string
	URL         *url.URL
	Params      url.Values
	Headers     http.Header
	ClientToken string
	Obj         interface{}

	// When possible, use BodyBytes as it is more efficient due to how the
	// retry logic works
	BodyBytes []byte

	// Fallback
	Body io.Reader
}

// SetJSONBody is used to set a request body that is a JSON-encoded value.
func (r *Request) SetJSONBody(val interface{}) error {
	if val == nil {
		return nil
	}

	buf, err := json.Marshal(val)
	if err != nil {
		return err
	}

	r.Obj = val
	r.BodyBytes = buf
	return nil
}

func (r *Request) toRetryableHTTP() (*retryablehttp.Request, error) {
	r.URL.RawQuery = r.Params.Encode()

	var body interface{}
	switch {
	case r.BodyBytes != nil:
		body = r.BodyBytes
	case r.Body != nil:
		body = r.Body
	}

	req, err := retryablehttp.NewRequest(r.Method, r.URL.String(), body)
	if err != nil {
		return nil, err
	}

	for header, vals := range r.Headers {
		for _, val := range vals {
			req.Header.Add(header, val)
		}
	}
	if r.BodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// The token header may override custom headers.
	if len(r.ClientToken) != 0 {
		req.Header.Set("X-API-Token", r.ClientToken)
	}

	return req, nil
}
