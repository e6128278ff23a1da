package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Response is a raw response that wraps an HTTP response.
type Response struct {
	*http.Response
}

// DecodeJSON decodes the body into out and closes it.
func (r *Response) DecodeJSON(out interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

// Error returns a *ResponseError for any status outside 2xx.
func (r *Response) Error() error {
	if r.StatusCode >= 200 && r.StatusCode < 300 {
		return nil
	}
	defer r.Body.Close()

	respErr := &ResponseError{StatusCode: r.StatusCode}
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err == nil && len(body) > 0 {
		var payload struct {
			Errors []string `json:"errors"`
			Code   string   `json:"code"`
		}
		if json.Unmarshal(body, &payload) == nil {
			respErr.Errors = payload.Errors
			respErr.Code = payload.Code
		}
	}
	return respErr
}

// ResponseError is an error reported by the server.
type ResponseError struct {
	StatusCode int
	Code       string
	Errors     []string
}

func (e *ResponseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "request failed with status %d", e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if len(e.Errors) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Errors, "; "))
	}
	return b.String()
}

// NeedsLogin reports whether the SSO session behind a profile has expired.
func (e *ResponseError) NeedsLogin() bool { return e.Code == "needs_login" }
