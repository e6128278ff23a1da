package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/stephnangue/profilebridge/profile"
)

type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type VersionResponse struct {
	APIVersion  string `json:"api_version"`
	APIProtocol string `json:"api_protocol"`
	GoVersion   string `json:"go_version"`
	Platform    string `json:"platform"`
}

type ConsoleURLResponse struct {
	Action      string `json:"action"`
	ProfileName string `json:"profileName"`
	URL         string `json:"url"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
}

type Region struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type profileList struct {
	Action   string            `json:"action"`
	Profiles []profile.Profile `json:"profiles"`
}

// Health checks that the bridge is up. It needs no token.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, c.NewRequest(http.MethodGet, "/health"), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Version(ctx context.Context) (*VersionResponse, error) {
	var out VersionResponse
	if err := c.do(ctx, c.NewRequest(http.MethodGet, "/version"), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProfiles returns the profiles known to the bridge without contacting
// any remote service.
func (c *Client) ListProfiles(ctx context.Context) ([]profile.Profile, error) {
	var out profileList
	if err := c.do(ctx, c.NewRequest(http.MethodGet, "/profiles"), &out); err != nil {
		return nil, err
	}
	return out.Profiles, nil
}

// EnrichProfiles refreshes the SSO state of the named profiles, or of every
// SSO profile when names is empty.
func (c *Client) EnrichProfiles(ctx context.Context, names ...string) ([]profile.Profile, error) {
	r := c.NewRequest(http.MethodPost, "/profiles/enrich")
	if len(names) > 0 {
		if err := r.SetJSONBody(map[string][]string{"profileNames": names}); err != nil {
			return nil, err
		}
	}
	var out profileList
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return out.Profiles, nil
}

// ConsoleURL asks the bridge for a console sign-in link.
func (c *Client) ConsoleURL(ctx context.Context, name, region string) (*ConsoleURLResponse, error) {
	r := c.NewRequest(http.MethodPost, "/profiles/"+url.PathEscape(name)+"/console-url")
	if region != "" {
		if err := r.SetJSONBody(map[string]string{"region": region}); err != nil {
			return nil, err
		}
	}
	var out ConsoleURLResponse
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Regions(ctx context.Context) ([]Region, error) {
	var out struct {
		Regions []Region `json:"regions"`
	}
	if err := c.do(ctx, c.NewRequest(http.MethodGet, "/regions"), &out); err != nil {
		return nil, err
	}
	return out.Regions, nil
}

// Metrics returns the raw in-memory metrics summary.
func (c *Client) Metrics(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, c.NewRequest(http.MethodGet, "/metrics"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, r *Request, out interface{}) error {
	resp, err := c.RawRequestWithContext(ctx, r)
	if err != nil {
		return err
	}
	return resp.DecodeJSON(out)
}
