package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/go-secure-stdlib/parseutil"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

const (
	EnvBridgeAddress       = "PROFILE_BRIDGE_ADDR"
	EnvBridgeToken         = "PROFILE_BRIDGE_TOKEN"
	EnvBridgeMaxRetries    = "PROFILE_BRIDGE_MAX_RETRIES"
	EnvBridgeClientTimeout = "PROFILE_BRIDGE_CLIENT_TIMEOUT"
	EnvRateLimit           = "PROFILE_BRIDGE_RATE_LIMIT"

	DefaultAddress = "http://127.0.0.1:10999"
)

// Config configures a Client. Fields are read under modifyLock.
type Config struct {
	modifyLock sync.RWMutex

	// Address of the bridge, e.g. "http://127.0.0.1:10999".
	Address string

	HttpClient *http.Client

	// Retry bounds for 5xx answers other than 502 and 504. MaxRetries 0
	// disables retrying.
	MinRetryWait time.Duration
	MaxRetryWait time.Duration
	MaxRetries   int

	// Timeout bounds each call unless the context has an earlier deadline.
	Timeout time.Duration

	// Token is sent in X-API-Token with every request.
	Token string

	Backoff    retryablehttp.Backoff
	CheckRetry retryablehttp.CheckRetry
	Logger     retryablehttp.LeveledLogger

	// Limiter throttles outgoing calls. Nil means no limit.
	Limiter *rate.Limiter

	// Error holds a failure from DefaultConfig.
	Error error
}

// DefaultConfig returns the defaults overlaid with PROFILE_BRIDGE_*
// variables. Check Error before use.
func DefaultConfig() *Config {
	config := &Config{
		Address:      DefaultAddress,
		HttpClient:   cleanhttp.DefaultPooledClient(),
		Timeout:      time.Second * 60,
		MinRetryWait: time.Millisecond * 500,
		MaxRetryWait: time.Millisecond * 1500,
		MaxRetries:   2,
		Backoff:      retryablehttp.RateLimitLinearJitterBackoff,
	}

	transport := config.HttpClient.Transport.(*http.Transport)
	if err := http2.ConfigureTransport(transport); err != nil {
		config.Error = err
		return config
	}

	if err := config.ReadEnvironment(); err != nil {
		config.Error = err
		return config
	}

	// The bridge never redirects; a redirect means something else answered.
	config.HttpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return config
}

// ReadEnvironment applies PROFILE_BRIDGE_* variables. Nothing is changed
// when one of them is malformed.
func (c *Config) ReadEnvironment() error {
	var envAddress string
	var envToken string
	var envClientTimeout time.Duration
	var envMaxRetries *int
	var limit *rate.Limiter

	if v := ReadBridgeVariable(EnvBridgeAddress); v != "" {
		envAddress = v
		if !strings.Contains(envAddress, "://") {
			envAddress = "http://" + envAddress
		}
	}
	if v := ReadBridgeVariable(EnvBridgeToken); v != "" {
		envToken = v
	}
	if v := ReadBridgeVariable(EnvBridgeMaxRetries); v != "" {
		maxRetries, err := parseutil.SafeParseIntRange(v, 0, math.MaxInt)
		if err != nil {
			return err
		}
		mRetries := int(maxRetries)
		envMaxRetries = &mRetries
	}
	if v := ReadBridgeVariable(EnvRateLimit); v != "" {
		rateLimit, burstLimit, err := ParseRateLimit(v)
		if err != nil {
			return err
		}
		limit = rate.NewLimiter(rate.Limit(rateLimit), burstLimit)
	}
	if t := ReadBridgeVariable(EnvBridgeClientTimeout); t != "" {
		clientTimeout, err := parseutil.ParseDurationSecond(t)
		if err != nil {
			return fmt.Errorf("could not parse %q", EnvBridgeClientTimeout)
		}
		envClientTimeout = clientTimeout
	}

	c.modifyLock.Lock()
	defer c.modifyLock.Unlock()

	if limit != nil {
		c.Limiter = limit
	}
	if envAddress != "" {
		c.Address = envAddress
	}
	if envToken != "" {
		c.Token = envToken
	}
	if envMaxRetries != nil {
		c.MaxRetries = *envMaxRetries
	}
	if envClientTimeout != 0 {
		c.Timeout = envClientTimeout
	}

	return nil
}

// ParseRateLimit reads "rate" or "rate:burst". Without a burst, the burst
// equals the rate.
func ParseRateLimit(val string) (rate float64, burst int, err error) {
	_, err = fmt.Sscanf(val, "%f:%d", &rate, &burst)
	if err != nil {
		rate, err = strconv.ParseFloat(val, 64)
		if err != nil {
			err = fmt.Errorf("rate limit %q is incorrectly formatted", val)
		}
		burst = int(rate)
	}

	return rate, burst, err
}

// Client is the client to the bridge API. Create a client with NewClient.
type Client struct {
	modifyLock sync.RWMutex
	addr       *url.URL
	config     *Config
	token      string
}

// NewClient returns a new client for the given configuration.
//
// If the configuration is nil, DefaultConfig() is used, which reads
// PROFILE_BRIDGE_ADDR and PROFILE_BRIDGE_TOKEN among others.
func NewClient(c *Config) (*Client, error) {
	def := DefaultConfig()
	if def.Error != nil {
		return nil, fmt.Errorf("error encountered setting up default configuration: %w", def.Error)
	}

	if c == nil {
		c = def
	}

	c.modifyLock.Lock()
	defer c.modifyLock.Unlock()

	if c.MinRetryWait == 0 {
		c.MinRetryWait = def.MinRetryWait
	}
	if c.MaxRetryWait == 0 {
		c.MaxRetryWait = def.MaxRetryWait
	}
	if c.HttpClient == nil {
		c.HttpClient = def.HttpClient
	}
	if c.Address == "" {
		c.Address = DefaultAddress
	}

	u, err := url.Parse(c.Address)
	if err != nil {
		return nil, err
	}

	return &Client{
		addr:   u,
		config: c,
		token:  c.Token,
	}, nil
}

func (c *Client) Address() string {
	c.modifyLock.RLock()
	defer c.modifyLock.RUnlock()
	return c.addr.String()
}

// SetAddress points the client at another bridge.
func (c *Client) SetAddress(addr string) error {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("failed to set address: %w", err)
	}
	c.modifyLock.Lock()
	defer c.modifyLock.Unlock()
	c.addr = u
	return nil
}

// SetLimiter will set the rate limiter for this client.
func (c *Client) SetLimiter(rateLimit float64, burst int) {
	c.config.modifyLock.Lock()
	defer c.config.modifyLock.Unlock()
	c.config.Limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
}

func (c *Client) SetMaxRetries(retries int) {
	c.config.modifyLock.Lock()
	defer c.config.modifyLock.Unlock()
	c.config.MaxRetries = retries
}

func (c *Client) MaxRetries() int {
	c.config.modifyLock.RLock()
	defer c.config.modifyLock.RUnlock()
	return c.config.MaxRetries
}

func (c *Client) SetClientTimeout(timeout time.Duration) {
	c.config.modifyLock.Lock()
	defer c.config.modifyLock.Unlock()
	c.config.Timeout = timeout
}

func (c *Client) ClientTimeout() time.Duration {
	c.config.modifyLock.RLock()
	defer c.config.modifyLock.RUnlock()
	return c.config.Timeout
}

func (c *Client) Token() string {
	c.modifyLock.RLock()
	defer c.modifyLock.RUnlock()
	return c.token
}

func (c *Client) SetToken(v string) {
	c.modifyLock.Lock()
	defer c.modifyLock.Unlock()
	c.token = v
}

// SetLogger sets the logger handed to the retrying HTTP client.
func (c *Client) SetLogger(logger retryablehttp.LeveledLogger) {
	c.config.modifyLock.Lock()
	defer c.config.modifyLock.Unlock()
	c.config.Logger = logger
}

// NewRequest creates a new raw request object to query the bridge.
func (c *Client) NewRequest(method, requestPath string) *Request {
	c.modifyLock.RLock()
	addr := *c.addr
	token := c.token
	c.modifyLock.RUnlock()

	addr.Path = path.Join(addr.Path, requestPath)

	return &Request{
		Method:      method,
		URL:         &addr,
		Params:      make(url.Values),
		ClientToken: token,
	}
}

// RawRequestWithContext performs the raw request given.
func (c *Client) RawRequestWithContext(ctx context.Context, r *Request) (*Response, error) {
	ctx, cancel := c.withConfiguredTimeout(ctx)
	resp, err := c.rawRequestWithContext(ctx, r)
	if err != nil || resp == nil {
		cancel()
		return resp, err
	}
	// The body outlives this call; release the timer when it is closed.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) rawRequestWithContext(ctx context.Context, r *Request) (*Response, error) {
	c.config.modifyLock.RLock()
	limiter := c.config.Limiter
	minRetryWait := c.config.MinRetryWait
	maxRetryWait := c.config.MaxRetryWait
	maxRetries := c.config.MaxRetries
	checkRetry := c.config.CheckRetry
	backoff := c.config.Backoff
	httpClient := c.config.HttpClient
	logger := c.config.Logger
	c.config.modifyLock.RUnlock()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := r.toRetryableHTTP()
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.New("nil request created")
	}

	req.Request = req.Request.WithContext(ctx)

	if backoff == nil {
		backoff = retryablehttp.RateLimitLinearJitterBackoff
	}
	if checkRetry == nil {
		checkRetry = DefaultRetryPolicy
	}

	client := &retryablehttp.Client{
		HTTPClient:   httpClient,
		RetryWaitMin: minRetryWait,
		RetryWaitMax: maxRetryWait,
		RetryMax:     maxRetries,
		Backoff:      backoff,
		CheckRetry:   checkRetry,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	if logger != nil {
		client.Logger = logger
	}

	var result *Response
	resp, err := client.Do(req)
	if resp != nil {
		result = &Response{Response: resp}
	}
	if err != nil {
		if result != nil {
			result.Body.Close()
		}
		return nil, err
	}

	if err := result.Error(); err != nil {
		return nil, err
	}

	return result, nil
}

// withConfiguredTimeout wraps the context with a timeout from the client configuration.
func (c *Client) withConfiguredTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.ClientTimeout()

	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}

	return ctx, func() {}
}

// DefaultRetryPolicy is retryablehttp.DefaultRetryPolicy except that answers
// the bridge produced on purpose are final. Retrying a 429 would extend the
// lockout; a 502 or 504 reports a remote call that was already attempted.
func DefaultRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusGatewayTimeout:
			return false, nil
		}
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
