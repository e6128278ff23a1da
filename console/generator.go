// Package console turns credentials into AWS console sign-in URLs.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/stephnangue/profilebridge/logger"
	"github.com/stephnangue/profilebridge/sso"
)

const maxResponseBytes = 1 << 20

var ErrCredentialsIncomplete = errors.New("credentials incomplete: access key id and secret access key are required")

// FederationError is a failed call to the sign-in federation endpoint. It
// never carries the request URL, which embeds the session.
type FederationError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *FederationError) Error() string {
	msg := "console federation failed: " + e.Reason
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	return msg
}

func (e *FederationError) Unwrap() error { return e.Err }

type GeneratorConfig struct {
	FederationEndpoint string
	ConsoleURL         string
	Issuer             string
	SessionDuration    time.Duration
	Timeout            time.Duration
	HTTPClient         *http.Client
	Logger             *logger.GatedLogger
}

// Generator exchanges credentials for a sign-in token with a single request.
type Generator struct {
	federation      string
	consoleURL      string
	issuer          string
	sessionDuration time.Duration
	timeout         time.Duration
	client          *http.Client
	logger          *logger.GatedLogger
}

func NewGenerator(conf GeneratorConfig) *Generator {
	if conf.FederationEndpoint == "" {
		conf.FederationEndpoint = "https://signin.aws.amazon.com/federation"
	}
	if conf.ConsoleURL == "" {
		conf.ConsoleURL = "https://console.aws.amazon.com/"
	}
	if conf.Issuer == "" {
		conf.Issuer = "aws-profile-bridge"
	}
	if conf.SessionDuration <= 0 {
		conf.SessionDuration = 12 * time.Hour
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 10 * time.Second
	}
	if conf.HTTPClient == nil {
		conf.HTTPClient = cleanhttp.DefaultPooledClient()
	}
	if conf.Logger == nil {
		conf.Logger = logger.NewNopLogger()
	}
	return &Generator{
		federation:      conf.FederationEndpoint,
		consoleURL:      conf.ConsoleURL,
		issuer:          conf.Issuer,
		sessionDuration: conf.SessionDuration,
		timeout:         conf.Timeout,
		client:          conf.HTTPClient,
		logger:          conf.Logger.WithSubsystem("console"),
	}
}

// SessionDuration is the lifetime requested for sign-in tokens.
func (g *Generator) SessionDuration() time.Duration { return g.sessionDuration }

// Destination is the console page a sign-in lands on.
func (g *Generator) Destination(region string) string {
	if !ValidRegion(region) {
		return g.consoleURL
	}
	return fmt.Sprintf("https://%s.console.aws.amazon.com/console/home?region=%s", region, region)
}

// Generate returns a sign-in URL for creds. Long-term credentials (without a
// session token) are never sent anywhere; they get the plain console URL.
func (g *Generator) Generate(ctx context.Context, creds sso.Credentials, region string) (string, error) {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return "", ErrCredentialsIncomplete
	}
	if creds.SessionToken == "" {
		g.logger.Debug("long-term credentials, returning plain console url", logger.String("region", region))
		return g.Destination(region), nil
	}

	signinToken, err := g.signinToken(ctx, creds)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("Action", "login")
	q.Set("Issuer", g.issuer)
	q.Set("Destination", g.Destination(region))
	q.Set("SigninToken", signinToken)
	return g.federation + "?" + q.Encode(), nil
}

func (g *Generator) signinToken(ctx context.Context, creds sso.Credentials) (string, error) {
	session, err := json.Marshal(map[string]string{
		"sessionId":    creds.AccessKeyID,
		"sessionKey":   creds.SecretAccessKey,
		"sessionToken": creds.SessionToken,
	})
	if err != nil {
		return "", &FederationError{Reason: "failed to encode session"}
	}

	q := url.Values{}
	q.Set("Action", "getSigninToken")
	q.Set("DurationSeconds", fmt.Sprintf("%d", int64(g.sessionDuration.Seconds())))
	q.Set("Session", string(session))

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.federation+"?"+q.Encode(), nil)
	if err != nil {
		return "", &FederationError{Reason: "invalid federation endpoint"}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return "", g.transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &FederationError{StatusCode: resp.StatusCode, Reason: "failed to read response"}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &FederationError{StatusCode: resp.StatusCode, Reason: "unexpected response"}
	}

	var out struct {
		SigninToken string `json:"SigninToken"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.SigninToken == "" {
		return "", &FederationError{StatusCode: resp.StatusCode, Reason: "response carried no sign-in token"}
	}

	g.logger.Debug("obtained sign-in token",
		logger.Fingerprint("access_key", creds.AccessKeyID),
		logger.Duration("duration", time.Since(start)),
	)
	return out.SigninToken, nil
}

// transportError drops the *url.Error wrapper, whose message quotes the URL.
func (g *Generator) transportError(ctx context.Context, err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &FederationError{Reason: "request timed out", Err: context.DeadlineExceeded}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return &FederationError{Reason: "request canceled", Err: context.Canceled}
	}
	return &FederationError{Reason: "request failed: " + err.Error(), Err: err}
}
