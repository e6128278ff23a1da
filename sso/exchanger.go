package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	"github.com/aws/smithy-go"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/stephnangue/profilebridge/logger"
)

var (
	// ErrTokenMissingOrExpired means the user must run "aws sso login".
	ErrTokenMissingOrExpired = errors.New("sso token missing or expired")
	ErrIncompleteProfile     = errors.New("sso profile requires sso_account_id and sso_role_name")
)

// Credentials are temporary role credentials. They format themselves without
// their secrets.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expires         time.Time
}

func (c Credentials) String() string {
	exp := "never"
	if !c.Expires.IsZero() {
		exp = c.Expires.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("Credentials{AccessKeyID: %s, SecretAccessKey: %s, SessionToken: %s, Expires: %s}",
		redacted(c.AccessKeyID), redacted(c.SecretAccessKey), redacted(c.SessionToken), exp)
}

func (c Credentials) GoString() string { return c.String() }

func (c Credentials) MarshalJSON() ([]byte, error) {
	return []byte(`{"redacted":true}`), nil
}

// CanExpire reports whether the credentials carry an expiry.
func (c Credentials) CanExpire() bool { return !c.Expires.IsZero() }

func redacted(v string) string {
	if v == "" {
		return "<empty>"
	}
	return "[REDACTED]"
}

// RemoteError is a failed call to the SSO portal.
type RemoteError struct {
	Operation  string
	StatusCode int
	Code       string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("sso %s failed", e.Operation)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code == "" && e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

type ExchangerConfig struct {
	// Endpoint overrides the portal URL, e.g. for tests.
	Endpoint string
	// DefaultRegion is used when neither the profile nor the token names one.
	DefaultRegion string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *logger.GatedLogger
}

// Exchanger trades a bearer token for role credentials with a single call.
// Results are never cached.
type Exchanger struct {
	endpoint      string
	defaultRegion string
	timeout       time.Duration
	httpClient    *http.Client
	logger        *logger.GatedLogger
}

// RoleRequest names the role to assume. Region is the profile's sso_region
// and may be empty.
type RoleRequest struct {
	AccountID string
	RoleName  string
	Region    string
}

func NewExchanger(conf ExchangerConfig) *Exchanger {
	if conf.Timeout <= 0 {
		conf.Timeout = 10 * time.Second
	}
	if conf.HTTPClient == nil {
		conf.HTTPClient = cleanhttp.DefaultPooledClient()
	}
	if conf.DefaultRegion == "" {
		conf.DefaultRegion = "us-east-1"
	}
	if conf.Logger == nil {
		conf.Logger = logger.NewNopLogger()
	}
	return &Exchanger{
		endpoint:      conf.Endpoint,
		defaultRegion: conf.DefaultRegion,
		timeout:       conf.Timeout,
		httpClient:    conf.HTTPClient,
		logger:        conf.Logger.WithSubsystem("sso-exchange"),
	}
}

func (e *Exchanger) client(region string) *sso.Client {
	opts := sso.Options{
		Region:      region,
		Credentials: aws.AnonymousCredentials{},
		Retryer:     aws.NopRetryer{},
		HTTPClient:  e.httpClient,
	}
	if e.endpoint != "" {
		opts.BaseEndpoint = aws.String(e.endpoint)
	}
	return sso.New(opts)
}

// Region picks the portal region: the profile's, then the token's, then the
// configured default.
func (e *Exchanger) Region(req RoleRequest, tok *Token) string {
	if req.Region != "" {
		return req.Region
	}
	if tok != nil && tok.Region != "" {
		return tok.Region
	}
	return e.defaultRegion
}

// Exchange calls GetRoleCredentials for the requested account and role.
func (e *Exchanger) Exchange(ctx context.Context, tok *Token, req RoleRequest) (*Credentials, error) {
	accountID, roleName := req.AccountID, req.RoleName
	if accountID == "" || roleName == "" {
		return nil, ErrIncompleteProfile
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, ErrTokenMissingOrExpired
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	region := e.Region(req, tok)

	start := time.Now()
	out, err := e.client(region).GetRoleCredentials(ctx, &sso.GetRoleCredentialsInput{
		AccessToken: aws.String(tok.AccessToken),
		AccountId:   aws.String(accountID),
		RoleName:    aws.String(roleName),
	})
	if err != nil {
		err = classify(ctx, err)
		e.logger.Warn("sso role credential exchange failed",
			logger.String("account_id", accountID),
			logger.String("role_name", roleName),
			logger.String("region", region),
			logger.Fingerprint("token", tok.AccessToken),
			logger.Duration("duration", time.Since(start)),
			logger.Err(err),
		)
		return nil, err
	}

	rc := out.RoleCredentials
	if rc == nil || aws.ToString(rc.AccessKeyId) == "" || aws.ToString(rc.SecretAccessKey) == "" {
		return nil, &RemoteError{Operation: "GetRoleCredentials", Err: errors.New("response carried no credentials")}
	}

	creds := &Credentials{
		AccessKeyID:     aws.ToString(rc.AccessKeyId),
		SecretAccessKey: aws.ToString(rc.SecretAccessKey),
		SessionToken:    aws.ToString(rc.SessionToken),
	}
	if rc.Expiration > 0 {
		creds.Expires = time.UnixMilli(rc.Expiration).UTC()
	}

	e.logger.Debug("exchanged sso token for role credentials",
		logger.String("account_id", accountID),
		logger.String("role_name", roleName),
		logger.Duration("duration", time.Since(start)),
	)
	return creds, nil
}

func classify(ctx context.Context, err error) error {
	re := &RemoteError{Operation: "GetRoleCredentials", Err: err}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		re.StatusCode = respErr.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "UnauthorizedException", "ForbiddenException":
			return ErrTokenMissingOrExpired
		}
		re.Code = apiErr.ErrorCode()
	}

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		re.Err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return re
}
