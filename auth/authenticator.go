// Package auth gates requests behind the broker's API token.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/stephnangue/profilebridge/auth/token"
	"github.com/stephnangue/profilebridge/helper"
	"github.com/stephnangue/profilebridge/logger"
)

const (
	HeaderAPIToken      = "X-API-Token"
	HeaderAuthorization = "Authorization"
)

var (
	ErrAuthenticationRejected = errors.New("invalid or missing api token")
	ErrRateLimited            = errors.New("too many requests")
)

type Validator interface {
	Validate(presented string) token.Result
}

type Limiter interface {
	Allow(hash string) bool
}

// Authenticator rate limits by token hash, then validates the token.
type Authenticator struct {
	validator Validator
	limiter   Limiter
	logger    *logger.GatedLogger
}

func NewAuthenticator(validator Validator, limiter Limiter, log *logger.GatedLogger) *Authenticator {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Authenticator{
		validator: validator,
		limiter:   limiter,
		logger:    log.WithSubsystem("auth"),
	}
}

// Authenticate returns nil, ErrRateLimited or ErrAuthenticationRejected.
// The error never says which check failed.
func (a *Authenticator) Authenticate(presented string) error {
	hash := helper.GetHash(presented)

	if !a.limiter.Allow(hash) {
		a.logger.Warn("rate limit exceeded", logger.String("token_hash", hash[:8]))
		return ErrRateLimited
	}

	res := a.validator.Validate(presented)
	if !res.Valid {
		a.logger.Warn("authentication rejected",
			logger.String("token_hash", hash[:8]),
			logger.String("format", res.Kind.String()),
		)
		return ErrAuthenticationRejected
	}
	return nil
}

// TokenFromRequest reads X-API-Token, falling back to a bearer token.
func TokenFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderAPIToken)); v != "" {
		return v
	}
	authz := strings.TrimSpace(r.Header.Get(HeaderAuthorization))
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// HashToken is the rate limiter key of presented.
func HashToken(presented string) string {
	return helper.GetHash(presented)
}
