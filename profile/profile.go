// Package profile reads the AWS CLI credentials and config files and merges
// them into the profile list served to the browser add-on.
package profile

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	ErrMalformedSection   = errors.New("malformed section")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrInvalidProfileName = errors.New("invalid profile name")
)

const maxNameLength = 128

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Profile is one named identity as exposed to clients.
type Profile struct {
	Name           string     `json:"name" yaml:"name"`
	HasCredentials bool       `json:"has_credentials" yaml:"has_credentials"`
	Expiration     *time.Time `json:"expiration,omitempty" yaml:"expiration,omitempty"`
	Expired        bool       `json:"expired" yaml:"expired"`
	Color          string     `json:"color" yaml:"color"`
	Icon           string     `json:"icon" yaml:"icon"`
	IsSSO          bool       `json:"is_sso" yaml:"is_sso"`

	SSOStartURL  string `json:"sso_start_url,omitempty" yaml:"sso_start_url,omitempty"`
	SSORegion    string `json:"sso_region,omitempty" yaml:"sso_region,omitempty"`
	SSOAccountID string `json:"sso_account_id,omitempty" yaml:"sso_account_id,omitempty"`
	SSORoleName  string `json:"sso_role_name,omitempty" yaml:"sso_role_name,omitempty"`
	SSOSession   string `json:"sso_session,omitempty" yaml:"sso_session,omitempty"`

	Region string `json:"aws_region,omitempty" yaml:"aws_region,omitempty"`

	// HasStaticCredentials is true when the credentials file holds keys for
	// this name. It is not serialized.
	HasStaticCredentials bool `json:"-" yaml:"-"`
}

// ValidateName rejects names that cannot come from an AWS CLI file.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLength || !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidProfileName, truncate(name, 32))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
