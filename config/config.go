package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-secure-stdlib/parseutil"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/stephnangue/profilebridge/helper"
	"github.com/stephnangue/profilebridge/listener"
)

const (
	DefaultConfigPath  = "~/.aws/profile_bridge.hcl"
	DefaultAddress     = "127.0.0.1:10999"
	ListenerTypeTCP    = "tcp"
	EnvAddress         = "PROFILE_BRIDGE_ADDR"
	EnvLogLevel        = "PROFILE_BRIDGE_LOG_LEVEL"
	EnvTokenFile       = "PROFILE_BRIDGE_TOKEN_FILE"
	EnvConfigPath      = "PROFILE_BRIDGE_CONFIG"
	defaultRegionSSO   = "us-east-1"
	defaultMaxAttempts = 120
)

// Config is the configuration of the profile bridge server.
type Config struct {
	LogLevel           string `hcl:"log_level,optional" json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFormat          string `hcl:"log_format,optional" json:"log_format,omitempty" yaml:"log_format,omitempty"`
	LogFile            string `hcl:"log_file,optional" json:"log_file,omitempty" yaml:"log_file,omitempty"`
	LogRotationPeriod  int    `hcl:"log_rotation_period,optional" json:"log_rotation_period,omitempty" yaml:"log_rotation_period,omitempty"`
	LogRotateMegabytes int    `hcl:"log_rotate_megabytes,optional" json:"log_rotate_megabytes,omitempty" yaml:"log_rotate_megabytes,omitempty"`
	LogRotateMaxFiles  int    `hcl:"log_rotate_max_files,optional" json:"log_rotate_max_files,omitempty" yaml:"log_rotate_max_files,omitempty"`
	PidFile            string `hcl:"pid_file,optional" json:"pid_file,omitempty" yaml:"pid_file,omitempty"`

	Listeners []ListenerBlock `hcl:"listener,block" json:"listener,omitempty" yaml:"listener,omitempty"`
	AWS       *AWSBlock       `hcl:"aws,block" json:"aws,omitempty" yaml:"aws,omitempty"`
	Auth      *AuthBlock      `hcl:"auth,block" json:"auth,omitempty" yaml:"auth,omitempty"`
	SSO       *SSOBlock       `hcl:"sso,block" json:"sso,omitempty" yaml:"sso,omitempty"`
	Console   *ConsoleBlock   `hcl:"console,block" json:"console,omitempty" yaml:"console,omitempty"`
	CORS      *CORSBlock      `hcl:"cors,block" json:"cors,omitempty" yaml:"cors,omitempty"`

	// Source is the file the configuration was read from, empty for defaults.
	Source string `json:"-" yaml:"-"`
}

type ListenerBlock struct {
	Type    string `hcl:"type,label" json:"type,omitempty" yaml:"type,omitempty"`
	Address string `hcl:"address" json:"address,omitempty" yaml:"address,omitempty"`
}

// AWSBlock locates the files written by the AWS CLI.
type AWSBlock struct {
	CredentialsFile string `hcl:"credentials_file,optional" json:"credentials_file,omitempty" yaml:"credentials_file,omitempty"`
	ConfigFile      string `hcl:"config_file,optional" json:"config_file,omitempty" yaml:"config_file,omitempty"`
	SSOCacheDir     string `hcl:"sso_cache_dir,optional" json:"sso_cache_dir,omitempty" yaml:"sso_cache_dir,omitempty"`
	DisableSSOFile  string `hcl:"disable_sso_file,optional" json:"disable_sso_file,omitempty" yaml:"disable_sso_file,omitempty"`
}

type AuthBlock struct {
	TokenFile            string `hcl:"token_file,optional" json:"token_file,omitempty" yaml:"token_file,omitempty"`
	RateLimitMaxAttempts int    `hcl:"rate_limit_max_attempts,optional" json:"rate_limit_max_attempts,omitempty" yaml:"rate_limit_max_attempts,omitempty"`
	RateLimitWindowRaw   string `hcl:"rate_limit_window,optional" json:"rate_limit_window,omitempty" yaml:"rate_limit_window,omitempty"`
	RateLimitMaxTracked  int    `hcl:"rate_limit_max_tracked,optional" json:"rate_limit_max_tracked,omitempty" yaml:"rate_limit_max_tracked,omitempty"`

	RateLimitWindow time.Duration `json:"-" yaml:"-"`
}

type SSOBlock struct {
	MemoryTTLRaw       string `hcl:"memory_ttl,optional" json:"memory_ttl,omitempty" yaml:"memory_ttl,omitempty"`
	ExpiryMarginRaw    string `hcl:"expiry_margin,optional" json:"expiry_margin,omitempty" yaml:"expiry_margin,omitempty"`
	ExchangeTimeoutRaw string `hcl:"exchange_timeout,optional" json:"exchange_timeout,omitempty" yaml:"exchange_timeout,omitempty"`
	DefaultRegion      string `hcl:"default_region,optional" json:"default_region,omitempty" yaml:"default_region,omitempty"`
	Endpoint           string `hcl:"endpoint,optional" json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	VerifyRoles        bool   `hcl:"verify_roles,optional" json:"verify_roles,omitempty" yaml:"verify_roles,omitempty"`

	MemoryTTL       time.Duration `json:"-" yaml:"-"`
	ExpiryMargin    time.Duration `json:"-" yaml:"-"`
	ExchangeTimeout time.Duration `json:"-" yaml:"-"`
}

type ConsoleBlock struct {
	FederationEndpoint   string `hcl:"federation_endpoint,optional" json:"federation_endpoint,omitempty" yaml:"federation_endpoint,omitempty"`
	ConsoleURL           string `hcl:"console_url,optional" json:"console_url,omitempty" yaml:"console_url,omitempty"`
	Issuer               string `hcl:"issuer,optional" json:"issuer,omitempty" yaml:"issuer,omitempty"`
	SessionDurationRaw   string `hcl:"session_duration,optional" json:"session_duration,omitempty" yaml:"session_duration,omitempty"`
	CacheMarginRaw       string `hcl:"cache_margin,optional" json:"cache_margin,omitempty" yaml:"cache_margin,omitempty"`
	FederationTimeoutRaw string `hcl:"federation_timeout,optional" json:"federation_timeout,omitempty" yaml:"federation_timeout,omitempty"`

	SessionDuration   time.Duration `json:"-" yaml:"-"`
	CacheMargin       time.Duration `json:"-" yaml:"-"`
	FederationTimeout time.Duration `json:"-" yaml:"-"`
}

type CORSBlock struct {
	AllowedOrigins      []string `hcl:"allowed_origins,optional" json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
	AllowedExtensionIDs []string `hcl:"allowed_extension_ids,optional" json:"allowed_extension_ids,omitempty" yaml:"allowed_extension_ids,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	if err := c.normalize(); err != nil {
		// The built-in defaults always parse.
		panic(err)
	}
	return c
}

// LoadConfig reads an HCL configuration file. An empty path means the
// default location, which may be absent; an explicit path must exist.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if !explicit {
		path = DefaultConfigPath
	}
	path = helper.ExpandPath(path)

	var c Config
	switch _, err := os.Stat(path); {
	case err == nil:
		if err := hclsimple.DecodeFile(path, nil, &c); err != nil {
			return nil, err
		}
		c.Source = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file not found: %s", path)
	default:
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	c.applyEnvironment()
	if err := c.normalize(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvAddress); v != "" {
		c.Listeners = []ListenerBlock{{Type: ListenerTypeTCP, Address: strings.TrimPrefix(v, "http://")}}
	}
	if v := os.Getenv(EnvTokenFile); v != "" {
		if c.Auth == nil {
			c.Auth = &AuthBlock{}
		}
		c.Auth.TokenFile = v
	}
}

// normalize fills defaults, expands "~" and parses duration strings.
func (c *Config) normalize() error {
	setString(&c.LogLevel, "info")
	setString(&c.LogFormat, "json")
	setString(&c.LogFile, "~/.aws/logs/aws_profile_bridge_api.log")
	setInt(&c.LogRotateMegabytes, 10)
	setInt(&c.LogRotateMaxFiles, 5)
	setString(&c.PidFile, "~/.aws/profile_bridge.pid")
	c.LogFile = helper.ExpandPath(c.LogFile)
	c.PidFile = helper.ExpandPath(c.PidFile)

	if len(c.Listeners) == 0 {
		c.Listeners = []ListenerBlock{{Type: ListenerTypeTCP, Address: DefaultAddress}}
	}

	if c.AWS == nil {
		c.AWS = &AWSBlock{}
	}
	setString(&c.AWS.CredentialsFile, "~/.aws/credentials")
	setString(&c.AWS.ConfigFile, "~/.aws/config")
	setString(&c.AWS.SSOCacheDir, "~/.aws/sso/cache")
	setString(&c.AWS.DisableSSOFile, "~/.aws/.nosso")
	c.AWS.CredentialsFile = helper.ExpandPath(c.AWS.CredentialsFile)
	c.AWS.ConfigFile = helper.ExpandPath(c.AWS.ConfigFile)
	c.AWS.SSOCacheDir = helper.ExpandPath(c.AWS.SSOCacheDir)
	c.AWS.DisableSSOFile = helper.ExpandPath(c.AWS.DisableSSOFile)

	if c.Auth == nil {
		c.Auth = &AuthBlock{}
	}
	setString(&c.Auth.TokenFile, "~/.aws/profile_bridge_config.json")
	c.Auth.TokenFile = helper.ExpandPath(c.Auth.TokenFile)
	setInt(&c.Auth.RateLimitMaxAttempts, defaultMaxAttempts)
	setInt(&c.Auth.RateLimitMaxTracked, 1024)
	setString(&c.Auth.RateLimitWindowRaw, "60s")

	if c.SSO == nil {
		c.SSO = &SSOBlock{}
	}
	setString(&c.SSO.MemoryTTLRaw, "30s")
	setString(&c.SSO.ExpiryMarginRaw, "5m")
	setString(&c.SSO.ExchangeTimeoutRaw, "10s")
	setString(&c.SSO.DefaultRegion, defaultRegionSSO)

	if c.Console == nil {
		c.Console = &ConsoleBlock{}
	}
	setString(&c.Console.FederationEndpoint, "https://signin.aws.amazon.com/federation")
	setString(&c.Console.ConsoleURL, "https://console.aws.amazon.com/")
	setString(&c.Console.Issuer, "aws-profile-bridge")
	setString(&c.Console.SessionDurationRaw, "12h")
	setString(&c.Console.CacheMarginRaw, "5m")
	setString(&c.Console.FederationTimeoutRaw, "10s")

	if c.CORS == nil {
		c.CORS = &CORSBlock{}
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"moz-extension://*", "http://localhost*", "http://127.0.0.1*"}
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.rate_limit_window", c.Auth.RateLimitWindowRaw, &c.Auth.RateLimitWindow},
		{"sso.memory_ttl", c.SSO.MemoryTTLRaw, &c.SSO.MemoryTTL},
		{"sso.expiry_margin", c.SSO.ExpiryMarginRaw, &c.SSO.ExpiryMargin},
		{"sso.exchange_timeout", c.SSO.ExchangeTimeoutRaw, &c.SSO.ExchangeTimeout},
		{"console.session_duration", c.Console.SessionDurationRaw, &c.Console.SessionDuration},
		{"console.cache_margin", c.Console.CacheMarginRaw, &c.Console.CacheMargin},
		{"console.federation_timeout", c.Console.FederationTimeoutRaw, &c.Console.FederationTimeout},
	}
	for _, d := range durations {
		v, err := parseutil.ParseDurationSecond(d.raw)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

// Validate checks invariants that the server relies on.
func (c *Config) Validate() error {
	for _, ln := range c.Listeners {
		if ln.Type != ListenerTypeTCP {
			return fmt.Errorf("unknown listener type: %s", ln.Type)
		}
		if err := listener.RequireLoopback(ln.Address); err != nil {
			return err
		}
	}
	if c.Auth.RateLimitMaxAttempts <= 0 {
		return errors.New("auth.rate_limit_max_attempts must be positive")
	}
	if c.Auth.RateLimitWindow <= 0 {
		return errors.New("auth.rate_limit_window must be positive")
	}
	if c.SSO.ExchangeTimeout <= 0 || c.Console.FederationTimeout <= 0 {
		return errors.New("network timeouts must be positive")
	}
	// The sign-in service accepts sessions of 15 minutes to 12 hours.
	if c.Console.SessionDuration < 15*time.Minute || c.Console.SessionDuration > 12*time.Hour {
		return errors.New("console.session_duration must be between 15m and 12h")
	}
	if c.SSO.ExpiryMargin < 0 || c.Console.CacheMargin < 0 {
		return errors.New("margins cannot be negative")
	}
	return nil
}

// APIAddress returns the address of the first listener.
func (c *Config) APIAddress() string {
	if len(c.Listeners) == 0 {
		return DefaultAddress
	}
	return c.Listeners[0].Address
}

func setString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}
