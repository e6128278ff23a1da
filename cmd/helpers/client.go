package helpers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stephnangue/profilebridge/api"
	"github.com/stephnangue/profilebridge/auth/token"
	"github.com/stephnangue/profilebridge/config"
	"github.com/stephnangue/profilebridge/logger"
)

var (
	c *api.Client

	// ClientTimeout, ClientRetries and ClientRateLimit are bound to root
	// flags. Zero values leave the environment settings alone.
	ClientTimeout   time.Duration
	ClientRetries   = -1
	ClientRateLimit string
)

// Construct the HTTP API client
func Client() (*api.Client, error) {
	// Read the test client if present
	if c != nil {
		return c, nil
	}

	conf, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	client, err := newClient(conf)
	if err != nil {
		return nil, err
	}

	if client.Token() == "" {
		tok, err := token.NewManager(token.ManagerConfig{Path: conf.Auth.TokenFile}).Load()
		switch {
		case errors.Is(err, token.ErrNoToken):
			return nil, fmt.Errorf("no api token at %s, start the server first", conf.Auth.TokenFile)
		case err != nil:
			return nil, err
		}
		client.SetToken(tok)
	}

	c = client

	return client, nil
}

// HealthClient is a client without a token, for the public endpoints.
func HealthClient() (*api.Client, error) {
	conf, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return newClient(conf)
}

func newClient(conf *config.Config) (*api.Client, error) {
	clientConfig := api.DefaultConfig()
	if clientConfig.Error != nil {
		return nil, fmt.Errorf("failed to read environment: %w", clientConfig.Error)
	}
	if api.ReadBridgeVariable(api.EnvBridgeAddress) == "" {
		addr := conf.APIAddress()
		if !strings.Contains(addr, "://") {
			addr = "http://" + addr
		}
		clientConfig.Address = addr
	}

	client, err := api.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	client.SetLogger(logger.NewHCLogAdapter(Logger().WithSubsystem("client")))

	if err := applyClientFlags(client); err != nil {
		return nil, err
	}
	return client, nil
}

func applyClientFlags(client *api.Client) error {
	if ClientTimeout > 0 {
		client.SetClientTimeout(ClientTimeout)
	}

	switch {
	case ClientRetries >= 0:
		client.SetMaxRetries(ClientRetries)
	case api.ReadBridgeVariable(api.EnvBridgeMaxRetries) == "":
		// Turn off retries on the CLI
		client.SetMaxRetries(0)
	}

	if ClientRateLimit != "" {
		rateLimit, burst, err := api.ParseRateLimit(ClientRateLimit)
		if err != nil {
			return err
		}
		client.SetLimiter(rateLimit, burst)
	}
	return nil
}
