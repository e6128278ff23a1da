// Package token issues and validates the broker's own API token.
package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"github.com/stephnangue/profilebridge/logger"
)

var ErrNoToken = errors.New("no api token has been issued")

// Verifier compares a presented token with the stored secret.
type Verifier interface {
	Verify(presented string) bool
}

// DigestVerifier compares SHA-256 digests in constant time.
type DigestVerifier struct {
	digest [sha256.Size]byte
}

func NewDigestVerifier(secret string) *DigestVerifier {
	return &DigestVerifier{digest: sha256.Sum256([]byte(secret))}
}

func (v *DigestVerifier) Verify(presented string) bool {
	d := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(d[:], v.digest[:]) == 1
}

type storedToken struct {
	APIToken string `json:"api_token"`
}

type ManagerConfig struct {
	Fs     afero.Fs
	Path   string
	Logger *logger.GatedLogger
	// Verifier replaces the digest comparison against the stored token.
	Verifier Verifier
}

// Manager owns the token file.
type Manager struct {
	fs     afero.Fs
	path   string
	logger *logger.GatedLogger

	mu             sync.RWMutex
	token          string
	verifier       Verifier
	customVerifier bool
	legacyWarned   sync.Once
}

func NewManager(conf ManagerConfig) *Manager {
	if conf.Fs == nil {
		conf.Fs = afero.NewOsFs()
	}
	if conf.Logger == nil {
		conf.Logger = logger.NewNopLogger()
	}
	return &Manager{
		fs:             conf.Fs,
		path:           conf.Path,
		logger:         conf.Logger.WithSubsystem("token"),
		verifier:       conf.Verifier,
		customVerifier: conf.Verifier != nil,
	}
}

func (m *Manager) Path() string { return m.path }

// Token returns the token in memory, empty before Load or Issue.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Load reads the stored token without creating one.
func (m *Manager) Load() (string, error) {
	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return "", fmt.Errorf("failed to decode token file: %w", err)
	}
	if Classify(st.APIToken) == Invalid {
		return "", fmt.Errorf("token file holds an invalid token")
	}
	m.set(st.APIToken)
	return st.APIToken, nil
}

// LoadOrCreate loads the stored token, issuing a new one when the file is
// missing or its token is malformed.
func (m *Manager) LoadOrCreate() (string, error) {
	tok, err := m.Load()
	if err == nil {
		m.logger.Info("loaded api token", logger.String("path", m.path), logger.String("format", Classify(tok).String()))
		return tok, nil
	}
	if !errors.Is(err, ErrNoToken) {
		m.logger.Warn("stored api token unusable, generating a new one", logger.Err(err))
	}
	return m.Issue()
}

// Issue generates and persists a new token.
func (m *Manager) Issue() (string, error) {
	tok, err := Generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	if err := m.save(tok); err != nil {
		return "", err
	}
	m.set(tok)
	m.logger.Info("issued api token", logger.String("path", m.path), logger.Fingerprint("token", tok))
	return tok, nil
}

// Rotate replaces the stored token. Clients holding the old one are rejected.
func (m *Manager) Rotate() (string, error) {
	return m.Issue()
}

// Validate checks shape and checksum first; only well-formed tokens reach
// the constant-time comparison.
func (m *Manager) Validate(presented string) Result {
	kind := Classify(presented)
	if kind == Invalid {
		return Result{Kind: Invalid}
	}

	m.mu.RLock()
	v := m.verifier
	m.mu.RUnlock()
	if v == nil || !v.Verify(presented) {
		return Result{Kind: kind}
	}

	if kind == Legacy {
		m.legacyWarned.Do(func() {
			m.logger.Warn("legacy api token format in use, please rotate with 'profilebridge token rotate'")
		})
	}
	return Result{Kind: kind, Valid: true}
}

func (m *Manager) set(tok string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = tok
	if !m.customVerifier {
		m.verifier = NewDigestVerifier(tok)
	}
}

func (m *Manager) save(tok string) error {
	if err := m.fs.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.MarshalIndent(storedToken{APIToken: tok}, "", "  ")
	if err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := m.fs.Chmod(tmp, 0o600); err != nil {
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if err := m.fs.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}
