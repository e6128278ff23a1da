package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/afero"
)

var expiresPattern = regexp.MustCompile(`Expires\s*:?\s*(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:Z|[+-]\d{2}:\d{2})?)`)

var credentialKeys = []string{"aws_access_key_id", "aws_secret_access_key", "aws_session_token"}

// CredentialsEntry is a credentials-file section without its secrets.
type CredentialsEntry struct {
	Name           string
	HasCredentials bool
	Expiration     *time.Time
	Line           int
}

// CredentialsFile is the parsed form of ~/.aws/credentials.
type CredentialsFile struct {
	Profiles []CredentialsEntry
	Warnings []*SectionError
}

// ParseCredentials extracts the profile names, whether they carry keys, and
// any "# Expires" comment. Secret values are dropped.
func ParseCredentials(data []byte) (CredentialsFile, error) {
	sections, warnings := ScanSections(data)
	out := CredentialsFile{Warnings: warnings}
	for _, s := range sections {
		e := CredentialsEntry{Name: s.Name, Line: s.Line}
		for _, k := range credentialKeys {
			if _, ok := s.Keys[k]; ok {
				e.HasCredentials = true
				break
			}
		}
		for _, c := range s.Comments {
			if t, ok := parseExpires(c); ok {
				e.Expiration = &t
			}
		}
		out.Profiles = append(out.Profiles, e)
	}
	return out, nil
}

func parseExpires(comment string) (time.Time, bool) {
	m := expiresPattern.FindStringSubmatch(comment)
	if m == nil {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, m[1]); err == nil {
		return t.UTC(), true
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", m[1], time.UTC); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", m[1], time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// StaticKeys are the secrets of one credentials-file section. They are read
// on demand and never cached.
type StaticKeys struct {
	AccessKeyID     string     `mapstructure:"aws_access_key_id"`
	SecretAccessKey string     `mapstructure:"aws_secret_access_key"`
	SessionToken    string     `mapstructure:"aws_session_token"`
	Expiration      *time.Time `mapstructure:"-"`
}

func (k StaticKeys) String() string {
	return fmt.Sprintf("StaticKeys{AccessKeyID: %s, SecretAccessKey: %s, SessionToken: %s}",
		redact(k.AccessKeyID), redact(k.SecretAccessKey), redact(k.SessionToken))
}

func (k StaticKeys) GoString() string { return k.String() }

// Complete reports whether both the key ID and secret are set.
func (k StaticKeys) Complete() bool {
	return k.AccessKeyID != "" && k.SecretAccessKey != ""
}

func redact(v string) string {
	if v == "" {
		return `""`
	}
	return "[REDACTED]"
}

// CredentialsReader reads secrets for a single profile from the credentials
// file. Each call rereads the file so secrets do not outlive the request.
type CredentialsReader struct {
	fs   afero.Fs
	path string
}

func NewCredentialsReader(fsys afero.Fs, path string) *CredentialsReader {
	return &CredentialsReader{fs: fsys, path: path}
}

// Read returns the keys of the named section. ok is false when the file or
// the section is absent, or when the section has no keys.
func (r *CredentialsReader) Read(name string) (keys StaticKeys, ok bool, err error) {
	data, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return StaticKeys{}, false, nil
		}
		return StaticKeys{}, false, fmt.Errorf("failed to read credentials file: %w", err)
	}

	sections, _ := ScanSections(data)
	for _, s := range sections {
		if s.Name != name {
			continue
		}
		if err := mapstructure.Decode(s.Keys, &keys); err != nil {
			// The decode error may quote a value; keep it out of the message.
			return StaticKeys{}, false, fmt.Errorf("failed to decode credentials for profile %q", name)
		}
		for _, c := range s.Comments {
			if t, found := parseExpires(c); found {
				keys.Expiration = &t
			}
		}
		if strings.TrimSpace(keys.AccessKeyID) == "" && strings.TrimSpace(keys.SecretAccessKey) == "" {
			return StaticKeys{}, false, nil
		}
		return keys, true, nil
	}
	return StaticKeys{}, false, nil
}
