package profile

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// ConfigSettings are the keys of a config-file profile this module uses.
type ConfigSettings struct {
	SSOStartURL   string `mapstructure:"sso_start_url"`
	SSORegion     string `mapstructure:"sso_region"`
	SSOAccountID  string `mapstructure:"sso_account_id"`
	SSORoleName   string `mapstructure:"sso_role_name"`
	SSOSession    string `mapstructure:"sso_session"`
	Region        string `mapstructure:"region"`
	RoleARN       string `mapstructure:"role_arn"`
	SourceProfile string `mapstructure:"source_profile"`
}

// IsSSO reports whether the settings resolve to an SSO start URL.
func (s ConfigSettings) IsSSO() bool { return s.SSOStartURL != "" }

type ConfigEntry struct {
	Name     string
	Settings ConfigSettings
	Line     int
}

// SSOSession is an [sso-session NAME] block.
type SSOSession struct {
	Name     string `mapstructure:"-"`
	StartURL string `mapstructure:"sso_start_url"`
	Region   string `mapstructure:"sso_region"`
}

// ConfigFile is the parsed form of ~/.aws/config.
type ConfigFile struct {
	Profiles []ConfigEntry
	Sessions map[string]SSOSession
	Warnings []*SectionError
}

// ParseConfig reads [profile NAME], [default] and [sso-session NAME] blocks.
// Profiles that name an sso_session inherit its start URL and region.
func ParseConfig(data []byte) (ConfigFile, error) {
	sections, warnings := ScanSections(data)
	out := ConfigFile{Sessions: make(map[string]SSOSession), Warnings: warnings}

	var pending []Section
	names := make(map[string]bool)
	for _, s := range sections {
		kind, name := classifySection(s.Name)
		switch kind {
		case sectionSession:
			var sess SSOSession
			if err := decodeSettings(s.Keys, &sess); err != nil {
				out.Warnings = append(out.Warnings, &SectionError{Section: s.Name, Line: s.Line, Reason: err.Error()})
				continue
			}
			sess.Name = name
			out.Sessions[name] = sess
		case sectionProfile:
			if names[name] {
				out.Warnings = append(out.Warnings, &SectionError{Section: s.Name, Line: s.Line, Reason: "profile defined twice, later copy ignored"})
				continue
			}
			names[name] = true
			s.Name = name
			pending = append(pending, s)
		}
	}

	for _, s := range pending {
		var settings ConfigSettings
		if err := decodeSettings(s.Keys, &settings); err != nil {
			out.Warnings = append(out.Warnings, &SectionError{Section: s.Name, Line: s.Line, Reason: err.Error()})
			continue
		}
		if settings.SSOSession != "" {
			sess, ok := out.Sessions[settings.SSOSession]
			if !ok {
				out.Warnings = append(out.Warnings, &SectionError{
					Section: s.Name,
					Line:    s.Line,
					Reason:  fmt.Sprintf("unknown sso-session %q", settings.SSOSession),
				})
			}
			if settings.SSOStartURL == "" {
				settings.SSOStartURL = sess.StartURL
			}
			if settings.SSORegion == "" {
				settings.SSORegion = sess.Region
			}
		}
		out.Profiles = append(out.Profiles, ConfigEntry{Name: s.Name, Settings: settings, Line: s.Line})
	}
	return out, nil
}

type sectionKind int

const (
	sectionOther sectionKind = iota
	sectionProfile
	sectionSession
)

func classifySection(header string) (sectionKind, string) {
	switch {
	case header == "default":
		return sectionProfile, "default"
	case strings.HasPrefix(header, "profile "):
		return sectionProfile, strings.TrimSpace(strings.TrimPrefix(header, "profile "))
	case strings.HasPrefix(header, "sso-session "):
		return sectionSession, strings.TrimSpace(strings.TrimPrefix(header, "sso-session "))
	default:
		return sectionOther, ""
	}
}

func decodeSettings(keys map[string]string, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(keys); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
