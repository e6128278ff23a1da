package profile

import (
	"errors"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/stephnangue/profilebridge/filecache"
	"github.com/stephnangue/profilebridge/logger"
)

// Paths locates the files the aggregator reads.
type Paths struct {
	Credentials string
	Config      string
	// DisableSSO is a marker file. When it exists, SSO-only profiles are
	// left out of the list.
	DisableSSO string
}

type AggregatorConfig struct {
	Fs       afero.Fs
	Paths    Paths
	Metadata *MetadataAssigner
	Logger   *logger.GatedLogger
	Now      func() time.Time
}

// Aggregator merges the credentials and config files into one profile list.
// It performs no network I/O.
type Aggregator struct {
	fs          afero.Fs
	paths       Paths
	metadata    *MetadataAssigner
	logger      *logger.GatedLogger
	now         func() time.Time
	credentials *filecache.Cache[CredentialsFile]
	config      *filecache.Cache[ConfigFile]

	warnMu     sync.Mutex
	lastWarned string
}

func NewAggregator(conf AggregatorConfig) *Aggregator {
	if conf.Fs == nil {
		conf.Fs = afero.NewOsFs()
	}
	if conf.Metadata == nil {
		conf.Metadata = NewMetadataAssigner()
	}
	if conf.Logger == nil {
		conf.Logger = logger.NewNopLogger()
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	log := conf.Logger.WithSubsystem("profiles")
	return &Aggregator{
		fs:          conf.Fs,
		paths:       conf.Paths,
		metadata:    conf.Metadata,
		logger:      log,
		now:         conf.Now,
		credentials: filecache.New(conf.Fs, ParseCredentials, log),
		config:      filecache.New(conf.Fs, ParseConfig, log),
	}
}

// ListProfiles returns every listed profile sorted by name.
func (a *Aggregator) ListProfiles() ([]Profile, error) {
	creds, cfg, err := a.load()
	if err != nil {
		return nil, err
	}
	a.reportWarnings(creds.Warnings, cfg.Warnings)

	ssoDisabled := a.ssoDisabled()
	byName := make(map[string]*Profile, len(creds.Profiles)+len(cfg.Profiles))

	for _, c := range creds.Profiles {
		byName[c.Name] = &Profile{
			Name:                 c.Name,
			HasCredentials:       c.HasCredentials,
			HasStaticCredentials: c.HasCredentials,
			Expiration:           c.Expiration,
		}
	}

	for _, c := range cfg.Profiles {
		p, static := byName[c.Name]
		s := c.Settings
		if !static {
			// Assume-role chains and plain region profiles are not listed.
			if !s.IsSSO() || ssoDisabled {
				continue
			}
			p = &Profile{Name: c.Name}
			byName[c.Name] = p
		}
		p.Region = s.Region
		if s.IsSSO() && !ssoDisabled {
			p.IsSSO = true
			p.SSOStartURL = s.SSOStartURL
			p.SSORegion = s.SSORegion
			p.SSOAccountID = s.SSOAccountID
			p.SSORoleName = s.SSORoleName
			p.SSOSession = s.SSOSession
		}
	}

	now := a.now()
	profiles := make([]Profile, 0, len(byName))
	for _, p := range byName {
		md := a.metadata.Assign(p.Name)
		p.Color, p.Icon = md.Color, md.Icon
		p.Expired = p.Expiration != nil && !now.Before(*p.Expiration)
		profiles = append(profiles, *p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// Lookup finds a listed profile by name.
func (a *Aggregator) Lookup(name string) (Profile, bool, error) {
	profiles, err := a.ListProfiles()
	if err != nil {
		return Profile{}, false, err
	}
	i := sort.Search(len(profiles), func(i int) bool { return profiles[i].Name >= name })
	if i < len(profiles) && profiles[i].Name == name {
		return profiles[i], true, nil
	}
	return Profile{}, false, nil
}

// Validate parses both files and returns their warnings.
func (a *Aggregator) Validate() error {
	creds, cfg, err := a.load()
	if err != nil {
		return err
	}
	return Warnings(append(creds.Warnings, cfg.Warnings...))
}

// CacheStats reports the file cache activity of each source.
func (a *Aggregator) CacheStats() map[string]filecache.Stats {
	return map[string]filecache.Stats{
		"credentials": a.credentials.Stats(),
		"config":      a.config.Stats(),
	}
}

func (a *Aggregator) Paths() Paths { return a.paths }

func (a *Aggregator) load() (CredentialsFile, ConfigFile, error) {
	var errs *multierror.Error
	creds, err := a.credentials.Get(a.paths.Credentials)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	cfg, err := a.config.Get(a.paths.Config)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	return creds, cfg, errs.ErrorOrNil()
}

func (a *Aggregator) ssoDisabled() bool {
	if a.paths.DisableSSO == "" {
		return false
	}
	_, err := a.fs.Stat(a.paths.DisableSSO)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

// reportWarnings logs parse warnings once per distinct set.
func (a *Aggregator) reportWarnings(sets ...[]*SectionError) {
	var all []*SectionError
	for _, s := range sets {
		all = append(all, s...)
	}
	err := Warnings(all)

	a.warnMu.Lock()
	defer a.warnMu.Unlock()
	key := ""
	if err != nil {
		key = err.Error()
	}
	if key == a.lastWarned {
		return
	}
	a.lastWarned = key
	for _, w := range all {
		a.logger.Warn("skipped malformed section",
			logger.String("section", w.Section),
			logger.Int("line", w.Line),
			logger.String("reason", w.Reason),
		)
	}
}
