// Package broker ties the profile, sso and console components together into
// the operations served to the browser add-on.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"github.com/stephnangue/profilebridge/config"
	"github.com/stephnangue/profilebridge/console"
	"github.com/stephnangue/profilebridge/filecache"
	"github.com/stephnangue/profilebridge/logger"
	"github.com/stephnangue/profilebridge/profile"
	"github.com/stephnangue/profilebridge/sso"
	"golang.org/x/sync/errgroup"
)

// maxParallelVerify bounds concurrent role verifications during enrichment.
const maxParallelVerify = 4

// BrokerConfig is used to parameterize a broker.
type BrokerConfig struct {
	RawConfig *config.Config

	// Fs defaults to the OS filesystem.
	Fs afero.Fs

	// HTTPClient is shared by the SSO exchanger and the federation client.
	// Each builds a pooled client when it is nil.
	HTTPClient *http.Client

	// MetadataRules are evaluated before the built-in keyword rules.
	MetadataRules []profile.Rule

	Logger *logger.GatedLogger
	Now    func() time.Time
}

// Broker serves profile listings and console links.
type Broker struct {
	logger      *logger.GatedLogger
	now         func() time.Time
	verifyRoles bool

	aggregator  *profile.Aggregator
	credentials *profile.CredentialsReader
	tokens      *sso.TokenCache
	exchanger   *sso.Exchanger
	generator   *console.Generator
	urls        *console.URLCache
}

// ConsoleLink is the answer to a console URL request.
type ConsoleLink struct {
	ProfileName string `json:"profileName"`
	URL         string `json:"url"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
}

// Stats is a point-in-time view of the broker caches.
type Stats struct {
	Files    map[string]filecache.Stats `json:"files"`
	URLCache console.CacheStats         `json:"url_cache"`
}

func NewBroker(conf *BrokerConfig) (*Broker, error) {
	if conf == nil || conf.RawConfig == nil {
		return nil, errors.New("broker requires a configuration")
	}
	raw := conf.RawConfig
	if conf.Fs == nil {
		conf.Fs = afero.NewOsFs()
	}
	if conf.Logger == nil {
		conf.Logger = logger.NewNopLogger()
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	log := conf.Logger.WithSystem("broker")

	tokens, err := sso.NewTokenCache(sso.TokenCacheConfig{
		Fs:           conf.Fs,
		Dir:          raw.AWS.SSOCacheDir,
		MemoryTTL:    raw.SSO.MemoryTTL,
		ExpiryMargin: raw.SSO.ExpiryMargin,
		Logger:       log,
		Now:          conf.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sso token cache: %w", err)
	}

	generator := console.NewGenerator(console.GeneratorConfig{
		FederationEndpoint: raw.Console.FederationEndpoint,
		ConsoleURL:         raw.Console.ConsoleURL,
		Issuer:             raw.Console.Issuer,
		SessionDuration:    raw.Console.SessionDuration,
		Timeout:            raw.Console.FederationTimeout,
		HTTPClient:         conf.HTTPClient,
		Logger:             log,
	})

	return &Broker{
		logger:      log,
		now:         conf.Now,
		verifyRoles: raw.SSO.VerifyRoles,
		aggregator: profile.NewAggregator(profile.AggregatorConfig{
			Fs: conf.Fs,
			Paths: profile.Paths{
				Credentials: raw.AWS.CredentialsFile,
				Config:      raw.AWS.ConfigFile,
				DisableSSO:  raw.AWS.DisableSSOFile,
			},
			Metadata: profile.NewMetadataAssigner(conf.MetadataRules...),
			Logger:   log,
			Now:      conf.Now,
		}),
		credentials: profile.NewCredentialsReader(conf.Fs, raw.AWS.CredentialsFile),
		tokens:      tokens,
		exchanger: sso.NewExchanger(sso.ExchangerConfig{
			Endpoint:      raw.SSO.Endpoint,
			DefaultRegion: raw.SSO.DefaultRegion,
			Timeout:       raw.SSO.ExchangeTimeout,
			HTTPClient:    conf.HTTPClient,
			Logger:        log,
		}),
		generator: generator,
		urls: console.NewURLCache(console.URLCacheConfig{
			SessionDuration: generator.SessionDuration(),
			Margin:          raw.Console.CacheMargin,
			GenerateTimeout: raw.SSO.ExchangeTimeout + raw.Console.FederationTimeout,
			Logger:          log,
			Now:             conf.Now,
		}),
	}, nil
}

// ListProfiles is the fast path. It reads local files only.
func (b *Broker) ListProfiles(ctx context.Context) ([]profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.aggregator.ListProfiles()
}

// Profile returns a single listed profile.
func (b *Broker) Profile(ctx context.Context, name string) (profile.Profile, error) {
	if err := profile.ValidateName(name); err != nil {
		return profile.Profile{}, err
	}
	if err := ctx.Err(); err != nil {
		return profile.Profile{}, err
	}
	p, ok, err := b.aggregator.Lookup(name)
	if err != nil {
		return profile.Profile{}, err
	}
	if !ok {
		return profile.Profile{}, fmt.Errorf("%w: %s", profile.ErrProfileNotFound, name)
	}
	return p, nil
}

// EnrichProfiles refines the SSO entries of the listing with the state of
// their cached login. An empty names slice enriches every SSO profile.
func (b *Broker) EnrichProfiles(ctx context.Context, names []string) ([]profile.Profile, error) {
	profiles, err := b.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	now := b.now()
	tokens := make(map[int]*sso.Token)
	for i := range profiles {
		p := &profiles[i]
		if !p.IsSSO || (len(wanted) > 0 && !wanted[p.Name]) {
			continue
		}
		// Static keys stay authoritative for merged profiles.
		if p.HasStaticCredentials {
			continue
		}

		tok, ok := b.tokens.LookupSession(p.SSOSession, p.SSOStartURL)
		if !ok {
			p.Expiration = nil
			p.Expired = true
			p.HasCredentials = false
			continue
		}
		exp := tok.ExpiresAt
		p.Expiration = &exp
		p.Expired = !now.Before(exp)
		p.HasCredentials = !p.Expired
		if p.HasCredentials {
			tokens[i] = tok
		}
	}

	if b.verifyRoles && len(tokens) > 0 {
		b.verify(ctx, profiles, tokens)
	}
	return profiles, nil
}

// verify exchanges each live token for role credentials and discards them.
// Profiles whose role is refused lose has_credentials.
func (b *Broker) verify(ctx context.Context, profiles []profile.Profile, tokens map[int]*sso.Token) {
	var g errgroup.Group
	g.SetLimit(maxParallelVerify)
	for i, tok := range tokens {
		p := &profiles[i]
		g.Go(func() error {
			_, err := b.exchanger.Exchange(ctx, tok, roleRequest(*p))
			if err == nil || ctx.Err() != nil {
				return nil
			}
			b.logger.Debug("sso role verification failed",
				logger.String("profile", p.Name),
				logger.Err(err),
			)
			p.HasCredentials = false
			return nil
		})
	}
	_ = g.Wait()
}

// ConsoleURL returns a sign-in link for the named profile. The region comes
// from the request, then from the profile, and may be empty.
func (b *Broker) ConsoleURL(ctx context.Context, name, region string) (ConsoleLink, error) {
	if region != "" && !console.ValidRegion(region) {
		return ConsoleLink{}, fmt.Errorf("%w: %q", console.ErrInvalidRegion, region)
	}
	p, err := b.Profile(ctx, name)
	if err != nil {
		return ConsoleLink{}, err
	}
	if region == "" {
		region = p.Region
	}

	if n := b.urls.InvalidateIfChanged(p.Name, p.Expiration); n > 0 {
		b.logger.Debug("dropped console urls minted under older credentials",
			logger.String("profile", p.Name),
			logger.Int("count", n),
		)
	}

	url, err := b.urls.GetOrGenerate(ctx, p.Name, region, func(ctx context.Context) (string, time.Time, error) {
		creds, err := b.resolve(ctx, p)
		if err != nil {
			return "", time.Time{}, err
		}
		u, err := b.generator.Generate(ctx, *creds, region)
		return u, creds.Expires, err
	})
	if err != nil {
		return ConsoleLink{}, err
	}

	b.logger.Info("console url issued",
		logger.String("profile", p.Name),
		logger.String("region", region),
		logger.Bool("sso", p.IsSSO && !p.HasStaticCredentials),
	)
	return ConsoleLink{
		ProfileName: p.Name,
		URL:         url,
		Color:       p.Color,
		Icon:        p.Icon,
	}, nil
}

// ResolveCredentials returns the credentials behind a profile. The caller
// owns them and must not retain them past its request.
func (b *Broker) ResolveCredentials(ctx context.Context, name string) (*sso.Credentials, error) {
	p, err := b.Profile(ctx, name)
	if err != nil {
		return nil, err
	}
	return b.resolve(ctx, p)
}

func (b *Broker) resolve(ctx context.Context, p profile.Profile) (*sso.Credentials, error) {
	if p.HasStaticCredentials {
		keys, ok, err := b.credentials.Read(p.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			if !keys.Complete() {
				return nil, console.ErrCredentialsIncomplete
			}
			creds := &sso.Credentials{
				AccessKeyID:     keys.AccessKeyID,
				SecretAccessKey: keys.SecretAccessKey,
				SessionToken:    keys.SessionToken,
			}
			if keys.Expiration != nil {
				creds.Expires = *keys.Expiration
			}
			return creds, nil
		}
	}

	if !p.IsSSO {
		return nil, console.ErrCredentialsIncomplete
	}
	tok, ok := b.tokens.LookupSession(p.SSOSession, p.SSOStartURL)
	if !ok {
		return nil, sso.ErrTokenMissingOrExpired
	}
	return b.exchanger.Exchange(ctx, tok, roleRequest(p))
}

func roleRequest(p profile.Profile) sso.RoleRequest {
	return sso.RoleRequest{AccountID: p.SSOAccountID, RoleName: p.SSORoleName, Region: p.SSORegion}
}

func (b *Broker) Regions() []console.Region {
	return console.Regions()
}

// Validate reparses the profile sources and returns their warnings.
func (b *Broker) Validate() error {
	return b.aggregator.Validate()
}

// SSOCache describes the files of the SSO token cache directory.
func (b *Broker) SSOCache() ([]sso.CacheSummary, error) {
	return b.tokens.Summaries()
}

func (b *Broker) Paths() profile.Paths {
	return b.aggregator.Paths()
}

func (b *Broker) Stats() Stats {
	return Stats{
		Files:    b.aggregator.CacheStats(),
		URLCache: b.urls.Stats(),
	}
}

// Close releases the token cache.
func (b *Broker) Close() {
	b.urls.Clear()
	b.tokens.Close()
}
