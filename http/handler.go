package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/stephnangue/profilebridge/broker"
	"github.com/stephnangue/profilebridge/console"
	"github.com/stephnangue/profilebridge/logger"
	"github.com/stephnangue/profilebridge/profile"
	"github.com/stephnangue/profilebridge/version"
)

const maxRequestBody = 64 << 10

// Route deadlines.
const (
	profilesTimeout   = 5 * time.Second
	enrichTimeout     = 30 * time.Second
	consoleURLTimeout = 15 * time.Second
)

// Broker is the part of broker.Broker served over HTTP.
type Broker interface {
	ListProfiles(ctx context.Context) ([]profile.Profile, error)
	EnrichProfiles(ctx context.Context, names []string) ([]profile.Profile, error)
	ConsoleURL(ctx context.Context, name, region string) (broker.ConsoleLink, error)
	Regions() []console.Region
}

// Authenticator checks a presented API token.
type Authenticator interface {
	Authenticate(presented string) error
}

// HandlerProperties contains configuration for the HTTP handler
type HandlerProperties struct {
	Broker        Broker
	Authenticator Authenticator
	Logger        *logger.GatedLogger

	// Metrics and MetricsSink back the request counters and /metrics.
	// Both are created in memory when nil.
	Metrics     *metrics.Metrics
	MetricsSink *metrics.InmemSink

	AllowedOrigins      []string
	AllowedExtensionIDs []string

	StartTime time.Time
}

type profileListResponse struct {
	Action   string            `json:"action"`
	Profiles []profile.Profile `json:"profiles"`
}

type consoleURLResponse struct {
	Action string `json:"action"`
	broker.ConsoleLink
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type versionResponse struct {
	APIVersion  string `json:"api_version"`
	APIProtocol string `json:"api_protocol"`
	GoVersion   string `json:"go_version"`
	Platform    string `json:"platform"`
}

type enrichRequest struct {
	ProfileNames []string `json:"profileNames"`
}

type consoleURLRequest struct {
	Region string `json:"region"`
}

// NewMetrics returns an in-memory sink and a metrics instance writing to it.
func NewMetrics() (*metrics.Metrics, *metrics.InmemSink, error) {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	conf := metrics.DefaultConfig("profilebridge")
	conf.EnableHostname = false
	conf.EnableRuntimeMetrics = false
	m, err := metrics.New(conf, sink)
	if err != nil {
		return nil, nil, err
	}
	return m, sink, nil
}

// Handler creates and returns the main HTTP handler.
func Handler(props *HandlerProperties) (http.Handler, error) {
	if props.Broker == nil || props.Authenticator == nil {
		return nil, errors.New("handler requires a broker and an authenticator")
	}
	log := props.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithSubsystem("http")
	if props.Metrics == nil || props.MetricsSink == nil {
		m, sink, err := NewMetrics()
		if err != nil {
			return nil, err
		}
		props.Metrics, props.MetricsSink = m, sink
	}
	if props.StartTime.IsZero() {
		props.StartTime = time.Now()
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(logRequests(log))
	r.Use(measure(props.Metrics))
	r.Use(cors(props.AllowedOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, CodeNotFound, "unknown path")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", handleHealth(props.StartTime))
	r.Get("/version", handleVersion)

	r.Group(func(r chi.Router) {
		r.Use(authenticate(props.Authenticator, log))
		r.Use(checkExtensionOrigin(props.AllowedExtensionIDs))

		r.With(middleware.Timeout(profilesTimeout)).Method(http.MethodGet, "/profiles", handleProfiles(props.Broker))
		r.With(middleware.Timeout(profilesTimeout)).Method(http.MethodPost, "/profiles", handleProfiles(props.Broker))
		r.With(middleware.Timeout(enrichTimeout)).Method(http.MethodGet, "/profiles/enrich", handleEnrich(props.Broker))
		r.With(middleware.Timeout(enrichTimeout)).Method(http.MethodPost, "/profiles/enrich", handleEnrich(props.Broker))
		r.With(middleware.Timeout(consoleURLTimeout)).Method(http.MethodPost, "/profiles/{name}/console-url", handleConsoleURL(props.Broker))
		r.Get("/regions", handleRegions(props.Broker))
		r.Get("/metrics", handleMetrics(props.MetricsSink))
	})

	return r, nil
}

func handleHealth(start time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondOk(w, healthResponse{
			Status:        "healthy",
			Version:       version.Version,
			UptimeSeconds: int64(time.Since(start).Seconds()),
		})
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	respondOk(w, versionResponse{
		APIVersion:  version.Version,
		APIProtocol: version.APIProtocol,
		GoVersion:   runtime.Version(),
		Platform:    version.Platform(),
	})
}

func handleProfiles(b Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles, err := b.ListProfiles(r.Context())
		if err != nil {
			respondErr(w, err)
			return
		}
		respondOk(w, profileListResponse{Action: "profileList", Profiles: nonNil(profiles)})
	}
}

func handleEnrich(b Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enrichRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		profiles, err := b.EnrichProfiles(r.Context(), req.ProfileNames)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondOk(w, profileListResponse{Action: "profileList", Profiles: nonNil(profiles)})
	}
}

func handleConsoleURL(b Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req consoleURLRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		region := req.Region
		if region == "" {
			region = r.URL.Query().Get("region")
		}

		link, err := b.ConsoleURL(r.Context(), chi.URLParam(r, "name"), region)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondOk(w, consoleURLResponse{Action: "consoleUrl", ConsoleLink: link})
	}
}

func handleRegions(b Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondOk(w, map[string][]console.Region{"regions": b.Regions()})
	}
}

func handleMetrics(sink *metrics.InmemSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := sink.DisplayMetrics(w, r)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondOk(w, summary)
	}
}

// decodeBody reads an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.Method == http.MethodGet {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return errors.New("failed to read request body")
	}
	if len(data) > maxRequestBody {
		return errors.New("request body too large")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New("request body is not valid JSON")
	}
	return nil
}

func nonNil(p []profile.Profile) []profile.Profile {
	if p == nil {
		return []profile.Profile{}
	}
	return p
}
