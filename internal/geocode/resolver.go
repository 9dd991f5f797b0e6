// Package geocode fills in coordinates for institutions that arrive on a work
// record without inline geo data.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/UditKarth/RoboticsMap/internal/openalex"
	"github.com/UditKarth/RoboticsMap/internal/reference"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrNoGeo means the institution is known upstream but has no usable
// coordinates. Results like this are cached for the rest of the run.
var ErrNoGeo = errors.New("institution has no coordinates")

// Lookup finds an institution already held in the local store.
// It returns (nil, nil) when the id is unknown.
type Lookup interface {
	GetInstitution(ctx context.Context, id string) (*reference.Institution, error)
}

// Remote fetches an institution from the upstream API.
type Remote interface {
	Institution(ctx context.Context, id string) (*openalex.Institution, error)
}

// Stats counts where resolutions were answered from.
type Stats struct {
	CacheHits  int `json:"cache_hits"`
	StoreHits  int `json:"store_hits"`
	RemoteHits int `json:"remote_hits"`
	NoGeo      int `json:"no_geo"`
	Failures   int `json:"failures"`
}

// Resolver resolves institution ids to located institutions. Lookups go to
// an in-run cache, then the store, then the API behind a circuit breaker.
type Resolver struct {
	store   Lookup
	remote  Remote
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger

	mu    sync.Mutex
	cache map[string]*reference.Institution // nil entry = known without geo
	stats Stats
}

// Option configures a Resolver.
type Option func(*resolverConfig)

type resolverConfig struct {
	logger       zerolog.Logger
	maxFailures  uint32
	openTimeout  time.Duration
	stateChanged func(from, to gobreaker.State)
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(l zerolog.Logger) Option {
	return func(c *resolverConfig) {
		c.logger = l
	}
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open before probing again.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) Option {
	return func(c *resolverConfig) {
		if maxFailures > 0 {
			c.maxFailures = maxFailures
		}
		if openTimeout > 0 {
			c.openTimeout = openTimeout
		}
	}
}

// WithStateObserver registers a callback for breaker transitions.
func WithStateObserver(fn func(from, to gobreaker.State)) Option {
	return func(c *resolverConfig) {
		c.stateChanged = fn
	}
}

// New creates a Resolver. Either store or remote may be nil.
func New(store Lookup, remote Remote, opts ...Option) *Resolver {
	cfg := resolverConfig{
		logger:      zerolog.Nop(),
		maxFailures: 5,
		openTimeout: time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Resolver{
		store:  store,
		remote: remote,
		logger: cfg.logger,
		cache:  make(map[string]*reference.Institution),
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openalex-institutions",
		MaxRequests: 1,
		Timeout:     cfg.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.maxFailures
		},
		// A missing institution is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || openalex.IsNotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("institution lookup breaker changed state")
			if cfg.stateChanged != nil {
				cfg.stateChanged(from, to)
			}
		},
	})

	return r
}

// Resolve returns the located institution for id. It returns ErrNoGeo when
// the institution exists without coordinates (or does not exist upstream).
// A failed lookup, including one refused by the open breaker, returns an
// error wrapping *openalex.FetchError.
func (r *Resolver) Resolve(ctx context.Context, id string) (*reference.Institution, error) {
	id = strings.TrimPrefix(id, openalex.IDPrefix)
	if id == "" {
		return nil, ErrNoGeo
	}

	r.mu.Lock()
	cached, ok := r.cache[id]
	if ok {
		r.stats.CacheHits++
	}
	r.mu.Unlock()
	if ok {
		if cached == nil {
			return nil, ErrNoGeo
		}
		inst := *cached
		return &inst, nil
	}

	if r.store != nil {
		inst, err := r.store.GetInstitution(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("looking up institution %s: %w", id, err)
		}
		if inst != nil && reference.ValidCoordinates(inst.Lat, inst.Lng) {
			r.remember(id, inst, func(s *Stats) { s.StoreHits++ })
			out := *inst
			return &out, nil
		}
	}

	if r.remote == nil {
		r.remember(id, nil, func(s *Stats) { s.NoGeo++ })
		return nil, ErrNoGeo
	}

	res, err := r.breaker.Execute(func() (interface{}, error) {
		return r.remote.Institution(ctx, id)
	})
	if err != nil {
		if openalex.IsNotFound(err) {
			r.remember(id, nil, func(s *Stats) { s.NoGeo++ })
			return nil, ErrNoGeo
		}
		r.mu.Lock()
		r.stats.Failures++
		r.mu.Unlock()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &openalex.FetchError{Resource: "institutions/" + id, Err: err}
		}
		return nil, fmt.Errorf("resolving institution %s: %w", id, err)
	}

	inst := fromAPI(id, res.(*openalex.Institution))
	if inst == nil {
		r.remember(id, nil, func(s *Stats) { s.NoGeo++ })
		return nil, ErrNoGeo
	}
	r.remember(id, inst, func(s *Stats) { s.RemoteHits++ })
	out := *inst
	return &out, nil
}

// Stats returns a copy of the resolution counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// BreakerState reports the current breaker state.
func (r *Resolver) BreakerState() gobreaker.State {
	return r.breaker.State()
}

func (r *Resolver) remember(id string, inst *reference.Institution, count func(*Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst != nil {
		c := *inst
		inst = &c
	}
	r.cache[id] = inst
	count(&r.stats)
}

// fromAPI converts an institutions endpoint response, returning nil when it
// carries no usable coordinates.
func fromAPI(id string, in *openalex.Institution) *reference.Institution {
	if in == nil || in.Geo == nil || in.Geo.Latitude == nil || in.Geo.Longitude == nil {
		return nil
	}
	lat, lng := *in.Geo.Latitude, *in.Geo.Longitude
	if !reference.ValidCoordinates(lat, lng) {
		return nil
	}

	country := in.CountryCode
	if country == "" {
		country = in.Geo.CountryCode
	}
	return &reference.Institution{
		ID:          id,
		Name:        in.DisplayName,
		CountryCode: strings.ToUpper(country),
		Lat:         lat,
		Lng:         lng,
	}
}
