package authsession

import (
	"github.com/MrEthical07/authsession/clock"
	"github.com/MrEthical07/authsession/identity"
	"github.com/MrEthical07/authsession/localstore"
	"github.com/MrEthical07/authsession/reachability"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a Manager.
//
// Builder instances are configured during initialization and used once:
// a second Build returns ErrBuilderUsed.
type Builder struct {
	config Config

	provider identity.Provider
	session  localstore.Store
	durable  localstore.Store
	redis    redis.UniversalClient
	cookies  localstore.CookieJar
	oracle   reachability.Oracle
	logSink  LogSink
	clock    clock.Clock

	onRefresh      func(RefreshInfo)
	onRefreshError func(principalID string, err error)

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithIdentityProvider sets the provider consulted by Resume. It is
// required.
func (b *Builder) WithIdentityProvider(p identity.Provider) *Builder {
	b.provider = p
	return b
}

// WithSessionStore sets the session-scoped store holding the persisted
// markers. Defaults to an in-memory store.
func (b *Builder) WithSessionStore(s localstore.Store) *Builder {
	b.session = s
	return b
}

// WithDurableStore sets the store that survives restarts. It takes
// precedence over WithRedis.
func (b *Builder) WithDurableStore(s localstore.Store) *Builder {
	b.durable = s
	return b
}

// WithRedis builds the durable store over client using Config.Storage.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCookies sets the jar whose cookies are expired on every clear.
func (b *Builder) WithCookies(jar localstore.CookieJar) *Builder {
	b.cookies = jar
	return b
}

// WithReachability sets the connectivity oracle. Without one the network
// is always considered reachable and offline sessions are never
// re-validated on reconnect.
func (b *Builder) WithReachability(o reachability.Oracle) *Builder {
	b.oracle = o
	return b
}

// WithLogSink sets the destination of structured session logs.
func (b *Builder) WithLogSink(sink LogSink) *Builder {
	b.logSink = sink
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

// WithRefreshHandler sets a callback for every successful scheduled refresh.
func (b *Builder) WithRefreshHandler(fn func(RefreshInfo)) *Builder {
	b.onRefresh = fn
	return b
}

// WithRefreshErrorHandler sets the callback for scheduled refreshes that
// exhausted their retries. The error wraps ErrTokenRefreshFailed. The
// schedule keeps running; hosts usually treat repeated calls as a forced
// sign-out.
func (b *Builder) WithRefreshErrorHandler(fn func(principalID string, err error)) *Builder {
	b.onRefreshError = fn
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles validation and refresh latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. It
// performs no I/O.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.provider == nil {
		return nil, ErrProviderRequired
	}

	durable := b.durable
	if durable == nil && b.redis != nil {
		durable = localstore.NewRedis(b.redis, cfg.Storage.RedisPrefix, cfg.Storage.Namespace, cfg.Storage.DurableTTL)
	}

	m := newManager(cfg, managerDeps{
		provider:       b.provider,
		session:        b.session,
		durable:        durable,
		cookies:        b.cookies,
		oracle:         b.oracle,
		logSink:        b.logSink,
		clock:          b.clock,
		onRefresh:      b.onRefresh,
		onRefreshError: b.onRefreshError,
	})

	b.built = true
	return m, nil
}
