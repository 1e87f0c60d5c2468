package settings

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dPersist/lib/async"
	"github.com/ValentinKolb/dPersist/lib/db/caching"
	"github.com/ValentinKolb/dPersist/lib/db/funnel"
	"github.com/ValentinKolb/dPersist/lib/lock"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Prefix of all keys in viper
const Prefix = "dpersist"

// Settings are the tunables of the persistence layer
type Settings struct {
	// Writer
	CommitSize       int
	CommitSizeJitter float64

	// FunnelCache
	FunnelMaxSize     int
	FunnelConcurrency int
	FunnelExpire      time.Duration
	FunnelRefresh     time.Duration

	// Queries
	SubQueryResolveLimit int
	NullAliasesAsMissing bool

	// CachingDatabase
	CacheMaxSize int

	// DistributedLock
	LockTimeout     time.Duration
	LockTryInterval time.Duration
}

// Default returns the built in defaults
func Default() Settings {
	return Settings{
		CommitSize:           async.DefaultCommitSize,
		CommitSizeJitter:     async.DefaultCommitSizeJitter,
		FunnelMaxSize:        funnel.DefaultMaxSize,
		FunnelConcurrency:    funnel.DefaultConcurrencyLevel,
		FunnelExpire:         funnel.DefaultExpireAfterWrite,
		FunnelRefresh:        funnel.DefaultRefreshAfterWrite,
		SubQueryResolveLimit: query.DefaultSubQueryResolveLimit,
		NullAliasesAsMissing: false,
		CacheMaxSize:         caching.DefaultMaxSize,
		LockTimeout:          lock.DefaultTimeout,
		LockTryInterval:      lock.DefaultInterval,
	}
}

// --------------------------------------------------------------------------
// Viper
// --------------------------------------------------------------------------

// key names relative to Prefix
const (
	KeyCommitSize           = "writer.commit-size"
	KeyCommitSizeJitter     = "writer.commit-size-jitter"
	KeyFunnelMaxSize        = "funnel.max-size"
	KeyFunnelConcurrency    = "funnel.concurrency"
	KeyFunnelExpire         = "funnel.expire"
	KeyFunnelRefresh        = "funnel.refresh"
	KeySubQueryResolveLimit = "query.sub-query-resolve-limit"
	KeyNullAliasesAsMissing = "query.null-aliases-as-missing"
	KeyCacheMaxSize         = "cache.max-size"
	KeyLockTimeout          = "lock.timeout"
	KeyLockTryInterval      = "lock.try-interval"
)

// SetDefaults registers the defaults in v, so unset keys resolve to them
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(key(KeyCommitSize), d.CommitSize)
	v.SetDefault(key(KeyCommitSizeJitter), d.CommitSizeJitter)
	v.SetDefault(key(KeyFunnelMaxSize), d.FunnelMaxSize)
	v.SetDefault(key(KeyFunnelConcurrency), d.FunnelConcurrency)
	v.SetDefault(key(KeyFunnelExpire), d.FunnelExpire)
	v.SetDefault(key(KeyFunnelRefresh), d.FunnelRefresh)
	v.SetDefault(key(KeySubQueryResolveLimit), d.SubQueryResolveLimit)
	v.SetDefault(key(KeyNullAliasesAsMissing), d.NullAliasesAsMissing)
	v.SetDefault(key(KeyCacheMaxSize), d.CacheMaxSize)
	v.SetDefault(key(KeyLockTimeout), d.LockTimeout)
	v.SetDefault(key(KeyLockTryInterval), d.LockTryInterval)
}

// BindEnv makes every key readable from the environment, e.g. dpersist.lock.timeout
// from DPERSIST_LOCK_TIMEOUT. The keys already carry the prefix, so no env
// prefix is set on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// FromViper reads the settings from v. Unset keys fall back to the defaults.
func FromViper(v *viper.Viper) (Settings, error) {
	SetDefaults(v)
	s := Settings{
		CommitSize:           v.GetInt(key(KeyCommitSize)),
		CommitSizeJitter:     v.GetFloat64(key(KeyCommitSizeJitter)),
		FunnelMaxSize:        v.GetInt(key(KeyFunnelMaxSize)),
		FunnelConcurrency:    v.GetInt(key(KeyFunnelConcurrency)),
		FunnelExpire:         v.GetDuration(key(KeyFunnelExpire)),
		FunnelRefresh:        v.GetDuration(key(KeyFunnelRefresh)),
		SubQueryResolveLimit: v.GetInt(key(KeySubQueryResolveLimit)),
		NullAliasesAsMissing: v.GetBool(key(KeyNullAliasesAsMissing)),
		CacheMaxSize:         v.GetInt(key(KeyCacheMaxSize)),
		LockTimeout:          v.GetDuration(key(KeyLockTimeout)),
		LockTryInterval:      v.GetDuration(key(KeyLockTryInterval)),
	}
	return s, errors.Wrap(s.Validate(), "invalid settings")
}

func key(name string) string {
	return Prefix + "." + name
}

// Validate checks the settings for values that can not work
func (s Settings) Validate() error {
	switch {
	case s.CommitSize < 1:
		return fmt.Errorf("commit size must be positive, got %d", s.CommitSize)
	case s.FunnelMaxSize < 1 || s.FunnelConcurrency < 1:
		return fmt.Errorf("funnel size and concurrency must be positive")
	case s.FunnelRefresh > s.FunnelExpire:
		return fmt.Errorf("funnel refresh (%v) must not exceed the expiry (%v)", s.FunnelRefresh, s.FunnelExpire)
	case s.LockTryInterval <= 0 || s.LockTimeout <= 0:
		return fmt.Errorf("lock timeout and try interval must be positive")
	case s.LockTryInterval > s.LockTimeout:
		return fmt.Errorf("lock try interval (%v) must not exceed the timeout (%v)", s.LockTryInterval, s.LockTimeout)
	}
	return nil
}

// --------------------------------------------------------------------------
// Options of the packages
// --------------------------------------------------------------------------

// Apply sets the process wide query settings
func (s Settings) Apply() {
	query.SetSubQueryResolveLimit(s.SubQueryResolveLimit)
	query.SetNullAliasesAsMissing(s.NullAliasesAsMissing)
}

func (s Settings) FunnelOptions() funnel.Options {
	return funnel.Options{
		MaxSize:           s.FunnelMaxSize,
		ConcurrencyLevel:  s.FunnelConcurrency,
		ExpireAfterWrite:  s.FunnelExpire,
		RefreshAfterWrite: s.FunnelRefresh,
	}
}

func (s Settings) CachingOptions() caching.Options {
	return caching.Options{MaxSize: s.CacheMaxSize}
}

func (s Settings) LockOptions() lock.Options {
	return lock.Options{Timeout: s.LockTimeout, Interval: s.LockTryInterval}
}

func (s Settings) WriterOptions() async.WriterOptions {
	return async.WriterOptions{CommitSize: s.CommitSize, CommitSizeJitter: s.CommitSizeJitter}
}

// String returns a formatted string representation of the settings
func (s Settings) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
	}

	addSection("Writer")
	addField("Commit Size", fmt.Sprintf("%d", s.CommitSize))
	addField("Commit Size Jitter", fmt.Sprintf("%.2f", s.CommitSizeJitter))

	addSection("Funnel Cache")
	addField("Max Size", fmt.Sprintf("%d", s.FunnelMaxSize))
	addField("Concurrency", fmt.Sprintf("%d", s.FunnelConcurrency))
	addField("Expire After Write", s.FunnelExpire.String())
	addField("Refresh After Write", s.FunnelRefresh.String())

	addSection("Queries")
	addField("Sub-Query Resolve Limit", fmt.Sprintf("%d", s.SubQueryResolveLimit))
	addField("Null Aliases As Missing", fmt.Sprintf("%t", s.NullAliasesAsMissing))

	addSection("Cache")
	addField("Max Size", fmt.Sprintf("%d", s.CacheMaxSize))

	addSection("Lock")
	addField("Timeout", s.LockTimeout.String())
	addField("Try Interval", s.LockTryInterval.String())

	return sb.String()
}
