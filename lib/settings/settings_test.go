package settings

import (
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	d := Default()
	assert.Equal(t, 0.2, d.CommitSizeJitter)
	assert.Equal(t, 10000, d.FunnelMaxSize)
	assert.Equal(t, 20, d.FunnelConcurrency)
	assert.Equal(t, 1500*time.Millisecond, d.FunnelExpire)
	assert.Equal(t, 1000*time.Millisecond, d.FunnelRefresh)
	assert.Equal(t, 100, d.SubQueryResolveLimit)
	assert.False(t, d.NullAliasesAsMissing)
	assert.Equal(t, 1000, d.CacheMaxSize)
	assert.Equal(t, 10*time.Second, d.LockTimeout)
	assert.Equal(t, 50*time.Millisecond, d.LockTryInterval)
	assert.NoError(t, d.Validate())
}

func TestFromViper(t *testing.T) {
	v := viper.New()
	s, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, Default(), s)

	v.Set("dpersist.lock.timeout", "3s")
	v.Set("dpersist.cache.max-size", 42)
	s, err = FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, s.LockTimeout)
	assert.Equal(t, 42, s.CacheMaxSize)
	assert.Equal(t, 3*time.Second, s.LockOptions().Timeout)
	assert.Equal(t, 42, s.CachingOptions().MaxSize)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("DPERSIST_FUNNEL_MAX_SIZE", "7")
	t.Setenv("DPERSIST_QUERY_NULL_ALIASES_AS_MISSING", "true")

	v := viper.New()
	BindEnv(v)
	s, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 7, s.FunnelMaxSize)
	assert.True(t, s.NullAliasesAsMissing)
}

func TestValidate(t *testing.T) {
	s := Default()
	s.FunnelRefresh = 2 * s.FunnelExpire
	assert.Error(t, s.Validate())

	v := viper.New()
	v.Set("dpersist.lock.try-interval", "1m")
	_, err := FromViper(v)
	assert.ErrorContains(t, err, "invalid settings")
}

func TestApply(t *testing.T) {
	s := Default()
	s.SubQueryResolveLimit = 7
	s.Apply()
	defer Default().Apply()
	assert.Equal(t, 7, query.SubQueryResolveLimit())
}

func TestString(t *testing.T) {
	out := Default().String()
	for _, section := range []string{"WRITER", "FUNNEL CACHE", "QUERIES", "CACHE", "LOCK"} {
		assert.True(t, strings.Contains(out, section), section)
	}
}
