package util

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ValentinKolb/dPersist/lib/settings"
	"github.com/ValentinKolb/dPersist/rpc/client"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/serializer"
	"github.com/ValentinKolb/dPersist/rpc/transport/http"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Viper
// --------------------------------------------------------------------------

// Key returns the viper key of a flag. All keys live below settings.Prefix,
// so --endpoint can also be set as DPERSIST_ENDPOINT.
func Key(flag string) string {
	return settings.Prefix + "." + flag
}

// InitConfig loads the env files and makes all keys readable from the environment
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	settings.BindEnv(viper.GetViper())
}

// BindCommandFlags binds all flags of a command to viper
func BindCommandFlags(cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if settingsKey, ok := settingsFlags[f.Name]; ok {
			err = firstError(err, viper.BindPFlag(settings.Prefix+"."+settingsKey, f))
			return
		}
		err = firstError(err, viper.BindPFlag(Key(f.Name), f))
	})
	return err
}

func firstError(err, next error) error {
	if err != nil {
		return err
	}
	return next
}

// settingsFlags maps flag names to the settings keys they set
var settingsFlags = map[string]string{}

// SetupSettingsFlags adds a flag for every tunable of the settings package,
// e.g. --lock-timeout for the key lock.timeout
func SetupSettingsFlags(cmd *cobra.Command) {
	d := settings.Default()
	flags := cmd.PersistentFlags()

	add := func(key string) string {
		name := strings.ReplaceAll(key, ".", "-")
		settingsFlags[name] = key
		return name
	}

	flags.Int(add(settings.KeyCommitSize), d.CommitSize, WrapString("Number of writes per commit of the bulk writers"))
	flags.Float64(add(settings.KeyCommitSizeJitter), d.CommitSizeJitter, WrapString("Relative jitter of the commit size, spreads the commits of parallel writers"))
	flags.Int(add(settings.KeyFunnelMaxSize), d.FunnelMaxSize, WrapString("Maximum number of cached query results of the funnel cache"))
	flags.Int(add(settings.KeyFunnelConcurrency), d.FunnelConcurrency, WrapString("Number of independently locked funnel cache shards"))
	flags.Duration(add(settings.KeyFunnelExpire), d.FunnelExpire, WrapString("Age after which funnel cache entries are dropped"))
	flags.Duration(add(settings.KeyFunnelRefresh), d.FunnelRefresh, WrapString("Age after which funnel cache entries are reloaded"))
	flags.Int(add(settings.KeySubQueryResolveLimit), d.SubQueryResolveLimit, WrapString("Maximum number of ids a sub-query may resolve to"))
	flags.Bool(add(settings.KeyNullAliasesAsMissing), d.NullAliasesAsMissing, WrapString("Treat the null aliases of predicates as missing values"))
	flags.Int(add(settings.KeyCacheMaxSize), d.CacheMaxSize, WrapString("Maximum number of entries per cache of the caching stage"))
	flags.Duration(add(settings.KeyLockTimeout), d.LockTimeout, WrapString("Age of the last ping after which a lock is presumed abandoned"))
	flags.Duration(add(settings.KeyLockTryInterval), d.LockTryInterval, WrapString("Poll interval of blocking lock calls"))
}

// GetSettings reads the settings from viper
func GetSettings() (settings.Settings, error) {
	return settings.FromViper(viper.GetViper())
}

// --------------------------------------------------------------------------
// RPC Client
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "database"
	cmd.PersistentFlags().String(key, "main", WrapString("Name of the database on the server"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "http://localhost:8080", WrapString("The address of the dPersist server. Multiple endpoints can be specified as a comma-separated list, requests are balanced round-robin"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 4, WrapString("Idle connections kept per endpoint"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to try a request"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() common.ClientConfig {
	return common.ClientConfig{
		TimeoutSecond:          viper.GetInt(Key("timeout")),
		RetryCount:             viper.GetInt(Key("transport-retries")),
		Endpoints:              strings.Split(viper.GetString(Key("transport-endpoints")), ","),
		ConnectionsPerEndpoint: viper.GetInt(Key("transport-conn-per-endpoint")),
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.New(viper.GetString(Key("serializer")))
}

// OpenDatabase binds the flags of cmd and connects to the configured remote database
func OpenDatabase(cmd *cobra.Command) (*client.Database, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	return OpenNamedDatabase(viper.GetString(Key("database")))
}

// OpenNamedDatabase connects to a remote database by name
func OpenNamedDatabase(name string) (*client.Database, error) {
	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	return client.NewRPCDatabase(name, GetClientConfig(), http.NewHttpClientTransport(), s)
}

// Context returns a context that is cancelled on SIGINT or SIGTERM and after
// the configured timeout, if one is given
func Context(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// PrintJSON prints v as indented JSON
func PrintJSON(cmd *cobra.Command, v any) error {
	b, err := MarshalIndent(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
