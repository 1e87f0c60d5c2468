/*
Package settings holds the tunables of the persistence layer in one place.

Settings can be built from defaults, loaded from viper (flags, environment
variables with the DPERSIST_ prefix and config files) and turned into the
options of the individual packages:

	s, err := settings.FromViper(viper.GetViper())
	if err != nil {
	    return err
	}
	s.Apply() // sets the process wide query settings
	database := memory.NewDatabase(memory.Options{}, db.WithFunnelCache(s.FunnelOptions()))
	chain := db.Chain(database, caching.Stage(s.CachingOptions()), profiling.Stage(nil))

All keys live below "dpersist." in viper, e.g. dpersist.lock.timeout or
DPERSIST_LOCK_TIMEOUT in the environment.
*/
package settings
