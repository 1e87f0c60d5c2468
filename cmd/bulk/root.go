package bulk

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/async"
	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/ValentinKolb/dPersist/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	source *client.Database
	target *client.Database

	typeName      string
	conditions    []string
	operation     string
	targetName    string
	writers       int
	fetchSize     int
	queueCapacity int
	maxDataLength int
	eventually    bool
	stopOnError   bool

	// BulkCommands represents the bulk command group
	BulkCommands = &cobra.Command{
		Use:                "bulk",
		Short:              "Apply write operations to many records",
		PersistentPreRunE:  setupClients,
		PersistentPostRunE: closeClients,
	}

	resaveCmd = &cobra.Command{
		Use:   "resave",
		Short: "Apply a write operation to all matching records",
		Long: `Reads all matching records and applies a write operation to each of them, in the same or another database.
The records are read page by page and written by concurrent writers in batches. A failed batch is retried record by record.

Examples:
  dpersist bulk resave --type user                       # re-save all users
  dpersist bulk resave --type user --operation index     # refresh the index entries
  dpersist bulk resave --type user --target archive      # copy all users to the database archive
  dpersist bulk resave --type session --where 'lastSeen<1700000000000' --operation delete`,
		Args: cobra.NoArgs,
		RunE: runResave,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(BulkCommands)
	util.SetupSettingsFlags(BulkCommands)

	flags := resaveCmd.Flags()
	flags.StringVar(&typeName, "type", "", util.WrapString("Type of the records (required)"))
	flags.StringArrayVar(&conditions, "where", nil, util.WrapString("Condition of the form field<op>value, see query --help. Can be repeated"))
	flags.StringVar(&operation, "operation", "save", util.WrapString("Write operation to apply (save, save-unsafely, index, delete)"))
	flags.StringVar(&targetName, "target", "", util.WrapString("Database to write to, defaults to the source database"))
	flags.IntVar(&writers, "writers", 4, util.WrapString("Number of concurrent writers"))
	flags.IntVar(&fetchSize, "fetch-size", 500, util.WrapString("Number of records read per request"))
	flags.IntVar(&queueCapacity, "queue-capacity", 1000, util.WrapString("Number of records buffered between the reader and the writers"))
	flags.IntVar(&maxDataLength, "max-data-length", 0, util.WrapString("Commit early once the buffered records exceed this many bytes (0 disables the limit)"))
	flags.BoolVar(&eventually, "eventually", false, util.WrapString("Do not wait until the commits are visible to other readers"))
	flags.BoolVar(&stopOnError, "stop-on-error", false, util.WrapString("Stop at the first record that can not be written"))

	BulkCommands.AddCommand(resaveCmd)
}

func setupClients(cmd *cobra.Command, _ []string) error {
	var err error
	source, err = util.OpenDatabase(cmd)
	if err != nil {
		return err
	}
	target = source
	if targetName != "" && targetName != viper.GetString(util.Key("database")) {
		target, err = util.OpenNamedDatabase(targetName)
	}
	return err
}

func closeClients(_ *cobra.Command, _ []string) error {
	if target != nil && target != source {
		_ = target.Close()
	}
	if source == nil {
		return nil
	}
	return source.Close()
}

// runResave handles the resave command
func runResave(cmd *cobra.Command, _ []string) error {
	if typeName == "" {
		return fmt.Errorf("--type is required")
	}
	op, err := db.ParseWriteOperation(operation)
	if err != nil {
		return err
	}
	q, err := util.BuildQuery(typeName, conditions, nil)
	if err != nil {
		return err
	}
	st, err := util.GetSettings()
	if err != nil {
		return err
	}

	writerOpts := st.WriterOptions()
	writerOpts.Operation = op
	writerOpts.MaximumDataLength = maxDataLength
	writerOpts.CommitEventually = eventually
	writerOpts.OnError = func(_ context.Context, s *state.State, err error) error {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed to %s %s: %v\n", op, s, err)
		if stopOnError {
			return err
		}
		return nil
	}

	ctx, cancel := util.Context(0)
	defer cancel()

	start := time.Now()
	stats, err := async.Copy(ctx, source, q, target, async.CopyOptions{
		FetchSize:     fetchSize,
		QueueCapacity: queueCapacity,
		Writers:       writers,
		Writer:        writerOpts,
	})
	printStats(cmd.OutOrStdout(), op, stats, time.Since(start))
	return err
}

func printStats(w io.Writer, op db.WriteOperation, stats async.CopyStats, took time.Duration) {
	var commits, fallbacks, failures int64
	for _, ws := range stats.Writers {
		commits += ws.Commits
		fallbacks += ws.Fallbacks
		failures += ws.Failures
	}
	fmt.Fprintf(w, "%s: read=%d, commits=%d, fallbacks=%d, failures=%d, writers=%d, took=%s\n",
		op, stats.Read, commits, fallbacks, failures, len(stats.Writers), took.Round(time.Millisecond))
	fmt.Fprintf(w, "queue: removed=%d, add wait=%s, remove wait=%s\n",
		stats.Queue.Removed, stats.Queue.AddWait.Round(time.Millisecond), stats.Queue.RemoveWait.Round(time.Millisecond))
}
