package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dPersist/cmd/bulk"
	"github.com/ValentinKolb/dPersist/cmd/lock"
	"github.com/ValentinKolb/dPersist/cmd/query"
	"github.com/ValentinKolb/dPersist/cmd/record"
	"github.com/ValentinKolb/dPersist/cmd/serve"
	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.4.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dpersist",
		Short: "record persistence with pluggable backends",
		Long: fmt.Sprintf(`dPersist (v%s)

A record persistence layer written in Go. Records are stored in memory, in a
bolt file or replicated with RAFT, and served to clients over HTTP.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dPersist",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dPersist v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(record.RecordCommands)
	RootCmd.AddCommand(query.QueryCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(bulk.BulkCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
