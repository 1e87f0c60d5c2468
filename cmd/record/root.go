package record

import (
	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/rpc/client"
	"github.com/spf13/cobra"
)

var (
	remote *client.Database

	// RecordCommands represents the record command group
	RecordCommands = &cobra.Command{
		Use:                "record",
		Short:              "Read and write single records",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the record command
	util.SetupRPCClientFlags(RecordCommands)

	// Add subcommands
	RecordCommands.AddCommand(putCmd)
	RecordCommands.AddCommand(getCmd)
	RecordCommands.AddCommand(deleteCmd)

	putCmd.Flags().String("id", "", util.WrapString("ID of the record, a new one is generated if empty"))
	putCmd.Flags().Bool("unsafe", false, util.WrapString("Save without validation"))
}

// setupClient connects to the remote database
func setupClient(cmd *cobra.Command, _ []string) (err error) {
	remote, err = util.OpenDatabase(cmd)
	return err
}

func closeClient(_ *cobra.Command, _ []string) error {
	if remote == nil {
		return nil
	}
	return remote.Close()
}
