package query

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	remote *client.Database

	typeName   string
	conditions []string
	sortFields []string
	groupBy    []string
	offset     int64
	limit      int

	// QueryCommands represents the query command group
	QueryCommands = &cobra.Command{
		Use:                "query",
		Short:              "Run queries against a database",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}

	countCmd = &cobra.Command{
		Use:   "count",
		Short: "Prints the number of matching records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := util.Context(timeout())
			defer cancel()

			q, err := buildQuery()
			if err != nil {
				return err
			}
			count, err := remote.ReadCount(ctx, q)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", count)
			return nil
		},
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Prints one page of the matching records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := util.Context(timeout())
			defer cancel()

			q, err := buildQuery()
			if err != nil {
				return err
			}
			if len(groupBy) > 0 {
				page, err := remote.ReadPartialGrouped(ctx, q, offset, limit, groupBy...)
				if err != nil {
					return err
				}
				return util.PrintJSON(cmd, page)
			}
			page, err := remote.ReadPartial(ctx, q, offset, limit)
			if err != nil {
				return err
			}
			return util.PrintJSON(cmd, page)
		},
	}

	lastUpdateCmd = &cobra.Command{
		Use:   "last-update",
		Short: "Prints the time of the most recent update of the matching records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := util.Context(timeout())
			defer cancel()

			q, err := buildQuery()
			if err != nil {
				return err
			}
			t, err := remote.ReadLastUpdate(ctx, q)
			if err != nil {
				return err
			}
			if t.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "never")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC3339Nano))
			return nil
		},
	}

	deleteCmd = &cobra.Command{
		Use:   "delete",
		Short: "Deletes all matching records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := util.Context(timeout())
			defer cancel()

			if typeName == "" {
				return fmt.Errorf("--type is required for delete")
			}
			q, err := buildQuery()
			if err != nil {
				return err
			}
			if err := remote.DeleteByQuery(ctx, q); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "delete successfully")
			return nil
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the query command
	util.SetupRPCClientFlags(QueryCommands)

	flags := QueryCommands.PersistentFlags()
	flags.StringVar(&typeName, "type", "", util.WrapString("Type of the records, all types if empty"))
	flags.StringArrayVar(&conditions, "where", nil, util.WrapString("Condition of the form field<op>value with op one of = != < <= > >= ^= (starts with) ~= (contains). Can be repeated, conditions are combined with and"))

	listCmd.Flags().StringSliceVar(&sortFields, "sort", nil, util.WrapString("Fields to sort by, prefix a field with - to sort descending"))
	listCmd.Flags().StringSliceVar(&groupBy, "group-by", nil, util.WrapString("Group the records by these fields and list the groups"))
	listCmd.Flags().Int64Var(&offset, "offset", 0, util.WrapString("Number of records to skip"))
	listCmd.Flags().IntVar(&limit, "limit", 20, util.WrapString("Maximum number of records to list"))

	QueryCommands.AddCommand(countCmd)
	QueryCommands.AddCommand(listCmd)
	QueryCommands.AddCommand(lastUpdateCmd)
	QueryCommands.AddCommand(deleteCmd)
}

func buildQuery() (*query.Query, error) {
	return util.BuildQuery(typeName, conditions, sortFields)
}

func timeout() time.Duration {
	return time.Duration(viper.GetInt(util.Key("timeout"))) * time.Second
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
