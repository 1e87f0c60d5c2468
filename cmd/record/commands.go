package record

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [type] [json]",
		Short: "Saves a record",
		Long:  `Saves a record of the given type. The values are given as a JSON object, e.g. record put user '{"name":"alice","age":31}'`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.Context(timeout())
			defer cancel()

			s, err := newState(args[0], cmd.Flag("id").Value.String(), args[1])
			if err != nil {
				return err
			}

			op := db.OpSave
			if unsafe, _ := cmd.Flags().GetBool("unsafe"); unsafe {
				op = db.OpSaveUnsafely
			}
			err = db.Immediately(ctx, remote, func(ctx context.Context) error {
				return op.Execute(ctx, remote, s)
			})
			if err != nil {
				return err
			}
			return util.PrintJSON(cmd, s)
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [type] [id]",
		Short: "Prints a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.Context(timeout())
			defer cancel()

			id, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid id: %w", err)
			}
			s, err := remote.ReadFirst(db.WithPrimaryRead(ctx), query.ByID(args[0], id))
			if err != nil {
				return err
			}
			if s == nil {
				return fmt.Errorf("%s %s not found", args[0], id)
			}
			return util.PrintJSON(cmd, s)
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [type] [id]",
		Short: "Deletes a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.Context(timeout())
			defer cancel()

			id, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid id: %w", err)
			}
			if err := db.DeleteImmediately(ctx, remote, state.NewReference(args[0], id)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "delete successfully")
			return nil
		},
	}
)

func timeout() time.Duration {
	return time.Duration(viper.GetInt(util.Key("timeout"))) * time.Second
}

// newState creates a record from a JSON object of values
func newState(typeName, id, values string) (*state.State, error) {
	var v map[string]any
	if err := json.Unmarshal([]byte(values), &v); err != nil {
		return nil, fmt.Errorf("values must be a JSON object: %w", err)
	}

	s := state.New(typeName)
	if id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid id: %w", err)
		}
		s = state.NewWithID(typeName, parsed)
	}
	s.SetValues(v)
	return s, nil
}
