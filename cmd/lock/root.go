package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/lock"
	"github.com/ValentinKolb/dPersist/rpc/client"
	"github.com/spf13/cobra"
)

var (
	remote      *client.Database
	lockOptions lock.Options
	waitFor     time.Duration

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform lock operations",
		PersistentPreRunE:  setupLockClient,
		PersistentPostRunE: closeLockClient,
	}

	// execCmd represents the exec command
	execCmd = &cobra.Command{
		Use:   "exec [key] -- [command...]",
		Short: "Run a command while holding a lock",
		Long: `Acquires the lock, runs the command and releases the lock when the command exits.
The lock is pinged while the command runs, so it is not taken over by other instances.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runExec,
	}

	// statusCmd represents the status command
	statusCmd = &cobra.Command{
		Use:   "status [key]",
		Short: "Print the state of a lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add subcommands to lock command
	LockCommands.AddCommand(execCmd)
	LockCommands.AddCommand(statusCmd)

	// Add common RPC flags to the lock command
	util.SetupRPCClientFlags(LockCommands)
	util.SetupSettingsFlags(LockCommands)

	execCmd.Flags().DurationVar(&waitFor, "wait", 0, util.WrapString("How long to wait for the lock (0 waits until the lock is acquired or the command is interrupted)"))
}

// setupLockClient connects to the remote database holding the locks
func setupLockClient(cmd *cobra.Command, _ []string) error {
	var err error
	remote, err = util.OpenDatabase(cmd)
	if err != nil {
		return err
	}

	st, err := util.GetSettings()
	if err != nil {
		return err
	}
	lockOptions = st.LockOptions()
	return nil
}

func closeLockClient(_ *cobra.Command, _ []string) error {
	if remote == nil {
		return nil
	}
	return remote.Close()
}

// runExec handles the exec command
func runExec(cmd *cobra.Command, args []string) error {
	ctx, cancel := util.Context(0)
	defer cancel()

	l := lock.New(remote, args[0], lockOptions)

	if waitFor > 0 {
		ok, err := l.TryLockFor(ctx, waitFor)
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("lock %q not acquired within %s", args[0], waitFor)
		}
	} else if err := l.LockInterruptibly(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to release lock: %v\n", err)
		}
	}()

	// keep the lock alive while the command runs
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go keepAlive(runCtx, l, stopRun)

	c := exec.CommandContext(runCtx, args[1], args[2:]...)
	c.Stdin = os.Stdin
	c.Stdout = cmd.OutOrStdout()
	c.Stderr = cmd.ErrOrStderr()
	return c.Run()
}

// keepAlive pings l until ctx is done. If the lock is lost the command is stopped.
func keepAlive(ctx context.Context, l *lock.Lock, stop context.CancelFunc) {
	ticker := time.NewTicker(l.Options().Timeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := l.Ping(ctx)
			if errors.Is(err, lock.ErrLost) {
				fmt.Fprintf(os.Stderr, "lost lock %q, stopping command\n", l.Key())
				stop()
				return
			}
			if err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "failed to ping lock %q: %v\n", l.Key(), err)
			}
		}
	}
}

// runStatus handles the status command
func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := util.Context(10 * time.Second)
	defer cancel()

	status, err := lock.New(remote, args[0], lockOptions).Status(ctx)
	if err != nil {
		return err
	}
	if status.LockID == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "key=%s, locked=false\n", status.Key)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "key=%s, locked=%t, lockId=%s, lastPing=%s, expired=%t\n",
		status.Key, status.Locked, status.LockID, status.LastPing.Format(time.RFC3339), status.Expired)
	return nil
}
