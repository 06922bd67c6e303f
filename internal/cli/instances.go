package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/idcstack/idc-control-plane/internal/panel"
)

func newInstancesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "List and control panel instances",
	}
	cmd.AddCommand(
		newInstancesListCommand(opts),
		newInstancesBatchCommand(opts),
		newInstancesWaitCommand(opts),
		newInstancesPortCommand(opts),
	)
	return cmd
}

func newInstancesListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List instances known to the panel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			list, err := c.ListInstances(cmd.Context())
			if err != nil {
				return fmt.Errorf("list instances: %w", err)
			}
			rows := make([]instanceRow, 0, len(list))
			for _, inst := range list {
				rows = append(rows, instanceRow{
					UUID:     inst.UUID,
					Nickname: inst.Config.Nickname,
					Status:   inst.Status,
					Port:     inst.Config.Port,
				})
			}
			return opts.print(cmd.OutOrStdout(), rows)
		},
	}
}

type instanceRow struct {
	UUID     string `json:"uuid"`
	Nickname string `json:"nickname"`
	Status   string `json:"status"`
	Port     int    `json:"port"`
}

func newInstancesBatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <start|stop|restart> <instance-id>...",
		Short: "Run one operation over several instances",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := panel.Operation(args[0])
			if !op.Valid() {
				return fmt.Errorf("unsupported operation %q", args[0])
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			results := c.BatchOperation(cmd.Context(), args[1:], op)
			if err := opts.print(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if !r.Success {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d operations failed", failed, len(results))
			}
			return nil
		},
	}
}

func newInstancesWaitCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <instance-id>",
		Short: "Block until the instance reports running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if timeout <= 0 {
				return fmt.Errorf("--timeout must be positive")
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.WaitForServerStart(cmd.Context(), args[0], timeout); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]any{"instanceId": args[0], "running": true})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "maximum time to wait")
	return cmd
}

func newInstancesPortCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "port <instance-id> <port>",
		Short: "Rewrite server-port and restart the instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid port %q", args[1])
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.ChangePort(cmd.Context(), args[0], port); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]any{"instanceId": args[0], "port": port})
		},
	}
}
