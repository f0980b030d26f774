package main

import (
	"context"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/yairfalse/powerswitch/pkg/instance"
)

var myIP string

var powerOnCmd = &cobra.Command{
	Use:   "poweron INSTANCE_ID...",
	Short: "Start stopped instances",
	Long: `Start the given instances that are currently stopped.

With --myip, the security groups of every stopped instance are rewritten
so management ports only admit that address. Use "--myip auto" to look
up your public address.`,
	Example: `  powerswitch poweron i-0abc123 i-0def456
  powerswitch poweron i-0abc123 --myip auto
  powerswitch poweron i-0abc123 --myip 203.0.113.10`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPower(cmd, instance.PowerOn, args, myIP)
	},
}

var powerOffCmd = &cobra.Command{
	Use:     "poweroff INSTANCE_ID...",
	Short:   "Stop running instances",
	Example: `  powerswitch poweroff i-0abc123 i-0def456`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPower(cmd, instance.PowerOff, args, "")
	},
}

func init() {
	rootCmd.AddCommand(powerOnCmd)
	rootCmd.AddCommand(powerOffCmd)

	powerOnCmd.Flags().StringVar(&myIP, "myip", "", `Caller address for security group rules ("auto" to discover)`)
}

func runPower(cmd *cobra.Command, direction instance.Direction, ids []string, caller string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if caller == "auto" {
		caller, err = discoverPublicIP(ctx, publicIPURL)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Using public address %s\n", caller)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	result, err := a.handler.Transition(ctx, direction, ids, caller)
	if err != nil {
		return err
	}

	printTransition(cmd.OutOrStdout(), result)
	return nil
}

func printTransition(w io.Writer, result instance.TransitionResult) {
	if len(result.Targets) == 0 {
		fmt.Fprintf(w, "No eligible instances (%d requested)\n", len(result.Requested))
		return
	}

	action := "started"
	if result.Direction == instance.PowerOff {
		action = "stopped"
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Instance", "Action"})
	for _, id := range result.Targets {
		table.Append([]string{id, action})
	}
	table.Render()

	if result.IngressGroups > 0 {
		fmt.Fprintf(w, "Security groups rewritten: %d (%d failed)\n",
			result.IngressGroups-result.IngressFailures, result.IngressFailures)
	}
}
