package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/yairfalse/powerswitch/pkg/instance"
)

var infoCmd = &cobra.Command{
	Use:     "info INSTANCE_ID...",
	Short:   "Show state, public address and security groups",
	Example: `  powerswitch info i-0abc123 i-0def456`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	records, err := a.handler.Info(ctx, args)
	if err != nil {
		return err
	}

	printInfo(cmd.OutOrStdout(), records)
	return nil
}

func printInfo(w io.Writer, records map[string]instance.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No instances found")
		return
	}

	ids := lo.Keys(records)
	slices.Sort(ids)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Instance", "State", "Public IP", "Security Groups"})
	for _, id := range ids {
		r := records[id]
		addr := r.PublicAddressOrEmpty()
		if addr == "" {
			addr = "-"
		}
		table.Append([]string{id, string(r.State), addr, strings.Join(r.SecurityGroupIDs, ",")})
	}
	table.Render()
}
