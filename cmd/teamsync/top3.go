package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/teamsync"
	"github.com/spf13/cobra"
)

var top3Cmd = &cobra.Command{
	Use:   "top3",
	Short: "Manage daily priorities",
	Long:  `Each user may set up to three priorities per day.`,
}

var top3AddCmd = &cobra.Command{
	Use:     "add <content>",
	Short:   "Add a priority for a day",
	Example: `  teamsync top3 add "Ship the sync fix" --task 3f2a9c1e`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runTop3Add,
}

var top3ListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show a day's priorities",
	RunE:    runTop3List,
}

var (
	top3Date string
	top3Task string
)

func init() {
	top3AddCmd.Flags().StringVar(&top3Date, "date", "", "Day (YYYY-MM-DD, default today UTC)")
	top3AddCmd.Flags().StringVar(&top3Task, "task", "", "Linked task id")
	top3ListCmd.Flags().StringVar(&top3Date, "date", "", "Day (YYYY-MM-DD, default today UTC)")

	top3Cmd.AddCommand(top3AddCmd, top3ListCmd)
	rootCmd.AddCommand(top3Cmd)
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return teamsync.DayStart(time.Now()), nil
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: use YYYY-MM-DD", s)
	}
	return d, nil
}

func runTop3Add(cmd *cobra.Command, args []string) error {
	day, err := parseDay(top3Date)
	if err != nil {
		return err
	}

	client, _, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	in := teamsync.Top3Input{Content: strings.Join(args, " "), Date: day}
	if top3Task != "" {
		if in.LinkedTaskID, err = resolveTaskID(ctx, client, top3Task); err != nil {
			return err
		}
	}

	item, err := client.AddTop3(ctx, in)
	if err != nil {
		return err
	}
	if outputJSON {
		return outputAsJSON(cmd, item)
	}
	printSuccess(cmd.OutOrStdout(), "Priority #%d for %s: %s", item.Order, day.Format(dateLayout), item.Content)
	return nil
}

func runTop3List(cmd *cobra.Command, args []string) error {
	day, err := parseDay(top3Date)
	if err != nil {
		return err
	}

	client, _, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	items, err := client.Top3ForDay(cmd.Context(), client.Config().UserID, day)
	if err != nil {
		return err
	}
	return outputTop3(cmd, day, items)
}
