package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	repositoryimpl "github.com/pcider/printbot/external/repository"
	"github.com/pcider/printbot/internal/repository"
	"github.com/pcider/printbot/internal/session"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect persisted print sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active print sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustLoadConfig()
			persister, err := repositoryimpl.NewPersister(cfg)
			if err != nil {
				return err
			}
			store := session.NewStore(persister)
			store.Load(cmd.Context())
			return printSessions(store.Sessions(), cfg.PrinterNames(), jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printSessions(sessions []repository.PrintSession, names []string, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(sessions) == 0 {
		fmt.Println("No active print sessions.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "PRINTER\tNAME\tCLAIMED BY\tDM\tNOTIFY LAYER\tPRINT TIME\n")
	for _, s := range sessions {
		name := ""
		if s.PrinterIndex < len(names) {
			name = names[s.PrinterIndex]
		}
		claimed := "-"
		if s.Claimed() {
			claimed = s.Username()
		}
		notify := "-"
		if s.NotifyLayer != nil {
			notify = fmt.Sprint(*s.NotifyLayer)
		}
		printTime := "-"
		if s.PrintTime != nil {
			printTime = *s.PrintTime
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", s.PrinterIndex+1, name, claimed, s.DMPreference, notify, printTime)
	}
	return tw.Flush()
}
