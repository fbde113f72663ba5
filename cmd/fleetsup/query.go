package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/fleetsup/pkg/client"
)

func addAPIFlags(cmd *cobra.Command, f *QueryFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", client.DefaultConfig().BaseURL, "supervisor status API URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print raw JSON")
}

func newAPIClient(f *QueryFlags) *client.Client {
	return client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
}

func createCensusCommand(f *QueryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "census",
		Short: "Show the census of service groups",
		Long: `Show every member of every service group known to the supervisor.

Examples:
  fleetsup census
  fleetsup census --api-url=http://10.0.0.5:9631 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := newAPIClient(f).Census(contextOf(cmd))
			if err != nil {
				return err
			}
			if f.JSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			return printCensus(cmd.OutOrStdout(), entries)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createServicesCommand(f *QueryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services [name]",
		Short: "Show supervised services",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(f)
			var list []client.ServiceStatus
			if len(args) == 1 {
				s, err := c.Service(contextOf(cmd), args[0])
				if err != nil {
					return err
				}
				list = []client.ServiceStatus{s}
			} else {
				var err error
				if list, err = c.Services(contextOf(cmd)); err != nil {
					return err
				}
			}
			if f.JSON {
				return printJSON(cmd.OutOrStdout(), list)
			}
			return printServices(cmd.OutOrStdout(), list)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createHistoryCommand(f *QueryFlags, hf *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "Show recent lifecycle events of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := newAPIClient(f).History(contextOf(cmd), args[0], hf.Limit)
			if err != nil {
				return err
			}
			if f.JSON {
				return printJSON(cmd.OutOrStdout(), events)
			}
			return printHistory(cmd.OutOrStdout(), events)
		},
	}
	addAPIFlags(cmd, f)
	cmd.Flags().IntVar(&hf.Limit, "limit", 20, "maximum number of events")
	return cmd
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCensus(w io.Writer, entries []client.CensusEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SERVICE GROUP\tMEMBER\tHOST\tIP\tPORTS\tROLE\tHEALTH")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s.%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ServiceGroup.Service, e.ServiceGroup.Group, e.MemberID, e.Hostname, e.IP,
			ports(e.Exposes), role(e), health(e))
	}
	return tw.Flush()
}

func printServices(w io.Writer, list []client.ServiceStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tPACKAGE\tTOPOLOGY\tSTATE\tPID\tRESTARTS")
	for _, s := range list {
		state := "down"
		if s.Running {
			state = "up"
		}
		if s.NeedsRestart {
			state += " (restart pending)"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n", s.Name, s.Package, s.Topology, state, s.PID, s.Restarts)
	}
	return tw.Flush()
}

func printHistory(w io.Writer, events []client.Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tTYPE\tPACKAGE\tPID\tDETAIL")
	for _, e := range events {
		detail := e.Reason
		if e.Error != "" {
			detail = e.Error
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			e.OccurredAt.Format(time.RFC3339), e.Type, e.Package, e.PID, detail)
	}
	return tw.Flush()
}

func ports(p []uint32) string {
	out := make([]string, len(p))
	for i, v := range p {
		out[i] = fmt.Sprint(v)
	}
	return strings.Join(out, ",")
}

func role(e client.CensusEntry) string {
	switch {
	case e.Leader:
		return "leader"
	case e.Follower:
		return "follower"
	default:
		return "-"
	}
}

func health(e client.CensusEntry) string {
	switch {
	case e.Confirmed:
		return "confirmed"
	case e.Suspect:
		return "suspect"
	default:
		return "alive"
	}
}
