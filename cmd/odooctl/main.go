package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaheed/odoonova/pkg/client"
	"github.com/vaheed/odoonova/pkg/types"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	server string
	token  string
	output string
}

func (o *options) client() *client.Client { return client.New(o.server, o.token) }

func newRootCmd(out io.Writer) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "odooctl",
		Short:         "Inspect OdooClusters through the OdooNova status API",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch o.output {
			case "text", "json":
				return nil
			}
			return fmt.Errorf("unsupported output %q (want text or json)", o.output)
		},
	}
	root.SetOut(out)
	root.SetErr(out)
	root.PersistentFlags().StringVar(&o.server, "server", envOr("ODOONOVA_SERVER", "http://localhost:8080"), "status API base URL")
	root.PersistentFlags().StringVar(&o.token, "token", os.Getenv("ODOONOVA_TOKEN"), "bearer token")
	root.PersistentFlags().StringVarP(&o.output, "output", "o", "text", "output format: text|json")

	root.AddCommand(listCmd(o, out), describeCmd(o, out), historyCmd(o, out), eventsCmd(o, out))
	return root
}

func listCmd(o *options, out io.Writer) *cobra.Command {
	var phase string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clusters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := o.client().ListClusters(cmd.Context(), phase)
			if err != nil {
				return err
			}
			if o.output == "json" {
				return writeJSON(out, items)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPHASE\tGEN\tOBSERVED\tENDPOINTS\tAGE")
			for _, c := range items {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
					c.Name, orDash(c.Phase), c.Generation, c.ObservedGeneration,
					orDash(strings.Join(c.Endpoints, ",")), age(c.CreatedAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "only clusters in this phase")
	return cmd
}

func describeCmd(o *options, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "describe NAME",
		Short: "Show one cluster with its conditions and children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := o.client().GetCluster(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if o.output == "json" {
				return writeJSON(out, d)
			}
			fmt.Fprintf(out, "Name:        %s\n", d.Name)
			fmt.Fprintf(out, "Namespace:   %s\n", d.Namespace)
			fmt.Fprintf(out, "Phase:       %s\n", orDash(d.Phase))
			fmt.Fprintf(out, "Generation:  %d (observed %d)\n", d.Generation, d.ObservedGeneration)
			if d.Deleting {
				fmt.Fprintln(out, "Deleting:    true")
			}
			fmt.Fprintf(out, "Database:    %s (secret %s, ready %t)\n", orDash(d.Database.Host), orDash(d.Database.SecretName), d.Database.Ready)
			for _, e := range d.Endpoints {
				fmt.Fprintf(out, "Endpoint:    %s\n", e)
			}
			if len(d.Conditions) > 0 {
				fmt.Fprintln(out, "Conditions:")
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "  TYPE\tSTATUS\tREASON\tMESSAGE")
				for _, c := range d.Conditions {
					fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", c.Type, c.Status, orDash(c.Reason), c.Message)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			if len(d.Children) > 0 {
				fmt.Fprintln(out, "Children:")
				for _, c := range d.Children {
					fmt.Fprintf(out, "  %s %s\n", c.Kind, qualified(c))
				}
			}
			return nil
		},
	}
}

func historyCmd(o *options, out io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history NAME",
		Short: "Show phase transitions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := o.client().History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if o.output == "json" {
				return writeJSON(out, items)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tFROM\tTO\tGEN\tREASON")
			for _, h := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					h.At.UTC().Format(time.RFC3339), orDash(h.Previous), h.Phase, h.Generation, orDash(h.Reason))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of transitions")
	return cmd
}

func eventsCmd(o *options, out io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events NAME",
		Short: "Show recent lifecycle events, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := o.client().Events(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if o.output == "json" {
				return writeJSON(out, items)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTYPE\tPHASE\tMESSAGE")
			for _, e := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					e.Time.UTC().Format(time.RFC3339), e.Type, orDash(e.Phase), e.Message)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	return cmd
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func qualified(c types.ChildRef) string {
	if c.Namespace == "" {
		return c.Name
	}
	return c.Namespace + "/" + c.Name
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
