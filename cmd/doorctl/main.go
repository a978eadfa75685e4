package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// ============================================================================
// doorctl - command-line IPC client for doorcounter
// ============================================================================

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Socket string
	JSON   bool
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "doorctl",
		Short: "Control a running doorcounter daemon",
		Long: `doorctl talks to doorcounter over its Unix socket.

Examples:
  doorctl count
  doorctl reset
  doorctl sample outer 0
  doorctl crossings --limit 10
  doorctl status --json`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Socket, "socket", "/tmp/doorcounter.sock", "daemon IPC socket path")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print raw JSON responses")

	cmd.AddCommand(newCountCommand(opts))
	cmd.AddCommand(newResetCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newSampleCommand(opts))
	cmd.AddCommand(newCrossingsCommand(opts))

	return cmd
}

func newCountCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the current occupancy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient(opts.Socket).call("get_count", nil)
			if err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), data)
			}
			var resp struct {
				Count uint64 `json:"count"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("decode count: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Count)
			return nil
		},
	}
}

func newResetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset the occupancy to zero",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient(opts.Socket).call("reset_count", nil)
			if err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), data)
			}
			var resp struct {
				Previous uint64 `json:"previous"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("decode reset: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "count reset (was %d)\n", resp.Previous)
			return nil
		},
	}
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient(opts.Socket).call("get_status", nil)
			if err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), data)
			}
			return printStatus(cmd.OutOrStdout(), data)
		},
	}
}

func newSampleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sample <outer|inner> <raw>",
		Short: "Inject a raw barrier sample",
		Long: `Inject a raw barrier sample as if a sensor produced it.

A walk-in with the default thresholds:
  doorctl sample outer 0; doorctl sample inner 0
  doorctl sample outer 4095; doorctl sample inner 4095`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid raw sample %q: %w", args[1], err)
			}
			data, err := newClient(opts.Socket).call("barrier_sample", barrierSample{Barrier: args[0], Raw: raw})
			if err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), data)
			}
			var resp struct {
				Verdict string `json:"verdict"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("decode sample result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Verdict)
			return nil
		},
	}
}

func newCrossingsCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "crossings",
		Short: "List recent crossings from the crossing log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be > 0")
			}
			data, err := newClient(opts.Socket).call("get_crossings", getCrossings{Limit: limit})
			if err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), data)
			}
			return printCrossings(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of crossings to show")
	return cmd
}

func printJSON(w io.Writer, data json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func printStatus(w io.Writer, data json.RawMessage) error {
	var st struct {
		Count    uint64 `json:"count"`
		Uptime   string `json:"uptime"`
		Delivery string `json:"delivery"`
		Barriers map[string]struct {
			Accepted   uint64 `json:"accepted"`
			DeadZone   uint64 `json:"dead_zone"`
			Debounced  uint64 `json:"debounced"`
			Chattering bool   `json:"chattering"`
		} `json:"barriers"`
		Workers []struct {
			Name     string `json:"name"`
			State    string `json:"state"`
			Matches  uint64 `json:"matches"`
			Glitches uint64 `json:"glitches"`
			Timeouts uint64 `json:"timeouts"`
			Dropped  uint64 `json:"dropped"`
		} `json:"workers"`
		Today *struct {
			In      int `json:"in"`
			Out     int `json:"out"`
			Clamped int `json:"clamped"`
		} `json:"today"`
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	fmt.Fprintf(w, "count:    %d\n", st.Count)
	fmt.Fprintf(w, "uptime:   %s\n", st.Uptime)
	fmt.Fprintf(w, "delivery: %s\n", st.Delivery)
	if st.Today != nil {
		fmt.Fprintf(w, "today:    in %d, out %d (clamped %d)\n", st.Today.In, st.Today.Out, st.Today.Clamped)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BARRIER\tACCEPTED\tDEAD ZONE\tDEBOUNCED\tCHATTER")
	for _, name := range []string{"outer", "inner"} {
		b, ok := st.Barriers[name]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%v\n", name, b.Accepted, b.DeadZone, b.Debounced, b.Chattering)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "WORKER\tSTATE\tMATCHES\tGLITCHES\tTIMEOUTS\tDROPPED")
	for _, wk := range st.Workers {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n", wk.Name, wk.State, wk.Matches, wk.Glitches, wk.Timeouts, wk.Dropped)
	}
	return tw.Flush()
}

func printCrossings(w io.Writer, data json.RawMessage) error {
	var records []struct {
		Direction string    `json:"direction"`
		Applied   int       `json:"applied"`
		Count     uint64    `json:"count"`
		At        time.Time `json:"at"`
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode crossings: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "no crossings recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tDIRECTION\tAPPLIED\tCOUNT")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%+d\t%d\n", r.At.Local().Format(time.DateTime), r.Direction, r.Applied, r.Count)
	}
	return tw.Flush()
}
