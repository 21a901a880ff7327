package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/hyperengineering/habitsync/internal/config"
	"github.com/hyperengineering/habitsync/internal/types"
	"github.com/hyperengineering/habitsync/pkg/habitsync"
	"github.com/spf13/cobra"
)

var (
	deviceDataOverride string
	deviceJSONOutput   bool
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Inspect and maintain the local device store",
	Long:  "Show status, list pending changes, run a sync, or reset the local store without starting the background worker.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initLogger(stderr, "warn", "text")
		return nil
	},
}

func init() {
	deviceCmd.PersistentFlags().StringVar(&deviceDataOverride, "data", "",
		"Local database path (overrides config and HABITSYNC_DATA_PATH)")
	deviceCmd.PersistentFlags().BoolVar(&deviceJSONOutput, "json", false,
		"Output in JSON format")

	deviceCmd.AddCommand(deviceStatusCmd)
	deviceCmd.AddCommand(devicePendingCmd)
	deviceCmd.AddCommand(deviceSyncCmd)
	deviceCmd.AddCommand(deviceResetCmd)
}

// openDeviceClient builds a client from the client config section with an
// optional --data override. The background worker is never started.
func openDeviceClient() (*habitsync.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cc := cfg.Client
	if deviceDataOverride != "" {
		cc.DataPath = deviceDataOverride
	}

	return habitsync.New(habitsync.Config{
		DataPath:           cc.DataPath,
		ServerURL:          cc.ServerURL,
		APIKey:             cc.APIKey,
		SyncInterval:       time.Duration(cc.SyncInterval),
		PingTimeout:        time.Duration(cc.PingTimeout),
		RequestTimeout:     time.Duration(cc.RequestTimeout),
		PushBatchSize:      cc.PushBatchSize,
		PullLimit:          cc.PullLimit,
		TransparentOffline: cc.TransparentOffline,
	})
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05 MST")
}

var deviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show device id, row counts and outbox depth",
	Args:  cobra.NoArgs,
	RunE:  runDeviceStatus,
}

func runDeviceStatus(cmd *cobra.Command, args []string) error {
	client, err := openDeviceClient()
	if err != nil {
		return err
	}
	defer client.Shutdown()

	stats, err := client.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if deviceJSONOutput {
		return printJSON(out, stats)
	}

	fmt.Fprintf(out, "Device:     %s\n", stats.DeviceID)
	fmt.Fprintf(out, "Pending:    %d\n", stats.PendingChanges)
	fmt.Fprintf(out, "Last sync:  %s\n", formatTime(stats.LastSyncTimestamp))
	fmt.Fprintln(out)

	tw := newTabWriter(out)
	fmt.Fprintln(tw, "TABLE\tROWS")
	for _, kind := range types.Kinds {
		fmt.Fprintf(tw, "%s\t%d\n", kind, stats.Counts[kind])
	}
	return tw.Flush()
}

var devicePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show the number of changes awaiting upload",
	Args:  cobra.NoArgs,
	RunE:  runDevicePending,
}

func runDevicePending(cmd *cobra.Command, args []string) error {
	client, err := openDeviceClient()
	if err != nil {
		return err
	}
	defer client.Shutdown()

	n, err := client.Pending(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if deviceJSONOutput {
		return printJSON(out, map[string]any{"pending": n})
	}
	fmt.Fprintf(out, "%d pending change(s)\n", n)
	return nil
}

var deviceSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle against the configured server",
	Args:  cobra.NoArgs,
	RunE:  runDeviceSync,
}

func runDeviceSync(cmd *cobra.Command, args []string) error {
	client, err := openDeviceClient()
	if err != nil {
		return err
	}
	defer client.Shutdown()

	res, syncErr := client.SyncNow(cmd.Context())

	out := cmd.OutOrStdout()
	if deviceJSONOutput {
		body := map[string]any{
			"outcome":    res.Outcome,
			"uploaded":   res.Uploaded,
			"downloaded": res.Downloaded,
			"lastSync":   res.LastSync,
			"durationMs": res.Duration.Milliseconds(),
		}
		if syncErr != nil {
			body["error"] = syncErr.Error()
		}
		if err := printJSON(out, body); err != nil {
			return err
		}
		return syncErr
	}

	if syncErr != nil {
		if habitsync.IsOffline(syncErr) {
			return fmt.Errorf("server unreachable, changes remain pending: %w", syncErr)
		}
		return syncErr
	}
	fmt.Fprintf(out, "Uploaded %d, downloaded %d in %s\n", res.Uploaded, res.Downloaded, res.Duration.Round(time.Millisecond))
	return nil
}

var deviceResetForce bool

var deviceResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe local data and assign a new device id",
	Long:  "Delete every local entity, the outbox and the sync marker, then generate a new device id. Unsynced changes are lost.",
	Args:  cobra.NoArgs,
	RunE:  runDeviceReset,
}

func init() {
	deviceResetCmd.Flags().BoolVar(&deviceResetForce, "force", false,
		"Skip the pending changes check")
}

func runDeviceReset(cmd *cobra.Command, args []string) error {
	client, err := openDeviceClient()
	if err != nil {
		return err
	}
	defer client.Shutdown()

	ctx := cmd.Context()
	if !deviceResetForce {
		n, err := client.Pending(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%d change(s) not yet synced; rerun with --force to discard them", n)
		}
	}

	previous := client.DeviceID()
	id, err := client.ResetLocalData(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if deviceJSONOutput {
		return printJSON(out, map[string]any{"previousDeviceId": previous, "deviceId": id})
	}
	fmt.Fprintf(out, "Local data reset. Device id %s -> %s\n", previous, id)
	return nil
}
