package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	motionrecorder "github.com/e7canasta/orion-care-sensor/modules/motion-recorder"
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Print graph diagnostics",
	Long: `Without --remote, builds the graph from the configuration, runs it for
--settle and prints what it observed. With --remote, reads the diagnostics
of a running recorder from its HTTP control API.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetString("remote")
		asJSON, _ := cmd.Flags().GetBool("json")
		settle, _ := cmd.Flags().GetDuration("settle")

		var (
			d   motionrecorder.Diagnostics
			err error
		)
		if remote != "" {
			d, err = fetchDiagnostics(cmd.Context(), remote)
		} else {
			var cfg motionrecorder.Config
			if cfg, err = loadConfig(cmd.Flags()); err == nil {
				d, err = localDiagnostics(cmd.Context(), cfg, settle)
			}
		}
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		}
		printDiagnostics(cmd.OutOrStdout(), d)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diagCmd)
	addOverrideFlags(diagCmd.Flags())
	diagCmd.Flags().String("remote", "", "Base URL of a running recorder (http://host:8080)")
	diagCmd.Flags().Bool("json", false, "Print the raw diagnostics document")
	diagCmd.Flags().Duration("settle", 3*time.Second, "How long to run the graph before reading it")
}

func localDiagnostics(ctx context.Context, cfg motionrecorder.Config, settle time.Duration) (motionrecorder.Diagnostics, error) {
	rec, err := motionrecorder.New(cfg)
	if err != nil {
		return motionrecorder.Diagnostics{}, err
	}
	defer rec.Close(context.Background())

	if err := rec.Start(ctx); err != nil {
		return motionrecorder.Diagnostics{}, err
	}
	select {
	case <-ctx.Done():
	case <-time.After(settle):
	}
	d := rec.Diagnostics()

	valid := rec.Config()
	stopCtx, cancel := context.WithTimeout(context.Background(), valid.ShutdownTimeout+valid.EOSTimeout)
	defer cancel()
	return d, rec.Stop(stopCtx)
}

func fetchDiagnostics(ctx context.Context, base string) (motionrecorder.Diagnostics, error) {
	var d motionrecorder.Diagnostics
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+"/diagnostics", nil)
	if err != nil {
		return d, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return d, fmt.Errorf("failed to reach recorder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return d, fmt.Errorf("diagnostics request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return d, fmt.Errorf("failed to decode diagnostics: %w", err)
	}
	return d, nil
}

func printDiagnostics(w io.Writer, d motionrecorder.Diagnostics) {
	heading := color.New(color.FgCyan, color.Bold)
	label := color.New(color.Faint)
	good := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)

	row := func(name string, value any) {
		label.Fprintf(w, "  %-18s", name)
		fmt.Fprintf(w, "%v\n", value)
	}

	heading.Fprintf(w, "Stream %s (%s)\n", d.StreamID, d.Runtime)
	label.Fprintf(w, "  %-18s", "state")
	if d.State == motionrecorder.StatePlaying {
		good.Fprintln(w, d.State)
	} else {
		warn.Fprintln(w, d.State)
	}
	label.Fprintf(w, "  %-18s", "in motion")
	if d.IsInMotion {
		warn.Fprintln(w, "yes")
	} else {
		fmt.Fprintln(w, "no")
	}
	row("look-behind", d.Motion.LookBehind)
	row("pending stop", d.Motion.PendingStop)

	heading.Fprintln(w, "\nDecoder")
	row("uri", d.Decoder.URI)
	row("buffer-duration", d.Decoder.BufferDuration)
	row("buffer-size", d.Decoder.BufferSize)
	row("connection-speed", d.Decoder.ConnectionSpeed)
	row("use-buffering", d.Decoder.UseBuffering)
	row("force-sw-decoders", d.Decoder.ForceSWDecoders)

	heading.Fprintln(w, "\nFrame rate")
	fr := d.FrameRate
	row("frames", fr.Frames)
	row("fps", fmt.Sprintf("%.2f (σ %.2f, %.1f-%.1f)", fr.FPSMean, fr.FPSStdDev, fr.FPSMin, fr.FPSMax))
	row("jitter", fmt.Sprintf("%.3fs mean, %.3fs max", fr.JitterMean, fr.JitterMax))
	label.Fprintf(w, "  %-18s", "stable")
	if fr.IsStable {
		good.Fprintln(w, "yes")
	} else {
		warn.Fprintln(w, "no")
	}

	heading.Fprintln(w, "\nTransport")
	row("listen", fmt.Sprintf("%s:%d", d.Transport.Host, d.Transport.CurrentPort))
	row("clients", d.Transport.NumHandles)
	row("encoder", encoderSummary(d.Transport.Encoder))
	for _, p := range d.Peers {
		row("peer", p)
	}

	heading.Fprintln(w, "\nThumbnail")
	row("location", d.Thumbnail.Location)
	row("max-rate", d.Thumbnail.MaxRate)

	heading.Fprintln(w, "\nTCP clients")
	if len(d.ActiveTCPBins) == 0 {
		label.Fprintln(w, "  none")
	}
	for _, b := range d.ActiveTCPBins {
		row(b.Key, fmt.Sprintf("%s:%d %s", b.Host, b.Port, encoderSummary(b.Encoder)))
	}

	heading.Fprintln(w, "\nRecording")
	if fb := d.ActiveFileBin; fb != nil {
		row("session", fb.SessionID)
		row("file", fb.FileLocation)
		row("started", fb.StartedAt.Format(time.RFC3339))
		row("encoder", encoderSummary(fb.Encoder))
	} else {
		label.Fprintln(w, "  idle")
	}
}

func encoderSummary(e motionrecorder.EncoderDiag) string {
	return fmt.Sprintf("%s %dkbps gop=%d preset=%d", e.Factory, e.Bitrate, e.KeyIntMax, e.SpeedPreset)
}
