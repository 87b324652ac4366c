package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	motionrecorder "github.com/e7canasta/orion-care-sensor/modules/motion-recorder"
)

var rootCmd = &cobra.Command{
	Use:   "motion-recorder",
	Short: "Motion-triggered recorder for live video streams",
	Long: `motion-recorder decodes a live stream once and serves a thumbnail and a TCP
stream from it, recording to MP4 whenever motion is detected. Recordings
include the look-behind window that preceded the motion.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd.Flags())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text, json")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

func setupLogging(fs *pflag.FlagSet) error {
	format, _ := fs.GetString("log-format")
	debug, _ := fs.GetBool("debug")

	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return fmt.Errorf("invalid log format %q (must be text or json)", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// loadConfig reads --config when given and applies the command line
// overrides on top. The result is validated by motionrecorder.New.
func loadConfig(fs *pflag.FlagSet) (motionrecorder.Config, error) {
	cfg := &motionrecorder.Config{}
	if path, _ := fs.GetString("config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return motionrecorder.Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = motionrecorder.DecodeConfig(data); err != nil {
			return motionrecorder.Config{}, err
		}
	}

	if fs.Changed("stream-id") {
		cfg.StreamID, _ = fs.GetString("stream-id")
	}
	if fs.Changed("runtime") {
		cfg.Runtime, _ = fs.GetString("runtime")
	}
	if fs.Changed("uri") {
		cfg.Source.URI, _ = fs.GetString("uri")
	}
	if fs.Changed("look-behind") {
		cfg.Motion.LookBehind, _ = fs.GetDuration("look-behind")
	}
	if fs.Changed("schedule") {
		cfg.Motion.Schedule, _ = fs.GetString("schedule")
	}
	if fs.Changed("recording-dir") {
		cfg.Recording.Dir, _ = fs.GetString("recording-dir")
	}
	if fs.Changed("transport-port") {
		cfg.Transport.Port, _ = fs.GetInt("transport-port")
	}
	if fs.Changed("http-addr") {
		cfg.Control.HTTP.Addr, _ = fs.GetString("http-addr")
	}
	return *cfg, nil
}

// addOverrideFlags registers the flags loadConfig reads.
func addOverrideFlags(fs *pflag.FlagSet) {
	fs.String("stream-id", "", "Stream identifier ([a-z0-9-]+)")
	fs.String("runtime", "", "Media runtime: gstreamer, inproc")
	fs.StringP("uri", "u", "", "Source URI (rtsp://, file://, synthetic://)")
	fs.Duration("look-behind", 0, "Look-behind window recorded before motion")
	fs.String("schedule", "", `Scripted motion windows for the inproc runtime ("2s-8s,20s-25s")`)
	fs.String("recording-dir", "", "Directory recordings are written to")
	fs.Int("transport-port", 0, "TCP transport port (0 picks a free port)")
	fs.String("http-addr", "", "Address of the HTTP control API (empty disables it)")
}
