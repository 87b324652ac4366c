package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	motionrecorder "github.com/e7canasta/orion-care-sensor/modules/motion-recorder"
)

const eventLogBuffer = 128

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the recorder until interrupted",
	Long: `Builds the graph from the configuration, brings it to PLAYING and serves the
configured control plane. SIGINT or SIGTERM finalize any recording in
progress and stop the pipeline.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		return runRecorder(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addOverrideFlags(runCmd.Flags())
}

func runRecorder(parent context.Context, cfg motionrecorder.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, err := motionrecorder.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rec.Close(closeCtx); err != nil {
			slog.Error("motion-recorder: close failed", "error", err)
		}
	}()

	events := make(chan motionrecorder.Event, eventLogBuffer)
	if err := rec.Subscribe("cli", events); err != nil {
		return err
	}
	go logEvents(ctx, events)

	slog.Info("motion-recorder: starting",
		"stream_id", rec.Config().StreamID,
		"runtime", rec.Runtime(),
		"http_addr", rec.Config().Control.HTTP.Addr,
		"mqtt", rec.Config().Control.MQTT != nil)

	err = rec.Run(ctx)
	_ = rec.Unsubscribe("cli")

	st := rec.Stats()
	slog.Info("motion-recorder: stopped",
		"frames", st.Frames,
		"recordings", st.Recordings,
		"motion_events", st.MotionEvents)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, motionrecorder.ErrSourceEnded):
		slog.Warn("motion-recorder: source reached end of stream")
		return nil
	default:
		return fmt.Errorf("motion-recorder: %w", err)
	}
}

func logEvents(ctx context.Context, events <-chan motionrecorder.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case motionrecorder.EventError:
				slog.Error("motion-recorder: pipeline error",
					"source", ev.Source, "kind", ev.Kind, "error", ev.Err)
			case motionrecorder.EventRecordingFinished:
				if s := ev.Session; s != nil {
					slog.Info("motion-recorder: recording finished",
						"session", s.ID, "path", s.Path, "duration", s.Duration())
				}
			default:
				slog.Debug("motion-recorder: event", "event", ev.String())
			}
		}
	}
}
