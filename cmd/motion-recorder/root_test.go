package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	motionrecorder "github.com/e7canasta/orion-care-sensor/modules/motion-recorder"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	addOverrideFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stream_id: porch
runtime: inproc
source:
  uri: synthetic://porch
motion:
  look_behind: 4s
`), 0o644))

	tests := []struct {
		name string
		args []string
		want func(*motionrecorder.Config)
	}{
		{
			name: "file only",
			args: []string{"--config", path},
			want: func(c *motionrecorder.Config) {
				c.StreamID = "porch"
				c.Runtime = "inproc"
				c.Source.URI = "synthetic://porch"
				c.Motion.LookBehind = 4 * time.Second
			},
		},
		{
			name: "flags override file",
			args: []string{"--config", path, "--stream-id", "garage", "--look-behind", "2s", "--http-addr", ":9090"},
			want: func(c *motionrecorder.Config) {
				c.StreamID = "garage"
				c.Runtime = "inproc"
				c.Source.URI = "synthetic://porch"
				c.Motion.LookBehind = 2 * time.Second
				c.Control.HTTP.Addr = ":9090"
			},
		},
		{
			name: "flags without file",
			args: []string{"--uri", "rtsp://cam/stream", "--stream-id", "cam", "--transport-port", "5000", "--schedule", "1s-2s"},
			want: func(c *motionrecorder.Config) {
				c.StreamID = "cam"
				c.Source.URI = "rtsp://cam/stream"
				c.Transport.Port = 5000
				c.Motion.Schedule = "1s-2s"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loadConfig(newFlags(t, tt.args...))
			require.NoError(t, err)
			var want motionrecorder.Config
			tt.want(&want)
			assert.Equal(t, want, got)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := loadConfig(newFlags(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
		assert.ErrorContains(t, err, "failed to read config file")
	})
}

func TestSetupLogging(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		fs.String("log-format", format, "")
		fs.Bool("debug", true, "")
		assert.NoError(t, setupLogging(fs), format)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-format", "xml", "")
	fs.Bool("debug", false, "")
	assert.ErrorContains(t, setupLogging(fs), `invalid log format "xml"`)
}

func TestPrintDiagnostics(t *testing.T) {
	color.NoColor = true

	d := motionrecorder.Diagnostics{
		StreamID: "cam-1",
		Runtime:  "inproc",
		State:    motionrecorder.StatePlaying,
		ActiveTCPBins: []motionrecorder.TCPBinDiag{{
			Key: "9000", Host: "10.0.0.2", Port: 9000,
			Encoder: motionrecorder.EncoderDiag{Factory: "x264enc", Bitrate: 2048, KeyIntMax: 30},
		}},
		Peers: []string{"127.0.0.1:51000"},
	}
	var buf bytes.Buffer
	printDiagnostics(&buf, d)

	out := buf.String()
	for _, want := range []string{
		"Stream cam-1 (inproc)",
		"PLAYING",
		"10.0.0.2:9000 x264enc 2048kbps gop=30",
		"127.0.0.1:51000",
		"idle",
	} {
		assert.Contains(t, out, want)
	}
}
