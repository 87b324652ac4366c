// Package control exposes the graph controller to the outside world: an
// MQTT command handler and event emitter, and an HTTP API with a websocket
// event stream and Prometheus metrics.
package control

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/graph"
)

// Controller is the part of the graph controller the control plane drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	AddDynamicBranch(ctx context.Context, key string, req graph.BranchRequest) error
	RemoveDynamicBranch(ctx context.Context, key string) error
	Diagnostics() graph.Diagnostics
	Stats() graph.Stats
	State() graph.PipelineState
}

// Command names accepted by both the MQTT handler and the HTTP API.
const (
	CmdStart               = "start"
	CmdStop                = "stop"
	CmdActivateTCPClient   = "activate-tcp-client"
	CmdDeactivateTCPClient = "deactivate-tcp-client"
	CmdGetDiagnostics      = "get-diagnostics"
	CmdGetStats            = "get-stats"
	statusSuccess          = "success"
	statusError            = "error"
	defaultCommandTimeout  = 10 * time.Second
)

// Command is a control plane request.
type Command struct {
	ID      string         `json:"id,omitempty"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response answers a Command. ID echoes the command ID, or a generated one
// when the command had none.
type Response struct {
	ID         string `json:"id"`
	CommandAck string `json:"command_ack"`
	Status     string `json:"status"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Executor runs commands against a Controller.
type Executor struct {
	ctrl    Controller
	timeout time.Duration
}

func NewExecutor(ctrl Controller, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &Executor{ctrl: ctrl, timeout: timeout}
}

// Execute runs cmd and always returns a response.
func (e *Executor) Execute(ctx context.Context, cmd Command) Response {
	resp := Response{ID: cmd.ID, CommandAck: cmd.Command}
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}

	data, err := e.Do(ctx, cmd)
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	if err != nil {
		resp.Status = statusError
		resp.Error = err.Error()
		if kind, ok := graph.KindOf(err); ok {
			resp.Kind = kind.String()
		}
		return resp
	}
	resp.Status = statusSuccess
	resp.Data = data
	return resp
}

// Do runs cmd and returns its result data.
func (e *Executor) Do(ctx context.Context, cmd Command) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch cmd.Command {
	case CmdStart:
		if err := e.ctrl.Start(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"state": e.ctrl.State()}, nil

	case CmdStop:
		if err := e.ctrl.Stop(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"state": e.ctrl.State()}, nil

	case CmdActivateTCPClient:
		req, err := DecodeBranchRequest(cmd.Params)
		if err != nil {
			return nil, err
		}
		if err := e.ctrl.AddDynamicBranch(ctx, req.Key(), req); err != nil {
			return nil, err
		}
		return map[string]any{"key": req.Key(), "port": req.Port}, nil

	case CmdDeactivateTCPClient:
		key, err := branchKey(cmd.Params)
		if err != nil {
			return nil, err
		}
		if err := e.ctrl.RemoveDynamicBranch(ctx, key); err != nil {
			return nil, err
		}
		return map[string]any{"key": key}, nil

	case CmdGetDiagnostics:
		return e.ctrl.Diagnostics(), nil

	case CmdGetStats:
		return e.ctrl.Stats(), nil

	default:
		return nil, fmt.Errorf("unknown command: %q", cmd.Command)
	}
}

var errMissingPort = errors.New("missing 'port' parameter")

// DecodeBranchRequest decodes activate-tcp-client parameters. Numbers may
// arrive as JSON floats or strings.
func DecodeBranchRequest(params map[string]any) (graph.BranchRequest, error) {
	var req graph.BranchRequest
	if _, ok := params["port"]; !ok {
		return req, errMissingPort
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &req,
	})
	if err != nil {
		return req, err
	}
	if err := dec.Decode(params); err != nil {
		return req, fmt.Errorf("invalid branch parameters: %w", err)
	}
	return req, nil
}

func branchKey(params map[string]any) (string, error) {
	var p struct {
		Port int `mapstructure:"port"`
	}
	if _, ok := params["port"]; !ok {
		return "", errMissingPort
	}
	if err := mapstructure.WeakDecode(params, &p); err != nil {
		return "", fmt.Errorf("invalid 'port' parameter: %w", err)
	}
	return strconv.Itoa(p.Port), nil
}
