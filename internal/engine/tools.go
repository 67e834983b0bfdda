package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/MrWong99/pranaflow/pkg/live"
)

// Tool names advertised to the remote model.
const (
	ToolSetBreathingExercise = "setBreathingExercise"
	ToolSetWalkingCadence    = "setWalkingCadence"
)

// BreathingExerciseArgs are the arguments of setBreathingExercise.
type BreathingExerciseArgs struct {
	Name    string `json:"name" jsonschema_description:"Name of the technique, e.g. Box Breathing or 4-7-8."`
	Pattern string `json:"pattern" jsonschema_description:"Phase timing in seconds, e.g. 4-4-4-4 or 4-7-8."`
}

// WalkingCadenceArgs are the arguments of setWalkingCadence.
type WalkingCadenceArgs struct {
	SPM float64 `json:"spm" jsonschema_description:"Target walking cadence in steps per minute."`
}

// ackResult is the payload of every tool response.
var ackResult = map[string]any{"result": "ok"}

var toolDecls = sync.OnceValue(func() []live.ToolDeclaration {
	return []live.ToolDeclaration{
		{
			Name:        ToolSetBreathingExercise,
			Description: "Show a breathing exercise to the user. Call it when you start guiding a technique; pass empty strings to clear the display.",
			Parameters:  schemaOf(&BreathingExerciseArgs{}),
		},
		{
			Name:        ToolSetWalkingCadence,
			Description: "Set the metronome for a walking session to the given steps per minute.",
			Parameters:  schemaOf(&WalkingCadenceArgs{}),
		},
	}
})

// Tools returns the declarations of the tools the engine handles. Parameter
// schemas are reflected from [BreathingExerciseArgs] and
// [WalkingCadenceArgs].
func Tools() []live.ToolDeclaration {
	return slices.Clone(toolDecls())
}

func schemaOf(v any) map[string]any {
	r := jsonschema.Reflector{
		DoNotReference:            true,
		Anonymous:                 true,
		AllowAdditionalProperties: true,
	}
	raw, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic("engine: marshal tool schema: " + err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		panic("engine: unmarshal tool schema: " + err.Error())
	}
	delete(m, "$schema")
	return m
}

// ── Dispatcher ──────────────────────────────────────────────────────────────

// toolEffects are the local side effects tool calls can trigger.
type toolEffects struct {
	setExercise func(Exercise)
	setCadence  func(spm float64)
}

// Tool call outcomes used as the metric status.
const (
	toolOK            = "ok"
	toolUnknown       = "unknown"
	toolProtocolError = "protocol_error"
)

type dispatcher struct {
	handlers map[string]func(args map[string]any) error
}

func newDispatcher(fx toolEffects) *dispatcher {
	return &dispatcher{handlers: map[string]func(map[string]any) error{
		ToolSetBreathingExercise: func(args map[string]any) error {
			var a BreathingExerciseArgs
			if err := decodeArgs(args, &a); err != nil {
				return err
			}
			if a.Name == "" || a.Pattern == "" {
				fx.setExercise(Exercise{})
				return nil
			}
			fx.setExercise(Exercise{Name: a.Name, Pattern: a.Pattern})
			return nil
		},
		ToolSetWalkingCadence: func(args map[string]any) error {
			if _, ok := args["spm"]; !ok {
				return errors.New("missing spm")
			}
			var a WalkingCadenceArgs
			if err := decodeArgs(args, &a); err != nil {
				return err
			}
			fx.setCadence(a.SPM)
			return nil
		},
	}}
}

// dispatch applies the effect of call and returns the acknowledgement to
// send. The acknowledgement is the same generic success for every outcome;
// status and err describe what actually happened.
func (d *dispatcher) dispatch(call live.ToolCall) (resp live.ToolResponse, status string, err error) {
	resp = live.ToolResponse{ID: call.ID, Name: call.Name, Result: ackResult}
	h, ok := d.handlers[call.Name]
	if !ok {
		return resp, toolUnknown, nil
	}
	if err := h(call.Args); err != nil {
		return resp, toolProtocolError, &ProtocolError{Tool: call.Name, Err: err}
	}
	return resp, toolOK, nil
}

func decodeArgs(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
