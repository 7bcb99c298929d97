package broadcast

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/traccar"
)

// celFilter wraps a compiled CEL program used by event subscriptions. When
// disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("deviceId", cel.IntType),
		cel.Variable("positionId", cel.IntType),
		// "type" is a reserved CEL identifier; the event kind goes by eventType.
		cel.Variable("eventType", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		// Expose raw event attributes for field filtering
		cel.Variable("attributes", cel.DynType),
		// Current time in ms for windowed filters
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against an event. When disabled,
// returns true; evaluation errors reject the event.
func (f celFilter) Eval(ev traccar.Event) bool {
	if !f.enabled {
		return true
	}
	attrs := ev.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"deviceId":   ev.DeviceID,
		"positionId": ev.PositionID,
		"eventType":  ev.Type,
		"ts_ms":      ev.EventTime.UnixMilli(),
		"attributes": attrs,
		"now_ms":     time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
