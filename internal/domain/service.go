package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCall marks a ServiceCall missing a required field. It is a
// programming error on the caller's side and never reaches the network.
var ErrInvalidCall = errors.New("invalid service call")

// ServiceCall is one resolved Home Assistant service invocation.
type ServiceCall struct {
	Domain   string
	Service  string
	EntityID string
	Data     map[string]any // merged into the JSON body next to entity_id
}

func (c ServiceCall) String() string {
	return c.Domain + "." + c.Service + " " + c.EntityID
}

// Validate reports ErrInvalidCall when domain, service or entity is empty.
func (c ServiceCall) Validate() error {
	switch {
	case c.Domain == "":
		return fmt.Errorf("%w: empty domain", ErrInvalidCall)
	case c.Service == "":
		return fmt.Errorf("%w: empty service", ErrInvalidCall)
	case c.EntityID == "":
		return fmt.Errorf("%w: empty entity_id", ErrInvalidCall)
	}
	return nil
}

// Body returns the JSON payload for the call.
func (c ServiceCall) Body() map[string]any {
	body := make(map[string]any, len(c.Data)+1)
	for k, v := range c.Data {
		body[k] = v
	}
	body["entity_id"] = c.EntityID
	return body
}

// CallResult reports the outcome of one ServiceCall.
type CallResult struct {
	Call       ServiceCall
	StatusCode int
	Body       string
	Duration   time.Duration
	Err        error
}

func (r CallResult) OK() bool { return r.Err == nil }

// ServiceInvoker sends service calls and reports what happened.
// HTTP-level failures are carried in CallResult.Err, never panicked.
type ServiceInvoker interface {
	Call(ctx context.Context, call ServiceCall) CallResult

	TurnSwitch(ctx context.Context, entityID string, action SwitchAction) CallResult
	// SetClimateModeAndTemperature sets the HVAC mode, then the target
	// temperature when it is non-nil. Both calls run regardless of the
	// first one's outcome.
	SetClimateModeAndTemperature(ctx context.Context, entityID, mode string, temperature *float64) []CallResult
	CallService(ctx context.Context, domainName, service, entityID string) CallResult
}

// SwitchCall builds switch/turn_{on|off}.
func SwitchCall(entityID string, action SwitchAction) ServiceCall {
	return ServiceCall{Domain: "switch", Service: "turn_" + string(action), EntityID: entityID}
}

// HVACModeCall builds climate/set_hvac_mode.
func HVACModeCall(entityID, mode string) ServiceCall {
	return ServiceCall{
		Domain:   "climate",
		Service:  "set_hvac_mode",
		EntityID: entityID,
		Data:     map[string]any{"hvac_mode": mode},
	}
}

// TemperatureCall builds climate/set_temperature.
func TemperatureCall(entityID string, temperature float64) ServiceCall {
	return ServiceCall{
		Domain:   "climate",
		Service:  "set_temperature",
		EntityID: entityID,
		Data:     map[string]any{"temperature": temperature},
	}
}
