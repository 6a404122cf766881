package command

import "hassbridge/internal/domain"

// Plan lists the service calls a command resolves to, in dispatch order.
// Unrecognized commands plan nothing.
func Plan(cmd domain.Command) []domain.ServiceCall {
	switch cmd.Kind {
	case domain.CommandSwitch:
		return []domain.ServiceCall{domain.SwitchCall(cmd.EntityID, cmd.Action)}
	case domain.CommandClimate:
		calls := []domain.ServiceCall{domain.HVACModeCall(cmd.EntityID, cmd.Mode)}
		if cmd.Temperature != nil {
			calls = append(calls, domain.TemperatureCall(cmd.EntityID, *cmd.Temperature))
		}
		return calls
	case domain.CommandService, domain.CommandRawService:
		return []domain.ServiceCall{{Domain: cmd.Domain, Service: cmd.Service, EntityID: cmd.EntityID}}
	default:
		return nil
	}
}
