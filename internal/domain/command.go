package domain

import (
	"strconv"
	"strings"
)

// CommandKind tags the variant held by a Command.
type CommandKind int

const (
	CommandNone       CommandKind = iota // no phrase matched
	CommandSwitch                        // switch on/off
	CommandClimate                       // hvac mode, optional temperature
	CommandService                       // fixed domain/service on a configured entity
	CommandRawService                    // "call service <domain> <service> <entity>"
	CommandInvalid                       // recognized prefix, unusable parameters
)

var commandKindNames = map[CommandKind]string{
	CommandNone:       "none",
	CommandSwitch:     "switch",
	CommandClimate:    "climate",
	CommandService:    "service",
	CommandRawService: "raw_service",
	CommandInvalid:    "invalid",
}

func (k CommandKind) String() string {
	if s, ok := commandKindNames[k]; ok {
		return s
	}
	return "unknown"
}

type SwitchAction string

const (
	SwitchOn  SwitchAction = "on"
	SwitchOff SwitchAction = "off"
)

// HVAC modes used by the heating phrases.
const (
	HVACHeat = "heat"
	HVACOff  = "off"
)

// Command is a recognized intent with its parameters. Only the fields that
// belong to Kind are meaningful.
type Command struct {
	Kind CommandKind
	Text string // normalized message text

	EntityID    string
	Action      SwitchAction // CommandSwitch
	Mode        string       // CommandClimate
	Temperature *float64     // CommandClimate, nil when not set
	Domain      string       // CommandService, CommandRawService
	Service     string       // CommandService, CommandRawService

	Phrase string // vocabulary phrase that matched
	Reason string // CommandInvalid
}

// Recognized reports whether the command leads to a dispatch.
func (c Command) Recognized() bool {
	return c.Kind != CommandNone && c.Kind != CommandInvalid
}

// AuditText is the text written to the audit trail for this command. Heating
// commands that carry a temperature record the phrase and the value used.
func (c Command) AuditText() string {
	if c.Kind == CommandClimate && c.Temperature != nil {
		return c.Phrase + " " + FormatTemperature(*c.Temperature)
	}
	return c.Text
}

// FormatTemperature renders t with at least one decimal place (20 -> "20.0").
func FormatTemperature(t float64) string {
	s := strconv.FormatFloat(t, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
