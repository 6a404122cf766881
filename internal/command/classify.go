package command

import (
	"strings"
	"unicode"

	"hassbridge/internal/config"
	"hassbridge/internal/domain"
)

// RawCallPrefix starts the passthrough command
// "call service <domain> <service> <entity_id>".
const RawCallPrefix = "call service"

// RawCallUsage is shown when a raw call cannot be parsed.
const RawCallUsage = "usage: call service <domain> <service> <entity_id>"

type rule struct {
	phrase string
	build  func(text string) domain.Command
}

// Classifier maps message text to a Command. It holds only the configured
// entity ids and keeps no state between calls.
type Classifier struct {
	rules []rule
}

func NewClassifier(entities config.EntitiesConfig) *Classifier {
	switchRule := func(phrase, entity string, action domain.SwitchAction) rule {
		return rule{phrase, func(text string) domain.Command {
			return domain.Command{Kind: domain.CommandSwitch, Text: text, Phrase: phrase, EntityID: entity, Action: action}
		}}
	}
	heatOn := func(phrase, entity string) rule {
		return rule{phrase, func(text string) domain.Command {
			t := ExtractTemperature(text)
			return domain.Command{Kind: domain.CommandClimate, Text: text, Phrase: phrase, EntityID: entity, Mode: domain.HVACHeat, Temperature: &t}
		}}
	}
	heatOff := func(phrase, entity string) rule {
		return rule{phrase, func(text string) domain.Command {
			return domain.Command{Kind: domain.CommandClimate, Text: text, Phrase: phrase, EntityID: entity, Mode: domain.HVACOff}
		}}
	}
	service := func(phrase, domainName, svc, entity string) rule {
		return rule{phrase, func(text string) domain.Command {
			return domain.Command{Kind: domain.CommandService, Text: text, Phrase: phrase, EntityID: entity, Domain: domainName, Service: svc}
		}}
	}

	// First match wins.
	return &Classifier{rules: []rule{
		switchRule("turn on coffee machine", entities.CoffeeMachine, domain.SwitchOn),
		switchRule("turn off coffee machine", entities.CoffeeMachine, domain.SwitchOff),
		heatOn("turn on heating upstairs", entities.ClimateUpstairs),
		heatOff("turn off heating upstairs", entities.ClimateUpstairs),
		heatOn("turn on heating downstairs", entities.ClimateDownstairs),
		heatOff("turn off heating downstairs", entities.ClimateDownstairs),
		service("turn on dehumidifier", "humidifier", "turn_on", entities.Dehumidifier),
		service("turn off dehumidifier", "humidifier", "turn_off", entities.Dehumidifier),
	}}
}

// Normalize lowercases and trims message text before matching.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Classify resolves text to a Command. Text that matches nothing yields
// CommandNone; a raw call without exactly three arguments yields
// CommandInvalid.
func (c *Classifier) Classify(text string) domain.Command {
	text = Normalize(text)
	if text == "" {
		return domain.Command{Kind: domain.CommandNone}
	}

	for _, r := range c.rules {
		if strings.Contains(text, r.phrase) {
			return r.build(text)
		}
	}

	// The prefix must end at a word boundary: "call services ..." and
	// "call servicelight ..." are not raw calls.
	if rest, ok := strings.CutPrefix(text, RawCallPrefix); ok && (rest == "" || unicode.IsSpace(rune(rest[0]))) {
		args := strings.Fields(rest)
		if len(args) != 3 {
			return domain.Command{
				Kind:   domain.CommandInvalid,
				Text:   text,
				Phrase: RawCallPrefix,
				Reason: RawCallUsage,
			}
		}
		return domain.Command{
			Kind:     domain.CommandRawService,
			Text:     text,
			Phrase:   RawCallPrefix,
			Domain:   args[0],
			Service:  args[1],
			EntityID: args[2],
		}
	}

	return domain.Command{Kind: domain.CommandNone, Text: text}
}
