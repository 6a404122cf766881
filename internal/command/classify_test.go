package command

import (
	"reflect"
	"testing"

	"hassbridge/internal/config"
	"hassbridge/internal/domain"
)

func testEntities() config.EntitiesConfig {
	return config.EntitiesConfig{
		CoffeeMachine:     "switch.coffee",
		ClimateUpstairs:   "climate.upstairs",
		ClimateDownstairs: "climate.downstairs",
		Dehumidifier:      "humidifier.basement",
	}
}

func TestClassify_Vocabulary(t *testing.T) {
	c := NewClassifier(testEntities())

	tests := []struct {
		text     string
		kind     domain.CommandKind
		entity   string
		action   domain.SwitchAction
		mode     string
		temp     float64 // 0 means no temperature
		svc      string
		domainID string
	}{
		{text: "turn on coffee machine", kind: domain.CommandSwitch, entity: "switch.coffee", action: domain.SwitchOn},
		{text: "please TURN OFF coffee machine now", kind: domain.CommandSwitch, entity: "switch.coffee", action: domain.SwitchOff},
		{text: "turn on heating upstairs 21", kind: domain.CommandClimate, entity: "climate.upstairs", mode: "heat", temp: 21},
		{text: "turn off heating upstairs", kind: domain.CommandClimate, entity: "climate.upstairs", mode: "off"},
		{text: "turn on heating downstairs", kind: domain.CommandClimate, entity: "climate.downstairs", mode: "heat", temp: 19},
		{text: "  turn off heating downstairs  ", kind: domain.CommandClimate, entity: "climate.downstairs", mode: "off"},
		{text: "turn on dehumidifier", kind: domain.CommandService, entity: "humidifier.basement", domainID: "humidifier", svc: "turn_on"},
		{text: "turn off dehumidifier", kind: domain.CommandService, entity: "humidifier.basement", domainID: "humidifier", svc: "turn_off"},
		{text: "call service light turn_on kitchen", kind: domain.CommandRawService, entity: "kitchen", domainID: "light", svc: "turn_on"},
		{text: "Call Service   light   turn_off   light.hall", kind: domain.CommandRawService, entity: "light.hall", domainID: "light", svc: "turn_off"},
	}

	for _, tt := range tests {
		cmd := c.Classify(tt.text)
		if cmd.Kind != tt.kind {
			t.Errorf("%q: kind = %v, want %v", tt.text, cmd.Kind, tt.kind)
			continue
		}
		if cmd.EntityID != tt.entity {
			t.Errorf("%q: entity = %q, want %q", tt.text, cmd.EntityID, tt.entity)
		}
		if cmd.Action != tt.action {
			t.Errorf("%q: action = %q, want %q", tt.text, cmd.Action, tt.action)
		}
		if cmd.Mode != tt.mode {
			t.Errorf("%q: mode = %q, want %q", tt.text, cmd.Mode, tt.mode)
		}
		if cmd.Domain != tt.domainID || cmd.Service != tt.svc {
			t.Errorf("%q: service = %s.%s, want %s.%s", tt.text, cmd.Domain, cmd.Service, tt.domainID, tt.svc)
		}
		switch {
		case tt.temp == 0 && cmd.Temperature != nil:
			t.Errorf("%q: unexpected temperature %v", tt.text, *cmd.Temperature)
		case tt.temp != 0 && (cmd.Temperature == nil || *cmd.Temperature != tt.temp):
			t.Errorf("%q: temperature = %v, want %v", tt.text, cmd.Temperature, tt.temp)
		}
	}
}

func TestClassify_OrderFirstMatchWins(t *testing.T) {
	c := NewClassifier(testEntities())
	cmd := c.Classify("turn off heating upstairs and turn on coffee machine")
	if cmd.Kind != domain.CommandSwitch || cmd.Action != domain.SwitchOn {
		t.Fatalf("coffee phrase is earlier in the table and should win, got %+v", cmd)
	}

	cmd = c.Classify("call service switch turn_on x, also turn on dehumidifier")
	if cmd.Kind != domain.CommandService {
		t.Fatalf("fixed phrases are checked before the raw prefix, got %v", cmd.Kind)
	}
}

func TestClassify_NoMatch(t *testing.T) {
	c := NewClassifier(testEntities())
	for _, text := range []string{"", "   ", "hello there", "turn on the lights", "please call service light turn_on kitchen"} {
		if cmd := c.Classify(text); cmd.Kind != domain.CommandNone {
			t.Errorf("%q: expected none, got %v", text, cmd.Kind)
		}
	}
}

func TestClassify_RawCallPrefixIsWholeWord(t *testing.T) {
	c := NewClassifier(testEntities())
	for _, text := range []string{
		"call servicelight turn_on kitchen",
		"call services light turn_on",
		"call service_x light turn_on kitchen",
	} {
		if cmd := c.Classify(text); cmd.Kind != domain.CommandNone {
			t.Errorf("%q: expected none, got %v (%s.%s %s)", text, cmd.Kind, cmd.Domain, cmd.Service, cmd.EntityID)
		}
	}

	cmd := c.Classify("call service\tlight turn_on kitchen")
	if cmd.Kind != domain.CommandRawService || cmd.Domain != "light" || cmd.Service != "turn_on" || cmd.EntityID != "kitchen" {
		t.Errorf("tab after the prefix should still parse, got %+v", cmd)
	}
}

func TestClassify_MalformedRawCall(t *testing.T) {
	c := NewClassifier(testEntities())
	for _, text := range []string{
		"call service",
		"call service light turn_on",
		"call service light turn_on kitchen extra",
	} {
		cmd := c.Classify(text)
		if cmd.Kind != domain.CommandInvalid {
			t.Errorf("%q: expected invalid, got %v", text, cmd.Kind)
		}
		if cmd.Reason == "" {
			t.Errorf("%q: expected a reason", text)
		}
		if cmd.Recognized() {
			t.Errorf("%q: invalid command must not be recognized", text)
		}
	}
}

func TestClassify_Idempotent(t *testing.T) {
	c := NewClassifier(testEntities())
	for _, text := range []string{
		"turn on heating downstairs 20",
		"call service light turn_on kitchen",
		"turn on coffee machine",
		"nothing to see",
	} {
		first, second := c.Classify(text), c.Classify(text)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("%q: classification differs: %+v vs %+v", text, first, second)
		}
		if !reflect.DeepEqual(Plan(first), Plan(second)) {
			t.Errorf("%q: plan differs", text)
		}
	}
}

func TestAuditText(t *testing.T) {
	c := NewClassifier(testEntities())
	tests := []struct{ text, want string }{
		{"turn on heating downstairs 20", "turn on heating downstairs 20.0"},
		{"Turn on heating upstairs please", "turn on heating upstairs 19.0"},
		{"turn on heating upstairs to 21.5 now", "turn on heating upstairs 21.5"},
		{"turn off heating upstairs", "turn off heating upstairs"},
		{"  Turn ON coffee machine ", "turn on coffee machine"},
		{"call service light turn_on kitchen", "call service light turn_on kitchen"},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.text).AuditText(); got != tt.want {
			t.Errorf("AuditText(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
