package command

import (
	"math"
	"strconv"
	"strings"
)

// Heating setpoints accepted from free text, in °C.
const (
	MinTemperature     = 15.0
	MaxTemperature     = 24.0
	DefaultTemperature = 19.0
)

// ExtractTemperature returns the first whitespace-separated number in text
// that lies in [MinTemperature, MaxTemperature], or DefaultTemperature when
// there is none.
func ExtractTemperature(text string) float64 {
	for _, tok := range strings.Fields(text) {
		if isHexLiteral(tok) {
			continue
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v >= MinTemperature && v <= MaxTemperature {
			return v
		}
	}
	return DefaultTemperature
}

// ParseFloat accepts hex floats ("0x14"); a chat message never means those.
func isHexLiteral(tok string) bool {
	tok = strings.TrimLeft(tok, "+-")
	return len(tok) > 1 && tok[0] == '0' && (tok[1] == 'x' || tok[1] == 'X')
}
