package security

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"hassbridge/internal/config"
	"hassbridge/internal/domain"
)

// Policy decides which domain.service pairs the raw "call service" command
// may reach. Deny patterns win over allow patterns; anything matching
// neither falls through to the default.
type Policy struct {
	defaultAction domain.PolicyAction
	logger        *slog.Logger

	denyRe  []*regexp.Regexp
	allowRe []*regexp.Regexp
}

func NewPolicy(cfg config.PolicyConfig, logger *slog.Logger) (*Policy, error) {
	p := &Policy{
		defaultAction: domain.ActionAllow,
		logger:        logger,
	}
	if cfg.Default == "deny" {
		p.defaultAction = domain.ActionBlock
	}

	var err error
	p.denyRe, err = compilePatterns(cfg.Deny)
	if err != nil {
		return nil, fmt.Errorf("invalid deny pattern: %w", err)
	}

	p.allowRe, err = compilePatterns(cfg.Allow)
	if err != nil {
		return nil, fmt.Errorf("invalid allow pattern: %w", err)
	}

	if p.defaultAction == domain.ActionAllow && len(p.allowRe) == 0 {
		logger.Warn("raw service calls are unrestricted; set policy.default=deny and list policy.allow to limit them")
	}
	return p, nil
}

// Check returns the action for a raw call to domain.service.
func (p *Policy) Check(domainName, service string) domain.PolicyAction {
	target := strings.ToLower(domainName + "." + service)

	for _, re := range p.denyRe {
		if re.MatchString(target) {
			p.logger.Warn("service call BLOCKED by deny list",
				"service", target,
				"pattern", re.String(),
			)
			return domain.ActionBlock
		}
	}

	for _, re := range p.allowRe {
		if re.MatchString(target) {
			p.logger.Debug("service call allowed", "service", target, "pattern", re.String())
			return domain.ActionAllow
		}
	}

	if p.defaultAction == domain.ActionBlock {
		p.logger.Warn("service call BLOCKED by default policy", "service", target)
	}
	return p.defaultAction
}

// compilePatterns turns config patterns into anchored matchers against
// "domain.service". A bare word ("light") names a whole domain, a plain
// "domain.service" ("switch.turn_on") matches exactly that pair, and
// anything with other regex characters ("light.*", "scene\..+") is a regex.
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		var re *regexp.Regexp
		var err error
		switch {
		case isRegex(p):
			re, err = regexp.Compile(`(?i)^(?:` + p + `)$`)
		case strings.Contains(p, "."):
			re, err = regexp.Compile(`(?i)^` + regexp.QuoteMeta(p) + `$`)
		default:
			re, err = regexp.Compile(`(?i)^` + regexp.QuoteMeta(p) + `\.`)
		}
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// isRegex reports whether s uses regex syntax beyond the literal dot that
// separates domain and service.
func isRegex(s string) bool {
	for _, c := range s {
		switch c {
		case '(', ')', '[', ']', '{', '}', '|', '^', '$', '*', '+', '?', '\\':
			return true
		}
	}
	return false
}
