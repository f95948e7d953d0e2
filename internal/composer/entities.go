package composer

import (
	"regexp"
	"strings"
)

// Extracted entities from free text: scan targets, ports, domains. Used to
// fill command templates deterministically before falling back to the
// model.
type entities struct {
	Target string
	Port   string
	Domain string
}

var (
	ipv4Re   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?:/\d{1,2})?\b`)
	portRe   = regexp.MustCompile(`(?i)\bports?\s+(\d{1,5}(?:\s*[-,]\s*\d{1,5})*)`)
	domainRe = regexp.MustCompile(`\b[a-zA-Z0-9][a-zA-Z0-9-]*(?:\.[a-zA-Z0-9][a-zA-Z0-9-]*)+\b`)
)

func extractEntities(text string) entities {
	var e entities

	if ip := ipv4Re.FindString(text); ip != "" {
		e.Target = ip
	} else if strings.Contains(strings.ToLower(text), "localhost") {
		e.Target = "localhost"
	}

	if m := portRe.FindStringSubmatch(text); m != nil {
		e.Port = strings.Join(strings.Fields(strings.ReplaceAll(m[1], " ", "")), "")
	}

	if d := domainRe.FindString(text); d != "" && !ipv4Re.MatchString(d) {
		e.Domain = d
		if e.Target == "" {
			e.Target = d
		}
	}

	return e
}

// bindings returns the placeholder values this extraction can provide
func (e entities) bindings() map[string]string {
	b := make(map[string]string)
	if e.Target != "" {
		b["target"] = e.Target
	}
	if e.Port != "" {
		b["port"] = e.Port
		b["ports"] = e.Port
	}
	if e.Domain != "" {
		b["domain"] = e.Domain
	}
	return b
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_]+)\}`)

// fillTemplate substitutes {placeholder} slots. ok is false when any slot
// has no binding; the caller then falls back to model composition.
func fillTemplate(template string, bindings map[string]string) (string, map[string]string, bool) {
	used := make(map[string]string)
	complete := true

	line := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.ToLower(m[1 : len(m)-1])
		if value, ok := bindings[name]; ok {
			used[name] = value
			return value
		}
		complete = false
		return m
	})

	if !complete {
		return "", nil, false
	}
	return line, used, true
}
