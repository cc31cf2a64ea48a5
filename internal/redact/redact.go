// Package redact replaces known secret values in text before it is logged
// or persisted. Redaction is mandatory ahead of the first log write: the
// task logger and the orchestrator's outer error handler both run every
// message through a Redactor.
package redact

import "strings"

// Placeholder replaces each secret occurrence.
const Placeholder = "[REDACTED]"

// Redactor replaces known secret values with a placeholder.
type Redactor struct {
	replacer *strings.Replacer
}

// New creates a Redactor for the given secret values. Empty and very short
// values are ignored, replacing those would mangle ordinary text.
func New(secrets ...string) *Redactor {
	pairs := make([]string, 0, len(secrets)*2)
	for _, s := range secrets {
		if len(s) < 4 {
			continue
		}
		pairs = append(pairs, s, Placeholder)
	}
	return &Redactor{replacer: strings.NewReplacer(pairs...)}
}

// Redact returns s with all known secret values replaced.
func (r *Redactor) Redact(s string) string {
	if r == nil || r.replacer == nil {
		return s
	}
	return r.replacer.Replace(s)
}
