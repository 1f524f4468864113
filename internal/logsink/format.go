// Package logsink writes formatted, newline-normalized records into log files
// that tolerate rotation: watched sinks reopen when the file identity changes
// under them, timed sinks rotate themselves on a schedule, sized sinks
// delegate to lumberjack.
package logsink

import (
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// Substitution tokens recognized in record templates.
const (
	TokenMessage = "%(message)s"
	TokenTime    = "%(asctime)s"
)

// DefaultDateFormat is the strftime layout applied to TokenTime when no
// explicit date format is configured.
const DefaultDateFormat = "%Y-%m-%d %H:%M:%S"

// Format describes how a record is rendered before reaching the file.
// An empty Template means the raw message only.
type Format struct {
	Template   string
	DateFormat string
}

// Validate rejects templates that would swallow the message entirely.
func (f Format) Validate() error {
	if f.Template != "" && !strings.Contains(f.Template, TokenMessage) {
		return fmt.Errorf("log format %q has no %s token", f.Template, TokenMessage)
	}
	return nil
}

// Render applies the template and date format to msg. The message is
// substituted verbatim, newlines included.
func (f Format) Render(msg string, now time.Time) string {
	tpl := f.Template
	if tpl == "" {
		tpl = TokenMessage
	}
	out := strings.ReplaceAll(tpl, TokenMessage, msg)
	if strings.Contains(out, TokenTime) {
		df := f.DateFormat
		if df == "" {
			df = DefaultDateFormat
		}
		out = strings.ReplaceAll(out, TokenTime, strftime.Format(df, now))
	}
	return out
}

// terminate renders msg and guarantees exactly one trailing newline no matter
// what the template's own line-termination habits are: one trailing newline
// is trimmed, then one added back.
func (f Format) terminate(msg string, now time.Time) string {
	return strings.TrimSuffix(f.Render(msg, now), "\n") + "\n"
}
