package minutes

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DateLayout is the canonical calendar date format for minutes.
const DateLayout = "2006-01-02"

// ValidateDate parses s with a permissive date parser and returns it as
// YYYY-MM-DD in UTC. ok is false when s is not a recognisable date.
func ValidateDate(s string) (date string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	// dateparse has panicked on pathological input in the past.
	defer func() {
		if r := recover(); r != nil {
			date, ok = "", false
		}
	}()
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil || t.IsZero() {
		return "", false
	}
	return t.UTC().Format(DateLayout), true
}
