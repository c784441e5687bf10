package usecase

import "strings"

func buildMinutesPrompt(notes string) string {
	return strings.Join([]string{
		"Role:",
		"You are an assistant that writes formal meeting minutes.",
		"",
		"Task:",
		"Read the meeting notes below and produce structured minutes.",
		"",
		"Behavior Rules:",
		behaviorRules(),
		"",
		"Output Contract:",
		outputContract(),
		"",
		"Meeting Notes:",
		normalizeNotes(notes),
	}, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Use only information present in the notes.",
		"2) Leave a list empty rather than inventing entries.",
		"3) Write dates as YYYY-MM-DD when the notes give one.",
		"4) Keep the executive summary under 120 words.",
	}, "\n")
}

func outputContract() string {
	return "Return a single JSON object only, with keys: " +
		"title (string), executiveSummary (string), actionMinutes (string), " +
		"attendees (array of {name, role}), " +
		"decisions (array of {description, madeBy, date}), " +
		"risks (array of {description, mitigation}), " +
		"actionItems (array of {description, owner, deadline}), " +
		"observations (array of {description}). " +
		"All values are strings."
}

// normalizeNotes trims each line and drops runs of blank lines; line breaks
// are kept because speaker turns matter in transcripts.
func normalizeNotes(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
