package minutes

import (
	"strings"
	"time"

	"minutes-agent/internal/domain"
)

const (
	defaultTitle          = "Untitled Meeting"
	defaultAttendeeName   = "Unknown Attendee"
	defaultAttendeeRole   = "Participant"
	defaultDescription    = "No description provided"
	defaultMadeBy         = "Unspecified"
	defaultMitigation     = "No mitigation specified"
	defaultOwner          = "Unassigned"
	defaultObservation    = "No observation provided"
	defaultDeadlineOffset = 14 * 24 * time.Hour
)

// Normalizer coerces arbitrary decoded JSON into MeetingMinutes. It never
// fails: missing or mistyped fields get defaults, and list elements that do
// not carry every required string field are dropped.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer returns a Normalizer using now for date defaults. A nil now
// uses time.Now.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

func (n *Normalizer) Normalize(raw any) domain.MeetingMinutes {
	obj, _ := raw.(map[string]any)

	out := domain.MeetingMinutes{
		Title:            defaultTitle,
		ExecutiveSummary: trimmedString(obj, "executiveSummary"),
		ActionMinutes:    trimmedString(obj, "actionMinutes"),
		Attendees:        []domain.Attendee{},
		Decisions:        []domain.Decision{},
		Risks:            []domain.Risk{},
		ActionItems:      []domain.ActionItem{},
		Observations:     []domain.Observation{},
	}
	if title := trimmedString(obj, "title"); title != "" {
		out.Title = title
	}

	today := n.now().UTC()

	for _, el := range objects(obj, "attendees") {
		f, ok := stringFields(el, "name", "role")
		if !ok {
			continue
		}
		out.Attendees = append(out.Attendees, domain.Attendee{
			Name: orDefault(f[0], defaultAttendeeName),
			Role: orDefault(f[1], defaultAttendeeRole),
		})
	}

	for _, el := range objects(obj, "decisions") {
		f, ok := stringFields(el, "description", "madeBy", "date")
		if !ok {
			continue
		}
		out.Decisions = append(out.Decisions, domain.Decision{
			Description: orDefault(f[0], defaultDescription),
			MadeBy:      orDefault(f[1], defaultMadeBy),
			Date:        dateOr(f[2], today),
		})
	}

	for _, el := range objects(obj, "risks") {
		f, ok := stringFields(el, "description", "mitigation")
		if !ok {
			continue
		}
		out.Risks = append(out.Risks, domain.Risk{
			Description: orDefault(f[0], defaultDescription),
			Mitigation:  orDefault(f[1], defaultMitigation),
		})
	}

	for _, el := range objects(obj, "actionItems") {
		f, ok := stringFields(el, "description", "owner", "deadline")
		if !ok {
			continue
		}
		out.ActionItems = append(out.ActionItems, domain.ActionItem{
			Description: orDefault(f[0], defaultDescription),
			Owner:       orDefault(f[1], defaultOwner),
			Deadline:    dateOr(f[2], today.Add(defaultDeadlineOffset)),
		})
	}

	for _, el := range objects(obj, "observations") {
		f, ok := stringFields(el, "description")
		if !ok {
			continue
		}
		out.Observations = append(out.Observations, domain.Observation{
			Description: orDefault(f[0], defaultObservation),
		})
	}

	return out
}

// FromMinutes converts an already typed document into the generic shape
// Normalize accepts, so edits submitted as MeetingMinutes go through the same
// coercion as model output.
func FromMinutes(m domain.MeetingMinutes) map[string]any {
	attendees := make([]any, 0, len(m.Attendees))
	for _, a := range m.Attendees {
		attendees = append(attendees, map[string]any{"name": a.Name, "role": a.Role})
	}
	decisions := make([]any, 0, len(m.Decisions))
	for _, d := range m.Decisions {
		decisions = append(decisions, map[string]any{"description": d.Description, "madeBy": d.MadeBy, "date": d.Date})
	}
	risks := make([]any, 0, len(m.Risks))
	for _, r := range m.Risks {
		risks = append(risks, map[string]any{"description": r.Description, "mitigation": r.Mitigation})
	}
	items := make([]any, 0, len(m.ActionItems))
	for _, a := range m.ActionItems {
		items = append(items, map[string]any{"description": a.Description, "owner": a.Owner, "deadline": a.Deadline})
	}
	observations := make([]any, 0, len(m.Observations))
	for _, o := range m.Observations {
		observations = append(observations, map[string]any{"description": o.Description})
	}
	return map[string]any{
		"title":            m.Title,
		"executiveSummary": m.ExecutiveSummary,
		"actionMinutes":    m.ActionMinutes,
		"attendees":        attendees,
		"decisions":        decisions,
		"risks":            risks,
		"actionItems":      items,
		"observations":     observations,
	}
}

func trimmedString(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

// objects returns the elements of obj[key] that are JSON objects. Anything
// that is not an array yields nil.
func objects(obj map[string]any, key string) []map[string]any {
	arr, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// stringFields returns the trimmed values of keys, in order, when every key
// holds a string.
func stringFields(el map[string]any, keys ...string) ([]string, bool) {
	out := make([]string, len(keys))
	for i, k := range keys {
		s, ok := el[k].(string)
		if !ok {
			return nil, false
		}
		out[i] = strings.TrimSpace(s)
	}
	return out, true
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func dateOr(s string, def time.Time) string {
	if d, ok := ValidateDate(s); ok {
		return d
	}
	return def.Format(DateLayout)
}
