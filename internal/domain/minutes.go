package domain

import "time"

// Attendee is a meeting participant.
type Attendee struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Decision is a decision recorded during the meeting. Date is YYYY-MM-DD.
type Decision struct {
	Description string `json:"description"`
	MadeBy      string `json:"madeBy"`
	Date        string `json:"date"`
}

// Risk is an identified risk and its mitigation.
type Risk struct {
	Description string `json:"description"`
	Mitigation  string `json:"mitigation"`
}

// ActionItem is a follow-up task. Deadline is YYYY-MM-DD.
type ActionItem struct {
	Description string `json:"description"`
	Owner       string `json:"owner"`
	Deadline    string `json:"deadline"`
}

// Observation is a free-form note about the meeting.
type Observation struct {
	Description string `json:"description"`
}

// MeetingMinutes is the structured document produced from raw meeting notes.
// Values of this type that leave the normalizer never contain nil slices.
type MeetingMinutes struct {
	Title            string        `json:"title"`
	ExecutiveSummary string        `json:"executiveSummary"`
	ActionMinutes    string        `json:"actionMinutes"`
	Attendees        []Attendee    `json:"attendees"`
	Decisions        []Decision    `json:"decisions"`
	Risks            []Risk        `json:"risks"`
	ActionItems      []ActionItem  `json:"actionItems"`
	Observations     []Observation `json:"observations"`
}

// MinutesRecord is a persisted, versioned MeetingMinutes document.
//
// ParentID names the record this one was edited from and is empty on the
// original generation. RootID names the original generation of the lineage;
// on a root it equals ID.
type MinutesRecord struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"ownerId"`
	RootID    string         `json:"rootId,omitempty"`
	ParentID  string         `json:"parentId,omitempty"`
	Version   int            `json:"version"`
	IsLatest  bool           `json:"isLatest"`
	Minutes   MeetingMinutes `json:"minutes"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// LineageRoot returns the id of the lineage root this record belongs to.
// Records written before RootID existed fall back to ParentID, then to their
// own id.
func (r MinutesRecord) LineageRoot() string {
	switch {
	case r.RootID != "":
		return r.RootID
	case r.ParentID != "":
		return r.ParentID
	default:
		return r.ID
	}
}

// EffectiveVersion returns Version, treating an unset version as 1.
func (r MinutesRecord) EffectiveVersion() int {
	if r.Version <= 0 {
		return 1
	}
	return r.Version
}
