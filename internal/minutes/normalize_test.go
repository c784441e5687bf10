package minutes

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"minutes-agent/internal/domain"
)

var fixedNow = time.Date(2024, time.March, 10, 22, 15, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(func() time.Time { return fixedNow })
}

func decodeJSON(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func requireWellFormed(t *testing.T, m domain.MeetingMinutes) {
	t.Helper()
	require.NotEmpty(t, m.Title)
	require.NotNil(t, m.Attendees)
	require.NotNil(t, m.Decisions)
	require.NotNil(t, m.Risks)
	require.NotNil(t, m.ActionItems)
	require.NotNil(t, m.Observations)
	for _, a := range m.Attendees {
		require.NotEmpty(t, a.Name)
		require.NotEmpty(t, a.Role)
	}
	for _, d := range m.Decisions {
		require.NotEmpty(t, d.Description)
		require.NotEmpty(t, d.MadeBy)
		_, err := time.Parse(DateLayout, d.Date)
		require.NoError(t, err)
	}
	for _, a := range m.ActionItems {
		require.NotEmpty(t, a.Owner)
		_, err := time.Parse(DateLayout, a.Deadline)
		require.NoError(t, err)
	}
}

func TestNormalize_IsTotal(t *testing.T) {
	inputs := []string{
		`{}`,
		`null`,
		`[]`,
		`42`,
		`"just text"`,
		`{"title":7,"attendees":"nope","decisions":{"a":1},"risks":null}`,
		`{"attendees":[null,1,"x",[],{"name":null,"role":[]}]}`,
		`{"decisions":[{"description":{"deep":true},"madeBy":"A","date":"2024-01-01"}]}`,
		`{"observations":[{"description":""},{"nope":1}],"actionItems":[{}]}`,
	}
	n := newTestNormalizer()
	for _, in := range inputs {
		require.NotPanics(t, func() {
			requireWellFormed(t, n.Normalize(decodeJSON(t, in)))
		}, "input=%s", in)
	}
	require.NotPanics(t, func() { requireWellFormed(t, n.Normalize(nil)) })
}

func TestNormalize_EmptyObjectDefaults(t *testing.T) {
	m := newTestNormalizer().Normalize(map[string]any{})
	require.Equal(t, domain.MeetingMinutes{
		Title:        "Untitled Meeting",
		Attendees:    []domain.Attendee{},
		Decisions:    []domain.Decision{},
		Risks:        []domain.Risk{},
		ActionItems:  []domain.ActionItem{},
		Observations: []domain.Observation{},
	}, m)
}

func TestNormalize_TrimsScalars(t *testing.T) {
	m := newTestNormalizer().Normalize(decodeJSON(t, `{
		"title":"  Standup  ",
		"executiveSummary":"\n summary \t",
		"actionMinutes":" minutes "
	}`))
	require.Equal(t, "Standup", m.Title)
	require.Equal(t, "summary", m.ExecutiveSummary)
	require.Equal(t, "minutes", m.ActionMinutes)
}

func TestNormalize_AttendeeFiltering(t *testing.T) {
	n := newTestNormalizer()

	m := n.Normalize(decodeJSON(t, `{"attendees":[{"name":"A"}]}`))
	require.Empty(t, m.Attendees)

	m = n.Normalize(decodeJSON(t, `{"attendees":[{"name":"","role":"CEO"}]}`))
	require.Equal(t, []domain.Attendee{{Name: "Unknown Attendee", Role: "CEO"}}, m.Attendees)

	m = n.Normalize(decodeJSON(t, `{"attendees":[{"name":" Bo ","role":"  "}]}`))
	require.Equal(t, []domain.Attendee{{Name: "Bo", Role: "Participant"}}, m.Attendees)
}

func TestNormalize_Decisions(t *testing.T) {
	m := newTestNormalizer().Normalize(decodeJSON(t, `{"decisions":[
		{"description":" Ship it ","madeBy":" Lee ","date":"July 15, 2024"},
		{"description":"","madeBy":"","date":"not-a-date"},
		{"description":"missing date","madeBy":"Lee"}
	]}`))
	require.Equal(t, []domain.Decision{
		{Description: "Ship it", MadeBy: "Lee", Date: "2024-07-15"},
		{Description: "No description provided", MadeBy: "Unspecified", Date: "2024-03-10"},
	}, m.Decisions)
}

func TestNormalize_Risks(t *testing.T) {
	m := newTestNormalizer().Normalize(decodeJSON(t, `{"risks":[
		{"description":"Vendor delay","mitigation":""},
		{"description":"no mitigation key"}
	]}`))
	require.Equal(t, []domain.Risk{{Description: "Vendor delay", Mitigation: "No mitigation specified"}}, m.Risks)
}

func TestNormalize_ActionItemDeadlineDefault(t *testing.T) {
	m := newTestNormalizer().Normalize(decodeJSON(t, `{"actionItems":[
		{"description":"Write doc","owner":"","deadline":"whenever"},
		{"description":"Book room","owner":"Kim","deadline":"2024-04-01"}
	]}`))
	require.Equal(t, []domain.ActionItem{
		{Description: "Write doc", Owner: "Unassigned", Deadline: "2024-03-24"},
		{Description: "Book room", Owner: "Kim", Deadline: "2024-04-01"},
	}, m.ActionItems)
}

func TestNormalize_Observations(t *testing.T) {
	m := newTestNormalizer().Normalize(decodeJSON(t, `{"observations":[{"description":" "},{"text":"x"},"plain"]}`))
	require.Equal(t, []domain.Observation{{Description: "No observation provided"}}, m.Observations)
}

func TestNormalize_FromMinutesIsStable(t *testing.T) {
	n := newTestNormalizer()
	first := n.Normalize(decodeJSON(t, `{
		"title":"Planning",
		"attendees":[{"name":"Ana","role":"PM"}],
		"decisions":[{"description":"Go","madeBy":"Ana","date":"2024-02-02"}],
		"risks":[{"description":"Scope","mitigation":"Cut"}],
		"actionItems":[{"description":"Plan","owner":"Ana","deadline":"2024-02-09"}],
		"observations":[{"description":"Good energy"}]
	}`))
	require.Equal(t, first, n.Normalize(FromMinutes(first)))
}

func TestValidateDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024-07-15", "2024-07-15", true},
		{"July 15, 2024", "2024-07-15", true},
		{" 2024-07-15T23:30:00-05:00 ", "2024-07-16", true},
		{"not-a-date", "", false},
		{"", "", false},
		{"   ", "", false},
	}
	for _, tc := range cases {
		got, ok := ValidateDate(tc.in)
		require.Equal(t, tc.ok, ok, "in=%q", tc.in)
		require.Equal(t, tc.want, got, "in=%q", tc.in)
	}
}
