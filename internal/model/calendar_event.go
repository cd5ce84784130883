package model

// Event type tags. The first five are offered for manual entry; the rest
// are reserved for events produced by the expansion policy.
const (
	TypeDiningService  = "DINING_SERVICE"
	TypePreElaboration = "PRE_ELABORATION"
	TypeExam           = "EXAM"
	TypeTheory         = "THEORY"
	TypeLogistics      = "LOGISTICS"
	TypeAutoPrep       = "AUTO_PREP"
	TypeAutoAlarm      = "AUTO_ALARM"
	TypeAutoCritical   = "AUTO_CRITICAL"
	TypeAutoMenuPrep   = "AUTO_MENU_PREP"
	TypeReminder       = "REMINDER"
)

// CalendarEvent is a single agenda entry. JSON names match the persisted
// documents and backup files.
type CalendarEvent struct {
	ID              string `json:"id"`
	ParentID        string `json:"parentId,omitempty"`
	Title           string `json:"title"`
	Type            string `json:"type"`
	Date            string `json:"date"`
	Time            string `json:"time,omitempty"`
	Notes           string `json:"notes,omitempty"`
	IsDone          bool   `json:"isDone"`
	IsAutoGenerated bool   `json:"isAutoGenerated,omitempty"`
	IsIES           bool   `json:"isIES,omitempty"`
}

// IsDependent reports whether the event was derived from a primary event.
func (e CalendarEvent) IsDependent() bool {
	return e.ParentID != ""
}

// SortTime returns the time-of-day used for same-day ordering.
func (e CalendarEvent) SortTime() string {
	if e.Time == "" {
		return "00:00"
	}
	return e.Time
}

// Draft is an unvalidated request for a new primary event.
type Draft struct {
	Title           string   `json:"title"`
	Type            string   `json:"type"`
	Date            string   `json:"date"`
	Time            string   `json:"time,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	CustomReminders []string `json:"customReminders,omitempty"`
	IsIES           bool     `json:"isIES,omitempty"`
}
