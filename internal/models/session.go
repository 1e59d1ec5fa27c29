package models

import "time"

// Term identifies one of the three terms of an academic session.
type Term string

const (
	TermFirst  Term = "1"
	TermSecond Term = "2"
	TermThird  Term = "3"
)

// Label returns the display name used on report cards.
func (t Term) Label() string {
	switch t {
	case TermFirst:
		return "First Term"
	case TermSecond:
		return "Second Term"
	case TermThird:
		return "Third Term"
	default:
		return string(t)
	}
}

// Valid reports whether t is one of the three known terms.
func (t Term) Valid() bool {
	switch t {
	case TermFirst, TermSecond, TermThird:
		return true
	}
	return false
}

// Session represents an academic session such as "2024/2025".
// At most one session is active at a time.
type Session struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	StartYear int       `db:"start_year" json:"start_year"`
	EndYear   int       `db:"end_year" json:"end_year"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TermConfig pins the calendar window of one term within a session.
type TermConfig struct {
	ID             string     `db:"id" json:"id"`
	SessionID      string     `db:"session_id" json:"session_id"`
	Term           Term       `db:"term" json:"term"`
	StartDate      time.Time  `db:"start_date" json:"start_date"`
	EndDate        time.Time  `db:"end_date" json:"end_date"`
	NextTermBegins *time.Time `db:"next_term_begins" json:"next_term_begins,omitempty"`
}

// CurrentPeriod is the session and term the school calendar is presently in.
type CurrentPeriod struct {
	Session Session     `json:"session"`
	Term    Term        `json:"term"`
	Config  *TermConfig `json:"config,omitempty"`
}

// SessionFilter defines filters supported by the session list endpoint.
type SessionFilter struct {
	IsActive  *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
