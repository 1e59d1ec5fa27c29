package models

import "time"

// Student represents a learner registered with the school.
type Student struct {
	ID              string    `db:"id" json:"id"`
	AdmissionNumber string    `db:"admission_number" json:"admission_number"`
	FirstName       string    `db:"first_name" json:"first_name"`
	LastName        string    `db:"last_name" json:"last_name"`
	Gender          string    `db:"gender" json:"gender"`
	SectionID       *string   `db:"section_id" json:"section_id,omitempty"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// FullName returns the student's display name.
func (s Student) FullName() string {
	return s.FirstName + " " + s.LastName
}

// StudentDetail contains student information with section context.
type StudentDetail struct {
	Student
	Level      *string     `db:"level" json:"level,omitempty"`
	Suffix     *string     `db:"suffix" json:"suffix,omitempty"`
	AgeSection *AgeSection `db:"age_section" json:"age_section,omitempty"`
	SessionID  *string     `db:"session_id" json:"session_id,omitempty"`
}

// SectionName returns the display name of the student's section, or "" when
// the student is not on any roster.
func (d StudentDetail) SectionName() string {
	if d.Level == nil || d.Suffix == nil {
		return ""
	}
	return *d.Level + " " + *d.Suffix
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	SectionID string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
