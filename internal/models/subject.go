package models

import "time"

// Subject represents an academic subject offered to one age section.
type Subject struct {
	ID         string     `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	AgeSection AgeSection `db:"age_section" json:"age_section"`
	Compulsory bool       `db:"compulsory" json:"compulsory"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// SubjectFilter captures supported filters for listing subjects.
type SubjectFilter struct {
	AgeSection AgeSection
	Compulsory *bool
	Search     string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
