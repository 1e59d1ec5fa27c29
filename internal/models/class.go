package models

import "time"

// AgeSection groups class levels into the four bands that decide which
// grading policy and score components apply to a student.
type AgeSection string

const (
	SectionNursery AgeSection = "Nursery"
	SectionPrimary AgeSection = "Primary"
	SectionJunior  AgeSection = "Junior"
	SectionSenior  AgeSection = "Senior"
)

// Valid reports whether s is one of the four known age sections.
func (s AgeSection) Valid() bool {
	switch s {
	case SectionNursery, SectionPrimary, SectionJunior, SectionSenior:
		return true
	}
	return false
}

// UsesGradePoints reports whether the section carries a grade-point axis.
// Only Junior and Senior results are ranked by grade point.
func (s AgeSection) UsesGradePoints() bool {
	return s == SectionJunior || s == SectionSenior
}

type levelInfo struct {
	section AgeSection
	order   int
}

// Level names and their ordering follow the school ladder from Creche to SS 3.
var classLevels = map[string]levelInfo{
	"Creche":      {SectionNursery, 1},
	"Pre-Nursery": {SectionNursery, 2},
	"Nursery 1":   {SectionNursery, 3},
	"Nursery 2":   {SectionNursery, 4},
	"Nursery 3":   {SectionNursery, 5},
	"Primary 1":   {SectionPrimary, 6},
	"Primary 2":   {SectionPrimary, 7},
	"Primary 3":   {SectionPrimary, 8},
	"Primary 4":   {SectionPrimary, 9},
	"Primary 5":   {SectionPrimary, 10},
	"JSS 1":       {SectionJunior, 11},
	"JSS 2":       {SectionJunior, 12},
	"JSS 3":       {SectionJunior, 13},
	"SS 1":        {SectionSenior, 14},
	"SS 2":        {SectionSenior, 15},
	"SS 3":        {SectionSenior, 16},
}

// SectionForLevel resolves a class level name to its age section and ladder
// order. The boolean is false for unknown levels.
func SectionForLevel(level string) (AgeSection, int, bool) {
	info, ok := classLevels[level]
	if !ok {
		return "", 0, false
	}
	return info.section, info.order, true
}

// SchoolClass represents one rung of the class ladder (e.g. "JSS 2").
type SchoolClass struct {
	ID         string     `db:"id" json:"id"`
	Level      string     `db:"level" json:"level"`
	AgeSection AgeSection `db:"age_section" json:"age_section"`
	LevelOrder int        `db:"level_order" json:"level_order"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// ClassSection is one arm of a class within a session (e.g. "JSS 2 B").
// Its roster is the set of students whose section_id points at it.
type ClassSection struct {
	ID        string    `db:"id" json:"id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	Suffix    string    `db:"suffix" json:"suffix"`
	SessionID string    `db:"session_id" json:"session_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SectionDetail enriches ClassSection with class and session context.
type SectionDetail struct {
	ClassSection
	Level       string     `db:"level" json:"level"`
	AgeSection  AgeSection `db:"age_section" json:"age_section"`
	LevelOrder  int        `db:"level_order" json:"level_order"`
	SessionName string     `db:"session_name" json:"session_name"`
	StudentCnt  int        `db:"student_count" json:"student_count"`
}

// Name returns the display name of the section, e.g. "JSS 2 B".
func (d SectionDetail) Name() string {
	return d.Level + " " + d.Suffix
}

// SectionFilter defines filter criteria for listing class sections.
type SectionFilter struct {
	SessionID  string
	ClassID    string
	AgeSection AgeSection
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
