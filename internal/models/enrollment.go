package models

import "time"

// Enrollment records that a student takes a subject in a session and term.
// The enrollment set is the membership gate for both ranking passes: a score
// without a matching enrollment never counts.
type Enrollment struct {
	ID         string    `db:"id" json:"id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	SubjectID  string    `db:"subject_id" json:"subject_id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	Term       Term      `db:"term" json:"term"`
	AssignedBy *string   `db:"assigned_by" json:"assigned_by,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// EnrollmentDetail enriches Enrollment with subject info for responses.
type EnrollmentDetail struct {
	Enrollment
	SubjectName       string     `db:"subject_name" json:"subject_name"`
	SubjectSection    AgeSection `db:"subject_section" json:"subject_section"`
	SubjectCompulsory bool       `db:"subject_compulsory" json:"subject_compulsory"`
}
