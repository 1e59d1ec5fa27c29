package models

import "time"

// PositionPlaceholder is stored in position columns that do not apply,
// e.g. class_position_gp for Nursery and Primary records.
const PositionPlaceholder = "-"

// ScoreRecord is one student's result for a subject in a session and term.
// Which raw components are present depends on the student's age section:
// Nursery uses total_marks, Primary uses test/homework/classwork/exam, and
// Junior/Senior use ca/test_1/test_2/exam. The remaining fields are derived
// and recomputed on every save.
type ScoreRecord struct {
	ID        string `db:"id" json:"id"`
	StudentID string `db:"student_id" json:"student_id"`
	SubjectID string `db:"subject_id" json:"subject_id"`
	SessionID string `db:"session_id" json:"session_id"`
	Term      Term   `db:"term" json:"term"`

	CA         *float64 `db:"ca" json:"ca,omitempty"`
	Test1      *float64 `db:"test_1" json:"test_1,omitempty"`
	Test2      *float64 `db:"test_2" json:"test_2,omitempty"`
	Exam       *float64 `db:"exam" json:"exam,omitempty"`
	Test       *float64 `db:"test" json:"test,omitempty"`
	Homework   *float64 `db:"homework" json:"homework,omitempty"`
	Classwork  *float64 `db:"classwork" json:"classwork,omitempty"`
	TotalMarks *float64 `db:"total_marks" json:"total_marks,omitempty"`

	TotalScore      float64  `db:"total_score" json:"total_score"`
	Grade           string   `db:"grade" json:"grade"`
	GradePoint      *float64 `db:"grade_point" json:"grade_point,omitempty"`
	Description     string   `db:"description" json:"description"`
	SubjectPosition string   `db:"subject_position" json:"subject_position"`
	ClassPosition   string   `db:"class_position" json:"class_position"`
	ClassPositionGP string   `db:"class_position_gp" json:"class_position_gp"`

	UploadedBy *string   `db:"uploaded_by" json:"uploaded_by,omitempty"`
	Remarks    *string   `db:"remarks" json:"remarks,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// ScoreDetail is a score row joined with student and subject names, used by
// report cards and broadsheets.
type ScoreDetail struct {
	ScoreRecord
	SubjectName     string `db:"subject_name" json:"subject_name"`
	StudentName     string `db:"student_name" json:"student_name"`
	AdmissionNumber string `db:"admission_number" json:"admission_number"`
}

// SubjectStanding is one candidate row of a subject ranking pass: a score
// belonging to a roster member enrolled in the subject.
type SubjectStanding struct {
	ScoreID    string  `db:"score_id"`
	StudentID  string  `db:"student_id"`
	SectionID  string  `db:"section_id"`
	TotalScore float64 `db:"total_score"`
}

// ClassStanding is one candidate row of a class ranking pass.
type ClassStanding struct {
	ScoreID    string   `db:"score_id"`
	StudentID  string   `db:"student_id"`
	TotalScore float64  `db:"total_score"`
	GradePoint *float64 `db:"grade_point"`
}

// SubjectPositionUpdate assigns a subject position to one score row.
type SubjectPositionUpdate struct {
	ScoreID  string
	Position string
}

// ClassPositionUpdate assigns class positions to every score row of one
// student within the pass scope.
type ClassPositionUpdate struct {
	StudentID       string
	ClassPosition   string
	ClassPositionGP string
}
