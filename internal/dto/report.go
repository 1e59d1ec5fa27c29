package dto

import (
	"time"

	"github.com/riseschools/results-api/internal/models"
)

// ReportCard is one student's full term result sheet.
type ReportCard struct {
	Student     ReportStudent      `json:"student"`
	SessionID   string             `json:"sessionId"`
	SessionName string             `json:"sessionName"`
	Term        models.Term        `json:"term"`
	TermLabel   string             `json:"termLabel"`
	Subjects    []ReportSubjectRow `json:"subjects"`
	Summary     ReportSummary      `json:"summary"`
	GeneratedAt time.Time          `json:"generatedAt"`
}

// ReportStudent identifies the student the card belongs to.
type ReportStudent struct {
	ID              string `json:"id"`
	FullName        string `json:"fullName"`
	AdmissionNumber string `json:"admissionNumber"`
	Section         string `json:"section"`
	AgeSection      string `json:"ageSection"`
}

// ReportSubjectRow is one subject line on a report card. Which raw component
// columns are populated depends on the student's age section.
type ReportSubjectRow struct {
	SubjectID   string   `json:"subjectId"`
	SubjectName string   `json:"subjectName"`
	CA          *float64 `json:"ca,omitempty"`
	Test1       *float64 `json:"test1,omitempty"`
	Test2       *float64 `json:"test2,omitempty"`
	Test        *float64 `json:"test,omitempty"`
	Homework    *float64 `json:"homework,omitempty"`
	Classwork   *float64 `json:"classwork,omitempty"`
	TotalMarks  *float64 `json:"totalMarks,omitempty"`
	Exam        *float64 `json:"exam,omitempty"`
	TotalScore  float64  `json:"totalScore"`
	Grade       string   `json:"grade"`
	GradePoint  *float64 `json:"gradePoint,omitempty"`
	Description string   `json:"description"`
	Position    string   `json:"position"`
	Remarks     *string  `json:"remarks,omitempty"`
}

// ReportSummary aggregates the card footer: averages, class standing and
// class size.
type ReportSummary struct {
	SubjectsTaken   int      `json:"subjectsTaken"`
	TotalScore      float64  `json:"totalScore"`
	Average         float64  `json:"average"`
	AverageGP       *float64 `json:"averageGp,omitempty"`
	ClassPosition   string   `json:"classPosition"`
	ClassPositionGP string   `json:"classPositionGp"`
	ClassSize       int      `json:"classSize"`
}

// Broadsheet is the section-wide result grid for one session and term.
type Broadsheet struct {
	SectionID   string              `json:"sectionId"`
	SectionName string              `json:"sectionName"`
	SessionID   string              `json:"sessionId"`
	Term        models.Term         `json:"term"`
	Subjects    []BroadsheetSubject `json:"subjects"`
	Rows        []BroadsheetRow     `json:"rows"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

// BroadsheetSubject is one column of the grid.
type BroadsheetSubject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BroadsheetRow is one student's line across every subject column. Totals and
// Grades are keyed by subject ID; subjects the student has no score for are
// absent from both maps.
type BroadsheetRow struct {
	StudentID       string             `json:"studentId"`
	StudentName     string             `json:"studentName"`
	AdmissionNumber string             `json:"admissionNumber"`
	Totals          map[string]float64 `json:"totals"`
	Grades          map[string]string  `json:"grades"`
	Average         float64            `json:"average"`
	ClassPosition   string             `json:"classPosition"`
	ClassPositionGP string             `json:"classPositionGp"`
}

// SectionSummary is the aggregate view of a section's results.
type SectionSummary struct {
	SectionID         string                `json:"sectionId"`
	SectionName       string                `json:"sectionName"`
	SessionID         string                `json:"sessionId"`
	Term              models.Term           `json:"term"`
	ClassSize         int                   `json:"classSize"`
	GradedStudents    int                   `json:"gradedStudents"`
	ClassAverage      float64               `json:"classAverage"`
	Subjects          []SubjectAggregateRow `json:"subjects"`
	GradeDistribution []GradeBucket         `json:"gradeDistribution"`
	TopPerformers     []TopPerformer        `json:"topPerformers"`
	GeneratedAt       time.Time             `json:"generatedAt"`
}

// SubjectAggregateRow summarises one subject's graded scores in a section.
type SubjectAggregateRow struct {
	SubjectID   string  `json:"subjectId"`
	SubjectName string  `json:"subjectName"`
	Graded      int     `json:"graded"`
	Average     float64 `json:"average"`
	Highest     float64 `json:"highest"`
	Lowest      float64 `json:"lowest"`
}

// GradeBucket is one bar of the grade distribution.
type GradeBucket struct {
	Grade string `json:"grade"`
	Count int    `json:"count"`
}

// TopPerformer is one entry of the section leaderboard.
type TopPerformer struct {
	StudentID       string  `json:"studentId"`
	StudentName     string  `json:"studentName"`
	AdmissionNumber string  `json:"admissionNumber"`
	Average         float64 `json:"average"`
	ClassPosition   string  `json:"classPosition"`
}

// ExportRequest captures POST /exports payload.
type ExportRequest struct {
	Kind      models.ExportKind   `json:"kind"`
	SessionID string              `json:"sessionId"`
	Term      models.Term         `json:"term"`
	SectionID *string             `json:"sectionId,omitempty"`
	StudentID *string             `json:"studentId,omitempty"`
	Format    models.ExportFormat `json:"format"`
}

// ExportJobResponse is returned after enqueueing an export.
type ExportJobResponse struct {
	ID     string              `json:"id"`
	Status models.ExportStatus `json:"status"`
}

// ExportStatusResponse exposes job state to polling clients.
type ExportStatusResponse struct {
	ID         string              `json:"id"`
	Status     models.ExportStatus `json:"status"`
	ResultURL  *string             `json:"resultUrl,omitempty"`
	Error      *string             `json:"error,omitempty"`
	FinishedAt *time.Time          `json:"finishedAt,omitempty"`
}
