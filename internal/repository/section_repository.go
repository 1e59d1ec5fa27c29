package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/riseschools/results-api/internal/models"
)

// SectionRepository manages the class ladder, class sections and their
// rosters. A roster is the set of active students whose section_id points at
// the section.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs a SectionRepository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

// ListClasses returns the class ladder from Creche to SS 3.
func (r *SectionRepository) ListClasses(ctx context.Context) ([]models.SchoolClass, error) {
	const query = `SELECT id, level, age_section, level_order, created_at, updated_at FROM school_classes ORDER BY level_order ASC`
	var classes []models.SchoolClass
	if err := r.db.SelectContext(ctx, &classes, query); err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return classes, nil
}

// List returns class sections with class and session context plus roster size.
func (r *SectionRepository) List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, int, error) {
	base := `FROM class_sections cs
        JOIN school_classes c ON c.id = cs.class_id
        JOIN sessions se ON se.id = cs.session_id`
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("cs.session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("cs.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.AgeSection != "" {
		conditions = append(conditions, fmt.Sprintf("c.age_section = $%d", len(args)+1))
		args = append(args, filter.AgeSection)
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"level_order": "c.level_order",
		"suffix":      "cs.suffix",
		"created_at":  "cs.created_at",
	}
	if sortBy == "" {
		sortBy = "level_order"
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "c.level_order"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT cs.id, cs.class_id, cs.suffix, cs.session_id, cs.created_at, cs.updated_at,
        c.level, c.age_section, c.level_order, se.name AS session_name,
        (SELECT COUNT(*) FROM students st WHERE st.section_id = cs.id AND st.active = TRUE) AS student_count
        %s ORDER BY %s %s, cs.suffix ASC LIMIT %d OFFSET %d`, base, column, order, size, offset)

	var sections []models.SectionDetail
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sections: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sections: %w", err)
	}
	return sections, total, nil
}

// FindByID returns one section with class and session context.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.SectionDetail, error) {
	const query = `SELECT cs.id, cs.class_id, cs.suffix, cs.session_id, cs.created_at, cs.updated_at,
        c.level, c.age_section, c.level_order, se.name AS session_name,
        (SELECT COUNT(*) FROM students st WHERE st.section_id = cs.id AND st.active = TRUE) AS student_count
        FROM class_sections cs
        JOIN school_classes c ON c.id = cs.class_id
        JOIN sessions se ON se.id = cs.session_id
        WHERE cs.id = $1`
	var detail models.SectionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// RosterMembers returns the active students on the section's roster ordered
// by name.
func (r *SectionRepository) RosterMembers(ctx context.Context, sectionID string) ([]models.Student, error) {
	const query = `SELECT id, admission_number, first_name, last_name, gender, section_id, active, created_at, updated_at
        FROM students WHERE section_id = $1 AND active = TRUE
        ORDER BY last_name ASC, first_name ASC`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, sectionID); err != nil {
		return nil, fmt.Errorf("list roster members: %w", err)
	}
	return students, nil
}

// AssignStudent points the student's roster membership at the section.
func (r *SectionRepository) AssignStudent(ctx context.Context, studentID, sectionID string) error {
	const query = `UPDATE students SET section_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, studentID, sectionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("assign student to section: %w", err)
	}
	return nil
}

// RemoveStudent clears the student's roster membership.
func (r *SectionRepository) RemoveStudent(ctx context.Context, studentID string) error {
	const query = `UPDATE students SET section_id = NULL, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, studentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("remove student from section: %w", err)
	}
	return nil
}

// TeacherAssigned reports whether the user is assigned to teach the section.
func (r *SectionRepository) TeacherAssigned(ctx context.Context, sectionID, userID string) (bool, error) {
	const query = `SELECT 1 FROM section_teachers WHERE section_id = $1 AND user_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, sectionID, userID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check section teacher: %w", err)
	}
	return true, nil
}
