// resultsctl is a small operations console for the results database. It
// connects to Postgres with the same configuration the API server reads, so
// rosters and standings stay inspectable even when the HTTP layer is down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/riseschools/results-api/internal/models"
	"github.com/riseschools/results-api/internal/repository"
	"github.com/riseschools/results-api/internal/service"
	"github.com/riseschools/results-api/pkg/config"
	"github.com/riseschools/results-api/pkg/database"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		color.Red("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		color.Red("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	app := &console{
		sections: repository.NewSectionRepository(db),
		scores:   repository.NewScoreRepository(db),
		subjects: repository.NewSubjectRepository(db),
		sessions: service.NewSessionService(repository.NewSessionRepository(db), nil, nil),
	}

	ctx := context.Background()
	var run func(context.Context, []string) error
	switch os.Args[1] {
	case "sections":
		run = app.sectionsCmd
	case "standings":
		run = app.standingsCmd
	case "sheet":
		run = app.sheetCmd
	default:
		usage()
		os.Exit(1)
	}

	if err := run(ctx, os.Args[2:]); err != nil {
		color.Red("%v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `resultsctl inspects the results database directly.

Usage:
  resultsctl sections  [-session <id>]
  resultsctl standings -section <id> -subject <id> [-session <id>] [-term <1|2|3>]
  resultsctl sheet     -section <id> [-session <id>] [-term <1|2|3>]

Connection settings come from the same environment (.env) the API server uses.
Session and term default to the current calendar period.`)
}

type console struct {
	sections *repository.SectionRepository
	scores   *repository.ScoreRepository
	subjects *repository.SubjectRepository
	sessions *service.SessionService
}

// period fills in whichever of session and term the caller left blank from
// the current calendar period.
func (a *console) period(ctx context.Context, sessionID, term string) (string, models.Term, error) {
	t := models.Term(term)
	if term != "" && !t.Valid() {
		return "", "", fmt.Errorf("term must be 1, 2 or 3, got %q", term)
	}
	if sessionID != "" && t.Valid() {
		return sessionID, t, nil
	}
	current, err := a.sessions.Current(ctx)
	if err != nil {
		return "", "", fmt.Errorf("resolve current period: %w", err)
	}
	if sessionID == "" {
		sessionID = current.Session.ID
	}
	if !t.Valid() {
		t = current.Term
	}
	return sessionID, t, nil
}

func (a *console) sectionsCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sections", flag.ExitOnError)
	sessionID := fs.String("session", "", "session id (defaults to the active session)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, _, err := a.period(ctx, *sessionID, "")
	if err != nil {
		return err
	}

	sections, total, err := a.sections.List(ctx, models.SectionFilter{SessionID: id, Page: 1, PageSize: 100})
	if err != nil {
		return err
	}
	if len(sections) == 0 {
		color.Yellow("No class sections found for session %s", id)
		return nil
	}

	color.Yellow("\nClass Sections for %s (%d)", sections[0].SessionName, total)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Section", "Age Section", "Students"})
	for _, s := range sections {
		table.Append([]string{s.ID, s.Name(), string(s.AgeSection), strconv.Itoa(s.StudentCnt)})
	}
	table.Render()
	return nil
}

func (a *console) standingsCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("standings", flag.ExitOnError)
	sectionID := fs.String("section", "", "class section id (required)")
	subjectID := fs.String("subject", "", "subject id (required)")
	sessionID := fs.String("session", "", "session id (defaults to the active session)")
	term := fs.String("term", "", "term 1, 2 or 3 (defaults to the current term)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sectionID == "" || *subjectID == "" {
		return fmt.Errorf("standings requires -section and -subject")
	}

	id, t, err := a.period(ctx, *sessionID, *term)
	if err != nil {
		return err
	}

	subject, err := a.subjects.FindByID(ctx, *subjectID)
	if err != nil {
		return fmt.Errorf("subject %s: %w", *subjectID, err)
	}
	section, err := a.sections.FindByID(ctx, *sectionID)
	if err != nil {
		return fmt.Errorf("section %s: %w", *sectionID, err)
	}

	rows, err := a.scores.ListBySection(ctx, *sectionID, id, t)
	if err != nil {
		return err
	}
	var standings []models.ScoreDetail
	for _, row := range rows {
		if row.SubjectID == *subjectID {
			standings = append(standings, row)
		}
	}
	if len(standings) == 0 {
		color.Yellow("No %s scores recorded for %s in term %s", subject.Name, section.Name(), t)
		return nil
	}
	sort.SliceStable(standings, func(i, j int) bool {
		if standings[i].TotalScore != standings[j].TotalScore {
			return standings[i].TotalScore > standings[j].TotalScore
		}
		return standings[i].AdmissionNumber < standings[j].AdmissionNumber
	})

	color.Yellow("\n%s Standings: %s, Term %s", subject.Name, section.Name(), t)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Position", "Admission No", "Student", "Total", "Grade"})
	for _, s := range standings {
		table.Append([]string{
			s.SubjectPosition,
			s.AdmissionNumber,
			s.StudentName,
			fmt.Sprintf("%.2f", s.TotalScore),
			s.Grade,
		})
	}
	table.Render()
	return nil
}

func (a *console) sheetCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sheet", flag.ExitOnError)
	sectionID := fs.String("section", "", "class section id (required)")
	sessionID := fs.String("session", "", "session id (defaults to the active session)")
	term := fs.String("term", "", "term 1, 2 or 3 (defaults to the current term)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sectionID == "" {
		return fmt.Errorf("sheet requires -section")
	}

	id, t, err := a.period(ctx, *sessionID, *term)
	if err != nil {
		return err
	}

	section, err := a.sections.FindByID(ctx, *sectionID)
	if err != nil {
		return fmt.Errorf("section %s: %w", *sectionID, err)
	}
	rows, err := a.scores.ListBySection(ctx, *sectionID, id, t)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		color.Yellow("No scores recorded for %s in term %s", section.Name(), t)
		return nil
	}

	// Column order follows subject names; row order follows admission numbers.
	subjectNames := map[string]string{}
	type sheetRow struct {
		admission string
		student   string
		totals    map[string]float64
		position  string
	}
	byStudent := map[string]*sheetRow{}
	for _, row := range rows {
		subjectNames[row.SubjectID] = row.SubjectName
		entry, ok := byStudent[row.StudentID]
		if !ok {
			entry = &sheetRow{
				admission: row.AdmissionNumber,
				student:   row.StudentName,
				totals:    map[string]float64{},
			}
			byStudent[row.StudentID] = entry
		}
		entry.totals[row.SubjectID] = row.TotalScore
		if row.ClassPosition != "" {
			entry.position = row.ClassPosition
		}
	}

	subjectIDs := make([]string, 0, len(subjectNames))
	for sid := range subjectNames {
		subjectIDs = append(subjectIDs, sid)
	}
	sort.Slice(subjectIDs, func(i, j int) bool {
		return subjectNames[subjectIDs[i]] < subjectNames[subjectIDs[j]]
	})
	students := make([]*sheetRow, 0, len(byStudent))
	for _, entry := range byStudent {
		students = append(students, entry)
	}
	sort.Slice(students, func(i, j int) bool {
		return students[i].admission < students[j].admission
	})

	header := []string{"Admission No", "Student"}
	for _, sid := range subjectIDs {
		header = append(header, subjectNames[sid])
	}
	header = append(header, "Average", "Position")

	color.Yellow("\nBroadsheet: %s, %s Term %s", section.Name(), section.SessionName, t)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	for _, entry := range students {
		cells := []string{entry.admission, entry.student}
		var sum float64
		var counted int
		for _, sid := range subjectIDs {
			total, ok := entry.totals[sid]
			if !ok {
				cells = append(cells, "-")
				continue
			}
			cells = append(cells, fmt.Sprintf("%.2f", total))
			// Zero totals stay out of the average, as in the class ranking pass.
			if total > 0 {
				sum += total
				counted++
			}
		}
		avg := "-"
		if counted > 0 {
			avg = fmt.Sprintf("%.2f", sum/float64(counted))
		}
		position := entry.position
		if position == "" {
			position = models.PositionPlaceholder
		}
		cells = append(cells, avg, position)
		table.Append(cells)
	}
	table.Render()
	return nil
}
