package commands

import (
	"context"
	"log/slog"
	"os"
	"time"
	"vtopassist-backend/lib/configutil"
	"vtopassist-backend/lib/scrapers/vtop"
	"vtopassist-backend/lib/scrapers/vtop/core"
	"vtopassist-backend/lib/scrapers/vtop/student"
	"vtopassist-backend/lib/timezone"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type ScrapeConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Portal   string `json:"portal"`
}

var (
	scrapeSemester *string
	scrapeFaculty  *string
)

func init() {
	scrapeSemester = scrapeCmd.Flags().String("semester", "", "Semester label to scrape exams and assignments for.")
	scrapeFaculty = scrapeCmd.Flags().String("faculty", "", "Faculty name to search for instead of scraping student data.")
	rootCmd.AddCommand(scrapeCmd)
}

func createClient(ctx context.Context, cfg ScrapeConfig) *student.Client {
	loginCtx, cancel := context.WithTimeout(ctx, time.Minute*2)
	defer cancel()

	coreClient, err := core.NewClient(loginCtx, core.ClientOptions{
		BaseURL: cfg.Portal,
	})
	if err != nil {
		fatalerr("failed to initialize portal client", err)
	}

	result, err := coreClient.Login(loginCtx, cfg.Username, cfg.Password)
	if err != nil {
		fatalerr("failed to login to portal", err)
	}
	if !result.Success {
		slog.Error("login rejected", "reason", result.Error, "retryable", result.RequiresRetry)
		os.Exit(1)
	}

	client, err := student.NewClient(ctx, &vtop.Session{
		Username:      result.Context.AuthorizedID,
		Cookies:       result.Cookies,
		Context:       result.Context,
		DashboardHTML: result.DashboardHTML,
		CreatedAt:     timezone.Now(),
	}, student.ClientOptions{BaseURL: cfg.Portal})
	if err != nil {
		fatalerr("failed to initialize student client", err)
	}
	return client
}

func printAttendance(records []vtop.AttendanceRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Code", "Course", "Type", "%", "Status"})
	for _, r := range records {
		t.AppendRow(table.Row{r.CourseCode, r.CourseName, r.CourseType, r.AttendancePercent, r.Status})
	}
	t.Render()
}

func printExams(schedule vtop.ExamSchedule) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Exam", "Code", "Course", "Date", "Session", "Time", "Venue", "Seat"})
	for _, group := range []struct {
		name string
		rows []vtop.ExamRecord
	}{
		{string(vtop.ExamCAT1), schedule.CAT1},
		{string(vtop.ExamCAT2), schedule.CAT2},
		{string(vtop.ExamFAT), schedule.FAT},
	} {
		for _, r := range group.rows {
			t.AppendRow(table.Row{group.name, r.CourseCode, r.CourseTitle, r.ExamDate, r.ExamSession, r.ExamTime, r.Venue, r.SeatNo})
		}
	}
	t.Render()
}

func printAssignments(assignments []vtop.AssignmentSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Code", "Course", "Upcoming", "Faculty"})
	for _, a := range assignments {
		t.AppendRow(table.Row{a.CourseCode, a.CourseTitle, a.UpcomingDue, a.FacultyName})
	}
	t.Render()
}

func printFaculty(results []vtop.FacultySummary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Employee ID", "Name", "Designation", "School"})
	for _, f := range results {
		t.AppendRow(table.Row{f.EmployeeID, f.Name, f.Designation, f.School})
	}
	t.Render()
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--semester <label>] [--faculty <name>]",
	Short: "Logs into the portal and prints attendance, exams and assignments.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[ScrapeConfig]("config.json5")
		if err != nil {
			fatalerr("failed to read config", err)
		}

		ctx := cmd.Context()
		slog.Info("logging in", "username", cfg.Username)
		client := createClient(ctx, cfg)

		if *scrapeFaculty != "" {
			result, err := client.SearchFaculty(ctx, *scrapeFaculty)
			if err != nil {
				fatalerr("failed to search faculty", err)
			}
			printFaculty(result.Results)
			return
		}

		t1 := time.Now()

		attendance, err := client.Attendance(ctx)
		if err != nil {
			fatalerr("failed to scrape attendance", err)
		}
		printAttendance(attendance)

		exams, err := client.ExamSchedule(ctx, *scrapeSemester)
		if err != nil {
			fatalerr("failed to scrape exam schedule", err)
		}
		slog.Info("exam schedule", "semester", exams.Semester.Label)
		printExams(exams.Schedule)

		assignments, err := client.Assignments(ctx, *scrapeSemester)
		if err != nil {
			fatalerr("failed to scrape assignments", err)
		}
		printAssignments(assignments.Assignments)

		slog.Info("scraping time", "seconds", time.Since(t1).Seconds())
	},
}
