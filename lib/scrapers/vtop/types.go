// Package vtop holds the data model shared by the login protocol
// (core) and the authenticated scrapers (student): the portal session
// and the records produced by parsing the portal's server-rendered
// HTML. Records are plain values, built once per scrape and never
// mutated.
package vtop

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var ErrSessionInvalid = errors.New("vtop: session is missing cookies or context")

// Context is the token triple every authenticated POST must carry.
type Context struct {
	CsrfName     string `json:"csrfName"`
	CsrfValue    string `json:"csrfValue"`
	AuthorizedID string `json:"authorizedId"`
}

// Session is the authenticated state produced by a successful login.
// Cookies and Context must survive a serialization round trip and
// reproduce byte-identical request headers.
type Session struct {
	Username      string            `json:"username"`
	Cookies       map[string]string `json:"cookies"`
	Context       Context           `json:"context"`
	DashboardHTML string            `json:"dashboardHtml,omitempty"`
	CreatedAt     time.Time         `json:"timestamp"`

	// best-effort caches populated during login
	ExamSchedule        *ExamSchedule       `json:"examSchedule,omitempty"`
	ExamSemester        *SemesterOption     `json:"examSemester,omitempty"`
	Assignments         []AssignmentSummary `json:"assignments,omitempty"`
	AssignmentsSemester *SemesterOption     `json:"assignmentsSemester,omitempty"`
}

// Valid reports whether the session can be used for scraping. A
// session missing any required piece must be discarded, not repaired.
func (s *Session) Valid() error {
	if s == nil || s.Username == "" || len(s.Cookies) == 0 ||
		s.Context.CsrfValue == "" || s.Context.AuthorizedID == "" {
		return ErrSessionInvalid
	}
	return nil
}

// CookieHeader renders the jar as a Cookie header value. Names are
// sorted so two copies of one session always emit identical bytes.
func (s *Session) CookieHeader() string {
	names := make([]string, 0, len(s.Cookies))
	for name := range s.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(s.Cookies[name])
	}
	return b.String()
}

// SemesterOption is one entry of the portal's semester dropdown.
type SemesterOption struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Selected bool   `json:"selected,omitempty"`
}

type AttendanceStatus string

const (
	AttendanceExcellent AttendanceStatus = "excellent"
	AttendanceGood      AttendanceStatus = "good"
	AttendanceWarning   AttendanceStatus = "warning"
	AttendanceDanger    AttendanceStatus = "danger"
)

type AttendanceRecord struct {
	CourseCode        string           `json:"courseCode"`
	CourseName        string           `json:"courseName"`
	CourseType        string           `json:"courseType"`
	AttendancePercent float64          `json:"attendance"`
	Status            AttendanceStatus `json:"attendanceStatus"`
	Remarks           string           `json:"remarks"`
}

type ExamType string

const (
	ExamFAT  ExamType = "FAT"
	ExamCAT1 ExamType = "CAT1"
	ExamCAT2 ExamType = "CAT2"
)

type ExamRecord struct {
	SlNo          string `json:"slNo"`
	CourseCode    string `json:"courseCode"`
	CourseTitle   string `json:"courseTitle"`
	CourseType    string `json:"courseType"`
	ClassID       string `json:"classId"`
	Slot          string `json:"slot"`
	ExamDate      string `json:"examDate"`
	ExamSession   string `json:"examSession"`
	ReportingTime string `json:"reportingTime"`
	ExamTime      string `json:"examTime"`
	Venue         string `json:"venue"`
	SeatLocation  string `json:"seatLocation"`
	SeatNo        string `json:"seatNo"`
}

type ExamSchedule struct {
	FAT  []ExamRecord `json:"FAT"`
	CAT1 []ExamRecord `json:"CAT1"`
	CAT2 []ExamRecord `json:"CAT2"`
}

type ExamScheduleResult struct {
	Semester  *SemesterOption  `json:"semester"`
	Semesters []SemesterOption `json:"semesters"`
	Schedule  ExamSchedule     `json:"schedule"`
}

type AssignmentSummary struct {
	Index        string `json:"index"`
	ClassNumber  string `json:"classNumber"`
	CourseCode   string `json:"courseCode"`
	CourseTitle  string `json:"courseTitle"`
	UpcomingDue  string `json:"upcomingDue"`
	CourseType   string `json:"courseType"`
	FacultyName  string `json:"facultyName"`
	DashboardRef string `json:"dashboardRef"`
}

type AssignmentsResult struct {
	Assignments []AssignmentSummary `json:"assignments"`
	Semester    *SemesterOption     `json:"semester"`
	Semesters   []SemesterOption    `json:"semesters"`
}

type AssignmentCourseInfo struct {
	Semester    string `json:"semester"`
	CourseCode  string `json:"courseCode"`
	CourseTitle string `json:"courseTitle"`
	CourseType  string `json:"courseType"`
	ClassNumber string `json:"classNumber"`
}

type AssignmentDetail struct {
	SlNo         string `json:"slNo"`
	Title        string `json:"title"`
	MaxMark      string `json:"maxMark"`
	Weightage    string `json:"weightage"`
	DueDate      string `json:"dueDate"`
	DueDateColor string `json:"dueDateColor"`
	HasQP        bool   `json:"hasQP"`
	LastUpdated  string `json:"lastUpdated"`
	CanUpload    bool   `json:"canUpload"`
	CanDownload  bool   `json:"canDownload"`
	Code         string `json:"code,omitempty"`
}

type AssignmentDetailsResult struct {
	CourseInfo  *AssignmentCourseInfo `json:"courseInfo"`
	Assignments []AssignmentDetail    `json:"assignments"`
	ClassID     string                `json:"classId"`
}

type FacultySummary struct {
	EmployeeID  string `json:"employeeId"`
	Name        string `json:"name"`
	Designation string `json:"designation"`
	School      string `json:"school"`
}

type FacultySearchResult struct {
	Results     []FacultySummary `json:"results"`
	SearchQuery string           `json:"searchQuery"`
}

type OpenHour struct {
	Day    string `json:"day"`
	Timing string `json:"timing"`
}

type FacultyDetail struct {
	Name        string     `json:"name,omitempty"`
	Designation string     `json:"designation,omitempty"`
	Department  string     `json:"department,omitempty"`
	School      string     `json:"school,omitempty"`
	Email       string     `json:"email,omitempty"`
	Cabin       string     `json:"cabin,omitempty"`
	PhotoURL    string     `json:"photoUrl,omitempty"`
	OpenHours   []OpenHour `json:"openHours"`
}

type FacultyDetailsResult struct {
	Details    FacultyDetail `json:"details"`
	EmployeeID string        `json:"employeeId"`
}
