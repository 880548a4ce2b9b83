package student

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"vtopassist-backend/lib/htmlutil"
	"vtopassist-backend/lib/scrapers/vtop"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	examSchedulePath = "/vtop/examinations/StudExamSchedule"
	examSearchPath   = "/vtop/examinations/doSearchExamScheduleForStudent"
)

var ErrNoSemesters = errors.New("no semester options found")

var (
	semesterSelectRegex = regexp.MustCompile(`(?is)<select[^>]+id=["']semesterSubId["'][^>]*>(.*?)</select>`)
	optionRegex         = regexp.MustCompile(`(?is)<option[^>]*value=["']([^"']+)["'][^>]*>(.*?)</option>`)

	fixedTableRegex = regexp.MustCompile(`(?is)<div[^>]*class=["'][^"']*fixedTableContainer[^"']*["'][^>]*>(.*?)</div>`)
	examTypeRegex   = regexp.MustCompile(`(?is)<tr[^>]*class=["'][^"']*tableContent[^"']*["'][^>]*>\s*<td[^>]*class=["'][^"']*panelHead-secondary[^"']*["'][^>]*>(FAT|CAT2|CAT1)(?:<button[^>]*>.*?</button>)?</td>\s*</tr>`)
	contentRowRegex = regexp.MustCompile(`(?is)<tr[^>]*class=["'][^"']*tableContent[^"']*["'][^>]*>(.*?)</tr>`)
)

// ExamSchedule fetches the exam timetable, two-phase: the schedule
// page is loaded to discover semester options, then the table for the
// requested (or default) semester is fetched and parsed. semesterLabel
// may be empty, a substring of a semester's label, or an exact option
// value.
func (c *Client) ExamSchedule(ctx context.Context, semesterLabel string) (vtop.ExamScheduleResult, error) {
	ctx, span := tracer.Start(ctx, "ExamSchedule")
	defer span.End()

	initial, err := c.postForm(ctx, examSchedulePath, url.Values{
		"verifyMenu": {"true"},
	}, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return vtop.ExamScheduleResult{}, err
	}

	semesters := ParseSemesterOptions(initial)
	if len(semesters) == 0 {
		span.SetStatus(codes.Error, ErrNoSemesters.Error())
		return vtop.ExamScheduleResult{}, ErrNoSemesters
	}

	selected := PickSemester(semesters, semesterLabel)
	span.SetAttributes(attribute.String("semester", selected.Label))

	body, err := c.postForm(ctx, examSearchPath, url.Values{
		"semesterSubId": {selected.Value},
	}, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return vtop.ExamScheduleResult{}, err
	}

	return vtop.ExamScheduleResult{
		Semester:  &selected,
		Semesters: semesters,
		Schedule:  ParseExamSchedule(body),
	}, nil
}

// ParseSemesterOptions reads the semester dropdown. Placeholder
// entries ("Choose Semester", "-- Select --") are dropped.
func ParseSemesterOptions(html string) []vtop.SemesterOption {
	scope := html
	if m := semesterSelectRegex.FindStringSubmatch(html); m != nil {
		scope = m[1]
	}

	var options []vtop.SemesterOption
	for _, m := range optionRegex.FindAllStringSubmatch(scope, -1) {
		value := strings.TrimSpace(m[1])
		label := htmlutil.StripTags(m[2])
		lower := strings.ToLower(label)
		if value == "" || label == "" ||
			strings.Contains(lower, "choose") || strings.Contains(lower, "select") {
			continue
		}
		options = append(options, vtop.SemesterOption{
			Value:    value,
			Label:    label,
			Selected: strings.Contains(m[0], "selected"),
		})
	}
	return options
}

// PickSemester resolves the requested semester against the options:
// label substring or exact value first, then the option the portal
// marked selected, then the first one.
func PickSemester(options []vtop.SemesterOption, requested string) vtop.SemesterOption {
	if requested != "" {
		lower := strings.ToLower(requested)
		for _, opt := range options {
			if strings.Contains(strings.ToLower(opt.Label), lower) || opt.Value == requested {
				return opt
			}
		}
	}
	for _, opt := range options {
		if opt.Selected {
			return opt
		}
	}
	return options[0]
}

// ParseExamSchedule splits the schedule table into its FAT/CAT1/CAT2
// sections, delimited by type-header rows, and parses each section's
// 13-column rows. A missing table yields an empty schedule.
func ParseExamSchedule(html string) vtop.ExamSchedule {
	schedule := vtop.ExamSchedule{
		FAT:  []vtop.ExamRecord{},
		CAT1: []vtop.ExamRecord{},
		CAT2: []vtop.ExamRecord{},
	}

	tableMatch := fixedTableRegex.FindStringSubmatch(html)
	if tableMatch == nil {
		return schedule
	}
	table := tableMatch[1]

	headers := examTypeRegex.FindAllStringSubmatchIndex(table, -1)
	for i, header := range headers {
		examType := table[header[2]:header[3]]
		sectionStart := header[1]
		sectionEnd := len(table)
		if i+1 < len(headers) {
			sectionEnd = headers[i+1][0]
		}
		rows := parseExamRows(table[sectionStart:sectionEnd])

		switch vtop.ExamType(examType) {
		case vtop.ExamFAT:
			schedule.FAT = rows
		case vtop.ExamCAT1:
			schedule.CAT1 = rows
		case vtop.ExamCAT2:
			schedule.CAT2 = rows
		}
	}
	return schedule
}

func parseExamRows(section string) []vtop.ExamRecord {
	records := []vtop.ExamRecord{}
	for _, row := range htmlutil.RowsMatching(section, contentRowRegex) {
		// type headers and spacer rows reuse the tableContent class
		if strings.Contains(row, "panelHead-secondary") || strings.Contains(row, "colspan") {
			continue
		}
		cells := htmlutil.CellsText(row)
		if len(cells) < 13 {
			continue
		}
		records = append(records, vtop.ExamRecord{
			SlNo:          cells[0],
			CourseCode:    cells[1],
			CourseTitle:   cells[2],
			CourseType:    cells[3],
			ClassID:       cells[4],
			Slot:          cells[5],
			ExamDate:      cells[6],
			ExamSession:   cells[7],
			ReportingTime: cells[8],
			ExamTime:      cells[9],
			Venue:         cells[10],
			SeatLocation:  cells[11],
			SeatNo:        cells[12],
		})
	}
	return records
}
