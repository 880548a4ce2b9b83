package student

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"vtopassist-backend/lib/htmlutil"
	"vtopassist-backend/lib/scrapers/vtop"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	assignmentsPath       = "/vtop/examinations/StudentDA"
	assignmentsSearchPath = "/vtop/examinations/doDigitalAssignment"
	assignmentDetailPath  = "/vtop/examinations/processDigitalAssignment"
)

// maxAlternativeSemesters bounds the fallback sweep when the chosen
// semester's fetch fails outright.
const maxAlternativeSemesters = 3

var (
	fixedContainerRegex = regexp.MustCompile(`(?is)<div[^>]+id=["']fixedTableContainer["'][^>]*>.*?</table>`)

	refFuncRegex    = regexp.MustCompile(`(?i)myFunction\(['"]([^'"]+)['"]\)`)
	refOnclickRegex = regexp.MustCompile(`(?i)onclick=["'][^"']*\(['"]([^'"]+)['"]\)[^"']*["']`)
	refDataRegex    = regexp.MustCompile(`(?i)data-[^=]*=["']([^"']+)["']`)
	refClassRegex   = regexp.MustCompile(`(?i)['"](VL\d+)['"]`)
	brRegex         = regexp.MustCompile(`(?i)<br\s*/?>`)

	courseInfoRegex  = regexp.MustCompile(`(?is)<table[^>]*class=["']customTable["'][^>]*>.*?<tr[^>]*class=["'][^"']*tableContent[^"']*["'][^>]*>(.*?)</tr>.*?</table>`)
	detailTableRegex = regexp.MustCompile(`(?is)<table[^>]*class=["']customTable["'][^>]*>.*?<tr[^>]*class=["'][^"']*tableHeader[^"']*["'][^>]*>.*?<td[^>]*colspan=["']3["'][^>]*>Document Details</td>.*?</tr>(.*?)</table>`)
	dueSpanRegex     = regexp.MustCompile(`(?is)<span[^>]*style=["'][^"']*color:\s*(\w+)[^"']*["'][^>]*>([^<]+)</span>`)
	codeInputRegex   = regexp.MustCompile(`(?i)name=["']code["'][^>]*value=["']([^"']+)["']`)
)

// Assignments lists the digital assignment summary rows for a
// semester. Two-phase like the exam schedule, except the per-semester
// fetch must be multipart/form-data and a failed fetch falls back to
// up to three alternative semesters before settling for whatever the
// initial page contained.
func (c *Client) Assignments(ctx context.Context, semesterLabel string) (vtop.AssignmentsResult, error) {
	ctx, span := tracer.Start(ctx, "Assignments")
	defer span.End()

	initial, err := c.postForm(ctx, assignmentsPath, url.Values{
		"verifyMenu": {"true"},
		"x":          {utcClock()},
	}, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return vtop.AssignmentsResult{}, err
	}

	semesters := ParseSemesterOptions(initial)
	if len(semesters) == 0 {
		span.SetStatus(codes.Error, ErrNoSemesters.Error())
		return vtop.AssignmentsResult{}, ErrNoSemesters
	}

	selected := PickSemester(semesters, semesterLabel)
	span.SetAttributes(attribute.String("semester", selected.Label))

	body, err := c.fetchAssignmentsForSemester(ctx, selected.Value)
	if err != nil {
		slog.WarnContext(ctx, "assignment fetch failed, trying alternative semesters",
			slog.String("semester", selected.Label),
			slog.String("error", err.Error()))

		tried := 0
		for _, alt := range semesters {
			if alt.Value == selected.Value || tried >= maxAlternativeSemesters {
				continue
			}
			tried++
			altBody, altErr := c.fetchAssignmentsForSemester(ctx, alt.Value)
			if altErr == nil {
				body, selected = altBody, alt
				err = nil
				break
			}
		}
		if err != nil {
			// parse whatever the initial page carried
			body = initial
		}
	}

	return vtop.AssignmentsResult{
		Assignments: ParseAssignments(ctx, body),
		Semester:    &selected,
		Semesters:   semesters,
	}, nil
}

func (c *Client) fetchAssignmentsForSemester(ctx context.Context, semesterValue string) (string, error) {
	return c.postMultipart(ctx, assignmentsSearchPath, map[string]string{
		"semesterSubId": semesterValue,
		"x":             utcClock(),
	})
}

// ParseAssignments scans the summary table. Each row's dashboard
// reference id is recovered by a chain of patterns, falling back to
// the class number; a miss on the primary patterns is logged rather
// than raised so upstream markup drift is visible without breaking
// the scrape.
func ParseAssignments(ctx context.Context, html string) []vtop.AssignmentSummary {
	if html == "" {
		return nil
	}

	scope := fixedContainerRegex.FindString(html)
	if scope == "" {
		scope = html
	}

	var assignments []vtop.AssignmentSummary
	for _, row := range htmlutil.RowsMatching(scope, contentRowRegex) {
		raw := htmlutil.Cells(row)
		cells := make([]string, len(raw))
		for i, cell := range raw {
			cells[i] = htmlutil.StripTags(cell)
		}
		if len(cells) < 7 {
			continue
		}

		summary := vtop.AssignmentSummary{
			Index:       cells[0],
			ClassNumber: cells[1],
			CourseCode:  cells[2],
			CourseTitle: cells[3],
		}
		if len(cells) >= 8 {
			summary.UpcomingDue = htmlutil.StripTags(brRegex.ReplaceAllString(raw[4], " | "))
			summary.CourseType = cells[5]
			summary.FacultyName = cells[6]
		} else {
			summary.CourseType = cells[4]
			summary.FacultyName = cells[5]
		}

		summary.DashboardRef = extractDashboardRef(ctx, row, summary.ClassNumber)
		assignments = append(assignments, summary)
	}
	return assignments
}

// extractDashboardRef tries the known reference-id shapes in order:
// inline script-call argument, onclick argument, data attribute, then
// a bare class-id literal. The class number is the last resort.
func extractDashboardRef(ctx context.Context, row string, classNumber string) string {
	for _, re := range []*regexp.Regexp{refFuncRegex, refOnclickRegex, refDataRegex, refClassRegex} {
		if m := re.FindStringSubmatch(row); m != nil {
			return m[len(m)-1]
		}
	}
	slog.WarnContext(ctx, "no dashboard reference pattern matched, using class number",
		slog.String("classNumber", classNumber))
	return classNumber
}

// AssignmentDetails fetches the per-course assignment breakdown for a
// class reference id obtained from a summary row.
func (c *Client) AssignmentDetails(ctx context.Context, classID string) (vtop.AssignmentDetailsResult, error) {
	ctx, span := tracer.Start(ctx, "AssignmentDetails")
	span.SetAttributes(attribute.String("classId", classID))
	defer span.End()

	body, err := c.postForm(ctx, assignmentDetailPath, url.Values{
		"classId": {classID},
		"x":       {utcClock()},
	}, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return vtop.AssignmentDetailsResult{}, err
	}

	result := ParseAssignmentDetails(body)
	result.ClassID = classID
	return result, nil
}

// ParseAssignmentDetails reads the two customTable blocks of a detail
// page: a single-row course header and the "Document Details" table
// whose rows describe each assignment document.
func ParseAssignmentDetails(html string) vtop.AssignmentDetailsResult {
	result := vtop.AssignmentDetailsResult{Assignments: []vtop.AssignmentDetail{}}
	if html == "" {
		return result
	}

	if m := courseInfoRegex.FindStringSubmatch(html); m != nil {
		cells := htmlutil.CellsText(m[1])
		if len(cells) >= 5 {
			result.CourseInfo = &vtop.AssignmentCourseInfo{
				Semester:    cells[0],
				CourseCode:  cells[1],
				CourseTitle: cells[2],
				CourseType:  cells[3],
				ClassNumber: cells[4],
			}
		}
	}

	m := detailTableRegex.FindStringSubmatch(html)
	if m == nil {
		return result
	}
	for _, row := range htmlutil.RowsMatching(m[1], contentRowRegex) {
		cells := htmlutil.Cells(row)
		if len(cells) < 9 {
			continue
		}

		dueDate := htmlutil.StripTags(cells[4])
		dueDateColor := "unknown"
		if due := dueSpanRegex.FindStringSubmatch(cells[4]); due != nil {
			dueDateColor = due[1]
			dueDate = strings.TrimSpace(due[2])
		}

		lastUpdated := htmlutil.StripTags(cells[6])
		if lastUpdated == "" {
			lastUpdated = "Not uploaded"
		}

		detail := vtop.AssignmentDetail{
			SlNo:         htmlutil.StripTags(cells[0]),
			Title:        htmlutil.StripTags(cells[1]),
			MaxMark:      htmlutil.StripTags(cells[2]),
			Weightage:    htmlutil.StripTags(cells[3]),
			DueDate:      dueDate,
			DueDateColor: dueDateColor,
			HasQP:        len(strings.TrimSpace(cells[5])) > 10,
			LastUpdated:  lastUpdated,
			CanUpload:    strings.Contains(cells[7], "bi-pencil-fill") || strings.Contains(cells[7], "editAssignment"),
			CanDownload:  !strings.Contains(cells[8], "text-danger") && strings.Contains(cells[8], "href"),
		}
		if code := codeInputRegex.FindStringSubmatch(cells[7]); code != nil {
			detail.Code = code[1]
		}
		result.Assignments = append(result.Assignments, detail)
	}
	return result
}
