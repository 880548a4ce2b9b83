package student

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"vtopassist-backend/lib/htmlutil"
	"vtopassist-backend/lib/scrapers/vtop"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const attendancePath = "/vtop/get/dashboard/current/semester/course/details"

var (
	courseDataRegex = regexp.MustCompile(`(?is)<div[^>]*class=["'][^"']*courseData[^"']*["'][^>]*>.*?</table>`)
	// some portal builds drop the courseData wrapper and leave only a
	// plain table headed "Code - Course Name"
	altCourseTableRegex = regexp.MustCompile(`(?is)<table[^>]*class=["'][^"']*table[^"']*["'][^>]*>.*?<thead>.*?Code - Course Name.*?</table>`)

	centeredRowRegex = regexp.MustCompile(`(?is)<tr[^>]*class=["'][^"']*text-center[^"']*["'][^>]*>(.*?)</tr>`)
	boldSpanRegex    = regexp.MustCompile(`(?is)<span[^>]*class=["'][^"']*fw-bold[^"']*["'][^>]*>([^<]+)</span>`)
	darkSpanRegex    = regexp.MustCompile(`(?is)<span[^>]*class=["'][^"']*text-dark[^"']*["'][^>]*>([^<]+)</span>`)
	percentSpanRegex = regexp.MustCompile(`(?is)<span[^>]*>([\d.]+)</span>`)
)

// Attendance returns the current semester's per-course attendance.
// The dashboard HTML captured at login already carries the table, so
// that is parsed first; the network is only hit when the capture is
// missing or stale.
func (c *Client) Attendance(ctx context.Context) ([]vtop.AttendanceRecord, error) {
	ctx, span := tracer.Start(ctx, "Attendance")
	defer span.End()

	records := ParseAttendance(c.session.DashboardHTML)
	if len(records) > 0 {
		span.SetAttributes(attribute.String("source", "dashboard"))
		return records, nil
	}

	body, err := c.postForm(ctx, attendancePath, url.Values{"x": {utcClock()}}, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("source", "network"))
	return ParseAttendance(body), nil
}

// ParseAttendance scans a dashboard page for the attendance table.
// Missing structure yields an empty slice, never an error: an absent
// table is indistinguishable from a student with no courses.
func ParseAttendance(html string) []vtop.AttendanceRecord {
	if html == "" {
		return nil
	}

	table := courseDataRegex.FindString(html)
	if table == "" {
		table = altCourseTableRegex.FindString(html)
	}
	if table == "" {
		return nil
	}

	var records []vtop.AttendanceRecord
	for _, row := range htmlutil.RowsMatching(table, centeredRowRegex) {
		if strings.Contains(row, "<th") && strings.Contains(row, "Code - Course Name") {
			continue
		}
		cells := htmlutil.Cells(row)
		if len(cells) < 4 {
			continue
		}

		courseCode, courseName := splitCourseCell(cells[0])
		if courseCode == "" || courseName == "" {
			continue
		}

		percent := 0.0
		if m := percentSpanRegex.FindStringSubmatch(cells[2]); m != nil {
			percent, _ = strconv.ParseFloat(m[1], 64)
		}

		records = append(records, vtop.AttendanceRecord{
			CourseCode:        courseCode,
			CourseName:        courseName,
			CourseType:        htmlutil.StripTags(cells[1]),
			AttendancePercent: percent,
			Status:            attendanceStatus(cells[2]),
			Remarks:           htmlutil.StripTags(cells[3]),
		})
	}
	return records
}

// splitCourseCell pulls "CODE" and "Name" out of the first cell,
// where the code carries fw-bold and the name is a plain text-dark
// span.
func splitCourseCell(cell string) (code string, name string) {
	if m := boldSpanRegex.FindStringSubmatch(cell); m != nil {
		code = htmlutil.StripTags(m[1])
	}
	spans := darkSpanRegex.FindAllStringSubmatch(cell, -1)
	matches := darkSpanRegex.FindAllString(cell, -1)
	switch {
	case len(spans) >= 2:
		name = htmlutil.StripTags(spans[1][1])
	case len(spans) == 1 && !strings.Contains(matches[0], "fw-bold"):
		name = htmlutil.StripTags(spans[0][1])
	}
	return code, name
}

// attendanceStatus maps the color class on the percentage cell to a
// coarse status. No color class means a plain "good".
func attendanceStatus(cell string) vtop.AttendanceStatus {
	switch {
	case strings.Contains(cell, "text-success"):
		return vtop.AttendanceExcellent
	case strings.Contains(cell, "text-warning"):
		return vtop.AttendanceWarning
	case strings.Contains(cell, "text-danger"):
		return vtop.AttendanceDanger
	default:
		return vtop.AttendanceGood
	}
}
