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
	facultySearchPath = "/vtop/hrms/EmployeeSearchForStudent"
	facultyDetailPath = "/vtop/hrms/EmployeeSearch1ForStudent"
)

var ErrQueryTooShort = errors.New("search query must be at least 3 characters")

var (
	centeredStyleRowRegex = regexp.MustCompile(`(?is)<tr[^>]*style=["'][^"']*text-align:\s*center[^"']*["'][^>]*>(.*?)</tr>`)
	employeeIDRegex       = regexp.MustCompile(`id=["'](\d+)["']`)

	facultyNameRegex  = regexp.MustCompile(`(?is)<td[^>]*style=["'][^"']*background-color:\s*#ABA5BF[^"']*["'][^>]*>\s*<b>Name of the Faculty\s*</b>\s*</td>\s*<td[^>]*>(.*?)</td>`)
	designationRegex  = regexp.MustCompile(`(?is)<td[^>]*>\s*<b>Designation</b>\s*</td>\s*<td[^>]*>(.*?)</td>`)
	departmentRegex   = regexp.MustCompile(`(?is)<td[^>]*>\s*<b>Name of Department</b>\s*</td>\s*<td[^>]*>(.*?)</td>`)
	schoolRegex       = regexp.MustCompile(`(?is)<td[^>]*>\s*<b>School / Centre Name\s*</b>\s*</td>\s*<td[^>]*>(.*?)</td>`)
	emailRegex        = regexp.MustCompile(`(?is)<td[^>]*>\s*<b>E-Mail Id\s*</b>\s*</td>\s*<td[^>]*>(.*?)</td>`)
	cabinRegex        = regexp.MustCompile(`(?is)<td[^>]*>\s*<b>\s*Cabin Number\s*</b>\s*</td>\s*<td[^>]*>(.*?)</td>`)
	facultyPhotoRegex = regexp.MustCompile(`(?i)<img[^>]*src=["']([^"']*data:image[^"']*|[^"']*/images/[^"']*|[^"']*photo[^"']*)["'][^>]*>`)

	openHoursTbodyRegex  = regexp.MustCompile(`(?is)OPEN HOURS.*?<tbody>(.*?)</tbody>`)
	styledOddRowRegex    = regexp.MustCompile(`(?is)<tr[^>]*role=["']row["'][^>]*style=["'][^"']*background-color:\s*#f2dede[^"']*["'][^>]*class=["']odd["'][^>]*>(.*?)</tr>`)
	officeHoursRegex     = regexp.MustCompile(`(?is)Office Hours.*?<table[^>]*>(.*?)</table>`)
	consultationRegex    = regexp.MustCompile(`(?i)Consultation Hours?\s*:?\s*([^<]+)`)
)

// SearchFaculty runs a free-text employee search. The portal requires
// at least three characters and matches against lowercased input.
func (c *Client) SearchFaculty(ctx context.Context, query string) (vtop.FacultySearchResult, error) {
	ctx, span := tracer.Start(ctx, "SearchFaculty")
	span.SetAttributes(attribute.String("query", query))
	defer span.End()

	if len(strings.TrimSpace(query)) < 3 {
		return vtop.FacultySearchResult{}, ErrQueryTooShort
	}

	body, err := c.postForm(ctx, facultySearchPath, url.Values{
		"empId": {strings.ToLower(query)},
		"x":     {utcClock()},
	}, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return vtop.FacultySearchResult{}, err
	}

	return vtop.FacultySearchResult{
		Results:     ParseFacultyResults(body),
		SearchQuery: query,
	}, nil
}

// ParseFacultyResults reads the search results table. Rows without a
// numeric employee id button are skipped since nothing further can be
// fetched for them.
func ParseFacultyResults(html string) []vtop.FacultySummary {
	results := []vtop.FacultySummary{}
	for _, m := range centeredStyleRowRegex.FindAllStringSubmatch(html, -1) {
		row := m[1]
		if strings.Contains(row, "Name of the Faculty") ||
			strings.Contains(row, "background-color: #afbadc") {
			continue
		}
		cells := htmlutil.Cells(row)
		if len(cells) < 4 {
			continue
		}
		id := employeeIDRegex.FindStringSubmatch(row)
		if id == nil {
			continue
		}
		results = append(results, vtop.FacultySummary{
			EmployeeID:  id[1],
			Name:        htmlutil.StripTags(cells[0]),
			Designation: htmlutil.StripTags(cells[1]),
			School:      htmlutil.StripTags(cells[2]),
		})
	}
	return results
}

// FacultyDetails fetches and parses one faculty member's profile
// page. Profiles change rarely, so the page cache is consulted first
// when one is configured.
func (c *Client) FacultyDetails(ctx context.Context, employeeID string) (vtop.FacultyDetailsResult, error) {
	ctx, span := tracer.Start(ctx, "FacultyDetails")
	span.SetAttributes(attribute.String("employeeId", employeeID))
	defer span.End()

	if c.cache != nil {
		if page, err := c.cache.Get(ctx, employeeID); err == nil {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return vtop.FacultyDetailsResult{
				Details:    c.parseFacultyDetails(page),
				EmployeeID: employeeID,
			}, nil
		}
	}

	body, err := c.postForm(ctx, facultyDetailPath, url.Values{
		"empId": {employeeID},
		"x":     {utcClock()},
	}, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return vtop.FacultyDetailsResult{}, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, employeeID, body); err != nil {
			span.RecordError(err)
		}
	}

	return vtop.FacultyDetailsResult{
		Details:    c.parseFacultyDetails(body),
		EmployeeID: employeeID,
	}, nil
}

func (c *Client) parseFacultyDetails(html string) vtop.FacultyDetail {
	detail := ParseFacultyDetail(html)
	if detail.PhotoURL != "" && strings.HasPrefix(detail.PhotoURL, "/") {
		detail.PhotoURL = c.core.URL(detail.PhotoURL)
	}
	return detail
}

// ParseFacultyDetail reads the key/value profile table plus the open
// hours section. Every field is soft: a profile missing any of them
// still parses.
func ParseFacultyDetail(html string) vtop.FacultyDetail {
	detail := vtop.FacultyDetail{OpenHours: []vtop.OpenHour{}}

	fields := []struct {
		re  *regexp.Regexp
		dst *string
	}{
		{facultyNameRegex, &detail.Name},
		{designationRegex, &detail.Designation},
		{departmentRegex, &detail.Department},
		{schoolRegex, &detail.School},
		{emailRegex, &detail.Email},
		{cabinRegex, &detail.Cabin},
	}
	for _, f := range fields {
		if m := f.re.FindStringSubmatch(html); m != nil {
			*f.dst = htmlutil.StripTags(m[1])
		}
	}
	if m := facultyPhotoRegex.FindStringSubmatch(html); m != nil {
		detail.PhotoURL = m[1]
	}

	detail.OpenHours = parseOpenHours(html)
	return detail
}

// openHoursStrategy is one way of locating the open hours rows; the
// portal's markup for this section varies across profiles, so
// strategies run in order and the first that yields rows wins.
type openHoursStrategy func(html string) []vtop.OpenHour

var openHoursStrategies = []openHoursStrategy{
	openHoursStyledRows,
	openHoursHeadedTable,
	openHoursOfficeTable,
	openHoursConsultationText,
}

func parseOpenHours(html string) []vtop.OpenHour {
	for _, strategy := range openHoursStrategies {
		if hours := strategy(html); len(hours) > 0 {
			return hours
		}
	}
	return []vtop.OpenHour{}
}

// exact styled rows (#f2dede odd rows), scoped to the OPEN HOURS
// table when present
func openHoursStyledRows(html string) []vtop.OpenHour {
	scope := html
	if m := openHoursTbodyRegex.FindStringSubmatch(html); m != nil {
		scope = m[1]
	}
	var hours []vtop.OpenHour
	for _, m := range styledOddRowRegex.FindAllStringSubmatch(scope, -1) {
		hours = appendOpenHour(hours, htmlutil.CellsText(m[1]), "")
	}
	return hours
}

// any rows under an OPEN HOURS heading's tbody
func openHoursHeadedTable(html string) []vtop.OpenHour {
	m := openHoursTbodyRegex.FindStringSubmatch(html)
	if m == nil {
		return nil
	}
	var hours []vtop.OpenHour
	for _, row := range htmlutil.Rows(m[1]) {
		hours = appendOpenHour(hours, htmlutil.CellsText(row), "week day|timings")
	}
	return hours
}

// a table following an "Office Hours" heading
func openHoursOfficeTable(html string) []vtop.OpenHour {
	m := officeHoursRegex.FindStringSubmatch(html)
	if m == nil {
		return nil
	}
	var hours []vtop.OpenHour
	for _, row := range htmlutil.Rows(m[1]) {
		hours = appendOpenHour(hours, htmlutil.CellsText(row), "day|time")
	}
	return hours
}

// last resort: a free-text "Consultation Hours: ..." line
func openHoursConsultationText(html string) []vtop.OpenHour {
	m := consultationRegex.FindStringSubmatch(html)
	if m == nil {
		return nil
	}
	text := strings.TrimSpace(m[1])
	if text == "" || text == "N/A" || text == "Not specified" {
		return nil
	}
	return []vtop.OpenHour{{Day: "Consultation Hours", Timing: text}}
}

// appendOpenHour keeps a two-cell row unless either cell is empty or
// matches the header word filter.
func appendOpenHour(hours []vtop.OpenHour, cells []string, headerWords string) []vtop.OpenHour {
	if len(cells) < 2 || cells[0] == "" || cells[1] == "" {
		return hours
	}
	if headerWords != "" {
		for _, word := range strings.Split(headerWords, "|") {
			if strings.Contains(strings.ToLower(cells[0]), word) ||
				strings.Contains(strings.ToLower(cells[1]), word) {
				return hours
			}
		}
	}
	return append(hours, vtop.OpenHour{Day: cells[0], Timing: cells[1]})
}
