package student

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	"vtopassist-backend/lib/scrapers/vtop"
	"vtopassist-backend/lib/telemetry"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

const facultySearchFixture = `<html><body><table>
<tr style="text-align: center; background-color: #afbadc">
	<td>Name of the Faculty</td><td>Designation</td><td>School</td><td></td>
</tr>
<tr style="text-align: center">
	<td>DR. JANE DOE</td><td>Professor</td><td>SCOPE</td>
	<td><button id="50123">View</button></td>
</tr>
<tr style="text-align: center">
	<td>DR. JOHN ROE</td><td>Associate Professor</td><td>SENSE</td>
	<td><button id="50456">View</button></td>
</tr>
</table></body></html>`

const facultyDetailFixture = `<html><body>
<table>
<tr><td style="background-color: #ABA5BF"><b>Name of the Faculty </b></td><td>DR. JANE DOE</td></tr>
<tr><td><b>Designation</b></td><td>Professor</td></tr>
<tr><td><b>Name of Department</b></td><td>Computer Science</td></tr>
<tr><td><b>School / Centre Name </b></td><td>SCOPE</td></tr>
<tr><td><b>E-Mail Id </b></td><td>jane.doe@vit.ac.in</td></tr>
<tr><td><b> Cabin Number </b></td><td>SJT-412</td></tr>
</table>
<img src="/vtop/hrms/photo/50123.jpg" alt="photo"/>
<h4>OPEN HOURS</h4>
<table><thead><tr><td>Week Day</td><td>Timings</td></tr></thead>
<tbody>
<tr role="row" style="background-color: #f2dede" class="odd"><td>Monday</td><td>10:00 - 11:00</td></tr>
<tr role="row" style="background-color: #f2dede" class="odd"><td>Thursday</td><td>14:00 - 15:00</td></tr>
</tbody></table>
</body></html>`

func TestParseFacultyResults(t *testing.T) {
	results := ParseFacultyResults(facultySearchFixture)
	require.Equal(t, []vtop.FacultySummary{
		{EmployeeID: "50123", Name: "DR. JANE DOE", Designation: "Professor", School: "SCOPE"},
		{EmployeeID: "50456", Name: "DR. JOHN ROE", Designation: "Associate Professor", School: "SENSE"},
	}, results)
}

func TestParseFacultyDetail(t *testing.T) {
	detail := ParseFacultyDetail(facultyDetailFixture)

	require.Equal(t, "DR. JANE DOE", detail.Name)
	require.Equal(t, "Professor", detail.Designation)
	require.Equal(t, "Computer Science", detail.Department)
	require.Equal(t, "SCOPE", detail.School)
	require.Equal(t, "jane.doe@vit.ac.in", detail.Email)
	require.Equal(t, "SJT-412", detail.Cabin)
	require.Equal(t, "/vtop/hrms/photo/50123.jpg", detail.PhotoURL)

	// rows come back in source order
	require.Equal(t, []vtop.OpenHour{
		{Day: "Monday", Timing: "10:00 - 11:00"},
		{Day: "Thursday", Timing: "14:00 - 15:00"},
	}, detail.OpenHours)
}

func TestParseFacultyDetailOpenHoursFallbacks(t *testing.T) {
	// plain tbody rows under an OPEN HOURS heading, no styling
	headed := `<html><body>OPEN HOURS<table><tbody>
	<tr><td>Week Day</td><td>Timings</td></tr>
	<tr><td>Friday</td><td>09:00 - 10:00</td></tr>
	</tbody></table></body></html>`
	detail := ParseFacultyDetail(headed)
	require.Equal(t, []vtop.OpenHour{{Day: "Friday", Timing: "09:00 - 10:00"}}, detail.OpenHours)

	// free-text consultation line as the last resort
	text := `<html><body><p>Consultation Hours: Wednesdays after 15:00</p></body></html>`
	detail = ParseFacultyDetail(text)
	require.Equal(t, []vtop.OpenHour{
		{Day: "Consultation Hours", Timing: "Wednesdays after 15:00"},
	}, detail.OpenHours)

	// nothing recognizable stays empty, not nil
	detail = ParseFacultyDetail("<html><body>no hours</body></html>")
	require.NotNil(t, detail.OpenHours)
	require.Empty(t, detail.OpenHours)
}

func TestSearchFacultyQueryTooShort(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-student")()
	fastScrapes(t)

	client, err := NewClient(context.Background(), testSession(""), ClientOptions{
		BaseURL: "http://127.0.0.1:1",
	})
	require.NoError(t, err)

	_, err = client.SearchFaculty(context.Background(), "ab")
	require.ErrorIs(t, err, ErrQueryTooShort)
}

func TestSearchFacultyLowercasesQuery(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-student")()
	fastScrapes(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vtop/hrms/EmployeeSearchForStudent", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "jane", r.PostForm.Get("empId"))
		w.Write([]byte(facultySearchFixture))
	}))
	defer server.Close()

	client, err := NewClient(context.Background(), testSession(""), ClientOptions{
		BaseURL: server.URL,
	})
	require.NoError(t, err)

	result, err := client.SearchFaculty(context.Background(), "JANE")
	require.NoError(t, err)
	require.Equal(t, "JANE", result.SearchQuery)
	require.Len(t, result.Results, 2)
}

func TestFacultyDetailsUsesPageCache(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-student")()
	fastScrapes(t)

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true))
	require.NoError(t, err)
	defer db.Close()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(facultyDetailFixture))
	}))
	defer server.Close()

	client, err := NewClient(context.Background(), testSession(""), ClientOptions{
		BaseURL: server.URL,
		Cache:   NewPageCache(db, time.Hour),
	})
	require.NoError(t, err)

	first, err := client.FacultyDetails(context.Background(), "50123")
	require.NoError(t, err)
	require.Equal(t, "DR. JANE DOE", first.Details.Name)

	second, err := client.FacultyDetails(context.Background(), "50123")
	require.NoError(t, err)
	require.Equal(t, first.Details, second.Details)
	require.Equal(t, int32(1), hits.Load(), "second lookup must come from the cache")
}

func TestPageCacheExpiry(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-student")()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true))
	require.NoError(t, err)
	defer db.Close()

	cache := NewPageCache(db, time.Nanosecond)
	require.NoError(t, cache.Set(context.Background(), "50123", "<html/>"))

	time.Sleep(10 * time.Millisecond)
	_, err = cache.Get(context.Background(), "50123")
	require.ErrorIs(t, err, ErrPageNotCached)
}
