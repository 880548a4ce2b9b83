package student

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"vtopassist-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const assignmentsFixture = `<html><body>
<select id="semesterSubId">
	<option value="VL20252601">Fall Semester 2025-26</option>
	<option value="VL20242605">Winter Semester 2024-25</option>
</select>
<div id="fixedTableContainer">
<table>
<tr class="tableContent">
	<td>1</td><td>VL2025260101665</td><td>BCSE101L</td><td>Data Structures</td>
	<td>Assessment-1<br/>20-Sep-2025</td><td>Theory</td><td>JANE DOE</td>
	<td><button onclick="myFunction('VL2025260101665')">View</button></td>
</tr>
<tr class="tableContent">
	<td>2</td><td>VL2025260101777</td><td>BCSE102L</td><td>Operating Systems</td>
	<td>-</td><td>Theory</td><td>JOHN ROE</td><td>View</td>
</tr>
</table>
</div></body></html>`

const assignmentDetailsFixture = `<html><body>
<table class="customTable">
	<tr class="tableHeader"><td>Semester</td><td>Code</td><td>Title</td><td>Type</td><td>Class Nbr</td></tr>
	<tr class="tableContent">
		<td>Fall Semester 2025-26</td><td>BCSE101L</td><td>Data Structures</td><td>Theory</td><td>VL2025260101665</td>
	</tr>
</table>
<table class="customTable">
	<tr class="tableHeader"><td colspan="3">Document Details</td></tr>
	<tr class="tableContent">
		<td>1</td><td>Assessment-1</td><td>10</td><td>10</td>
		<td><span style="color: green">20-Sep-2025</span></td>
		<td><a href="/vtop/download/qp/1">Question Paper</a></td>
		<td>18-Sep-2025 10:04</td>
		<td><i class="bi-pencil-fill"></i><input type="hidden" name="code" value="DOC123"/></td>
		<td><a href="/vtop/download/1">Download</a></td>
	</tr>
	<tr class="tableContent">
		<td>2</td><td>Assessment-2</td><td>10</td><td>10</td>
		<td><span style="color: red">01-Oct-2025</span></td>
		<td>-</td>
		<td></td>
		<td></td>
		<td><span class="text-danger">No file</span></td>
	</tr>
</table>
</body></html>`

func TestParseAssignmentsSummaries(t *testing.T) {
	assignments := ParseAssignments(context.Background(), assignmentsFixture)
	require.Len(t, assignments, 2)

	first := assignments[0]
	require.Equal(t, "1", first.Index)
	require.Equal(t, "VL2025260101665", first.ClassNumber)
	require.Equal(t, "BCSE101L", first.CourseCode)
	require.Equal(t, "Data Structures", first.CourseTitle)
	require.Equal(t, "Assessment-1 | 20-Sep-2025", first.UpcomingDue)
	require.Equal(t, "Theory", first.CourseType)
	require.Equal(t, "JANE DOE", first.FacultyName)
	// recovered from the inline script-call argument
	require.Equal(t, "VL2025260101665", first.DashboardRef)

	// second row has no script call; the class-id literal pattern or
	// the class number must still produce a reference
	require.Equal(t, "VL2025260101777", assignments[1].DashboardRef)
}

func TestParseAssignmentsEmpty(t *testing.T) {
	require.Empty(t, ParseAssignments(context.Background(), ""))
	require.Empty(t, ParseAssignments(context.Background(), "<html><body>no table</body></html>"))
}

func TestParseAssignmentDetails(t *testing.T) {
	result := ParseAssignmentDetails(assignmentDetailsFixture)

	require.NotNil(t, result.CourseInfo)
	require.Equal(t, "BCSE101L", result.CourseInfo.CourseCode)
	require.Equal(t, "VL2025260101665", result.CourseInfo.ClassNumber)
	require.Equal(t, "Fall Semester 2025-26", result.CourseInfo.Semester)

	require.Len(t, result.Assignments, 2)

	first := result.Assignments[0]
	require.Equal(t, "Assessment-1", first.Title)
	require.Equal(t, "20-Sep-2025", first.DueDate)
	require.Equal(t, "green", first.DueDateColor)
	require.True(t, first.HasQP)
	require.True(t, first.CanUpload)
	require.True(t, first.CanDownload)
	require.Equal(t, "DOC123", first.Code)
	require.Equal(t, "18-Sep-2025 10:04", first.LastUpdated)

	second := result.Assignments[1]
	require.Equal(t, "red", second.DueDateColor)
	require.False(t, second.HasQP)
	require.False(t, second.CanUpload)
	require.False(t, second.CanDownload)
	require.Empty(t, second.Code)
	require.Equal(t, "Not uploaded", second.LastUpdated)
}

func TestAssignmentsMultipartFetch(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-student")()
	fastScrapes(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/vtop/examinations/StudentDA", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(assignmentsFixture))
	})
	mux.HandleFunc("/vtop/examinations/doDigitalAssignment", func(w http.ResponseWriter, r *http.Request) {
		// this endpoint rejects anything but multipart bodies
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "VL20252601", r.MultipartForm.Value["semesterSubId"][0])
		require.Equal(t, "22BCE1234", r.MultipartForm.Value["authorizedID"][0])
		require.Equal(t, "csrf-token", r.MultipartForm.Value["_csrf"][0])
		w.Write([]byte(assignmentsFixture))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(context.Background(), testSession(""), ClientOptions{
		BaseURL: server.URL,
	})
	require.NoError(t, err)

	result, err := client.Assignments(context.Background(), "fall")
	require.NoError(t, err)
	require.Equal(t, "Fall Semester 2025-26", result.Semester.Label)
	require.Len(t, result.Assignments, 2)
}

func TestAssignmentsFallsBackToAlternativeSemester(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-student")()
	fastScrapes(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/vtop/examinations/StudentDA", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(assignmentsFixture))
	})
	mux.HandleFunc("/vtop/examinations/doDigitalAssignment", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		if r.MultipartForm.Value["semesterSubId"][0] == "VL20252601" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(assignmentsFixture))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(context.Background(), testSession(""), ClientOptions{
		BaseURL: server.URL,
	})
	require.NoError(t, err)

	result, err := client.Assignments(context.Background(), "fall")
	require.NoError(t, err)
	require.Equal(t, "Winter Semester 2024-25", result.Semester.Label)
	require.Len(t, result.Assignments, 2)
}

func TestAssignmentDetailsFetch(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtop-student")()
	fastScrapes(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vtop/examinations/processDigitalAssignment", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "VL2025260101665", r.PostForm.Get("classId"))
		w.Write([]byte(assignmentDetailsFixture))
	}))
	defer server.Close()

	client, err := NewClient(context.Background(), testSession(""), ClientOptions{
		BaseURL: server.URL,
	})
	require.NoError(t, err)

	result, err := client.AssignmentDetails(context.Background(), "VL2025260101665")
	require.NoError(t, err)
	require.Equal(t, "VL2025260101665", result.ClassID)
	require.Len(t, result.Assignments, 2)
}
