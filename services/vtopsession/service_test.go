package vtopsession

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
	"vtopassist-backend/lib/scrapers/vtop"
	"vtopassist-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func testSession() *vtop.Session {
	return &vtop.Session{
		Username: "22BCE1234",
		Cookies:  map[string]string{"JSESSIONID": "session-token"},
		Context: vtop.Context{
			CsrfName:     "_csrf",
			CsrfValue:    "csrf-token",
			AuthorizedID: "22BCE1234",
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtopsession")()

	database, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer database.Close()
	sqliteStore, err := NewSqliteStore(context.Background(), database)
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemoryStore(16, time.Minute),
		"sqlite": sqliteStore,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "22BCE1234")
			require.ErrorIs(t, err, ErrNotFound)

			original := testSession()
			require.NoError(t, store.Set(ctx, original.Username, original))

			restored, err := store.Get(ctx, original.Username)
			require.NoError(t, err)
			require.Equal(t, original.Cookies, restored.Cookies)
			require.Equal(t, original.Context, restored.Context)
			require.Equal(t, original.CookieHeader(), restored.CookieHeader())

			// overwrite, not append
			original.Cookies["JSESSIONID"] = "rotated"
			require.NoError(t, store.Set(ctx, original.Username, original))
			restored, err = store.Get(ctx, original.Username)
			require.NoError(t, err)
			require.Equal(t, "rotated", restored.Cookies["JSESSIONID"])

			require.NoError(t, store.Delete(ctx, original.Username))
			_, err = store.Get(ctx, original.Username)
			require.ErrorIs(t, err, ErrNotFound)
			// idempotent delete
			require.NoError(t, store.Delete(ctx, original.Username))
		})
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(16, 50*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "22BCE1234", testSession()))
	time.Sleep(100 * time.Millisecond)
	_, err := store.Get(ctx, "22BCE1234")
	require.ErrorIs(t, err, ErrNotFound)
}

func captchaDataURI(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 40))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

const dashboardPage = `<html><head><script>
	var csrfValue = "post-login-csrf";
	var csrfName = "_csrf";
	var id = "22BCE1234";
</script></head><body id="page-holder">dashboard</body></html>`

const semesterPage = `<select id="semesterSubId">
	<option value="VL20252601" selected>Fall Semester 2025-26</option>
</select>`

const schedulePage = `<div class="fixedTableContainer"><table>
<tr class="tableContent"><td class="panelHead-secondary">FAT</td></tr>
<tr class="tableContent">
	<td>1</td><td>BCSE101L</td><td>Data Structures</td><td>Theory</td>
	<td>VL2025260101665</td><td>A1</td><td>15-Nov-2025</td><td>FN</td>
	<td>08:30</td><td>09:00 - 12:00</td><td>MB-101</td><td>R1</td><td>15</td>
</tr>
</table></div>`

// fakePortal serves just enough of the portal for a login followed by
// prefetch and logout.
func fakePortal(t *testing.T) (*httptest.Server, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	var examHits, logoutHits atomic.Int32

	loginForm := fmt.Sprintf(`<html><body>
		<form id="vtopLoginForm" method="post" action="/vtop/login">
			<input type="hidden" name="_csrf" value="form-csrf"/>
			<img src="%s"/>
			<input type="text" name="captchaStr"/>
		</form></body></html>`, captchaDataURI(t))

	mux := http.NewServeMux()
	mux.HandleFunc("/vtop/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Add("Set-Cookie", "JSESSIONID=abc; Path=/")
			w.Header().Set("Location", "/vtop/content")
			w.WriteHeader(http.StatusFound)
			return
		}
		w.Write([]byte(loginForm))
	})
	mux.HandleFunc("/vtop/content", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(dashboardPage))
	})
	mux.HandleFunc("/vtop/examinations/StudExamSchedule", func(w http.ResponseWriter, r *http.Request) {
		examHits.Add(1)
		w.Write([]byte(semesterPage))
	})
	mux.HandleFunc("/vtop/examinations/doSearchExamScheduleForStudent", func(w http.ResponseWriter, r *http.Request) {
		examHits.Add(1)
		w.Write([]byte(schedulePage))
	})
	mux.HandleFunc("/vtop/examinations/StudentDA", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(semesterPage))
	})
	mux.HandleFunc("/vtop/examinations/doDigitalAssignment", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div id="fixedTableContainer"><table></table></div>`))
	})
	mux.HandleFunc("/vtop/logout", func(w http.ResponseWriter, r *http.Request) {
		logoutHits.Add(1)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &examHits, &logoutHits
}

func TestLoginStoresSessionAndPrefetches(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtopsession")()

	server, examHits, _ := fakePortal(t)
	service := NewService(NewMemoryStore(16, time.Minute), Options{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})

	result, err := service.Login(context.Background(), "22bce1234", "hunter2")
	require.NoError(t, err)
	require.True(t, result.Success)

	require.NoError(t, service.Validate(context.Background(), "22BCE1234"))
	// lowercase lookups hit the same session
	require.NoError(t, service.Validate(context.Background(), "22bce1234"))

	session, err := service.Session(context.Background(), "22BCE1234")
	require.NoError(t, err)
	require.Equal(t, "post-login-csrf", session.Context.CsrfValue)
	require.NotNil(t, session.ExamSchedule)
	require.Len(t, session.ExamSchedule.FAT, 1)

	// the prefetched schedule serves repeat asks without new traffic
	before := examHits.Load()
	schedule, err := service.ExamSchedule(context.Background(), "22BCE1234", "")
	require.NoError(t, err)
	require.Len(t, schedule.Schedule.FAT, 1)
	require.Equal(t, before, examHits.Load())
}

func TestLogoutTearsDownBothSides(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtopsession")()

	server, _, logoutHits := fakePortal(t)
	store := NewMemoryStore(16, time.Minute)
	service := NewService(store, Options{BaseURL: server.URL, SkipPrefetch: true})

	require.NoError(t, store.Set(context.Background(), "22BCE1234", testSession()))

	require.NoError(t, service.Logout(context.Background(), "22BCE1234"))
	require.Equal(t, int32(1), logoutHits.Load())
	_, err := store.Get(context.Background(), "22BCE1234")
	require.ErrorIs(t, err, ErrNotFound)

	// logging out again is a no-op, not an error
	require.NoError(t, service.Logout(context.Background(), "22BCE1234"))
	require.Equal(t, int32(1), logoutHits.Load())
}

func TestExpiredSessionIsDropped(t *testing.T) {
	defer telemetry.SetupForTesting(t, "test:vtopsession")()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<form id="vtopLoginForm"><input name="captchaStr"/></form>`))
	}))
	defer server.Close()

	store := NewMemoryStore(16, time.Minute)
	service := NewService(store, Options{BaseURL: server.URL, SkipPrefetch: true})
	require.NoError(t, store.Set(context.Background(), "22BCE1234", testSession()))

	_, err := service.Attendance(context.Background(), "22BCE1234")
	require.ErrorIs(t, err, vtop.ErrSessionInvalid)

	// the dead session is gone, the next call fails fast
	_, err = service.Attendance(context.Background(), "22BCE1234")
	require.ErrorIs(t, err, ErrNotFound)
}
