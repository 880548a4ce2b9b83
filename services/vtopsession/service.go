package vtopsession

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"vtopassist-backend/lib/scrapers/vtop"
	"vtopassist-backend/lib/scrapers/vtop/core"
	"vtopassist-backend/lib/scrapers/vtop/student"
	"vtopassist-backend/lib/timezone"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/vtopsession")

type Options struct {
	// BaseURL overrides the production portal, used by tests.
	BaseURL string
	// Timeout applies per outbound request attempt.
	Timeout time.Duration
	// PageCache, when non-nil, caches faculty profile pages.
	PageCache *student.PageCache
	// SkipPrefetch disables the best-effort exam/assignment prefetch
	// after login.
	SkipPrefetch bool
}

// Service drives the login protocol, keeps sessions in the store and
// serves the authenticated scrapers. Sessions are keyed by uppercase
// registration number; a scrape that finds its session expired
// deletes it so the caller can force a re-login.
type Service struct {
	store Store
	opts  Options
}

func NewService(store Store, opts Options) Service {
	return Service{store: store, opts: opts}
}

// sessionKey normalizes the username the way the portal does.
func sessionKey(username string) string {
	return strings.ToUpper(strings.TrimSpace(username))
}

// Login runs the full login protocol and, on success, stores the
// resulting session. The returned result mirrors the protocol's
// structured outcome: callers should branch on Success and
// RequiresRetry rather than the error, which only reports transport
// and storage failures.
func (s Service) Login(ctx context.Context, username string, password string) (core.LoginResult, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()
	span.SetAttributes(attribute.String("username", sessionKey(username)))

	client, err := core.NewClient(ctx, core.ClientOptions{
		BaseURL: s.opts.BaseURL,
		Timeout: s.opts.Timeout,
	})
	if err != nil {
		return core.LoginResult{}, err
	}

	result, err := client.Login(ctx, username, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return core.LoginResult{}, err
	}
	if !result.Success {
		return result, nil
	}

	session := &vtop.Session{
		Username:      sessionKey(username),
		Cookies:       result.Cookies,
		Context:       result.Context,
		DashboardHTML: result.DashboardHTML,
		CreatedAt:     timezone.Now(),
	}
	if !s.opts.SkipPrefetch {
		s.prefetch(ctx, session)
	}

	if err := s.store.Set(ctx, session.Username, session); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return core.LoginResult{}, err
	}
	return result, nil
}

// prefetch warms the session's exam schedule and assignment caches
// right after login, while the portal still considers the client
// "active". Failures are logged and ignored: the caches are an
// optimization, not a contract.
func (s Service) prefetch(ctx context.Context, session *vtop.Session) {
	ctx, span := tracer.Start(ctx, "prefetch")
	defer span.End()

	client, err := s.client(ctx, session)
	if err != nil {
		span.RecordError(err)
		return
	}

	if exams, err := client.ExamSchedule(ctx, ""); err == nil {
		session.ExamSchedule = &exams.Schedule
		session.ExamSemester = exams.Semester
	} else {
		slog.WarnContext(ctx, "exam schedule prefetch failed", slog.String("error", err.Error()))
	}

	if assignments, err := client.Assignments(ctx, ""); err == nil {
		session.Assignments = assignments.Assignments
		session.AssignmentsSemester = assignments.Semester
	} else {
		slog.WarnContext(ctx, "assignments prefetch failed", slog.String("error", err.Error()))
	}
}

// Session returns the stored session for a user, or ErrNotFound.
func (s Service) Session(ctx context.Context, username string) (*vtop.Session, error) {
	return s.store.Get(ctx, sessionKey(username))
}

// Validate reports whether a stored session is structurally usable.
func (s Service) Validate(ctx context.Context, username string) error {
	session, err := s.store.Get(ctx, sessionKey(username))
	if err != nil {
		return err
	}
	return session.Valid()
}

// Logout invalidates the session on the portal side (best effort) and
// deletes it from the store. Deleting an absent session is not an
// error.
func (s Service) Logout(ctx context.Context, username string) error {
	ctx, span := tracer.Start(ctx, "Logout")
	defer span.End()
	key := sessionKey(username)
	span.SetAttributes(attribute.String("username", key))

	session, err := s.store.Get(ctx, key)
	if err == nil {
		client, cerr := core.NewClient(ctx, core.ClientOptions{
			BaseURL: s.opts.BaseURL,
			Jar:     core.JarFromCookies(session.Cookies),
			Timeout: s.opts.Timeout,
		})
		if cerr == nil {
			// errors already logged inside; local teardown proceeds
			_ = client.ServerLogout(ctx, session.Context)
		}
	} else if !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
	}

	return s.store.Delete(ctx, key)
}

func (s Service) client(ctx context.Context, session *vtop.Session) (*student.Client, error) {
	return student.NewClient(ctx, session, student.ClientOptions{
		BaseURL: s.opts.BaseURL,
		Cache:   s.opts.PageCache,
		Timeout: s.opts.Timeout,
	})
}

// scrapeClient resolves the stored session into a bound scraper
// client.
func (s Service) scrapeClient(ctx context.Context, username string) (*student.Client, error) {
	session, err := s.store.Get(ctx, sessionKey(username))
	if err != nil {
		return nil, err
	}
	return s.client(ctx, session)
}

// expireIf deletes the stored session when a scrape reported it
// expired, so the next call fails fast with ErrNotFound.
func (s Service) expireIf(ctx context.Context, username string, err error) error {
	if errors.Is(err, vtop.ErrSessionInvalid) {
		if derr := s.store.Delete(ctx, sessionKey(username)); derr != nil {
			slog.WarnContext(ctx, "failed to drop expired session", slog.String("error", derr.Error()))
		}
	}
	return err
}

func (s Service) Attendance(ctx context.Context, username string) ([]vtop.AttendanceRecord, error) {
	client, err := s.scrapeClient(ctx, username)
	if err != nil {
		return nil, err
	}
	records, err := client.Attendance(ctx)
	if err != nil {
		return nil, s.expireIf(ctx, username, err)
	}
	return records, nil
}

// ExamSchedule serves the login-time cache when no specific semester
// was asked for, hitting the portal only on a miss or an explicit
// semester request.
func (s Service) ExamSchedule(ctx context.Context, username string, semesterLabel string) (vtop.ExamScheduleResult, error) {
	session, err := s.store.Get(ctx, sessionKey(username))
	if err != nil {
		return vtop.ExamScheduleResult{}, err
	}
	if semesterLabel == "" && session.ExamSchedule != nil {
		return vtop.ExamScheduleResult{
			Semester: session.ExamSemester,
			Schedule: *session.ExamSchedule,
		}, nil
	}

	client, err := s.client(ctx, session)
	if err != nil {
		return vtop.ExamScheduleResult{}, err
	}
	result, err := client.ExamSchedule(ctx, semesterLabel)
	if err != nil {
		return vtop.ExamScheduleResult{}, s.expireIf(ctx, username, err)
	}
	return result, nil
}

// Assignments mirrors ExamSchedule's cache behavior.
func (s Service) Assignments(ctx context.Context, username string, semesterLabel string) (vtop.AssignmentsResult, error) {
	session, err := s.store.Get(ctx, sessionKey(username))
	if err != nil {
		return vtop.AssignmentsResult{}, err
	}
	if semesterLabel == "" && session.Assignments != nil {
		return vtop.AssignmentsResult{
			Assignments: session.Assignments,
			Semester:    session.AssignmentsSemester,
		}, nil
	}

	client, err := s.client(ctx, session)
	if err != nil {
		return vtop.AssignmentsResult{}, err
	}
	result, err := client.Assignments(ctx, semesterLabel)
	if err != nil {
		return vtop.AssignmentsResult{}, s.expireIf(ctx, username, err)
	}
	return result, nil
}

func (s Service) AssignmentDetails(ctx context.Context, username string, classID string) (vtop.AssignmentDetailsResult, error) {
	client, err := s.scrapeClient(ctx, username)
	if err != nil {
		return vtop.AssignmentDetailsResult{}, err
	}
	result, err := client.AssignmentDetails(ctx, classID)
	if err != nil {
		return vtop.AssignmentDetailsResult{}, s.expireIf(ctx, username, err)
	}
	return result, nil
}

func (s Service) SearchFaculty(ctx context.Context, username string, query string) (vtop.FacultySearchResult, error) {
	client, err := s.scrapeClient(ctx, username)
	if err != nil {
		return vtop.FacultySearchResult{}, err
	}
	result, err := client.SearchFaculty(ctx, query)
	if err != nil {
		return vtop.FacultySearchResult{}, s.expireIf(ctx, username, err)
	}
	return result, nil
}

func (s Service) FacultyDetails(ctx context.Context, username string, employeeID string) (vtop.FacultyDetailsResult, error) {
	client, err := s.scrapeClient(ctx, username)
	if err != nil {
		return vtop.FacultyDetailsResult{}, err
	}
	result, err := client.FacultyDetails(ctx, employeeID)
	if err != nil {
		return vtop.FacultyDetailsResult{}, s.expireIf(ctx, username, err)
	}
	return result, nil
}
