// Package api exposes the portal pipeline over HTTP. Login returns a
// bearer token whose subject is the registration number; every other
// route resolves that subject against the session store, so a token
// can never read another user's session.
package api

import (
	"errors"
	"net/http"
	"time"
	"vtopassist-backend/lib/scrapers/vtop"
	"vtopassist-backend/lib/scrapers/vtop/student"
	"vtopassist-backend/services/vtopsession"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	SigningKey string
	Issuer     string
	// TokenTTL bounds how long a bearer token outlives its login.
	// Portal sessions die on their own schedule regardless.
	TokenTTL time.Duration
	// LoginRatePerMin throttles login attempts per client IP.
	LoginRatePerMin int
}

type Service struct {
	sessions vtopsession.Service
	opts     Options
}

func NewService(sessions vtopsession.Service, opts Options) Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 2 * time.Hour
	}
	return Service{sessions: sessions, opts: opts}
}

// Router builds the gin engine with all routes and middleware
// attached.
func (s Service) Router() *gin.Engine {
	registerMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(requestID())
	r.Use(measure())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	limiter := newLoginLimiter(s.opts.LoginRatePerMin)
	r.POST("/v1/vtop/login", limiter.middleware(), s.handleLogin)

	authed := r.Group("/v1/vtop", bearerAuth(s.opts.SigningKey, s.opts.Issuer))
	authed.GET("/session", s.handleSession)
	authed.POST("/logout", s.handleLogout)
	authed.GET("/attendance", s.handleAttendance)
	authed.GET("/exams", s.handleExams)
	authed.GET("/assignments", s.handleAssignments)
	authed.GET("/assignments/:classId", s.handleAssignmentDetails)
	authed.GET("/faculty", s.handleFacultySearch)
	authed.GET("/faculty/:employeeId", s.handleFacultyDetails)
	return r
}

func (s Service) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	result, err := s.sessions.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "portal unreachable", "requiresRetry": true})
		return
	}
	if !result.Success {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":         result.Error,
			"requiresRetry": result.RequiresRetry,
		})
		return
	}

	session, err := s.sessions.Session(c.Request.Context(), req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session was not stored"})
		return
	}
	token, expiresAt, err := IssueToken(session.Username, s.opts.Issuer, s.opts.SigningKey, s.opts.TokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": expiresAt.Unix(),
		"username":  session.Username,
	})
}

func (s Service) handleSession(c *gin.Context) {
	username := c.GetString(usernameKey)
	if err := s.sessions.Validate(c.Request.Context(), username); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": username, "valid": true})
}

func (s Service) handleLogout(c *gin.Context) {
	if err := s.sessions.Logout(c.Request.Context(), c.GetString(usernameKey)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"loggedOut": true})
}

func (s Service) handleAttendance(c *gin.Context) {
	records, err := s.sessions.Attendance(c.Request.Context(), c.GetString(usernameKey))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": records})
}

func (s Service) handleExams(c *gin.Context) {
	result, err := s.sessions.ExamSchedule(
		c.Request.Context(), c.GetString(usernameKey), c.Query("semester"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s Service) handleAssignments(c *gin.Context) {
	result, err := s.sessions.Assignments(
		c.Request.Context(), c.GetString(usernameKey), c.Query("semester"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s Service) handleAssignmentDetails(c *gin.Context) {
	result, err := s.sessions.AssignmentDetails(
		c.Request.Context(), c.GetString(usernameKey), c.Param("classId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s Service) handleFacultySearch(c *gin.Context) {
	result, err := s.sessions.SearchFaculty(
		c.Request.Context(), c.GetString(usernameKey), c.Query("q"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s Service) handleFacultyDetails(c *gin.Context) {
	result, err := s.sessions.FacultyDetails(
		c.Request.Context(), c.GetString(usernameKey), c.Param("employeeId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// writeError maps pipeline errors onto HTTP statuses. Both a missing
// and an expired session mean the same thing to the caller: log in
// again.
func (s Service) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, vtopsession.ErrNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no active session", "requiresRetry": true})
	case errors.Is(err, vtop.ErrSessionInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired", "requiresRetry": true})
	case errors.Is(err, student.ErrQueryTooShort):
		c.JSON(http.StatusBadRequest, gin.H{"error": student.ErrQueryTooShort.Error()})
	case errors.Is(err, student.ErrNoSemesters):
		c.JSON(http.StatusNotFound, gin.H{"error": student.ErrNoSemesters.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "portal scrape failed", "requiresRetry": true})
	}
}
