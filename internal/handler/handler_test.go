package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/attemptlock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/ratelimit"
	"github.com/stemsi/exstem-proctor/internal/repository/memstore"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

const testSchool = 1

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type envelope[T any] struct {
	Data  T                   `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

type sessionBody struct {
	Session *model.ExamSession `json:"session"`
	Resumed bool               `json:"resumed"`
}

type testEnv struct {
	t        *testing.T
	store    *memstore.Store
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	auth     *service.AuthService
	sessions *service.ExamSessionService
	exam     *model.Exam
	engine   *gin.Engine
}

func newTestExam() *model.Exam {
	return &model.Exam{
		ID:               uuid.New(),
		SchoolID:         testSchool,
		Title:            "Chemistry final",
		Status:           model.ExamStatusInProgress,
		DurationMinutes:  90,
		MaxAttempts:      1,
		ShuffleQuestions: true,
		ShuffleOptions:   true,
		ProctoringMode:   model.ProctoringBasic,
		Questions: []model.Question{
			{ID: uuid.New(), Type: model.QuestionTypeMultipleChoice, OptionCount: 4, OrderNum: 1},
			{ID: uuid.New(), Type: model.QuestionTypeTrueFalse, OptionCount: 2, OrderNum: 2},
			{ID: uuid.New(), Type: model.QuestionTypeShortAnswer, OrderNum: 3},
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		t:     t,
		store: memstore.New(),
		mr:    mr,
		rdb:   rdb,
		auth:  service.NewAuthService(&config.Config{JWTSecret: "handler-test", JWTExpiry: time.Hour}),
		exam:  newTestExam(),
	}
	env.store.PutExam(env.exam)

	log := zerolog.Nop()
	limiter := ratelimit.NewMemoryLimiter()
	locks := attemptlock.NewMemoryManager("test")
	env.sessions = service.NewExamSessionService(env.store, env.store, locks, limiter, service.NewRedisEventPublisher(rdb), log)

	certificates := service.NewCertificateService(env.store, limiter, log)
	grading := service.NewGradingGate(env.store, limiter, rdb, log)
	monitor := service.NewMonitorService(env.store, env.store)

	sessionH := NewExamSessionHandler(env.sessions)
	certH := NewCertificateHandler(certificates)
	proctorH := NewProctorHandler(env.sessions, grading)
	monitorH := NewMonitorHandler(rdb, monitor, log)
	wsH := NewWSHandler(rdb, env.sessions, log, nil)
	systemH := NewSystemHandler(rdb, map[string]Pinger{
		"redis": PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	}, log)

	r := gin.New()
	r.Use(response.RequestIDMiddleware())
	r.GET("/health", systemH.Health)
	r.GET("/api/v1/public/certificates/verify", certH.Verify)

	student := r.Group("/api/v1/student", middleware.RequireStudentJWT(env.auth))
	student.POST("/exams/:exam_id/session", sessionH.StartSession)
	student.GET("/exams/:exam_id/session", sessionH.GetSession)
	student.POST("/exams/:exam_id/sessions/:session_id/submit", sessionH.Submit)
	student.PUT("/sessions/:session_id/snapshot", sessionH.AutoSave)
	student.POST("/sessions/:session_id/flags", sessionH.ReportFlag)

	r.GET("/ws/v1/student/exams/:exam_id/stream", middleware.RequireStudentWSAuth(env.auth), wsH.ExamWebSocketStream)

	admin := r.Group("/api/v1/admin", middleware.RequireAdminJWT(env.auth))
	admin.GET("/exams/:exam_id/monitor", middleware.RequirePermission(service.PermissionExamsProctor), monitorH.MonitorExamSSE)
	admin.GET("/exams/:exam_id/students/:student_id/lock", middleware.RequirePermission(service.PermissionExamsProctor), proctorH.LockStatus)
	admin.POST("/sessions/:session_id/pause", middleware.RequirePermission(service.PermissionExamsProctor), proctorH.PauseSession)
	admin.POST("/sessions/:session_id/ai-grade", middleware.RequirePermission(service.PermissionExamsGrade), proctorH.RequestAIGrading)

	env.engine = r
	return env
}

func (e *testEnv) studentToken(studentID int) string {
	e.t.Helper()
	tok, err := e.auth.IssueStudentToken(studentID, testSchool)
	require.NoError(e.t, err)
	return tok
}

func (e *testEnv) adminToken(perms ...string) string {
	e.t.Helper()
	tok, err := e.auth.IssueAdminToken(900, testSchool, 1, perms)
	require.NoError(e.t, err)
	return tok
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func (e *testEnv) startSession(token string) *model.ExamSession {
	e.t.Helper()
	w := e.do(http.MethodPost, "/api/v1/student/exams/"+e.exam.ID.String()+"/session", token, nil)
	require.Contains(e.t, []int{http.StatusCreated, http.StatusOK}, w.Code, w.Body.String())
	return decode[sessionBody](e.t, w).Data.Session
}

func answersFor(exam *model.Exam) []model.Answer {
	out := make([]model.Answer, 0, len(exam.Questions))
	for _, q := range exam.Questions {
		a := model.Answer{QuestionID: q.ID, Kind: q.Type.AnswerKind()}
		if a.Kind == model.AnswerKindChoice {
			a.SelectedOptionIDs = []string{"b"}
		} else {
			a.Text = "covalent"
		}
		out = append(out, a)
	}
	return out
}

func TestStartAndResumeSession(t *testing.T) {
	env := newTestEnv(t)
	token := env.studentToken(42)
	path := "/api/v1/student/exams/" + env.exam.ID.String() + "/session"

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"device_fingerprint":"fp-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "exam-browser/1.0")
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[sessionBody](t, w).Data
	assert.False(t, first.Resumed)
	require.NotNil(t, first.Session)
	assert.Equal(t, model.SessionStatusInProgress, first.Session.Status)
	assert.Equal(t, "fp-1", first.Session.DeviceFingerprint)
	assert.Equal(t, "exam-browser/1.0", first.Session.UserAgent)
	assert.Len(t, first.Session.QuestionOrder, len(env.exam.Questions))

	w = env.do(http.MethodPost, path, token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode[sessionBody](t, w).Data
	assert.True(t, second.Resumed)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, first.Session.QuestionOrder, second.Session.QuestionOrder)
	assert.Equal(t, "fp-1", second.Session.DeviceFingerprint)

	w = env.do(http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first.Session.ID, decode[sessionBody](t, w).Data.Session.ID)
}

func TestStartSessionErrors(t *testing.T) {
	env := newTestEnv(t)
	token := env.studentToken(42)

	w := env.do(http.MethodPost, "/api/v1/student/exams/not-a-uuid/session", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrInvalidID, decode[any](t, w).Error.Code)

	w = env.do(http.MethodPost, "/api/v1/student/exams/"+uuid.NewString()+"/session", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ErrNotFound, decode[any](t, w).Error.Code)

	w = env.do(http.MethodPost, "/api/v1/student/exams/"+env.exam.ID.String()+"/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	draft := newTestExam()
	draft.Status = model.ExamStatusPublished
	env.store.PutExam(draft)
	w = env.do(http.MethodPost, "/api/v1/student/exams/"+draft.ID.String()+"/session", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.ErrNotActive, decode[any](t, w).Error.Code)
}

func TestGetSessionWithoutOpenSessionIsNull(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/api/v1/student/exams/"+env.exam.ID.String()+"/session", env.studentToken(7), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session":null}`, string(mustField(t, w.Body.Bytes(), "data")))
}

func mustField(t *testing.T, body []byte, field string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	return m[field]
}

func TestAutoSaveAndFlags(t *testing.T) {
	env := newTestEnv(t)
	token := env.studentToken(42)
	sess := env.startSession(token)
	base := "/api/v1/student/sessions/" + sess.ID.String()

	idx := 1
	w := env.do(http.MethodPut, base+"/snapshot", token, model.AutoSaveRequest{
		Answers:              answersFor(env.exam)[:1],
		CurrentQuestionIndex: &idx,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodPut, base+"/snapshot", token, map[string]interface{}{"answers": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	fields := decode[any](t, w).Error.Fields
	assert.Contains(t, fields, "current_question_index")

	bad := 99
	w = env.do(http.MethodPut, base+"/snapshot", token, model.AutoSaveRequest{CurrentQuestionIndex: &bad})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrValidation, decode[any](t, w).Error.Code)

	w = env.do(http.MethodPost, base+"/flags", token, model.SecurityFlagRequest{Kind: model.FlagFocusLost, Detail: "alt-tab"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(http.MethodPost, base+"/flags", token, map[string]string{"kind": "TELEPATHY"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "kind must be a known security flag kind", decode[any](t, w).Error.Fields["kind"])

	stored := env.store.Sessions(env.exam.ID, 42)
	require.Len(t, stored, 1)
	assert.Equal(t, 1, stored[0].FlagCount)
	assert.Equal(t, 1, stored[0].FocusLostCount)
	require.NotNil(t, stored[0].AnswerSnapshot)
	assert.Equal(t, 1, stored[0].AnswerSnapshot.CurrentQuestionIndex)

	// Another student cannot write to this session.
	w = env.do(http.MethodPost, base+"/flags", env.studentToken(43), model.SecurityFlagRequest{Kind: model.FlagTabSwitch})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.ErrSessionNotActive, decode[any](t, w).Error.Code)
}

func TestSubmitFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.studentToken(42)
	sess := env.startSession(token)
	path := "/api/v1/student/exams/" + env.exam.ID.String() + "/sessions/" + sess.ID.String() + "/submit"

	w := env.do(http.MethodPost, path, token, model.SubmitRequest{Answers: answersFor(env.exam)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	submitted := decode[sessionBody](t, w).Data.Session
	assert.Equal(t, model.SessionStatusSubmitted, submitted.Status)
	assert.NotNil(t, submitted.SubmittedAt)

	answers, err := env.store.ListAnswers(context.Background(), testSchool, env.exam.ID, 42)
	require.NoError(t, err)
	assert.Len(t, answers, len(env.exam.Questions))

	w = env.do(http.MethodPost, path, token, model.SubmitRequest{Answers: answersFor(env.exam)})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.ErrAlreadySubmitted, decode[any](t, w).Error.Code)

	// The single attempt is spent.
	w = env.do(http.MethodPost, "/api/v1/student/exams/"+env.exam.ID.String()+"/session", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.ErrAttemptsExhausted, decode[any](t, w).Error.Code)
}

func TestSubmitRejectsForeignQuestion(t *testing.T) {
	env := newTestEnv(t)
	token := env.studentToken(42)
	sess := env.startSession(token)
	path := "/api/v1/student/exams/" + env.exam.ID.String() + "/sessions/" + sess.ID.String() + "/submit"

	answers := []model.Answer{{QuestionID: uuid.New(), Kind: model.AnswerKindText, Text: "x"}}
	w := env.do(http.MethodPost, path, token, model.SubmitRequest{Answers: answers})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[any](t, w)
	assert.Equal(t, response.ErrValidation, body.Error.Code)
	assert.NotEmpty(t, body.Error.Fields["detail"])
}

func TestSubmitStoreFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	token := env.studentToken(42)
	sess := env.startSession(token)
	env.store.FailWith("Submit", errors.New("disk full"))

	path := "/api/v1/student/exams/" + env.exam.ID.String() + "/sessions/" + sess.ID.String() + "/submit"
	w := env.do(http.MethodPost, path, token, model.SubmitRequest{Answers: answersFor(env.exam)})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, response.ErrInternal, decode[any](t, w).Error.Code)
}

func TestCertificateVerification(t *testing.T) {
	env := newTestEnv(t)
	past := time.Now().Add(-24 * time.Hour)
	env.store.PutCertificate(&model.Certificate{
		ID: uuid.New(), SchoolID: testSchool, StudentID: 42, ExamID: env.exam.ID,
		VerificationCode: "ABCD2345EFGH", IssuedAt: time.Now().Add(-time.Hour),
		StudentName: "Sari", ExamTitle: env.exam.Title, SchoolName: "SMA 1", Grade: "A",
	})
	env.store.PutCertificate(&model.Certificate{
		ID: uuid.New(), SchoolID: testSchool, StudentID: 43, ExamID: env.exam.ID,
		VerificationCode: "ZZZZ9999YYYY", IssuedAt: past.Add(-time.Hour), ExpiresAt: &past,
	})

	type verifyBody struct {
		Valid       bool                   `json:"valid"`
		Reason      string                 `json:"reason"`
		Certificate *model.CertificateView `json:"certificate"`
	}

	w := env.do(http.MethodGet, "/api/v1/public/certificates/verify?code=abcd-2345-efgh", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ok := decode[verifyBody](t, w).Data
	assert.True(t, ok.Valid)
	require.NotNil(t, ok.Certificate)
	assert.Equal(t, "Sari", ok.Certificate.StudentName)

	w = env.do(http.MethodGet, "/api/v1/public/certificates/verify?code=ZZZZ-9999-YYYY", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	expired := decode[verifyBody](t, w).Data
	assert.False(t, expired.Valid)
	assert.Equal(t, "EXPIRED", expired.Reason)

	w = env.do(http.MethodGet, "/api/v1/public/certificates/verify?code=NOPE-NOPE-NOPE", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "INVALID_CODE", decode[verifyBody](t, w).Data.Reason)
}

func TestCertificateVerificationThrottled(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < ratelimit.CertificateVerification.Max; i++ {
		w := env.do(http.MethodGet, "/api/v1/public/certificates/verify?code=AAAA-BBBB-CCCC", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := env.do(http.MethodGet, "/api/v1/public/certificates/verify?code=AAAA-BBBB-CCCC", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, response.ErrTooManyAttempts, decode[any](t, w).Error.Code)
}

func TestProctorControls(t *testing.T) {
	env := newTestEnv(t)
	token := env.studentToken(42)
	sess := env.startSession(token)
	proctor := env.adminToken(service.PermissionExamsProctor)
	grader := env.adminToken(service.PermissionExamsGrade)

	w := env.do(http.MethodPost, "/api/v1/admin/sessions/"+sess.ID.String()+"/pause", grader, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/api/v1/admin/sessions/"+sess.ID.String()+"/pause", proctor, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodPost, "/api/v1/admin/sessions/"+sess.ID.String()+"/pause", proctor, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.ErrSessionNotActive, decode[any](t, w).Error.Code)

	w = env.do(http.MethodPost, "/api/v1/admin/sessions/"+uuid.NewString()+"/pause", proctor, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/api/v1/admin/exams/"+env.exam.ID.String()+"/students/42/lock", proctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	lock := decode[map[string]attemptlock.Status](t, w).Data["lock"]
	assert.False(t, lock.Locked)

	w = env.do(http.MethodGet, "/api/v1/admin/exams/"+env.exam.ID.String()+"/students/abc/lock", proctor, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAIGradingRequest(t *testing.T) {
	env := newTestEnv(t)
	token := env.studentToken(42)
	sess := env.startSession(token)
	grader := env.adminToken(service.PermissionExamsGrade)
	path := "/api/v1/admin/sessions/" + sess.ID.String() + "/ai-grade"

	w := env.do(http.MethodPost, path, grader, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	submit := "/api/v1/student/exams/" + env.exam.ID.String() + "/sessions/" + sess.ID.String() + "/submit"
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, submit, token, model.SubmitRequest{Answers: answersFor(env.exam)}).Code)

	w = env.do(http.MethodPost, path, grader, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	items, err := env.mr.List(config.WorkerKey.AIGradingQueue)
	require.NoError(t, err)
	require.Len(t, items, 1)
	var job service.GradingJob
	require.NoError(t, json.Unmarshal([]byte(items[0]), &job))
	assert.Equal(t, sess.ID, job.SessionID)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.rdb.RPush(context.Background(), config.WorkerKey.SecurityFlagQueue, "x").Err())

	w := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	type healthBody struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
		Queues map[string]int64  `json:"queues"`
	}
	body := decode[healthBody](t, w).Data
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "up", body.Checks["redis"])
	assert.Equal(t, int64(1), body.Queues[config.WorkerKey.SecurityFlagQueue])

	h := NewSystemHandler(env.rdb, map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return errors.New("refused") }),
	}, zerolog.Nop())
	r := gin.New()
	r.GET("/health", h.Health)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusMapping(t *testing.T) {
	cases := map[error]int{
		service.ErrUnauthorized:         http.StatusUnauthorized,
		service.ErrSessionNotFound:      http.StatusNotFound,
		service.ErrSubmissionInProgress: http.StatusConflict,
		service.ErrTimeLimitExceeded:    http.StatusGone,
		service.ErrRateLimited:          http.StatusTooManyRequests,
		errors.New("boom"):              http.StatusInternalServerError,
	}
	for err, want := range cases {
		got, _ := statusFor(err)
		assert.Equal(t, want, got, err.Error())
	}
}
