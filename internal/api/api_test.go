package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downlee/downlee/internal/api/controllers"
	"github.com/downlee/downlee/internal/app"
	"github.com/downlee/downlee/internal/bus"
	"github.com/downlee/downlee/internal/domain"
	"github.com/downlee/downlee/internal/extractor"
	"github.com/downlee/downlee/internal/infra/config"
	"github.com/downlee/downlee/internal/infra/logger"
	"github.com/downlee/downlee/internal/store"
	"github.com/downlee/downlee/internal/urldl"
)

type testEnv struct {
	e     *echo.Echo
	app   *app.Context
	token string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.NewWriter(io.Discard, logger.LevelError)
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Port:     "0",
		Download: config.DownloadConfig{Dir: t.TempDir()},
		Auth:     config.AuthConfig{JWTSecret: "test-secret", TokenTTLDays: 1},
		Chat:     config.ChatConfig{MaxRetries: 1, RetryDelaySec: 0},
	}
	a := app.NewContext(cfg, log, st)

	user, err := st.CreateUser("admin", "password123")
	require.NoError(t, err)
	token, err := controllers.IssueToken(cfg.Auth.JWTSecret, time.Hour, user)
	require.NoError(t, err)

	ex := extractor.New("yt-dlp", "", log)
	intake := urldl.NewIntake(a, ex, context.Background())

	e := echo.New()
	RegisterRoutes(e, a, intake)

	return &testEnv{e: e, app: a, token: token}
}

func (env *testEnv) request(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+env.token)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"username":"admin","password":"password123"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Token string       `json:"token"`
		User  *domain.User `json:"user"`
	}
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)
	require.NotNil(t, resp.User)
	assert.NotZero(t, resp.User.ID)
	assert.Equal(t, "admin", resp.User.Username)

	claims, err := controllers.ParseToken("test-secret", resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, resp.User.ID, claims.UserID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{
		`{"username":"admin","password":"wrong"}`,
		`{"username":"ghost","password":"password123"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		env.e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/downloads", nil)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/downloads", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer garbage")
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Query-parameter token works for header-less clients.
	req = httptest.NewRequest(http.MethodGet, "/api/downloads?token="+env.token, nil)
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/auth/password",
		`{"current_password":"password123","new_password":"longenough1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := env.app.Store.Authenticate("admin", "longenough1")
	assert.NoError(t, err)

	rec = env.request(t, http.MethodPost, "/api/auth/password",
		`{"current_password":"stale","new_password":"whatever123"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/auth/password",
		`{"current_password":"longenough1","new_password":"short"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedJob(t *testing.T, a *app.Context, j *domain.Job) *domain.Job {
	t.Helper()
	created, err := a.Store.CreateJob(j)
	require.NoError(t, err)
	return created
}

func TestListDownloads(t *testing.T) {
	env := newTestEnv(t)
	seedJob(t, env.app, &domain.Job{ExternalID: "1", File: "a.mp4", SourceTag: "youtube"})
	seedJob(t, env.app, &domain.Job{ExternalID: "2", File: "b.mp4", SourceTag: "chat", Status: domain.StatusDone})

	rec := env.request(t, http.MethodGet, "/api/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Downloads []map[string]any `json:"downloads"`
		Total     int              `json:"total"`
		HasMore   bool             `json:"has_more"`
	}
	decode(t, rec, &resp)
	assert.Len(t, resp.Downloads, 2)
	assert.Equal(t, 2, resp.Total)
	assert.False(t, resp.HasMore)

	rec = env.request(t, http.MethodGet, "/api/downloads?filter=active", "")
	decode(t, rec, &resp)
	assert.Len(t, resp.Downloads, 1)
}

func TestListDownloadsExcludesMappings(t *testing.T) {
	env := newTestEnv(t)

	route, err := env.app.Store.CreateRoute(&domain.SourceRoute{SourceTag: "youtube", Folder: "/tmp"})
	require.NoError(t, err)

	seedJob(t, env.app, &domain.Job{ExternalID: "1", File: "a.mp4", SourceTag: "youtube"})
	seedJob(t, env.app, &domain.Job{ExternalID: "2", File: "b.mp4", SourceTag: "chat"})

	rec := env.request(t, http.MethodGet,
		fmt.Sprintf("/api/downloads?exclude_mapping_ids=%d", route.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Downloads []map[string]any `json:"downloads"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Downloads, 1)
	assert.Equal(t, "2", resp.Downloads[0]["external_id"])
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedJob(t, env.app, &domain.Job{ExternalID: "1", File: "a.mp4", DownloadedBytes: 100, TotalBytes: 400})

	rec := env.request(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats domain.Stats
	decode(t, rec, &stats)
	assert.Equal(t, 1, stats.TotalCount)
	assert.Equal(t, int64(300), stats.PendingBytes)
}

func TestStopIdempotent(t *testing.T) {
	env := newTestEnv(t)
	seedJob(t, env.app, &domain.Job{ExternalID: "1", File: "a.mp4", Status: domain.StatusDone})

	// Stopping a job that is already terminal succeeds without changing it.
	rec := env.request(t, http.MethodPost, "/api/stop", `{"external_id":"1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	job, err := env.app.Store.JobByExternalID("1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, job.Status)

	rec = env.request(t, http.MethodPost, "/api/stop", `{"external_id":"absent"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopReconcilesStaleRow(t *testing.T) {
	env := newTestEnv(t)

	// Downloading on record but no live worker: a crashed run left this behind.
	seedJob(t, env.app, &domain.Job{ExternalID: "1", File: "a.mp4", Status: domain.StatusDownloading})

	rec := env.request(t, http.MethodPost, "/api/stop", `{"external_id":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	job, err := env.app.Store.JobByExternalID("1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, job.Status)
}

func TestRetryChatJob(t *testing.T) {
	env := newTestEnv(t)
	created := seedJob(t, env.app, &domain.Job{
		ExternalID: "42", File: "a.mp4", Status: domain.StatusFailed,
		Progress: 37.5, DownloadedBytes: 375, Error: "boom",
	})

	// Retry addresses the job by its numeric row id.
	rec := env.request(t, http.MethodPost, "/api/retry",
		fmt.Sprintf(`{"id":%d}`, created.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	job, err := env.app.Store.JobByExternalID("42")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, job.Status)
	assert.Equal(t, 0.0, job.Progress, "chat retries restart from scratch")
	assert.Empty(t, job.Error)
}

func TestRetryRejectsNonRetryable(t *testing.T) {
	env := newTestEnv(t)
	created := seedJob(t, env.app, &domain.Job{ExternalID: "42", File: "a.mp4", Status: domain.StatusDone})

	rec := env.request(t, http.MethodPost, "/api/retry",
		fmt.Sprintf(`{"id":%d}`, created.ID))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRetryUnknownID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/retry", `{"id":9999}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/retry", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteDownload(t *testing.T) {
	env := newTestEnv(t)
	seedJob(t, env.app, &domain.Job{ExternalID: "1", File: "a.mp4", Status: domain.StatusDone})

	rec := env.request(t, http.MethodPost, "/api/delete", `{"external_id":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	jobs, _, _, err := env.app.Store.ListJobs(store.ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	rec = env.request(t, http.MethodPost, "/api/delete", `{"external_id":"1"}`)
	assert.Equal(t, http.StatusOK, rec.Code, "repeating a delete succeeds")
}

func TestDeleteDownloadWithFile(t *testing.T) {
	env := newTestEnv(t)

	dir := filepath.Join(env.app.Config.Download.Dir, "Videos")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "a.mp4")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	seedJob(t, env.app, &domain.Job{ExternalID: "1", File: "a.mp4", SourceTag: "chat", Status: domain.StatusDone})

	rec := env.request(t, http.MethodPost, "/api/delete",
		`{"external_id":"1","delete_file":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestMappingsCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/mappings",
		`{"source_tag":"YouTube","folder":"/media/yt","quality":"720p"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var route domain.SourceRoute
	decode(t, rec, &route)
	assert.Equal(t, "youtube", route.SourceTag, "tags are normalized to lowercase")

	rec = env.request(t, http.MethodPost, "/api/mappings",
		`{"source_tag":"youtube","folder":"/elsewhere"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/mappings", `{"source_tag":"","folder":"/x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodPut, fmt.Sprintf("/api/mappings/%d", route.ID),
		`{"source_tag":"youtube","folder":"/media/new","access_restricted":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/mappings", "")
	var routes []domain.SourceRoute
	decode(t, rec, &routes)
	require.Len(t, routes, 1)
	assert.Equal(t, "/media/new", routes[0].Folder)
	assert.True(t, routes[0].AccessRestricted)

	rec = env.request(t, http.MethodDelete, fmt.Sprintf("/api/mappings/%d", route.ID), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodDelete, fmt.Sprintf("/api/mappings/%d", route.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsMasksCredential(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/settings",
		`{"provider_app_id":"1234","provider_app_hash":"secret-hash"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var settings map[string]string
	decode(t, rec, &settings)
	assert.Equal(t, "1234", settings["provider_app_id"])
	assert.Equal(t, "********", settings["provider_app_hash"])

	// Posting the mask back must not clobber the stored value.
	rec = env.request(t, http.MethodPost, "/api/settings",
		`{"provider_app_hash":"********","provider_app_id":"5678"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	v, err := env.app.Store.GetSetting("provider_app_hash")
	require.NoError(t, err)
	assert.Equal(t, "secret-hash", v)
}

func TestVideoCheckAndStream(t *testing.T) {
	env := newTestEnv(t)

	dir := filepath.Join(env.app.Config.Download.Dir, "Videos")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("0123456789"), 0644))

	seedJob(t, env.app, &domain.Job{ExternalID: "1", File: "clip.mp4", Status: domain.StatusDone})
	seedJob(t, env.app, &domain.Job{ExternalID: "2", File: "gone.mp4", Status: domain.StatusDone})

	rec := env.request(t, http.MethodGet, "/api/video/check/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var check map[string]any
	decode(t, rec, &check)
	assert.Equal(t, true, check["available"])
	assert.Equal(t, "clip.mp4", check["filename"])

	// Missing artifact flips file_deleted durably.
	rec = env.request(t, http.MethodGet, "/api/video/check/2", "")
	decode(t, rec, &check)
	assert.Equal(t, false, check["available"])
	job, err := env.app.Store.JobByExternalID("2")
	require.NoError(t, err)
	assert.True(t, job.FileDeleted)

	// Full fetch.
	rec = env.request(t, http.MethodGet, "/api/video/stream/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())

	// Range fetch.
	req := httptest.NewRequest(http.MethodGet, "/api/video/stream/1?token="+env.token, nil)
	req.Header.Set("Range", "bytes=2-5")
	rr := httptest.NewRecorder()
	env.e.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusPartialContent, rr.Code)
	assert.Equal(t, "2345", rr.Body.String())
	assert.Equal(t, "bytes 2-5/10", rr.Header().Get("Content-Range"))

	rec = env.request(t, http.MethodGet, "/api/video/stream/2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebsocketReceivesEvents(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(env.e)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + env.token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.app.Bus.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	env.app.EmitStatus("1", domain.StatusDone, "")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, string(bus.TopicStatus), ev.Type)

	var payload bus.StatusEvent
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "1", payload.ExternalID)
	assert.Equal(t, "done", payload.Status)
}

func TestWebsocketRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(env.e)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
