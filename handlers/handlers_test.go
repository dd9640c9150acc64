// kapchan/handlers/handlers_test.go
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"kapchan/attachments"
	"kapchan/chat"
	"kapchan/config"
	"kapchan/database"
	"kapchan/models"
	"kapchan/utils"
)

type testApp struct {
	db          *database.Service
	storage     models.StorageService
	pipeline    *attachments.Pipeline
	hub         *chat.Hub
	sessions    *utils.SessionCodec
	rateLimiter *models.RateLimiter
	logger      *slog.Logger
}

func (a *testApp) DB() *database.Service { return a.db }

func (a *testApp) Storage() models.StorageService { return a.storage }

func (a *testApp) Pipeline() *attachments.Pipeline { return a.pipeline }

func (a *testApp) Hub() *chat.Hub { return a.hub }

func (a *testApp) Sessions() *utils.SessionCodec { return a.sessions }

func (a *testApp) RateLimiter() *models.RateLimiter { return a.rateLimiter }

func (a *testApp) Logger() *slog.Logger { return a.logger }

func setupTestApp(t *testing.T) (*testApp, http.Handler) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := database.InitDB(filepath.Join(dir, "test.db")+"?_journal_mode=WAL&_foreign_keys=on", logger)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() {
		if err := db.DB.Close(); err != nil {
			t.Errorf("failed to close test db: %v", err)
		}
	})

	secret := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("s", 32)))
	sessions, err := utils.NewSessionCodec(secret)
	if err != nil {
		t.Fatalf("NewSessionCodec failed: %v", err)
	}

	storage := &utils.LocalStorage{Root: filepath.Join(dir, "data")}
	hub := chat.NewHub([]string{"yleinen"}, logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	if err := LoadTemplates("../templates"); err != nil {
		t.Fatalf("LoadTemplates failed: %v", err)
	}

	app := &testApp{
		db:          db,
		storage:     storage,
		pipeline:    &attachments.Pipeline{DB: db, Store: storage, Logger: logger},
		hub:         hub,
		sessions:    sessions,
		rateLimiter: models.NewRateLimiter(time.Millisecond, 1000, time.Hour, time.Hour),
		logger:      logger,
	}
	return app, NewRouter(app)
}

// loginAs creates a user at the given level and returns its session cookie.
func loginAs(t *testing.T, app *testApp, level models.AccessLevel) *http.Cookie {
	t.Helper()
	u, err := app.db.CreateAnonymousUser()
	if err != nil {
		t.Fatalf("CreateAnonymousUser failed: %v", err)
	}
	if level != models.Anonymous {
		if _, err := app.db.DB.Exec("UPDATE users SET access_level = ? WHERE id = ?", level, u.ID); err != nil {
			t.Fatalf("failed to set access level: %v", err)
		}
	}
	token, err := app.sessions.Issue(u.ID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return utils.SessionCookie(token, false)
}

func testBoard(t *testing.T, app *testApp, handle string, mutate func(*models.Board)) *models.Board {
	t.Helper()
	u, err := app.db.CreateAnonymousUser()
	if err != nil {
		t.Fatalf("CreateAnonymousUser failed: %v", err)
	}
	if _, err := app.db.DB.Exec("UPDATE users SET access_level = ? WHERE id = ?", models.Admin, u.ID); err != nil {
		t.Fatalf("failed to promote admin: %v", err)
	}
	admin := &models.UserData{ID: u.ID, AccessLevel: models.Admin, IP: "127.0.0.1"}
	b := &models.Board{
		Handle: handle, Title: "Test", AccessLevel: models.Anonymous,
		ActiveThreadsLimit: config.DefaultActiveThreadsLimit,
		ThreadSizeLimit:    config.DefaultThreadSizeLimit,
	}
	if mutate != nil {
		mutate(b)
	}
	if err := app.db.CreateBoard(admin, b); err != nil {
		t.Fatalf("CreateBoard failed: %v", err)
	}
	return b
}

func TestFirstVisitMintsAnonymousSession(t *testing.T) {
	_, router := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("front page returned %d: %s", rec.Code, rec.Body.String())
	}
	var found bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == config.SessionCookieName && c.Value != "" {
			found = true
			if !c.HttpOnly {
				t.Error("session cookie must be http-only")
			}
			if c.SameSite != http.SameSiteStrictMode {
				t.Error("session cookie must be same-site strict")
			}
		}
	}
	if !found {
		t.Fatal("first visit should set the session cookie")
	}
}

func TestSessionCookieIsStable(t *testing.T) {
	app, router := setupTestApp(t)
	cookie := loginAs(t, app, models.Anonymous)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("front page returned %d", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == config.SessionCookieName {
			t.Fatal("a valid session must not be reissued")
		}
	}
}

func TestAdminPageRequiresModerator(t *testing.T) {
	app, router := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/", nil)
	req.AddCookie(loginAs(t, app, models.Anonymous))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous admin access should be 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/", nil)
	req.AddCookie(loginAs(t, app, models.Moderator))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("moderator admin access should be 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCaptchaEndpoint(t *testing.T) {
	_, router := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/captcha", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("captcha endpoint returned %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("captcha response is not json: %v", err)
	}
	if body["id"] == "" || body["captcha"] == "" {
		t.Fatalf("captcha response incomplete: %v", body)
	}
	if _, err := base64.StdEncoding.DecodeString(body["captcha"]); err != nil {
		t.Fatalf("captcha image is not base64: %v", err)
	}
}

func postMultipart(t *testing.T, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf strings.Builder
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return strings.NewReader(buf.String()), w.FormDataContentType()
}

func TestCreateThreadAndReply(t *testing.T) {
	app, router := setupTestApp(t)
	testBoard(t, app, "b", nil)
	cookie := loginAs(t, app, models.Anonymous)

	body, contentType := postMultipart(t, map[string]string{
		"topic":   "ensimmäinen",
		"message": "hello world",
	})
	req := httptest.NewRequest(http.MethodPost, "/b", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("thread creation returned %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("creation response is not json: %v", err)
	}
	threadID := created["thread_id"]
	if threadID == 0 || created["post_id"] == 0 {
		t.Fatalf("creation response incomplete: %v", created)
	}

	body, contentType = postMultipart(t, map[string]string{"message": "a reply"})
	req = httptest.NewRequest(http.MethodPost, "/b/"+jsonInt(threadID), body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("reply creation returned %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/threads/"+jsonInt(threadID), nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("thread fetch returned %d", rec.Code)
	}
	var view models.ThreadView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("thread response is not json: %v", err)
	}
	if len(view.Posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(view.Posts))
	}
	if view.Posts[0].IPAddress != "" {
		t.Fatal("post ip must not leak to the public")
	}
}

func TestCaptchaBoardRejectsMissingCaptcha(t *testing.T) {
	app, router := setupTestApp(t)
	testBoard(t, app, "c", func(b *models.Board) { b.Captcha = true })

	body, contentType := postMultipart(t, map[string]string{"message": "no captcha"})
	req := httptest.NewRequest(http.MethodPost, "/c", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(loginAs(t, app, models.Anonymous))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing captcha should be 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteBoardRedirectsToAdmin(t *testing.T) {
	app, router := setupTestApp(t)
	b := testBoard(t, app, "d", nil)

	req := httptest.NewRequest(http.MethodDelete, "/boards/"+jsonInt(b.ID), nil)
	req.AddCookie(loginAs(t, app, models.Admin))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("board deletion should redirect with 302, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/admin" {
		t.Fatalf("board deletion should redirect to /admin, got %q", loc)
	}
	if _, err := app.db.GetBoard("d"); err == nil {
		t.Fatal("board should be gone after deletion")
	}
}

func TestOversizedUploadBodyRejected(t *testing.T) {
	app, router := setupTestApp(t)
	testBoard(t, app, "big", nil)
	cookie := loginAs(t, app, models.Anonymous)

	// Larger than the reply attachment cap plus form headroom.
	padding := strings.Repeat("x", config.MaxReplyFileSize+2*multipartSlack)
	body, contentType := postMultipart(t, map[string]string{"topic": "op", "message": "first"})
	req := httptest.NewRequest(http.MethodPost, "/big", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("thread creation returned %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("creation response is not json: %v", err)
	}

	body, contentType = postMultipart(t, map[string]string{"message": padding})
	req = httptest.NewRequest(http.MethodPost, "/big/"+jsonInt(created["thread_id"]), body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("oversized body should be 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMemberBoardHiddenFromAnonymous(t *testing.T) {
	app, router := setupTestApp(t)
	testBoard(t, app, "m", func(b *models.Board) { b.AccessLevel = models.Member })

	body, contentType := postMultipart(t, map[string]string{"message": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/m", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(loginAs(t, app, models.Anonymous))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous post on member board should be 403, got %d", rec.Code)
	}
}

func jsonInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
