package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"
	"github.com/jmoiron/sqlx"

	"rentdesk/internal/config"
	"rentdesk/internal/http/handlers"
	"rentdesk/internal/repos"
	"rentdesk/internal/testutil"
)

const deskKey = "desk-key-1"

var now0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

type testApp struct {
	app   *fiber.App
	path  string
	db    *sqlx.DB
	deps  *handlers.Deps
	clock *testutil.FakeClock
}

// newTestApp wires the real routes on a temp-file store with one authority
// (id 1) bound to session "sid-desk".
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	return newTestAppBusy(t, 10*time.Second)
}

// newTestAppBusy is newTestApp with the store's busy timeout set to busy.
func newTestAppBusy(t *testing.T, busy time.Duration) *testApp {
	t.Helper()
	path := filepath.Join(t.TempDir(), "http.db")
	db, err := repos.OpenDB(path, busy)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := repos.Seed(db, repos.SeedOptions{
		PenaltyPerDay: 2000,
		Authorities:   []repos.AuthoritySeed{{ID: 1, Name: "desk", Key: deskKey}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repos.NewAuthorityRepo(db).BindSession(context.Background(), "sid-desk", 1); err != nil {
		t.Fatalf("bind session: %v", err)
	}

	clock := testutil.NewFakeClock(now0)
	cfg := config.Config{PenaltyPerDay: 2000, RetryAttempts: 2}
	deps := handlers.NewDeps(db, cfg, clock)

	engine := html.New("../../web/templates", ".html")
	app := fiber.New(fiber.Config{Views: engine, ErrorHandler: handlers.ErrorHandler})
	app.Server().MaxRequestBodySize = 1 << 20
	app.Use(requestid.New())
	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "form:csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/api/")
		},
	}))
	handlers.Mount(app, deps)
	app.Use(handlers.NotFound)

	return &testApp{app: app, path: path, db: db, deps: deps, clock: clock}
}

func (ta *testApp) item(t *testing.T, id int64, title string, qty int) {
	t.Helper()
	if err := repos.NewItemRepo(ta.db).InsertWithID(context.Background(), id, title, qty, map[int]int64{7: 7000}); err != nil {
		t.Fatal(err)
	}
}

// lockStore holds the write lock from another handle until the test ends
// or release is called.
func (ta *testApp) lockStore(t *testing.T) (release func()) {
	t.Helper()
	other, err := repos.OpenDB(ta.path, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := other.Beginx()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec(`UPDATE settings SET value = value`); err != nil {
		t.Fatal(err)
	}
	release = func() {
		_ = tx.Rollback()
		other.Close()
	}
	t.Cleanup(release)
	return release
}

func (ta *testApp) csrfToken(t *testing.T) string {
	t.Helper()
	resp, err := ta.app.Test(httptest.NewRequest("GET", "/login", nil))
	if err != nil {
		t.Fatal(err)
	}
	tok := cookieValue(resp, "csrf_")
	if tok == "" {
		t.Fatal("csrf token missing")
	}
	return tok
}

// postForm sends a CSRF-protected console form as the seeded authority.
func (ta *testApp) postForm(t *testing.T, path, tok, sid string, form string) *http.Response {
	t.Helper()
	body := "csrf=" + tok
	if form != "" {
		body += "&" + form
	}
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "csrf_", Value: tok})
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	}
	resp, err := ta.app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (ta *testApp) postJSON(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(v)
	req := httptest.NewRequest("POST", path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := ta.app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func cookieValue(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// ---------- log capture ----------

type logEntry struct {
	Level     string         `json:"level"`
	Action    string         `json:"action"`
	Authority int64          `json:"authority"`
	ReqID     string         `json:"req_id"`
	Fields    map[string]any `json:"fields"`
}

type lockedBuf struct {
	b  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedBuf) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func captureLogs(t *testing.T, fn func()) []logEntry {
	t.Helper()
	var buf bytes.Buffer
	var mu sync.Mutex
	oldW := log.Writer()
	oldFlags := log.Flags()
	log.SetOutput(&lockedBuf{b: &buf, mu: &mu})
	log.SetFlags(0)
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	fn()

	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e logEntry
		if err := json.Unmarshal([]byte(line), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func findLog(entries []logEntry, action string) (logEntry, bool) {
	for _, e := range entries {
		if e.Action == action {
			return e, true
		}
	}
	return logEntry{}, false
}
