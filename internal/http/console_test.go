package handlers_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"rentdesk/internal/notify"
)

type sentBox struct {
	mu   sync.Mutex
	fail bool
	msgs []notify.Message
}

func (b *sentBox) Send(_ context.Context, m notify.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("gateway down")
	}
	b.msgs = append(b.msgs, m)
	return nil
}

func (ta *testApp) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "sid-desk"})
	resp, err := ta.app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestConsole_PingSendsOneOffReminder(t *testing.T) {
	ta := newTestApp(t)
	box := &sentBox{}
	ta.deps.Scanner.Notifier = box
	ta.item(t, 1, "Camera", 2)
	requestRental(t, ta, 1, 10, 1)
	tok := ta.csrfToken(t)
	ta.postForm(t, "/admin/rentals/1/approve", tok, "sid-desk", "")
	ta.clock.Advance(3 * 24 * time.Hour)

	var resp *http.Response
	entries := captureLogs(t, func() {
		resp = ta.postForm(t, "/admin/rentals/1/ping", tok, "sid-desk", "")
	})
	if loc := resp.Header.Get("Location"); loc != "/admin/rentals?m=pinged" {
		t.Fatalf("ping: %d %s", resp.StatusCode, loc)
	}
	if len(box.msgs) != 1 || box.msgs[0].Kind != "ping" || box.msgs[0].RequesterID != 10 {
		t.Fatalf("sent: %+v", box.msgs)
	}
	if !strings.Contains(box.msgs[0].Text, "day(s) late") {
		t.Fatalf("text: %s", box.msgs[0].Text)
	}
	if _, ok := findLog(entries, "rental.ping"); !ok {
		t.Fatal("rental.ping audit log not found")
	}

	// the daily reminder is still due
	rep, err := ta.deps.Scanner.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Overdue.Sent != 1 {
		t.Fatalf("scanner after ping: %+v", rep.Overdue)
	}

	box.fail = true
	resp = ta.postForm(t, "/admin/rentals/1/ping", tok, "sid-desk", "")
	if loc := resp.Header.Get("Location"); loc != "/admin/rentals?m=ping_failed" {
		t.Fatalf("failed ping: %s", loc)
	}
	box.fail = false

	ta.postForm(t, "/admin/rentals/1/return", tok, "sid-desk", "")
	resp = ta.postForm(t, "/admin/rentals/1/ping", tok, "sid-desk", "")
	if loc := resp.Header.Get("Location"); loc != "/admin/rentals?m=already_decided" {
		t.Fatalf("ping after return: %s", loc)
	}
	resp = ta.postForm(t, "/admin/rentals/77/ping", tok, "sid-desk", "")
	if loc := resp.Header.Get("Location"); loc != "/admin/rentals?m=not_found" {
		t.Fatalf("ping unknown: %s", loc)
	}
	if len(box.msgs) != 2 {
		t.Fatalf("sent after closing: %d", len(box.msgs))
	}
}

func TestConsole_StatsPage(t *testing.T) {
	ta := newTestApp(t)
	ta.item(t, 1, "Camera & Lens", 5)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := requestRental(t, ta, 1, 10, 1)
		if _, err := ta.deps.Rentals.ApproveIfAvailable(ctx, id, 1); err != nil {
			t.Fatal(err)
		}
	}
	requestRental(t, ta, 1, 11, 1)
	ta.clock.Advance(2 * 24 * time.Hour)

	resp, body := ta.get(t, "/admin/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d", resp.StatusCode)
	}
	for _, want := range []string{
		"Blacklist (3+ late)",
		"<tr><td>10</td><td>3</td></tr>",
		"Camera &amp; Lens; Camera &amp; Lens; Camera &amp; Lens",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("stats page missing %q; body=%s", want, body)
		}
	}
	// requester 11 only has a pending request
	if strings.Contains(body, "<td>11</td>") {
		t.Fatalf("pending requester listed; body=%s", body)
	}
}

func TestConsole_LockedStoreShowsBusyNotice(t *testing.T) {
	ta := newTestAppBusy(t, 50*time.Millisecond)
	ta.item(t, 1, "Camera", 1)
	requestRental(t, ta, 1, 10, 7)
	tok := ta.csrfToken(t)
	release := ta.lockStore(t)

	var resp *http.Response
	entries := captureLogs(t, func() {
		resp = ta.postForm(t, "/admin/rentals/1/approve", tok, "sid-desk", "")
	})
	if loc := resp.Header.Get("Location"); loc != "/admin/rentals?m=busy" {
		t.Fatalf("approve under lock: %d %s", resp.StatusCode, loc)
	}
	if _, ok := findLog(entries, "rental.approve.busy"); !ok {
		t.Fatal("rental.approve.busy not logged")
	}

	release()
	resp = ta.postForm(t, "/admin/rentals/1/approve", tok, "sid-desk", "")
	if loc := resp.Header.Get("Location"); loc != "/admin/rentals?m=approved" {
		t.Fatalf("approve after release: %s", loc)
	}
	v, err := ta.deps.Rentals.Get(context.Background(), 1)
	if err != nil || v.Status != "approved" {
		t.Fatalf("rental: %+v %v", v.Rental, err)
	}
}

func TestConsole_DeniedLogHidesSession(t *testing.T) {
	ta := newTestApp(t)
	entries := captureLogs(t, func() {
		req := httptest.NewRequest("GET", "/admin/rentals", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: "sid-stranger"})
		if _, err := ta.app.Test(req); err != nil {
			t.Fatal(err)
		}
	})
	e, ok := findLog(entries, "access.denied.admin")
	if !ok {
		t.Fatal("expected access.denied.admin log")
	}
	tag, _ := e.Fields["sid"].(string)
	if tag == "" || strings.Contains(tag, "stranger") || len(tag) != 12 {
		t.Fatalf("sid logged as %q", tag)
	}
}
