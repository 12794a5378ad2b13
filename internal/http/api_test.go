package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAPI_CreateRental(t *testing.T) {
	ta := newTestApp(t)
	ta.item(t, 42, "Camera", 1)

	resp := ta.postJSON(t, "/api/v1/rentals", map[string]any{"item_id": 42, "requester_id": 1, "duration_days": 7})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		ID       int64  `json:"id"`
		Ref      string `json:"ref"`
		Status   string `json:"status"`
		FeeTotal int64  `json:"fee_total"`
	}
	decode(t, resp, &created)
	if created.ID == 0 || created.Ref == "" || created.Status != "requested" || created.FeeTotal != 7000 {
		t.Fatalf("bad body: %+v", created)
	}

	// GET returns the derived fields too
	resp, err := ta.app.Test(httptest.NewRequest("GET", "/api/v1/rentals/1", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: %d", resp.StatusCode)
	}
	var view map[string]any
	decode(t, resp, &view)
	if view["status"] != "requested" || view["overdue"] != false {
		t.Fatalf("view: %v", view)
	}

	resp, err = ta.app.Test(httptest.NewRequest("GET", "/api/v1/rentals/"+created.Ref, nil))
	if err != nil {
		t.Fatal(err)
	}
	decode(t, resp, &view)
	if view["id"] != float64(created.ID) {
		t.Fatalf("lookup by ref: %v", view)
	}
	resp, _ = ta.app.Test(httptest.NewRequest("GET", "/api/v1/rentals/not-a-ref", nil))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad ref: %d", resp.StatusCode)
	}
}

func TestAPI_CreateRejectsBadInput(t *testing.T) {
	ta := newTestApp(t)
	ta.item(t, 1, "Camera", 1)

	cases := []map[string]any{
		{"item_id": 0, "requester_id": 1, "duration_days": 7},
		{"item_id": 1, "requester_id": -5, "duration_days": 7},
		{"item_id": 1, "requester_id": 1, "duration_days": 0},
		{"item_id": 1, "requester_id": 1, "duration_days": 1000},
	}
	for _, body := range cases {
		resp := ta.postJSON(t, "/api/v1/rentals", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%v: expected 400, got %d", body, resp.StatusCode)
		}
	}

	resp := ta.postJSON(t, "/api/v1/rentals", map[string]any{"item_id": 99, "requester_id": 1, "duration_days": 7})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing item: expected 404, got %d", resp.StatusCode)
	}
}

func TestAPI_OutOfStockAndAvailability(t *testing.T) {
	ta := newTestApp(t)
	ta.item(t, 5, "Tripod", 1)
	ctx := context.Background()

	cr, err := ta.deps.Rentals.Create(ctx, 5, 1, 7)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ta.deps.Rentals.ApproveIfAvailable(ctx, cr.RentalID, 1); err != nil {
		t.Fatal(err)
	}

	resp := ta.postJSON(t, "/api/v1/rentals", map[string]any{"item_id": 5, "requester_id": 2, "duration_days": 7})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] != "out_of_stock" {
		t.Fatalf("body: %v", body)
	}

	resp, err = ta.app.Test(httptest.NewRequest("GET", "/api/v1/items/5/availability", nil))
	if err != nil {
		t.Fatal(err)
	}
	var stock struct {
		Total     int    `json:"total"`
		Rented    int    `json:"rented"`
		Available int    `json:"available"`
		Status    string `json:"status"`
	}
	decode(t, resp, &stock)
	if stock.Total != 1 || stock.Rented != 1 || stock.Available != 0 || stock.Status != "OUT_OF_STOCK" {
		t.Fatalf("stock: %+v", stock)
	}

	for path, want := range map[string]int{
		"/api/v1/items/abc/availability": http.StatusBadRequest,
		"/api/v1/items/77/availability":  http.StatusNotFound,
		"/api/v1/rentals/999":            http.StatusNotFound,
		"/api/v1/rentals/x":              http.StatusBadRequest,
	} {
		resp, err := ta.app.Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != want {
			t.Fatalf("%s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func TestAPI_RequesterHistoryShowsPenaltySoFar(t *testing.T) {
	ta := newTestApp(t)
	ta.item(t, 1, "Camera", 2)
	ctx := context.Background()

	cr, err := ta.deps.Rentals.Create(ctx, 1, 7, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ta.deps.Rentals.ApproveIfAvailable(ctx, cr.RentalID, 1); err != nil {
		t.Fatal(err)
	}
	ta.clock.Advance(3*24*time.Hour + time.Hour) // 2 days and an hour late

	resp, err := ta.app.Test(httptest.NewRequest("GET", "/api/v1/requesters/7/rentals", nil))
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Rentals []struct {
			ID           int64 `json:"id"`
			Overdue      bool  `json:"overdue"`
			DaysLate     int   `json:"days_late"`
			PenaltySoFar int64 `json:"penalty_so_far"`
		} `json:"rentals"`
	}
	decode(t, resp, &body)
	if len(body.Rentals) != 1 {
		t.Fatalf("rentals: %+v", body.Rentals)
	}
	r := body.Rentals[0]
	if !r.Overdue || r.DaysLate != 3 || r.PenaltySoFar != 6000 {
		t.Fatalf("derived fields: %+v", r)
	}
}

func TestHealthz(t *testing.T) {
	ta := newTestApp(t)
	resp, err := ta.app.Test(httptest.NewRequest("GET", "/healthz", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
}

func TestAPI_LockedStoreAnswers503(t *testing.T) {
	ta := newTestAppBusy(t, 50*time.Millisecond)
	ta.item(t, 1, "Camera", 1)
	ta.lockStore(t)

	var resp *http.Response
	entries := captureLogs(t, func() {
		resp = ta.postJSON(t, "/api/v1/rentals", map[string]any{"item_id": 1, "requester_id": 1, "duration_days": 7})
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q", got)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] != "busy, retry shortly" {
		t.Fatalf("body: %v", body)
	}
	if _, ok := findLog(entries, "rental.request.busy"); !ok {
		t.Fatal("rental.request.busy not logged")
	}
}
