package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"

	"ctf-bot/internal/models"
	"ctf-bot/internal/notify"
)

type call struct {
	method string
	path   string
	values [][]interface{}
}

type fakeSheetsAPI struct {
	mu       sync.Mutex
	calls    []call
	existing [][]interface{}
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var vr struct {
		Values [][]interface{} `json:"values"`
	}
	_ = json.Unmarshal(body, &vr)
	f.mu.Lock()
	f.calls = append(f.calls, call{method: r.Method, path: r.URL.Path, values: vr.Values})
	existing := f.existing
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodGet {
		_ = json.NewEncoder(w).Encode(map[string]any{"values": existing})
		return
	}
	_, _ = w.Write([]byte("{}"))
}

func newTestClient(t *testing.T, api *fakeSheetsAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c, err := newWithOptions(context.Background(), "sheet-id",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

type names map[int64]string

func (n names) UserName(_ context.Context, id int64) string { return n[id] }

func TestSolveFeed(t *testing.T) {
	api := &fakeSheetsAPI{}
	feed := NewSolveFeed(newTestClient(t, api), names{7: "@al"})
	ctx := context.Background()
	at := time.Date(2026, 6, 5, 10, 0, 0, 0, time.UTC)

	if err := feed.Deliver(ctx, notify.Event{Kind: notify.Question, UserID: 7, Text: "hi"}); err != nil {
		t.Fatalf("question: %v", err)
	}
	if err := feed.Deliver(ctx, notify.Event{Kind: notify.HiddenSolved, UserID: 7, TaskID: "abc", TaskName: "egg", Points: 3, At: at}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("expected one append, got %+v", api.calls)
	}
	c := api.calls[0]
	if c.method != http.MethodPost || !strings.Contains(c.path, "sheet-id/values/Solves!A:Z:append") {
		t.Fatalf("unexpected request %s %s", c.method, c.path)
	}
	row := c.values[0]
	if row[0] != "2026-06-05T10:00:00Z" || row[2] != "@al" || row[4] != "egg" || row[6] != "hidden" {
		t.Fatalf("unexpected row %v", row)
	}
}

func TestPublishBoard(t *testing.T) {
	api := &fakeSheetsAPI{}
	c := newTestClient(t, api)
	board := []models.Standing{{Position: 1, UserID: 7, Total: 10, Solves: 1}}
	if err := c.PublishBoard(context.Background(), board, func(int64) string { return "@al" }); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(api.calls) != 2 {
		t.Fatalf("expected clear then update, got %+v", api.calls)
	}
	if !strings.HasSuffix(api.calls[0].path, "Scoreboard!A:Z:clear") || api.calls[1].method != http.MethodPut {
		t.Fatalf("unexpected calls %+v", api.calls)
	}
	if rows := api.calls[1].values; len(rows) != 2 || rows[0][0] != "position" || rows[1][2] != "@al" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestEnsureHeaders(t *testing.T) {
	api := &fakeSheetsAPI{}
	c := newTestClient(t, api)
	if err := c.EnsureHeaders(context.Background()); err != nil {
		t.Fatalf("ensure headers: %v", err)
	}
	if len(api.calls) != 2 || api.calls[1].values[0][0] != "at" {
		t.Fatalf("expected a header append, got %+v", api.calls)
	}

	api = &fakeSheetsAPI{existing: [][]interface{}{{"at", "user_id"}}}
	c = newTestClient(t, api)
	if err := c.EnsureHeaders(context.Background()); err != nil {
		t.Fatalf("ensure headers: %v", err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("headers already present, got %+v", api.calls)
	}
}
