package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ctf-bot/internal/config"
	"ctf-bot/internal/models"
)

type fakeBoard struct {
	board []models.Standing
	err   error
	asOf  time.Time
}

func (f *fakeBoard) Standings(_ context.Context, asOf time.Time) ([]models.Standing, error) {
	f.asOf = asOf
	return f.board, f.err
}

func (f *fakeBoard) UserName(_ context.Context, id int64) string {
	if id == 2 {
		return "Bo, the second"
	}
	return "@al"
}

func newTestHandler(t *testing.T, board *fakeBoard) http.Handler {
	t.Helper()
	cfg := config.Config{ExportSecret: "s3cret"}
	return Handler(cfg, board, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sampleBoard() *fakeBoard {
	at := time.Date(2026, 6, 5, 10, 0, 0, 0, time.UTC)
	return &fakeBoard{board: []models.Standing{
		{Position: 1, UserID: 2, Total: 100, Solves: 1, ReachedAt: at},
		{Position: 2, UserID: 1, Total: 100, Solves: 2, ReachedAt: at.Add(time.Minute)},
	}}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestHandler(t, sampleBoard()), "/healthz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body)
	}
}

func TestBoardCSV(t *testing.T) {
	board := sampleBoard()
	rec := get(t, newTestHandler(t, board), "/export/board.csv?token="+ExportToken("s3cret"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 || records[1][2] != "Bo, the second" || records[2][1] != "1" {
		t.Fatalf("unexpected csv %q", records)
	}
	if !board.asOf.IsZero() {
		t.Fatalf("no as_of means the live board, got %v", board.asOf)
	}
}

func TestBoardJSON_AsOf(t *testing.T) {
	board := sampleBoard()
	rec := get(t, newTestHandler(t, board), "/api/v1/board?as_of=1780653600&token="+ExportToken("s3cret"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Board []standingRow `json:"board"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Board) != 2 || body.Board[0].Name != "Bo, the second" || body.Board[0].ReachedAt != "2026-06-05T10:00:00Z" {
		t.Fatalf("unexpected body %+v", body)
	}
	if board.asOf.Unix() != 1780653600 {
		t.Fatalf("as_of not passed through: %v", board.asOf)
	}
}

func TestBoard_Rejections(t *testing.T) {
	h := newTestHandler(t, sampleBoard())
	ok := ExportToken("s3cret")
	cases := []struct {
		target string
		want   int
	}{
		{"/export/board.csv", http.StatusBadRequest},
		{"/export/board.csv?token=nope", http.StatusForbidden},
		{"/api/v1/board?token=" + ExportToken("other"), http.StatusForbidden},
		{"/api/v1/board?as_of=x&token=" + ok, http.StatusBadRequest},
	}
	for _, c := range cases {
		if rec := get(t, h, c.target); rec.Code != c.want {
			t.Fatalf("%s: expected %d, got %d", c.target, c.want, rec.Code)
		}
	}

	failing := &fakeBoard{err: errors.New("down")}
	rec := get(t, newTestHandler(t, failing), "/api/v1/board?token="+ExportToken("s3cret"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestHandler(t, sampleBoard())
	limited := false
	for i := 0; i < requestBurst+5; i++ {
		if get(t, h, "/healthz").Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("expected the burst to be exhausted")
	}
}

func TestExportLink(t *testing.T) {
	if ExportLink(config.Config{BasePublicURL: "https://x"}) != "" {
		t.Fatal("no secret means no link")
	}
	link := ExportLink(config.Config{BasePublicURL: "https://x", ExportSecret: "s3cret"})
	if link != "https://x/export/board.csv?token="+ExportToken("s3cret") {
		t.Fatalf("unexpected link %q", link)
	}
}
