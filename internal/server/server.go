package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"ctf-bot/internal/config"
	"ctf-bot/internal/models"
	"ctf-bot/internal/util"
)

// exportPurpose is the message signed into board export tokens.
const exportPurpose = "export:board"

const (
	requestsPerSecond = 10
	requestBurst      = 20
)

// Board is what the HTTP surface reads. *ctf.Service implements it.
type Board interface {
	Standings(ctx context.Context, asOf time.Time) ([]models.Standing, error)
	UserName(ctx context.Context, id int64) string
}

// ExportToken signs board export links for secret.
func ExportToken(secret string) string {
	return util.HMACSHA256Hex(secret, exportPurpose)
}

// ExportLink is the signed CSV link handed to admins, or "" when exports
// are not configured.
func ExportLink(cfg config.Config) string {
	if cfg.ExportSecret == "" || cfg.BasePublicURL == "" {
		return ""
	}
	return cfg.BasePublicURL + "/export/board.csv?token=" + url.QueryEscape(ExportToken(cfg.ExportSecret))
}

func New(cfg config.Config, board Board, log *slog.Logger) *http.Server {
	return &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      Handler(cfg, board, log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func Handler(cfg config.Config, board Board, log *slog.Logger) http.Handler {
	h := &handlers{secret: cfg.ExportSecret, board: board, log: log}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.HandleFunc("/export/board.csv", h.authorized(h.boardCSV)).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/board", h.authorized(h.boardJSON)).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	})
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst)
	return rateLimitMiddleware(limiter)(c.Handler(router))
}

func rateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type handlers struct {
	secret string
	board  Board
	log    *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ts": util.ISO(time.Now())})
}

// authorized checks the signed token of export links.
func (h *handlers) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "token required", http.StatusBadRequest)
			return
		}
		if !util.ValidHMAC(h.secret, exportPurpose, token) {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

type standingRow struct {
	Position  int    `json:"position"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Solves    int    `json:"solves"`
	ReachedAt string `json:"reached_at"`
}

// standings reads ?as_of=<epoch seconds>; missing means now.
func (h *handlers) standings(w http.ResponseWriter, r *http.Request) ([]standingRow, bool) {
	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || sec <= 0 {
			http.Error(w, "as_of must be epoch seconds", http.StatusBadRequest)
			return nil, false
		}
		asOf = time.Unix(sec, 0)
	}
	board, err := h.board.Standings(r.Context(), asOf)
	if err != nil {
		h.log.Error("http: board export failed", "err", err)
		http.Error(w, "board unavailable", http.StatusServiceUnavailable)
		return nil, false
	}
	rows := make([]standingRow, 0, len(board))
	for _, s := range board {
		rows = append(rows, standingRow{
			Position:  s.Position,
			UserID:    s.UserID,
			Name:      h.board.UserName(r.Context(), s.UserID),
			Total:     s.Total,
			Solves:    s.Solves,
			ReachedAt: util.ISO(s.ReachedAt),
		})
	}
	return rows, true
}

func (h *handlers) boardJSON(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.standings(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"board": rows})
}

func (h *handlers) boardCSV(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.standings(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="board.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"position", "user_id", "name", "total", "solves", "reached_at"})
	for _, row := range rows {
		_ = cw.Write([]string{
			strconv.Itoa(row.Position),
			strconv.FormatInt(row.UserID, 10),
			row.Name,
			strconv.Itoa(row.Total),
			strconv.Itoa(row.Solves),
			row.ReachedAt,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.log.Warn("http: writing csv", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
