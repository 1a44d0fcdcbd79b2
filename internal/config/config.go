package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is read once at startup and passed by value from then on.
type Config struct {
	TelegramToken string

	StoreBackend string
	RedisURL     string
	PostgresDSN  string

	AdminTGIDs    map[int64]bool
	TesterTGIDs   map[int64]bool
	NotifyChatIDs []int64

	// Event window in epoch seconds; 0 leaves that side open.
	EventStart int64
	EventEnd   int64

	DefaultPoints int

	SpreadsheetID            string
	GoogleServiceAccountJSON string

	HTTPAddr      string
	BasePublicURL string
	ExportSecret  string

	SendRatePerSec  float64
	SendRatePerChat float64

	LogLevel  string
	LogFormat string
}

// FromEnv loads .env if present, then reads the environment, with an
// optional CONFIG_FILE (yaml or json, same keys in lower case) underneath.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("STORE_BACKEND", BackendRedis)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("DEFAULT_POINTS", 1)
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("SEND_RATE_PER_SEC", 30)
	v.SetDefault("SEND_RATE_PER_CHAT", 1)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	if file := strings.TrimSpace(v.GetString("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading %s: %w", file, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	var c Config
	str := func(key string) string { return strings.TrimSpace(v.GetString(key)) }

	c.TelegramToken = str("TELEGRAM_BOT_TOKEN")
	c.StoreBackend = strings.ToLower(str("STORE_BACKEND"))
	c.RedisURL = str("REDIS_URL")
	c.PostgresDSN = str("POSTGRES_DSN")
	c.SpreadsheetID = str("GOOGLE_SHEETS_SPREADSHEET_ID")
	c.GoogleServiceAccountJSON = str("GOOGLE_SERVICE_ACCOUNT_JSON")
	c.HTTPAddr = str("HTTP_ADDR")
	c.BasePublicURL = strings.TrimRight(str("BASE_PUBLIC_URL"), "/")
	c.ExportSecret = str("EXPORT_SECRET")
	c.LogLevel = strings.ToLower(str("LOG_LEVEL"))
	c.LogFormat = strings.ToLower(str("LOG_FORMAT"))

	c.AdminTGIDs = parseIDs(rawList(v, "ADMIN_TG_IDS"))
	c.TesterTGIDs = parseIDs(rawList(v, "TESTER_TG_IDS"))
	c.NotifyChatIDs = sortedIDs(parseIDs(rawList(v, "NOTIFY_CHAT_IDS")))

	var err error
	if c.EventStart, err = parseInt(str("EVENT_START")); err != nil {
		return c, fmt.Errorf("EVENT_START: %w", err)
	}
	if c.EventEnd, err = parseInt(str("EVENT_END")); err != nil {
		return c, fmt.Errorf("EVENT_END: %w", err)
	}
	c.DefaultPoints = v.GetInt("DEFAULT_POINTS")
	c.SendRatePerSec = v.GetFloat64("SEND_RATE_PER_SEC")
	c.SendRatePerChat = v.GetFloat64("SEND_RATE_PER_CHAT")

	switch c.StoreBackend {
	case BackendRedis, BackendPostgres, BackendMemory:
	default:
		return c, fmt.Errorf("STORE_BACKEND %q is not one of redis, postgres, memory", c.StoreBackend)
	}
	if c.StoreBackend == BackendPostgres && c.PostgresDSN == "" {
		return c, fmt.Errorf("POSTGRES_DSN is empty")
	}
	if c.EventStart > 0 && c.EventEnd > 0 && c.EventEnd <= c.EventStart {
		return c, fmt.Errorf("EVENT_END must be after EVENT_START")
	}
	if c.DefaultPoints < 0 {
		return c, fmt.Errorf("DEFAULT_POINTS must not be negative")
	}
	if c.SendRatePerSec <= 0 || c.SendRatePerChat <= 0 {
		return c, fmt.Errorf("send rates must be positive")
	}
	return c, nil
}

// RequireBot checks what `serve` needs on top of the common settings.
func (c Config) RequireBot() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is empty")
	}
	return nil
}

// SheetsEnabled reports whether the Google Sheets mirror is configured.
func (c Config) SheetsEnabled() bool {
	return c.SpreadsheetID != "" && c.GoogleServiceAccountJSON != ""
}

// rawList accepts both "1,2,3" from the environment and a yaml/json list
// from the config file.
func rawList(v *viper.Viper, key string) string {
	switch val := v.Get(key).(type) {
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ",")
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func parseIDs(raw string) map[int64]bool {
	m := map[int64]bool{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return m
	}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		m[v] = true
	}
	return m
}

func sortedIDs(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
