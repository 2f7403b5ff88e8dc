package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/bot.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// BotConfig describes runtime options for the bot daemon and CLI.
type BotConfig struct {
	Environment string

	// HTTP
	ListenPort        int
	AdminToken        string
	VerifyToken       string
	AppSecret         string // HMAC key for inbound signature verification
	SignatureRequired bool

	// Logging
	LogFile  string
	LogLevel string

	// Key-value substrate (sessions, idempotency, rate limits)
	KVDriver      string // memory|redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Ledger
	LedgerDriver string // sqlite|postgres
	LedgerPath   string
	LedgerDSN    string

	// Content history
	HistoryPath string

	// Student profiles
	ProfilePath string

	// Catalog (action costs, subjects, templates, menu text)
	CatalogPath string

	// Worker pool
	WorkerCount int
	QueueDepth  int

	// AI collaborator
	AIBaseURL    string
	AIAPIKey     string
	AIModel      string
	AITimeout    time.Duration
	AIMaxRetries int

	// Outbound messaging collaborator
	MessagingBaseURL string
	MessagingToken   string
	MessagingTimeout time.Duration

	// Coordination tunables
	DedupTTL          time.Duration
	DedupFailOpen     bool
	QuestionCooldown  time.Duration
	ExamCooldown      time.Duration
	ActiveFlagTTL     time.Duration
	RepetitionWindow  time.Duration
	SessionTTLDefault time.Duration
	SessionTTLFlow    time.Duration // multi-step flows (registration, payment, linking)

	// Maintenance mode at boot
	MaintenanceMode bool
}

// Load reads the current environment and builds the bot configuration.
func Load(root string) (BotConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return BotConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return BotConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := BotConfig{
		Environment:       s.Environment,
		ListenPort:        parseOptionalInt(firstNonEmpty(os.Getenv("NERDX_PORT"), merged["port"]), 8080),
		AdminToken:        firstNonEmpty(os.Getenv("NERDX_ADMIN_TOKEN"), merged["admin_token"]),
		VerifyToken:       firstNonEmpty(os.Getenv("NERDX_VERIFY_TOKEN"), merged["verify_token"]),
		AppSecret:         firstNonEmpty(os.Getenv("NERDX_APP_SECRET"), merged["app_secret"]),
		SignatureRequired: parseOptionalBool(firstNonEmpty(os.Getenv("NERDX_SIGNATURE_REQUIRED"), merged["signature_required"]), true),
		LogFile:           firstNonEmpty(os.Getenv("NERDX_LOG_FILE"), merged["log_file"]),
		LogLevel:          firstNonEmpty(os.Getenv("NERDX_LOG_LEVEL"), merged["log_level"], "info"),
		KVDriver:          strings.ToLower(firstNonEmpty(os.Getenv("NERDX_KV_DRIVER"), merged["kv_driver"], "memory")),
		RedisAddr:         firstNonEmpty(os.Getenv("NERDX_REDIS_ADDR"), merged["redis_addr"], "localhost:6379"),
		RedisPassword:     firstNonEmpty(os.Getenv("NERDX_REDIS_PASSWORD"), merged["redis_password"]),
		RedisDB:           parseOptionalInt(firstNonEmpty(os.Getenv("NERDX_REDIS_DB"), merged["redis_db"]), 0),
		LedgerDriver:      strings.ToLower(firstNonEmpty(os.Getenv("NERDX_LEDGER_DRIVER"), merged["ledger_driver"], "sqlite")),
		LedgerPath:        firstNonEmpty(os.Getenv("NERDX_LEDGER_PATH"), merged["ledger_path"], DefaultLedgerPath()),
		LedgerDSN:         firstNonEmpty(os.Getenv("NERDX_LEDGER_DSN"), merged["ledger_dsn"]),
		HistoryPath:       firstNonEmpty(os.Getenv("NERDX_HISTORY_PATH"), merged["history_path"], DefaultHistoryPath()),
		ProfilePath:       firstNonEmpty(os.Getenv("NERDX_PROFILE_PATH"), merged["profile_path"], DefaultProfilePath()),
		CatalogPath:       firstNonEmpty(os.Getenv("NERDX_CATALOG_PATH"), merged["catalog_path"], "config/catalog.yaml"),
		WorkerCount:       parseOptionalInt(firstNonEmpty(os.Getenv("NERDX_WORKER_COUNT"), merged["worker_count"]), 8),
		QueueDepth:        parseOptionalInt(firstNonEmpty(os.Getenv("NERDX_QUEUE_DEPTH"), merged["queue_depth"]), 256),
		AIBaseURL:         firstNonEmpty(os.Getenv("NERDX_AI_BASE_URL"), merged["ai_base_url"]),
		AIAPIKey:          firstNonEmpty(os.Getenv("NERDX_AI_API_KEY"), merged["ai_api_key"]),
		AIModel:           firstNonEmpty(os.Getenv("NERDX_AI_MODEL"), merged["ai_model"], "deepseek-chat"),
		AIMaxRetries:      parseOptionalInt(firstNonEmpty(os.Getenv("NERDX_AI_MAX_RETRIES"), merged["ai_max_retries"]), 2),
		MessagingBaseURL:  firstNonEmpty(os.Getenv("NERDX_MESSAGING_BASE_URL"), merged["messaging_base_url"]),
		MessagingToken:    firstNonEmpty(os.Getenv("NERDX_MESSAGING_TOKEN"), merged["messaging_token"]),
		DedupFailOpen:     parseBool(firstNonEmpty(os.Getenv("NERDX_DEDUP_FAIL_OPEN"), merged["dedup_fail_open"])),
		MaintenanceMode:   parseBool(firstNonEmpty(os.Getenv("NERDX_MAINTENANCE"), merged["maintenance"])),
	}

	var err2 error
	durations := []struct {
		dst      *time.Duration
		key      string
		env      string
		fallback time.Duration
	}{
		{&cfg.AITimeout, "ai_timeout", "NERDX_AI_TIMEOUT", 30 * time.Second},
		{&cfg.MessagingTimeout, "messaging_timeout", "", 15 * time.Second},
		{&cfg.DedupTTL, "dedup_ttl", "", time.Hour},
		{&cfg.QuestionCooldown, "question_cooldown", "", 60 * time.Second},
		{&cfg.ExamCooldown, "exam_cooldown", "", 5 * time.Minute},
		{&cfg.ActiveFlagTTL, "active_flag_ttl", "", 3 * time.Minute},
		{&cfg.RepetitionWindow, "repetition_window", "", 7 * 24 * time.Hour},
		{&cfg.SessionTTLDefault, "session_ttl", "", 30 * time.Minute},
		{&cfg.SessionTTLFlow, "session_ttl_flow", "", 10 * time.Minute},
	}
	for _, d := range durations {
		raw := merged[d.key]
		if d.env != "" {
			raw = firstNonEmpty(os.Getenv(d.env), raw)
		}
		*d.dst, err2 = parseOptionalDuration(raw, d.fallback)
		if err2 != nil {
			return BotConfig{}, fmt.Errorf("invalid %s %q: %w", d.key, raw, err2)
		}
	}

	switch cfg.KVDriver {
	case "memory", "redis":
	default:
		return BotConfig{}, fmt.Errorf("unknown kv_driver %q", cfg.KVDriver)
	}
	switch cfg.LedgerDriver {
	case "sqlite", "postgres":
	default:
		return BotConfig{}, fmt.Errorf("unknown ledger_driver %q", cfg.LedgerDriver)
	}
	if cfg.LedgerDriver == "postgres" && cfg.LedgerDSN == "" {
		return BotConfig{}, errors.New("ledger_driver=postgres requires ledger_dsn")
	}
	if cfg.SignatureRequired && cfg.AppSecret == "" {
		return BotConfig{}, errors.New("signature_required needs app_secret (or set signature_required=false)")
	}

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalDuration(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(v))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultLedgerPath returns the fallback ledger location under the user's home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledger.db"
	}
	return filepath.Join(home, ".nerdx", "ledger.db")
}

// DefaultHistoryPath returns the fallback content-history database path.
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.db"
	}
	return filepath.Join(home, ".nerdx", "history.db")
}

// DefaultProfilePath returns the fallback student-profile database path.
func DefaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "profiles.db"
	}
	return filepath.Join(home, ".nerdx", "profiles.db")
}
