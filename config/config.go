package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// It is built once in main and handed to every component's constructor.
type Config struct {
	DBDriver         string
	DatabaseDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	Portal         string
	MaxSessions    int
	SessionGapMs   int
	DBPingAttempts int

	ChromeBin string
	Headless  bool
	UserAgent string

	Timeouts Timeouts

	LegacyTableFallback bool

	DiagnosticsDir string
	CSVBackupPath  string
	PayloadPath    string

	LogPath       string
	LogLevel      string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Timeouts groups every bounded wait used by the pipeline.
type Timeouts struct {
	Step         time.Duration
	MFA          time.Duration
	Login        time.Duration
	Ready        time.Duration
	HumanInput   time.Duration
	CaptureWait  time.Duration
	CapturePoll  time.Duration
	ElementPoll  time.Duration
	CaptureDelay time.Duration
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DBDriver:         getEnv("DB_DRIVER", "postgres"),
		DatabaseDSN:      getEnv("DATABASE_DSN", ""),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "hotel_revenue_management"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		Portal:         getEnv("PORTAL", "choice"),
		MaxSessions:    getEnvInt("MAX_SESSIONS", 1),
		SessionGapMs:   getEnvInt("SESSION_GAP_MS", 0),
		DBPingAttempts: getEnvInt("DB_PING_ATTEMPTS", 5),

		ChromeBin: getEnv("CHROME_BIN", ""),
		Headless:  getEnvBool("HEADLESS", false),
		UserAgent: getEnv("USER_AGENT", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) "+
			"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),

		Timeouts: Timeouts{
			Step:         getEnvDuration("STEP_TIMEOUT", 20*time.Second),
			MFA:          getEnvDuration("MFA_TIMEOUT", 15*time.Second),
			Login:        getEnvDuration("LOGIN_TIMEOUT", 130*time.Second),
			Ready:        getEnvDuration("READY_TIMEOUT", 20*time.Second),
			HumanInput:   getEnvDuration("HUMAN_INPUT_TIMEOUT", 5*time.Minute),
			CaptureWait:  getEnvDuration("CAPTURE_WAIT", 60*time.Second),
			CapturePoll:  getEnvDuration("CAPTURE_POLL", time.Second),
			ElementPoll:  getEnvDuration("ELEMENT_POLL", 250*time.Millisecond),
			CaptureDelay: getEnvDuration("CAPTURE_DELAY", 5*time.Second),
		},

		LegacyTableFallback: getEnvBool("LEGACY_TABLE_FALLBACK", false),

		DiagnosticsDir: getEnv("DIAGNOSTICS_DIR", "./output/diagnostics"),
		CSVBackupPath:  getEnv("CSV_BACKUP_PATH", "./output/pricing_records.csv"),
		PayloadPath:    getEnv("PAYLOAD_PATH", "./output/new_record_json.json"),

		LogPath:       getEnv("LOG_PATH", "./output/logs/rms_scraper.log"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 14),
	}
}

// DSN returns the database connection string for the configured driver.
// DATABASE_DSN wins when set; otherwise a PostgreSQL keyword DSN is built.
func (c *Config) DSN() string {
	if c.DatabaseDSN != "" {
		return c.DatabaseDSN
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
