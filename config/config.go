package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// client
	ServerURL         string
	TokenPath         string
	TypingQuietPeriod time.Duration
	RequestTimeout    time.Duration
	HandshakeTimeout  time.Duration
	LogFile           string

	// development server
	ListenAddr    string
	DBPath        string
	MediaDir      string
	ControlSocket string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration

	Verbose bool
}

// Load reads an optional .env file and then applies TOURCHAT_* overrides on
// top of the defaults.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ServerURL:         "http://localhost:8000",
		TokenPath:         defaultTokenPath(),
		TypingQuietPeriod: 1200 * time.Millisecond,
		RequestTimeout:    15 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		LogFile:           filepath.Join(os.TempDir(), "tourchat.log"),
		ListenAddr:        ":8000",
		DBPath:            "tourchat.db",
		MediaDir:          "media",
		ControlSocket:     "/tmp/tourchat.sock",
		ReadTimeout:       120 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	if v := os.Getenv("TOURCHAT_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}

	if v := os.Getenv("TOURCHAT_TOKEN_PATH"); v != "" {
		cfg.TokenPath = v
	}

	if v := os.Getenv("TOURCHAT_TYPING_QUIET_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.TypingQuietPeriod = time.Duration(ms) * time.Millisecond
		}
	}

	if v := os.Getenv("TOURCHAT_REQUEST_TIMEOUT"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.RequestTimeout = time.Duration(sec) * time.Second
		}
	}

	if v := os.Getenv("TOURCHAT_HANDSHAKE_TIMEOUT"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.HandshakeTimeout = time.Duration(sec) * time.Second
		}
	}

	if v := os.Getenv("TOURCHAT_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	if v := os.Getenv("TOURCHAT_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}

	if v := os.Getenv("TOURCHAT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	if v := os.Getenv("TOURCHAT_MEDIA_DIR"); v != "" {
		cfg.MediaDir = v
	}

	if v := os.Getenv("TOURCHAT_CONTROL_SOCKET"); v != "" {
		cfg.ControlSocket = v
	}

	if v := os.Getenv("TOURCHAT_READ_TIMEOUT"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.ReadTimeout = time.Duration(sec) * time.Second
		}
	}

	if v := os.Getenv("TOURCHAT_WRITE_TIMEOUT"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.WriteTimeout = time.Duration(sec) * time.Second
		}
	}

	if v := os.Getenv("TOURCHAT_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Verbose = b
		}
	}

	return cfg
}

func defaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tourchat", "token.yaml")
}
