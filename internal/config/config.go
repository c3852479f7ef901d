package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultCatalogURL   = "https://flac.music.hi.cn"
	DefaultChallengeURL = "https://challenge.rivers.chaitin.cn"
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"
	DefaultPageSize     = 10
	DownloadSubdir      = "FlacMusic"
)

type Config struct {
	Port         string
	LogLevel     slog.Level
	DownloadDir  string
	CatalogURL   string
	ChallengeURL string
	UserAgent    string
	PageSize     int
	HTTPTimeout  time.Duration
}

func LoadConfig() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	downloadDir := os.Getenv("DOWNLOAD_DIR")
	if downloadDir == "" {
		downloadDir = DefaultDownloadDir()
	}

	catalogURL := strings.TrimRight(os.Getenv("CATALOG_URL"), "/")
	if catalogURL == "" {
		catalogURL = DefaultCatalogURL
	}
	challengeURL := strings.TrimRight(os.Getenv("CHALLENGE_URL"), "/")
	if challengeURL == "" {
		challengeURL = DefaultChallengeURL
	}

	userAgent := os.Getenv("USER_AGENT")
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	pageSize := DefaultPageSize
	if v, err := strconv.Atoi(os.Getenv("PAGE_SIZE")); err == nil && v > 0 {
		pageSize = v
	}

	timeout := 30 * time.Second
	if v, err := time.ParseDuration(os.Getenv("HTTP_TIMEOUT")); err == nil && v > 0 {
		timeout = v
	}

	return Config{
		Port:         port,
		LogLevel:     ParseLevel(os.Getenv("LOG_LEVEL")),
		DownloadDir:  downloadDir,
		CatalogURL:   catalogURL,
		ChallengeURL: challengeURL,
		UserAgent:    userAgent,
		PageSize:     pageSize,
		HTTPTimeout:  timeout,
	}
}

func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultDownloadDir is $HOME/FlacMusic, or ./FlacMusic when the home
// directory cannot be resolved.
func DefaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DownloadSubdir
	}
	return filepath.Join(home, DownloadSubdir)
}
