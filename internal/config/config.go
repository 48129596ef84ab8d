package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/qdash-dev/copilot/internal/logger"
)

const (
	DefaultPort           = "2005"
	DefaultInternalAPIURL = "http://localhost:2004"
	DefaultRelayURL       = "http://localhost:2005"
)

// Config holds settings for both the relay server and the terminal client.
type Config struct {
	// Port the relay listens on
	Port string
	// InternalAPIURL is the upstream copilot service the relay forwards to
	InternalAPIURL string
	// RelayURL is where the client sends chat requests
	RelayURL     string
	AllowOrigins string

	// HomeDir holds credentials.yaml and sessions.json
	HomeDir string
	// LogFile overrides the UI log location; empty means LogPath derives it
	// from HomeDir
	LogFile string
	Dev     bool
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logger.Debugf("no .env file loaded: %v", err)
	}

	cfg := &Config{
		Port:           getEnv("COPILOT_PORT", DefaultPort),
		InternalAPIURL: strings.TrimRight(getEnv("INTERNAL_API_URL", DefaultInternalAPIURL), "/"),
		RelayURL:       strings.TrimRight(getEnv("COPILOT_RELAY_URL", DefaultRelayURL), "/"),
		AllowOrigins:   getEnv("COPILOT_ALLOW_ORIGINS", "*"),
		HomeDir:        getEnv("COPILOT_HOME", defaultHomeDir()),
		Dev:            getEnvAsBool("COPILOT_DEV", false),
	}
	cfg.LogFile = os.Getenv("COPILOT_LOG_FILE")

	return cfg
}

// CredentialsPath is the credentials file inside HomeDir
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.HomeDir, "credentials.yaml")
}

// LogPath is where the chat UI logs while it owns the terminal
func (c *Config) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.HomeDir, "copilot.log")
}

// SessionsPath is the persisted session collection inside HomeDir
func (c *Config) SessionsPath() string {
	return filepath.Join(c.HomeDir, "sessions.json")
}

// EnsureHome creates HomeDir if it does not exist.
func (c *Config) EnsureHome() error {
	return os.MkdirAll(c.HomeDir, 0o700)
}

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
		if home == "" {
			home = "."
		}
	}
	return filepath.Join(home, ".copilot")
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
