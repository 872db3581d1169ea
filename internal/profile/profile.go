package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the gateway.
type Profile struct {
	// Coze conversational agent configuration
	AgentEndpoint string // base URL of the Coze open API
	AgentToken    string // bearer token
	AgentBotID    string // target bot identifier
	AgentTimeout  int    // agent request timeout in seconds (default: 120)

	// Business hours, HH:MM inclusive bounds. Messages outside the window
	// get the fixed non-business-hours reply.
	BusinessStart string
	BusinessEnd   string

	// Pipeline tuning
	QueueMaxSize     int     // per-account queue bound (default: 1000)
	MaxConcurrent    int     // per-account concurrent dispatchers (default: 10)
	DispatcherIdle   int     // dispatcher idle timeout in seconds (default: 30)
	RetryMaxAttempts int     // platform client retry attempts (default: 3)
	RetryBaseMs      int     // platform client retry base delay (default: 1000)
	RetryFactor      float64 // platform client retry backoff factor (default: 2)
	PingSeconds      int     // transport keepalive interval (default: 20)
	PongTimeout      int     // transport pong deadline in seconds (default: 20)

	// LoginCommand is the external helper that drives interactive platform
	// logins and silent profile refreshes. Empty disables credential
	// refresh and account registration.
	LoginCommand string

	// Server / storage
	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.AgentEndpoint = getEnvOrDefault("CUSTOMER_AGENT_COZE_API_BASE", "https://api.coze.cn")
	p.AgentToken = getEnvOrDefault("CUSTOMER_AGENT_COZE_TOKEN", "")
	p.AgentBotID = getEnvOrDefault("CUSTOMER_AGENT_COZE_BOT_ID", "")
	p.AgentTimeout = getEnvOrDefaultInt("CUSTOMER_AGENT_COZE_TIMEOUT_SECONDS", 120)

	p.BusinessStart = getEnvOrDefault("CUSTOMER_AGENT_BUSINESS_START", "08:00")
	p.BusinessEnd = getEnvOrDefault("CUSTOMER_AGENT_BUSINESS_END", "23:00")

	p.QueueMaxSize = getEnvOrDefaultInt("CUSTOMER_AGENT_QUEUE_MAX_SIZE", 1000)
	p.MaxConcurrent = getEnvOrDefaultInt("CUSTOMER_AGENT_MAX_CONCURRENT", 10)
	p.DispatcherIdle = getEnvOrDefaultInt("CUSTOMER_AGENT_DISPATCHER_IDLE_SECONDS", 30)
	p.RetryMaxAttempts = getEnvOrDefaultInt("CUSTOMER_AGENT_RETRY_MAX_ATTEMPTS", 3)
	p.RetryBaseMs = getEnvOrDefaultInt("CUSTOMER_AGENT_RETRY_BASE_MS", 1000)
	p.RetryFactor = getEnvOrDefaultFloat("CUSTOMER_AGENT_RETRY_FACTOR", 2.0)
	p.PingSeconds = getEnvOrDefaultInt("CUSTOMER_AGENT_TRANSPORT_PING_SECONDS", 20)
	p.PongTimeout = getEnvOrDefaultInt("CUSTOMER_AGENT_TRANSPORT_PONG_TIMEOUT_SECONDS", 20)
	p.LoginCommand = getEnvOrDefault("CUSTOMER_AGENT_LOGIN_COMMAND", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// parseClock rejects anything that is not HH:MM.
func parseClock(value string) error {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return errors.Errorf("invalid clock value %q, want HH:MM", value)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return errors.Errorf("invalid hour in %q", value)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return errors.Errorf("invalid minute in %q", value)
	}
	return nil
}

// Validate checks the profile and fills derived defaults. A validation
// failure is fatal at startup.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Data == "" {
		p.Data = "."
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}
	if p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("customer_agent_%s.db", p.Mode))
	}

	if err := parseClock(p.BusinessStart); err != nil {
		return errors.Wrap(err, "business.start")
	}
	if err := parseClock(p.BusinessEnd); err != nil {
		return errors.Wrap(err, "business.end")
	}

	if p.AgentToken == "" || p.AgentBotID == "" {
		return errors.New("agent token and bot id are required")
	}

	if p.QueueMaxSize <= 0 {
		p.QueueMaxSize = 1000
	}
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = 10
	}
	if p.DispatcherIdle <= 0 {
		p.DispatcherIdle = 30
	}
	if p.RetryMaxAttempts < 0 {
		p.RetryMaxAttempts = 3
	}
	if p.RetryBaseMs <= 0 {
		p.RetryBaseMs = 1000
	}
	if p.RetryFactor <= 1 {
		p.RetryFactor = 2.0
	}
	if p.PingSeconds <= 0 {
		p.PingSeconds = 20
	}
	if p.PongTimeout <= 0 {
		p.PongTimeout = 20
	}
	return nil
}
