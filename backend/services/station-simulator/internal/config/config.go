package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	libconfig "chargesim/backend/libs/config"
	"chargesim/backend/services/station-simulator/internal/atg"
	"chargesim/backend/services/station-simulator/internal/simulator"
	"chargesim/backend/services/station-simulator/internal/uiserver"
)

const (
	defaultIDPrefix   = "CS-SIM"
	defaultConnectors = 2
)

// Config defines the station simulator configuration.
type Config struct {
	CentralSystem struct {
		URL               string        `yaml:"url" env:"CENTRAL_SYSTEM_URL"`
		Username          string        `yaml:"username" env:"CENTRAL_SYSTEM_USERNAME"`
		Password          string        `yaml:"password" env:"CENTRAL_SYSTEM_PASSWORD"`
		CallTimeout       time.Duration `yaml:"callTimeout" env:"OCPP_CALL_TIMEOUT"`
		HeartbeatInterval time.Duration `yaml:"heartbeatInterval" env:"OCPP_HEARTBEAT_INTERVAL"`
		ReconnectDelay    time.Duration `yaml:"reconnectDelay" env:"OCPP_RECONNECT_DELAY"`
	} `yaml:"centralSystem"`
	WebSocket struct {
		PingIntervalSeconds int `yaml:"pingIntervalSeconds" env:"WS_PING_INTERVAL"`
		WriteTimeoutSeconds int `yaml:"writeTimeoutSeconds" env:"WS_WRITE_TIMEOUT"`
	} `yaml:"websocket"`
	Stations struct {
		// Count and IDPrefix build a single default template when Templates is empty.
		Count      int                  `yaml:"count" env:"STATIONS_COUNT"`
		IDPrefix   string               `yaml:"idPrefix" env:"STATIONS_ID_PREFIX"`
		StartDelay time.Duration        `yaml:"startDelay" env:"STATIONS_START_DELAY"`
		Templates  []simulator.Template `yaml:"templates"`
	} `yaml:"stations"`
	UI struct {
		Enabled bool                `yaml:"enabled" env:"UI_ENABLED"`
		Port    string              `yaml:"port" env:"UI_HTTP_PORT"`
		Auth    uiserver.AuthConfig `yaml:"auth"`
	} `yaml:"ui"`
	Database struct {
		DSN string `yaml:"dsn" env:"SIMULATOR_POSTGRES_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr      string        `yaml:"addr" env:"REDIS_ADDR"`
		Password  string        `yaml:"password" env:"REDIS_PASSWORD"`
		DB        int           `yaml:"db" env:"REDIS_DB"`
		StatusTTL time.Duration `yaml:"statusTtl" env:"ATG_STATUS_TTL"`
	} `yaml:"redis"`
}

// Load applies defaults, reads CONFIG_FILE and the environment, then validates.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.CentralSystem.CallTimeout = 30 * time.Second
	cfg.CentralSystem.HeartbeatInterval = 60 * time.Second
	cfg.CentralSystem.ReconnectDelay = 10 * time.Second
	cfg.WebSocket.PingIntervalSeconds = 30
	cfg.WebSocket.WriteTimeoutSeconds = 15
	cfg.Stations.Count = 1
	cfg.Stations.IDPrefix = defaultIDPrefix
	cfg.UI.Enabled = true
	cfg.UI.Port = "8080"
	cfg.UI.Auth.Type = uiserver.AuthNone

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if len(cfg.Stations.Templates) == 0 {
		cfg.Stations.Templates = []simulator.Template{defaultTemplate(cfg.Stations.IDPrefix, cfg.Stations.Count)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultTemplate(prefix string, count int) simulator.Template {
	return simulator.Template{
		IDPrefix:        prefix,
		Count:           count,
		Vendor:          "chargesim",
		Model:           "virtual-ac",
		FirmwareVersion: "1.0.0",
		Connectors:      defaultConnectors,
		ATG: atg.Config{
			Enable:                         true,
			MinDelayBetweenTwoTransactions: 15,
			MaxDelayBetweenTwoTransactions: 30,
			MinDuration:                    60,
			MaxDuration:                    120,
			ProbabilityOfStart:             1,
			StopAfterHours:                 atg.DefaultStopAfterHours,
		},
	}
}

// Validate checks required fields and generator bounds.
func (c *Config) Validate() error {
	raw := strings.TrimSpace(c.CentralSystem.URL)
	if raw == "" {
		return errors.New("config: central system url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: central system url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("config: central system url must use ws or wss, got %q", u.Scheme)
	}

	if len(c.Stations.Templates) == 0 {
		return errors.New("config: at least one station template is required")
	}
	for i, tpl := range c.Stations.Templates {
		if strings.TrimSpace(tpl.IDPrefix) == "" {
			return fmt.Errorf("config: template %d: idPrefix is required", i)
		}
		if tpl.Count <= 0 {
			return fmt.Errorf("config: template %s: count must be positive", tpl.IDPrefix)
		}
		if tpl.Connectors < 0 {
			return fmt.Errorf("config: template %s: connectors must not be negative", tpl.IDPrefix)
		}
		if err := validateATG(tpl.ATG); err != nil {
			return fmt.Errorf("config: template %s: %w", tpl.IDPrefix, err)
		}
	}
	return nil
}

func validateATG(cfg atg.Config) error {
	if cfg.MinDelayBetweenTwoTransactions < 0 || cfg.MinDuration < 0 {
		return errors.New("generator delays and durations must not be negative")
	}
	if cfg.MinDelayBetweenTwoTransactions > cfg.MaxDelayBetweenTwoTransactions {
		return errors.New("minDelayBetweenTwoTransactions exceeds maxDelayBetweenTwoTransactions")
	}
	if cfg.MinDuration > cfg.MaxDuration {
		return errors.New("minDuration exceeds maxDuration")
	}
	if cfg.ProbabilityOfStart < 0 || cfg.ProbabilityOfStart > 1 {
		return errors.New("probabilityOfStart must be within [0, 1]")
	}
	if cfg.StopAfterHours < 0 {
		return errors.New("stopAfterHours must not be negative")
	}
	return nil
}

// UIAddress returns :port style address.
func (c *Config) UIAddress() string {
	port := strings.TrimSpace(c.UI.Port)
	if port == "" {
		port = "8080"
	}
	if strings.Contains(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// PingInterval returns websocket ping interval.
func (c *Config) PingInterval() time.Duration {
	if c.WebSocket.PingIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.WebSocket.PingIntervalSeconds) * time.Second
}

// WriteTimeout returns websocket write timeout.
func (c *Config) WriteTimeout() time.Duration {
	if c.WebSocket.WriteTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.WebSocket.WriteTimeoutSeconds) * time.Second
}
