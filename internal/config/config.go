package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "LEADSCANNER_CONFIG"
	dotenvPathEnv     = "LEADSCANNER_DOTENV"
	databaseDSNEnv    = "DATABASE_DSN"
	databaseDriverEnv = "DATABASE_DRIVER"
	groqKeyEnv        = "GROQ_KEY"
	generationModel   = "GENERATION_MODEL"
	shopURLEnv        = "SHOP_URL"
	whatsappNumberEnv = "WHATSAPP_NUMBER"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	logLevelEnv       = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Generation    GenerationConfig   `yaml:"generation"`
	Links         LinksConfig        `yaml:"links"`
	Templates     TemplatesConfig    `yaml:"templates"`
	Keywords      []string           `yaml:"keywords"`
	Facebook      FacebookConfig     `yaml:"facebook"`
	WhatsApp      WhatsAppConfig     `yaml:"whatsapp"`
	Notifications NotificationConfig `yaml:"notifications"`
	Metrics       MetricsConfig      `yaml:"metrics"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig picks the ledger driver and its connection string.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// SeenCacheTTL keeps recently seen fingerprints in memory; zero disables the cache.
	SeenCacheTTL time.Duration `yaml:"seenCacheTtl"`
}

// SchedulerConfig defines when live scans run.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Interval       time.Duration  `yaml:"interval"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// GenerationConfig defines how to contact the completion backend.
type GenerationConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"apiKey"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LinksConfig holds the promotional links appended to public replies.
type LinksConfig struct {
	ShopURL        string `yaml:"shopUrl"`
	WhatsAppNumber string `yaml:"whatsappNumber"`
}

// TemplatesConfig points at the fallback reply corpora.
type TemplatesConfig struct {
	FacebookPath string `yaml:"facebookPath"`
	WhatsAppPath string `yaml:"whatsappPath"`
	Watch        bool   `yaml:"watch"`
}

// PauseRange is a randomized delay window.
type PauseRange struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// CookieConfig is a browser cookie injected into an account session.
type CookieConfig struct {
	Name   string `yaml:"name"`
	Value  string `yaml:"value"`
	Domain string `yaml:"domain"`
	Path   string `yaml:"path"`
}

// AccountConfig describes one automation account.
type AccountConfig struct {
	Name    string         `yaml:"name"`
	Cookies []CookieConfig `yaml:"cookies"`
}

// FacebookConfig wires group scanning.
type FacebookConfig struct {
	Accounts          []AccountConfig `yaml:"accounts"`
	Groups            []string        `yaml:"groups"`
	SessionDir        string          `yaml:"sessionDir"`
	ChromePath        string          `yaml:"chromePath"`
	Headful           bool            `yaml:"headful"`
	PageSettle        time.Duration   `yaml:"pageSettle"`
	HistoricalScrolls int             `yaml:"historicalScrolls"`
	ReplyPause        PauseRange      `yaml:"replyPause"`
	AccountPause      PauseRange      `yaml:"accountPause"`
	DispatchTimeout   time.Duration   `yaml:"dispatchTimeout"`
	RepliesPerMinute  float64         `yaml:"repliesPerMinute"`
}

// WhatsAppConfig wires the messaging bridge.
type WhatsAppConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BridgeURL    string        `yaml:"bridgeUrl"`
	Command      string        `yaml:"command"`
	Args         []string      `yaml:"args"`
	StartupGrace time.Duration `yaml:"startupGrace"`
	PollInterval time.Duration `yaml:"pollInterval"`
	PollLimit    int           `yaml:"pollLimit"`
	SendTimeout  time.Duration `yaml:"sendTimeout"`
	// KeywordsOnly applies the intent vocabulary to direct messages too;
	// by default every inbound message is treated as a lead.
	KeywordsOnly bool `yaml:"keywordsOnly"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads .env and YAML configuration (if present) and applies environment overrides.
func Load() Config {
	dotenv := os.Getenv(dotenvPathEnv)
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: cannot load %s: %v", dotenv, err)
	}

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Keywords) == 0 {
		cfg.Keywords = defaultConfig().Keywords
	}

	return cfg
}

// Validate reports configuration errors that must stop the process.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	if c.Scheduler.CronExpression != "" {
		if _, err := cron.ParseStandard(c.Scheduler.CronExpression); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.cronExpression: %w", err))
		}
	} else if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler needs cronExpression or a positive interval"))
	}

	for name, pr := range map[string]PauseRange{
		"facebook.replyPause":   c.Facebook.ReplyPause,
		"facebook.accountPause": c.Facebook.AccountPause,
	} {
		if pr.Min < 0 || pr.Max < pr.Min {
			errs = append(errs, fmt.Errorf("%s: min %s and max %s are not a valid range", name, pr.Min, pr.Max))
		}
	}

	if c.WhatsApp.Enabled {
		if _, err := url.ParseRequestURI(c.WhatsApp.BridgeURL); err != nil {
			errs = append(errs, fmt.Errorf("whatsapp.bridgeUrl: %w", err))
		}
		if c.WhatsApp.PollInterval <= 0 {
			errs = append(errs, errors.New("whatsapp.pollInterval must be positive"))
		}
	}

	if c.Notifications.Telegram.Enabled {
		if c.Notifications.Telegram.BotToken == "" || c.Notifications.Telegram.ChatID == "" {
			errs = append(errs, errors.New("telegram notifications need botToken and chatId"))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(groqKeyEnv); v != "" {
		c.Generation.APIKey = v
	}

	if v := os.Getenv(generationModel); v != "" {
		c.Generation.Model = v
	}

	if v := os.Getenv(shopURLEnv); v != "" {
		c.Links.ShopURL = v
	}

	if v := os.Getenv(whatsappNumberEnv); v != "" {
		c.Links.WhatsAppNumber = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = strings.TrimSpace(strings.TrimPrefix(v, "Id:"))
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}
	if override.Database.SeenCacheTTL != 0 {
		base.Database.SeenCacheTTL = override.Database.SeenCacheTTL
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
		base.Scheduler.Interval = 0
	}
	if override.Scheduler.Interval != 0 {
		base.Scheduler.Interval = override.Scheduler.Interval
		if override.Scheduler.CronExpression == "" {
			base.Scheduler.CronExpression = ""
		}
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Generation.Endpoint != "" {
		base.Generation.Endpoint = override.Generation.Endpoint
	}
	if override.Generation.Model != "" {
		base.Generation.Model = override.Generation.Model
	}
	if override.Generation.APIKey != "" {
		base.Generation.APIKey = override.Generation.APIKey
	}
	if override.Generation.Temperature != 0 {
		base.Generation.Temperature = override.Generation.Temperature
	}
	if override.Generation.Timeout != 0 {
		base.Generation.Timeout = override.Generation.Timeout
	}

	if override.Links.ShopURL != "" {
		base.Links.ShopURL = override.Links.ShopURL
	}
	if override.Links.WhatsAppNumber != "" {
		base.Links.WhatsAppNumber = override.Links.WhatsAppNumber
	}

	if override.Templates.FacebookPath != "" {
		base.Templates.FacebookPath = override.Templates.FacebookPath
	}
	if override.Templates.WhatsAppPath != "" {
		base.Templates.WhatsAppPath = override.Templates.WhatsAppPath
	}
	base.Templates.Watch = base.Templates.Watch || override.Templates.Watch

	if len(override.Keywords) > 0 {
		base.Keywords = override.Keywords
	}

	base.Facebook = mergeFacebook(base.Facebook, override.Facebook)
	base.WhatsApp = mergeWhatsApp(base.WhatsApp, override.WhatsApp)

	if override.Notifications.Telegram.Enabled {
		base.Notifications.Telegram.Enabled = true
	}
	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Metrics.Addr != "" {
		base.Metrics.Addr = override.Metrics.Addr
	}

	return base
}

func mergeFacebook(base, override FacebookConfig) FacebookConfig {
	if len(override.Accounts) > 0 {
		base.Accounts = override.Accounts
	}
	if len(override.Groups) > 0 {
		base.Groups = override.Groups
	}
	if override.SessionDir != "" {
		base.SessionDir = override.SessionDir
	}
	if override.ChromePath != "" {
		base.ChromePath = override.ChromePath
	}
	base.Headful = base.Headful || override.Headful
	if override.PageSettle != 0 {
		base.PageSettle = override.PageSettle
	}
	if override.HistoricalScrolls != 0 {
		base.HistoricalScrolls = override.HistoricalScrolls
	}
	if override.ReplyPause != (PauseRange{}) {
		base.ReplyPause = override.ReplyPause
	}
	if override.AccountPause != (PauseRange{}) {
		base.AccountPause = override.AccountPause
	}
	if override.DispatchTimeout != 0 {
		base.DispatchTimeout = override.DispatchTimeout
	}
	if override.RepliesPerMinute != 0 {
		base.RepliesPerMinute = override.RepliesPerMinute
	}
	return base
}

func mergeWhatsApp(base, override WhatsAppConfig) WhatsAppConfig {
	base.Enabled = base.Enabled || override.Enabled
	if override.BridgeURL != "" {
		base.BridgeURL = override.BridgeURL
	}
	if override.Command != "" {
		base.Command = override.Command
		base.Args = override.Args
	}
	if override.StartupGrace != 0 {
		base.StartupGrace = override.StartupGrace
	}
	if override.PollInterval != 0 {
		base.PollInterval = override.PollInterval
	}
	if override.PollLimit != 0 {
		base.PollLimit = override.PollLimit
	}
	if override.SendTimeout != 0 {
		base.SendTimeout = override.SendTimeout
	}
	base.KeywordsOnly = base.KeywordsOnly || override.KeywordsOnly
	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:   LoggingConfig{Level: "info"},
		Database:  DatabaseConfig{Driver: "sqlite", DSN: "leadscanner.db", SeenCacheTTL: time.Hour},
		Scheduler: SchedulerConfig{Interval: 30 * time.Minute, Timezone: defaultTimezone, location: tz},
		Generation: GenerationConfig{
			Endpoint:    "https://api.groq.com/openai/v1/chat/completions",
			Model:       "llama-3.1-70b-versatile",
			Temperature: 0.9,
			Timeout:     20 * time.Second,
		},
		Links: LinksConfig{ShopURL: "autopartspro.shop", WhatsAppNumber: "254700123456"},
		Templates: TemplatesConfig{
			FacebookPath: "fb_templates.json",
			WhatsAppPath: "wa_templates.json",
		},
		Keywords: []string{"wtb", "need", "looking for", "iso", "part out"},
		Facebook: FacebookConfig{
			SessionDir:        "sessions",
			PageSettle:        5 * time.Second,
			HistoricalScrolls: 20,
			ReplyPause:        PauseRange{Min: 8 * time.Second, Max: 20 * time.Second},
			AccountPause:      PauseRange{Min: 60 * time.Second, Max: 120 * time.Second},
			DispatchTimeout:   30 * time.Second,
			RepliesPerMinute:  4,
		},
		WhatsApp: WhatsAppConfig{
			BridgeURL:    "http://localhost:3000",
			Command:      "node",
			Args:         []string{"baileys_client.js", "server", "3000"},
			StartupGrace: 5 * time.Second,
			PollInterval: 5 * time.Second,
			PollLimit:    10,
			SendTimeout:  10 * time.Second,
		},
	}
}
