// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url" validate:"required"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// LockingConfig selects the per-user lock backend. "local" only serializes
// within one process.
type LockingConfig struct {
	Backend string `yaml:"backend" validate:"oneof=redis postgres local"`
}

type WhatsAppConfig struct {
	Token         string  `yaml:"token" validate:"required"`
	VerifyToken   string  `yaml:"verify_token" validate:"required"`
	PhoneNumberID string  `yaml:"phone_number_id" validate:"required"`
	APIVersion    string  `yaml:"api_version"`
	BaseURL       string  `yaml:"base_url"`
	DisplayNumber string  `yaml:"display_number"` // used in wa.me referral links
	SendRPS       float64 `yaml:"send_rps"`
}

type PayPalConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	WebhookID    string `yaml:"webhook_id" validate:"required"`
	ProductID    string `yaml:"product_id"`
	PlanID       string `yaml:"plan_id" validate:"required"`
	APIURL       string `yaml:"api_url"`
	BrandName    string `yaml:"brand_name"`
}

type OpenAIConfig struct {
	APIKey             string `yaml:"api_key" validate:"required"`
	BaseURL            string `yaml:"base_url"`
	TranscriptionModel string `yaml:"transcription_model"`
	SummaryModel       string `yaml:"summary_model"`
}

type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type TranscriptionConfig struct {
	Summarizer      string `yaml:"summarizer" validate:"oneof=openai gemini"`
	MaxInputTokens  int    `yaml:"max_input_tokens"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent provider calls
}

type AppConfig struct {
	PublicURL         string `yaml:"public_url" validate:"required,url"`
	FreeQuota         int    `yaml:"free_quota" validate:"min=0"`
	ReferralThreshold int    `yaml:"referral_threshold" validate:"min=1"`
	BonusDays         int    `yaml:"bonus_days" validate:"min=1"`
}

type AdminConfig struct {
	APIKey         string   `yaml:"api_key"`
	CommandPrefix  string   `yaml:"command_prefix"`
	Secret         string   `yaml:"secret"`
	Phones         []string `yaml:"phones"`
	TelegramToken  string   `yaml:"telegram_token"`
	TelegramChatID int64    `yaml:"telegram_chat_id"`
}

type SecurityConfig struct {
	RedirectSecret string        `yaml:"redirect_secret" validate:"required,min=16"`
	RedirectTTL    time.Duration `yaml:"redirect_ttl"`
	ReferralSecret string        `yaml:"referral_secret" validate:"required"`
}

type TimeoutConfig struct {
	Messaging     time.Duration `yaml:"messaging"`
	Billing       time.Duration `yaml:"billing"`
	Transcription time.Duration `yaml:"transcription"`
	Storage       time.Duration `yaml:"storage"`
	Webhook       time.Duration `yaml:"webhook"`
}

type WorkerConfig struct {
	Count int `yaml:"count"`
	Queue int `yaml:"queue"`
}

type RateLimitConfig struct {
	MessagesPerWindow int           `yaml:"messages_per_window"`
	Window            time.Duration `yaml:"window"`
}

type SchedulerConfig struct {
	StatsInterval time.Duration `yaml:"stats_interval"`
}

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Locking       LockingConfig       `yaml:"locking"`
	WhatsApp      WhatsAppConfig      `yaml:"whatsapp"`
	PayPal        PayPalConfig        `yaml:"paypal"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Gemini        GeminiConfig        `yaml:"gemini"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	App           AppConfig           `yaml:"app"`
	Admin         AdminConfig         `yaml:"admin"`
	Security      SecurityConfig      `yaml:"security"`
	Timeouts      TimeoutConfig       `yaml:"timeouts"`
	Workers       WorkerConfig        `yaml:"workers"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads -config and -dev from the command line and loads the file.
func LoadConfig() (*Config, error) {
	var configPath string
	var envPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.StringVar(&envPath, "env", ".env", "optional dotenv file loaded before the config")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	return Load(configPath, envPath, dev)
}

// Load reads the yaml file at path after overlaying envPath (if present) onto
// the process environment. ${VAR} references in the yaml are expanded.
func Load(path, envPath string, dev bool) (*Config, error) {
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return nil, fmt.Errorf("load env file: %w", err)
			}
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse expands environment references, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	c.Server.ReadTimeout = orDuration(c.Server.ReadTimeout, 10*time.Second)
	c.Server.WriteTimeout = orDuration(c.Server.WriteTimeout, 15*time.Second)
	c.Server.ShutdownTimeout = orDuration(c.Server.ShutdownTimeout, 10*time.Second)
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	c.Redis.DedupTTL = orDuration(c.Redis.DedupTTL, 24*time.Hour)
	c.Redis.LockTTL = orDuration(c.Redis.LockTTL, 15*time.Second)
	if c.Locking.Backend == "" {
		c.Locking.Backend = "redis"
	}
	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = "v22.0"
	}
	if c.WhatsApp.BaseURL == "" {
		c.WhatsApp.BaseURL = "https://graph.facebook.com"
	}
	if c.WhatsApp.SendRPS <= 0 {
		c.WhatsApp.SendRPS = 20
	}
	if c.PayPal.APIURL == "" {
		c.PayPal.APIURL = "https://api-m.sandbox.paypal.com"
	}
	if c.PayPal.BrandName == "" {
		c.PayPal.BrandName = "Voice Summary Premium"
	}
	if c.OpenAI.TranscriptionModel == "" {
		c.OpenAI.TranscriptionModel = "whisper-1"
	}
	if c.OpenAI.SummaryModel == "" {
		c.OpenAI.SummaryModel = "gpt-4o-mini"
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.0-flash"
	}
	if c.Transcription.Summarizer == "" {
		c.Transcription.Summarizer = "openai"
	}
	if c.Transcription.MaxInputTokens <= 0 {
		c.Transcription.MaxInputTokens = 6000
	}
	if c.Transcription.MaxOutputTokens <= 0 {
		c.Transcription.MaxOutputTokens = 400
	}
	if c.Transcription.ConcurrentLimit <= 0 {
		c.Transcription.ConcurrentLimit = 8
	}
	if c.App.FreeQuota == 0 {
		c.App.FreeQuota = 10
	}
	if c.App.ReferralThreshold == 0 {
		c.App.ReferralThreshold = 5
	}
	if c.App.BonusDays == 0 {
		c.App.BonusDays = 30
	}
	c.App.PublicURL = strings.TrimRight(c.App.PublicURL, "/")
	if c.Admin.CommandPrefix == "" {
		c.Admin.CommandPrefix = "!admin"
	}
	c.Security.RedirectTTL = orDuration(c.Security.RedirectTTL, 24*time.Hour)
	c.Timeouts.Messaging = orDuration(c.Timeouts.Messaging, 10*time.Second)
	c.Timeouts.Billing = orDuration(c.Timeouts.Billing, 15*time.Second)
	c.Timeouts.Transcription = orDuration(c.Timeouts.Transcription, 90*time.Second)
	c.Timeouts.Storage = orDuration(c.Timeouts.Storage, 5*time.Second)
	c.Timeouts.Webhook = orDuration(c.Timeouts.Webhook, 10*time.Second)
	if c.Workers.Count <= 0 {
		c.Workers.Count = 8
	}
	if c.Workers.Queue <= 0 {
		c.Workers.Queue = c.Workers.Count * 16
	}
	if c.RateLimit.MessagesPerWindow <= 0 {
		c.RateLimit.MessagesPerWindow = 30
	}
	c.RateLimit.Window = orDuration(c.RateLimit.Window, time.Minute)
	c.Scheduler.StatsInterval = orDuration(c.Scheduler.StatsInterval, time.Minute)
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Locking.Backend == "redis" && c.Redis.URL == "" {
		return errors.New("redis.url is required when locking.backend is redis")
	}
	if c.Transcription.Summarizer == "gemini" && c.Gemini.APIKey == "" {
		return errors.New("gemini.api_key is required when transcription.summarizer is gemini")
	}
	if c.Admin.Secret != "" && len(c.Admin.Secret) < 12 {
		return errors.New("admin.secret must be at least 12 characters")
	}
	if c.Admin.TelegramToken != "" && c.Admin.TelegramChatID == 0 {
		return errors.New("admin.telegram_chat_id is required with admin.telegram_token")
	}
	return nil
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
