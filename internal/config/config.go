package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Workers     WorkersConfig     `yaml:"workers"`
	Browser     BrowserConfig     `yaml:"browser"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	Proxy       ProxyConfig       `yaml:"proxy"`
	Captcha     CaptchaConfig     `yaml:"captcha"`
	Capture     CaptureConfig     `yaml:"capture"`
	Logging     LoggingConfig     `yaml:"logging"`
	Redis       RedisConfig       `yaml:"redis"`
	Spaces      SpacesConfig      `yaml:"spaces"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" validate:"min=1,max=65535"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type WorkersConfig struct {
	PoolSize  int           `yaml:"pool_size" validate:"min=1"`
	QueueSize int           `yaml:"queue_size" validate:"min=1"`
	RateLimit int           `yaml:"rate_limit" validate:"min=1"` // captures per minute per domain
	Timeout   time.Duration `yaml:"timeout"`
}

// BrowserConfig configures the automation engine and the session facade
type BrowserConfig struct {
	Headless          bool          `yaml:"headless"`
	BinPath           string        `yaml:"bin_path"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	Humanize          bool          `yaml:"humanize"`
	AutoScroll        bool          `yaml:"auto_scroll"`
	ScreenshotDir     string        `yaml:"screenshot_dir"`
}

type FingerprintConfig struct {
	// Seed makes generated profiles deterministic when set
	Seed string `yaml:"seed"`
	// Store is one of "none", "file" or "redis"
	Store     string `yaml:"store" validate:"oneof=none file redis"`
	StorePath string `yaml:"store_path"`
}

// ProxyConfig selects one rotation strategy
type ProxyConfig struct {
	// Provider is one of "none", "static", "smartproxy", "brightdata" or "iproyal"
	Provider         string        `yaml:"provider" validate:"oneof=none static smartproxy brightdata iproyal"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port" validate:"min=0,max=65535"`
	Country          string        `yaml:"country"`
	RotationInterval time.Duration `yaml:"rotation_interval"`
	Static           []string      `yaml:"static"`
	VerifyURL        string        `yaml:"verify_url"`
	VerifyTimeout    time.Duration `yaml:"verify_timeout"`
}

type CaptchaConfig struct {
	// Provider is one of "none", "anticaptcha" or "2captcha"
	Provider        string        `yaml:"provider" validate:"oneof=none anticaptcha 2captcha"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	PollingInterval time.Duration `yaml:"polling_interval"`
	EnableAutoSolve bool          `yaml:"enable_auto_solve"`
	// DomainsFile persists domains that served a challenge; empty keeps them in memory
	DomainsFile string `yaml:"domains_file"`
}

// CaptureConfig configures the page saver
type CaptureConfig struct {
	Dir             string        `yaml:"dir"`
	ResourceTimeout time.Duration `yaml:"resource_timeout"`
	MaxResourceSize int64         `yaml:"max_resource_size"`
	FetchRate       float64       `yaml:"fetch_rate"` // resource fetches per second, 0 is unlimited
	Markdown        bool          `yaml:"markdown"`
	Upload          bool          `yaml:"upload"`
}

// AdapterConfig describes one logging sink
type AdapterConfig struct {
	Name    string                 `yaml:"name"`
	Type    string                 `yaml:"type"`
	Enabled bool                   `yaml:"enabled"`
	Options map[string]interface{} `yaml:"options"`
}

type LoggingConfig struct {
	Level    string          `yaml:"level"`
	Format   string          `yaml:"format"`
	Output   string          `yaml:"output"`
	Adapters []AdapterConfig `yaml:"adapters"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Timeout  time.Duration `yaml:"timeout"`
	KeyTTL   time.Duration `yaml:"key_ttl"`
}

// SpacesConfig holds DigitalOcean Spaces credentials for bundle uploads
type SpacesConfig struct {
	CDNEndpoint     string `yaml:"cdn_endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	Region          string `yaml:"region"`
	BucketName      string `yaml:"bucket_name"`
	Prefix          string `yaml:"prefix"`
}

// Configured reports whether credentials are present
func (s SpacesConfig) Configured() bool {
	return s.AccessKeyID != "" && s.AccessKeySecret != "" && s.BucketName != ""
}

var (
	bracedVar = regexp.MustCompile(`\$\{([^}]+)\}`)
	bareVar   = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// expandEnvVars expands environment variables in a string using ${VAR} or $VAR syntax
func expandEnvVars(s string) string {
	s = bracedVar.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if env var not found
	})

	s = bareVar.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[1:]); val != "" {
			return val
		}
		return match
	})

	return s
}

// Default returns the configuration used when no file or environment overrides are present
func Default() *Config {
	config := &Config{}

	config.Server.Port = 8080
	config.Server.Host = "0.0.0.0"
	config.Server.ReadTimeout = 30 * time.Second
	config.Server.WriteTimeout = 5 * time.Minute
	config.Server.IdleTimeout = 60 * time.Second

	config.Workers.PoolSize = 4
	config.Workers.QueueSize = 100
	config.Workers.RateLimit = 30
	config.Workers.Timeout = 5 * time.Minute

	config.Browser.Headless = true
	config.Browser.NavigationTimeout = 30 * time.Second
	config.Browser.Humanize = true
	config.Browser.AutoScroll = true
	config.Browser.ScreenshotDir = "./screenshots"

	config.Fingerprint.Store = "none"
	config.Fingerprint.StorePath = "./fingerprints.json"

	config.Proxy.Provider = "none"
	config.Proxy.RotationInterval = 60 * time.Second
	config.Proxy.VerifyURL = "https://api.ipify.org?format=json"
	config.Proxy.VerifyTimeout = 10 * time.Second

	config.Captcha.Provider = "none"
	config.Captcha.Timeout = 120 * time.Second
	config.Captcha.PollingInterval = 5 * time.Second
	config.Captcha.EnableAutoSolve = true
	config.Captcha.DomainsFile = "./captcha-domains.txt"

	config.Capture.Dir = "./saved_pages"
	config.Capture.ResourceTimeout = 10 * time.Second
	config.Capture.MaxResourceSize = 20 << 20
	config.Capture.FetchRate = 10

	config.Logging.Level = "info"
	config.Logging.Format = "json"
	config.Logging.Output = "stdout"

	config.Redis.URL = "redis://localhost:6379"
	config.Redis.Timeout = 5 * time.Second
	config.Redis.KeyTTL = 30 * 24 * time.Hour

	config.Spaces.Region = "blr1"
	config.Spaces.Prefix = "bundles"

	return config
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	config := Default()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			yamlContent := expandEnvVars(string(data))

			if err := yaml.Unmarshal([]byte(yamlContent), config); err != nil {
				return nil, fmt.Errorf("parse %s: %w", configPath, err)
			}
		}
	}

	config.loadFromEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the enumerated and ranged fields
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	envInt("PORT", &c.Server.Port)
	envString("HOST", &c.Server.Host)

	envInt("WORKERS_POOL_SIZE", &c.Workers.PoolSize)
	envInt("WORKERS_RATE_LIMIT", &c.Workers.RateLimit)

	envBool("BROWSER_HEADLESS", &c.Browser.Headless)
	envString("BROWSER_BIN", &c.Browser.BinPath)
	envDuration("BROWSER_NAVIGATION_TIMEOUT", &c.Browser.NavigationTimeout)

	envString("FINGERPRINT_SEED", &c.Fingerprint.Seed)
	envString("FINGERPRINT_STORE", &c.Fingerprint.Store)
	envString("FINGERPRINT_STORE_PATH", &c.Fingerprint.StorePath)

	envString("PROXY_PROVIDER", &c.Proxy.Provider)
	envString("PROXY_COUNTRY", &c.Proxy.Country)
	envDuration("PROXY_ROTATION_INTERVAL", &c.Proxy.RotationInterval)
	if static := os.Getenv("PROXY_LIST"); static != "" {
		c.Proxy.Static = splitList(static)
	}

	// Smartproxy credentials keep their vendor-specific names
	envString("SMARTPROXY_USERNAME", &c.Proxy.Username)
	envString("SMARTPROXY_PASSWORD", &c.Proxy.Password)
	envString("SMARTPROXY_ENDPOINT", &c.Proxy.Host)
	envInt("SMARTPROXY_PORT", &c.Proxy.Port)
	envString("PROXY_USERNAME", &c.Proxy.Username)
	envString("PROXY_PASSWORD", &c.Proxy.Password)
	envString("PROXY_HOST", &c.Proxy.Host)
	envInt("PROXY_PORT", &c.Proxy.Port)

	envString("CAPTCHA_PROVIDER", &c.Captcha.Provider)
	envString("CAPTCHA_API_KEY", &c.Captcha.APIKey)
	if key := os.Getenv("ANTICAPTCHA_API_KEY"); key != "" && c.Captcha.Provider == "anticaptcha" {
		c.Captcha.APIKey = key
	}
	// Also support 2CAPTCHA_API_KEY for compatibility
	if key := os.Getenv("2CAPTCHA_API_KEY"); key != "" && c.Captcha.Provider == "2captcha" {
		c.Captcha.APIKey = key
	}
	envDuration("CAPTCHA_TIMEOUT", &c.Captcha.Timeout)

	envString("CAPTURE_DIR", &c.Capture.Dir)
	envDuration("CAPTURE_RESOURCE_TIMEOUT", &c.Capture.ResourceTimeout)
	envBool("CAPTURE_MARKDOWN", &c.Capture.Markdown)
	envBool("CAPTURE_UPLOAD", &c.Capture.Upload)

	envString("LOG_LEVEL", &c.Logging.Level)
	envString("LOG_FORMAT", &c.Logging.Format)

	envString("REDIS_URL", &c.Redis.URL)
	envString("REDIS_PASSWORD", &c.Redis.Password)
	envInt("REDIS_DB", &c.Redis.DB)
	envDuration("REDIS_TIMEOUT", &c.Redis.Timeout)

	envString("BUCKET_CDN_ENDPOINT", &c.Spaces.CDNEndpoint)
	envString("BUCKET_ACCESS_KEY_ID", &c.Spaces.AccessKeyID)
	envString("BUCKET_ACCESS_KEY_SECRET", &c.Spaces.AccessKeySecret)
	envString("BUCKET_REGION", &c.Spaces.Region)
	envString("BUCKET_NAME", &c.Spaces.BucketName)

	// Handle Betterstack adapter enabled/disabled via environment variable
	if betterstackEnabled := os.Getenv("BETTERSTACK_ENABLED"); betterstackEnabled != "" {
		enabled := betterstackEnabled == "true" || betterstackEnabled == "1"
		for i := range c.Logging.Adapters {
			if c.Logging.Adapters[i].Name == "betterstack" || c.Logging.Adapters[i].Type == "betterstack" {
				c.Logging.Adapters[i].Enabled = enabled
				break
			}
		}
	}

	c.loadLoggingAdapterEnvVars()
}

// loadLoggingAdapterEnvVars loads environment variables for logging adapters
func (c *Config) loadLoggingAdapterEnvVars() {
	for i := range c.Logging.Adapters {
		adapter := &c.Logging.Adapters[i]
		if adapter.Type != "betterstack" {
			continue
		}
		if adapter.Options == nil {
			adapter.Options = make(map[string]interface{})
		}
		if token := os.Getenv("BETTERSTACK_SOURCE_TOKEN"); token != "" {
			adapter.Options["source_token"] = token
		}
		if endpoint := os.Getenv("BETTERSTACK_ENDPOINT"); endpoint != "" {
			adapter.Options["endpoint"] = endpoint
		}
		if timeout := os.Getenv("BETTERSTACK_TIMEOUT"); timeout != "" {
			adapter.Options["timeout"] = timeout
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
