// Package config loads and validates poem crawler configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/poem-crawler/internal/crawler"
	"github.com/JakeFAU/poem-crawler/internal/extract"
	"github.com/JakeFAU/poem-crawler/internal/progresslog"
)

// EnvPrefix prefixes every environment override, e.g. POEMS_CRAWLER_DELAY.
const EnvPrefix = "POEMS"

// Output backends.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
)

// Default values mirroring the gushiwen.cn Su Shi listing.
const (
	DefaultListingURL = "https://www.gushiwen.cn/shiwens/default.aspx?astr=%e8%8b%8f%e8%bd%bc"
	DefaultOrigin     = "https://www.gushiwen.cn"
	DefaultUserAgent  = "Mozilla/5.0(Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36" +
		"(KHTML, like Gecko) Chrome/89.0.4389.82 Safari/537.36"
	DefaultOutputDir = "su-shi-poems"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Selectors   SelectorsConfig   `mapstructure:"selectors"`
	Output      OutputConfig      `mapstructure:"output"`
	ProgressLog ProgressLogConfig `mapstructure:"progress_log"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	DB          DBConfig          `mapstructure:"db"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
}

// CrawlerConfig governs fetching and pagination.
type CrawlerConfig struct {
	ListingURL     string            `mapstructure:"listing_url"`
	Origin         string            `mapstructure:"origin"`
	UserAgent      string            `mapstructure:"user_agent"`
	Headers        map[string]string `mapstructure:"headers"`
	Delay          time.Duration     `mapstructure:"delay"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	MaxPages       int               `mapstructure:"max_pages"`
	MaxRPS         float64           `mapstructure:"max_rps"`
	RespectRobots  bool              `mapstructure:"respect_robots"`
	NextPageText   string            `mapstructure:"next_page_text"`
}

// SelectorsConfig holds the CSS selectors for listing and poem pages.
type SelectorsConfig struct {
	ListingItem     string `mapstructure:"listing_item"`
	TitleLink       string `mapstructure:"title_link"`
	ContentPrimary  string `mapstructure:"content_primary"`
	ContentFallback string `mapstructure:"content_fallback"`
}

// OutputConfig selects where poem text files go.
type OutputConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ProgressLogConfig locates the resume log.
type ProgressLogConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig controls the optional ops server and textfile export.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Textfile   string `mapstructure:"textfile"`
}

// DBConfig controls the optional Postgres poem catalog.
type DBConfig struct {
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	RunsTable string `mapstructure:"runs_table"`
}

// PubSubConfig holds metadata for poem-saved notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.listing_url", DefaultListingURL)
	v.SetDefault("crawler.origin", DefaultOrigin)
	v.SetDefault("crawler.user_agent", DefaultUserAgent)
	v.SetDefault("crawler.headers", map[string]string{})
	v.SetDefault("crawler.delay", crawler.DefaultDelay)
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.max_rps", 0.0)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.next_page_text", crawler.DefaultNextPageText)
	v.SetDefault("selectors.listing_item", crawler.DefaultListingItemSelector)
	v.SetDefault("selectors.title_link", crawler.DefaultTitleLinkSelector)
	v.SetDefault("selectors.content_primary", extract.DefaultPrimarySelector)
	v.SetDefault("selectors.content_fallback", extract.DefaultFallbackSelector)
	v.SetDefault("output.backend", BackendLocal)
	v.SetDefault("output.dir", DefaultOutputDir)
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.prefix", "")
	v.SetDefault("progress_log.path", progresslog.DefaultPath)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "poems")
	v.SetDefault("db.runs_table", "crawl_runs")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Crawler.ListingURL) == "" {
		return fmt.Errorf("crawler.listing_url is required")
	}
	if _, err := crawler.Origin(c.Crawler.ListingURL); err != nil {
		return fmt.Errorf("crawler.listing_url: %w", err)
	}
	if c.Crawler.Origin != "" {
		if _, err := crawler.Origin(c.Crawler.Origin); err != nil {
			return fmt.Errorf("crawler.origin: %w", err)
		}
	}
	if c.Crawler.Delay < 0 {
		return fmt.Errorf("crawler.delay must be >= 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	if c.Crawler.MaxRPS < 0 {
		return fmt.Errorf("crawler.max_rps must be >= 0")
	}
	switch c.Output.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Output.Dir) == "" {
			return fmt.Errorf("output.dir is required for the local backend")
		}
	case BackendGCS:
		if strings.TrimSpace(c.Output.GCSBucket) == "" {
			return fmt.Errorf("output.gcs_bucket is required for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("output.backend must be one of local, memory, gcs; got %q", c.Output.Backend)
	}
	if strings.TrimSpace(c.ProgressLog.Path) == "" {
		return fmt.Errorf("progress_log.path is required")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// Crawl converts the loaded settings into the crawler's own config.
func (c Config) Crawl() crawler.Config {
	headers := http.Header{}
	for k, v := range c.Crawler.Headers {
		headers.Set(k, v)
	}
	if c.Crawler.UserAgent != "" {
		headers.Set("User-Agent", c.Crawler.UserAgent)
	}
	return crawler.Config{
		ListingURL:          c.Crawler.ListingURL,
		Origin:              c.Crawler.Origin,
		Headers:             headers,
		Delay:               c.Crawler.Delay,
		MaxPages:            c.Crawler.MaxPages,
		ListingItemSelector: c.Selectors.ListingItem,
		TitleLinkSelector:   c.Selectors.TitleLink,
		NextPageText:        c.Crawler.NextPageText,
	}
}
