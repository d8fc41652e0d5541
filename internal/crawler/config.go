package crawler

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Defaults for the gushiwen.cn listing markup.
const (
	DefaultListingItemSelector = "div.sons div.cont"
	DefaultTitleLinkSelector   = "p a"
	DefaultNextPageText        = "下一页"
	DefaultDelay               = 500 * time.Millisecond
)

// Config holds the settings for a crawl run.
// It is decoupled from Viper so the walker and driver can be tested alone.
type Config struct {
	// ListingURL is the first listing page.
	ListingURL string
	// Origin resolves relative poem and next-page links. Derived from
	// ListingURL when empty.
	Origin string
	// Headers are sent with every request (User-Agent included).
	Headers http.Header
	// Delay is the blocking pause after each fetch.
	Delay time.Duration
	// MaxPages caps the walk; zero means no cap.
	MaxPages int

	ListingItemSelector string
	TitleLinkSelector   string
	NextPageText        string
}

// withDefaults fills empty selector fields and derives the origin.
func (c Config) withDefaults() Config {
	if c.ListingItemSelector == "" {
		c.ListingItemSelector = DefaultListingItemSelector
	}
	if c.TitleLinkSelector == "" {
		c.TitleLinkSelector = DefaultTitleLinkSelector
	}
	if c.NextPageText == "" {
		c.NextPageText = DefaultNextPageText
	}
	if c.Origin == "" {
		if origin, err := Origin(c.ListingURL); err == nil {
			c.Origin = origin
		}
	}
	return c
}

// Validate checks for obviously bad configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListingURL) == "" {
		return fmt.Errorf("listing url must be set")
	}
	if _, err := Origin(c.ListingURL); err != nil {
		return fmt.Errorf("listing url: %w", err)
	}
	if c.Origin != "" {
		if _, err := Origin(c.Origin); err != nil {
			return fmt.Errorf("origin: %w", err)
		}
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must be >= 0")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max pages must be >= 0")
	}
	return nil
}

func (c Config) originURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	return u, nil
}
