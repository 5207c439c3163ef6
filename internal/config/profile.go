package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CrawlProfile describes one crawl target. Zero values fall back to Config.
type CrawlProfile struct {
	Seeds         []string `yaml:"seeds"`
	AllowPrefixes []string `yaml:"allow_prefixes"`
	BlockPrefixes []string `yaml:"block_prefixes"`
	MaxPages      int      `yaml:"max_pages"`
	Concurrency   int      `yaml:"concurrency"`
	AllowPDF      bool     `yaml:"allow_pdf"`
	UseSitemaps   *bool    `yaml:"use_sitemaps"`
}

func LoadProfile(path string) (*CrawlProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read crawl profile: %w", err)
	}

	var p CrawlProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse crawl profile %s: %w", path, err)
	}
	if len(p.Seeds) == 0 {
		return nil, fmt.Errorf("%w: crawl profile %s has no seeds", ErrMissingRequired, path)
	}
	return &p, nil
}

// ApplyDefaults fills unset profile fields from cfg.
func (p *CrawlProfile) ApplyDefaults(cfg *Config) {
	if p.MaxPages <= 0 {
		p.MaxPages = cfg.CrawlMaxPages
	}
	if p.Concurrency <= 0 {
		p.Concurrency = cfg.CrawlConcurrency
	}
	if p.UseSitemaps == nil {
		on := true
		p.UseSitemaps = &on
	}
}
