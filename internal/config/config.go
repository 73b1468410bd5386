package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"marketplace/internal/catalog"
)

// EnvPrefix is the prefix of environment overrides. MS_GENERAL_URL overrides
// general.url, MS_REDIS_ADDR overrides redis.addr and so on.
const EnvPrefix = "MS"

var validLogLevels = []string{"debug", "info", "warn", "warning", "error"}

type GeneralConfig struct {
	ID             string `mapstructure:"id"`
	Name           string `mapstructure:"name"`
	HumanTitle     string `mapstructure:"human_title"`
	Description    string `mapstructure:"description"`
	URL            string `mapstructure:"url"`
	Icon           string `mapstructure:"icon"`
	Company        string `mapstructure:"company"`
	CompanyURL     string `mapstructure:"company_url"`
	UpdateURL      string `mapstructure:"update_url"`
	MainWikiPage   string `mapstructure:"main_wiki_page"`
	WikiView       string `mapstructure:"wiki_view"`
	AttachmentBase string `mapstructure:"attachment_base"`

	Search       bool   `mapstructure:"search"`
	Popular      bool   `mapstructure:"popular"`
	Recent       bool   `mapstructure:"recent"`
	SearchLabel  string `mapstructure:"search_label"`
	PopularLabel string `mapstructure:"popular_label"`
	RecentLabel  string `mapstructure:"recent_label"`

	FilterFeatured bool `mapstructure:"filter_featured"`

	DataFile string `mapstructure:"data_file"`
	LogFile  string `mapstructure:"logfile"`
	LogLevel string `mapstructure:"loglevel"`
}

type WikiConfig struct {
	RestBase string        `mapstructure:"rest_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retries  int           `mapstructure:"retries"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type CacheConfig struct {
	Dir         string `mapstructure:"dir"`
	WarmOnStart bool   `mapstructure:"warm_on_start"`
	Concurrency int    `mapstructure:"concurrency"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	HealthPort     int           `mapstructure:"health_port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CheckTimeout   time.Duration `mapstructure:"check_timeout"`
}

type Config struct {
	General    GeneralConfig      `mapstructure:"general"`
	Categories []catalog.Category `mapstructure:"categories"`
	Wiki       WikiConfig         `mapstructure:"wiki"`
	Redis      RedisConfig        `mapstructure:"redis"`
	Cache      CacheConfig        `mapstructure:"cache"`
	Server     ServerConfig       `mapstructure:"server"`
}

// Load reads the YAML file at filename, applies environment overrides and
// validates the result. An empty filename loads defaults and environment only.
func Load(filename string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filename != "" {
		v.SetConfigFile(filename)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.id", "")
	v.SetDefault("general.name", "")
	v.SetDefault("general.human_title", "")
	v.SetDefault("general.description", "")
	v.SetDefault("general.url", "")
	v.SetDefault("general.icon", "")
	v.SetDefault("general.company", "")
	v.SetDefault("general.company_url", "")
	v.SetDefault("general.update_url", "")
	v.SetDefault("general.main_wiki_page", "")
	v.SetDefault("general.wiki_view", "")
	v.SetDefault("general.attachment_base", "https://dev2.dariah.eu/wiki/download/attachments")
	v.SetDefault("general.search", true)
	v.SetDefault("general.popular", true)
	v.SetDefault("general.recent", true)
	v.SetDefault("general.search_label", "Search")
	v.SetDefault("general.popular_label", "Popular")
	v.SetDefault("general.recent_label", "Recent")
	v.SetDefault("general.filter_featured", false)
	v.SetDefault("general.data_file", "data.yaml")
	v.SetDefault("general.logfile", "")
	v.SetDefault("general.loglevel", "info")

	v.SetDefault("wiki.rest_base", "https://dev2.dariah.eu/wiki/rest/prototype/1/content")
	v.SetDefault("wiki.timeout", 10*time.Second)
	v.SetDefault("wiki.retries", 2)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "marketplace:page:")
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("cache.dir", "cache")
	v.SetDefault("cache.warm_on_start", false)
	v.SetDefault("cache.concurrency", 4)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.check_timeout", 10*time.Second)
}

func validateConfig(config *Config) error {
	if config.General.ID == "" {
		return fmt.Errorf("general.id is required")
	}

	if config.General.URL == "" {
		return fmt.Errorf("general.url is required")
	}

	if config.General.DataFile == "" {
		return fmt.Errorf("general.data_file is required")
	}

	level := strings.ToLower(config.General.LogLevel)
	valid := false
	for _, l := range validLogLevels {
		if l == level {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("general.loglevel: invalid level '%s', must be one of: %s",
			config.General.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if len(config.Categories) == 0 {
		return fmt.Errorf("at least one category must be specified")
	}

	seen := make(map[string]bool, len(config.Categories))
	for i, c := range config.Categories {
		if c.ID == "" {
			return fmt.Errorf("categories[%d]: id is required", i)
		}
		if c.Name == "" {
			return fmt.Errorf("categories[%d]: name is required", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("categories[%d]: duplicate id '%s'", i, c.ID)
		}
		seen[c.ID] = true
	}

	if config.Redis.Addr == "" && config.Cache.Dir == "" {
		return fmt.Errorf("either redis.addr or cache.dir is required")
	}

	if config.Cache.Concurrency < 1 {
		return fmt.Errorf("cache.concurrency must be at least 1")
	}

	return nil
}

// Marketplace returns the marketplace identity described by the configuration.
func (c *Config) Marketplace() catalog.Marketplace {
	g := c.General
	categories := make([]catalog.Category, len(c.Categories))
	copy(categories, c.Categories)

	return catalog.Marketplace{
		ID:             g.ID,
		Name:           g.Name,
		Title:          g.HumanTitle,
		URL:            strings.TrimRight(g.URL, "/"),
		Icon:           g.Icon,
		Description:    g.Description,
		Company:        g.Company,
		CompanyURL:     g.CompanyURL,
		UpdateURL:      g.UpdateURL,
		MainWikiPage:   g.MainWikiPage,
		WikiView:       g.WikiView,
		AttachmentBase: g.AttachmentBase,
		Categories:     categories,
		Tabs: catalog.Tabs{
			Search:       g.Search,
			Popular:      g.Popular,
			Recent:       g.Recent,
			SearchLabel:  g.SearchLabel,
			PopularLabel: g.PopularLabel,
			RecentLabel:  g.RecentLabel,
		},
		FilterFeatured: g.FilterFeatured,
	}
}

// LogLevel converts the configured level to an slog.Level.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.General.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// UsesRedis reports whether cached wiki pages live in Redis rather than on disk.
func (c *Config) UsesRedis() bool {
	return c.Redis.Addr != ""
}
