package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"offerlens/internal/paginate"
	"offerlens/internal/session"
)

const (
	defaultAddr     = "127.0.0.1:8081"
	defaultSitesDir = "config/sites"
)

type appConfig struct {
	Addr        string             `mapstructure:"addr"`
	URL         string             `mapstructure:"url"`
	CDPURL      string             `mapstructure:"cdp-url"`
	TargetMatch string             `mapstructure:"target-match"`
	ProfileDir  string             `mapstructure:"profile-dir"`
	Headless    bool               `mapstructure:"headless"`
	SitesDir    string             `mapstructure:"sites-dir"`
	Token       string             `mapstructure:"token"`
	Language    string             `mapstructure:"language"`
	AttachWait  time.Duration      `mapstructure:"attach-wait"`
	Debounce    time.Duration      `mapstructure:"debounce"`
	Paginate    paginateConfig     `mapstructure:"paginate"`
	Favorites   []session.Favorite `mapstructure:"favorites"`
	ConfigPath  string             `mapstructure:"-"`
}

type paginateConfig struct {
	Floor   time.Duration `mapstructure:"floor"`
	Ceiling time.Duration `mapstructure:"ceiling"`
	Initial time.Duration `mapstructure:"initial"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (p paginateConfig) apply(c paginate.Config) paginate.Config {
	if p.Floor > 0 {
		c.Floor = p.Floor
	}
	if p.Ceiling > 0 {
		c.Ceiling = p.Ceiling
	}
	if p.Initial > 0 {
		c.Initial = p.Initial
	}
	if p.Timeout > 0 {
		c.Timeout = p.Timeout
	}
	return c
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("OFFERLENS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	def := paginate.DefaultConfig()
	v.SetDefault("addr", defaultAddr)
	v.SetDefault("url", "")
	v.SetDefault("cdp-url", "")
	v.SetDefault("target-match", "")
	v.SetDefault("profile-dir", filepath.Join(home, ".local", "share", "offerlens", "chrome"))
	v.SetDefault("headless", false)
	v.SetDefault("sites-dir", defaultSitesDir)
	v.SetDefault("token", "")
	v.SetDefault("language", "en")
	v.SetDefault("attach-wait", 30*time.Second)
	v.SetDefault("debounce", 150*time.Millisecond)
	v.SetDefault("paginate.floor", def.Floor)
	v.SetDefault("paginate.ceiling", def.Ceiling)
	v.SetDefault("paginate.initial", def.Initial)
	v.SetDefault("paginate.timeout", def.Timeout)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "offerlens", "config.yml"))
	}
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !errors.Is(err, fs.ErrNotExist) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if cfg.Paginate.Ceiling < cfg.Paginate.Floor {
		return cfg, fmt.Errorf("paginate.ceiling %s below paginate.floor %s", cfg.Paginate.Ceiling, cfg.Paginate.Floor)
	}
	if strings.HasPrefix(cfg.ProfileDir, "~/") {
		cfg.ProfileDir = filepath.Join(home, cfg.ProfileDir[2:])
	}
	return cfg, nil
}
