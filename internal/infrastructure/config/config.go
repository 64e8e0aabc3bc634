package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Gateway GatewayConfig `mapstructure:"gateway"`
	Cursor  CursorConfig  `mapstructure:"cursor"`
	Log     LogConfig     `mapstructure:"log"`
	Agent   AgentConfig   `mapstructure:"agent"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

// CursorConfig 上游 Cursor API 配置
type CursorConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	AccessToken     string `mapstructure:"access_token"`
	CredentialsFile string `mapstructure:"credentials_file"`
	ClientVersion   string `mapstructure:"client_version"`
	Timezone        string `mapstructure:"timezone"`
	GhostMode       bool   `mapstructure:"ghost_mode"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AgentConfig Agent 配置
type AgentConfig struct {
	DefaultModel   string        `mapstructure:"default_model"`
	Workspace      string        `mapstructure:"workspace"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
}

// Load 加载配置
func Load() (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// ─── 分层配置加载 ───
	// 优先级 (低 → 高): 默认值 → 全局 ~/.opencursor/ → 项目本地 → 环境变量
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: 全局配置 ~/.opencursor/config.yaml
	globalDir := filepath.Join(os.Getenv("HOME"), ".opencursor")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Layer 2: 项目本地配置 (覆盖层)
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break // 只取第一个找到的本地配置
		}
	}

	// 环境变量覆盖
	v.SetEnvPrefix("OPENCURSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDirectEnv(&cfg)
	return &cfg, nil
}

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 18788)
	v.SetDefault("gateway.mode", "release")

	v.SetDefault("cursor.base_url", "https://api2.cursor.sh")
	v.SetDefault("cursor.credentials_file", filepath.Join(os.Getenv("HOME"), ".opencursor", "credentials.json"))
	v.SetDefault("cursor.client_version", "cli-0.4.0")
	v.SetDefault("cursor.ghost_mode", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("agent.default_model", "gpt-4o")
	v.SetDefault("agent.session_timeout", "120s")
}

// applyDirectEnv honors the plain (unprefixed) environment contract:
// CURSOR_ACCESS_TOKEN, PORT, CURSOR_DEBUG.
func applyDirectEnv(cfg *Config) {
	if token := os.Getenv("CURSOR_ACCESS_TOKEN"); token != "" {
		cfg.Cursor.AccessToken = token
	}
	if port := os.Getenv("PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = n
		}
	}
	if debug := os.Getenv("CURSOR_DEBUG"); debug != "" && debug != "0" && debug != "false" {
		cfg.Log.Level = "debug"
		cfg.Gateway.Mode = "debug"
	}
	if cfg.Cursor.Timezone == "" {
		if tz := os.Getenv("TZ"); tz != "" {
			cfg.Cursor.Timezone = tz
		} else {
			cfg.Cursor.Timezone = "UTC"
		}
	}
}
