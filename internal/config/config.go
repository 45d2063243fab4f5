package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// 支持的数据库驱动。
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env              string        `json:"env"`                // 运行环境: local / prod
	LogLevel         string        `json:"log_level"`          // 日志级别: debug / info / warn / error
	HTTPAddr         string        `json:"http_addr"`          // API 服务监听地址
	TokenTTL         time.Duration `json:"token_ttl"`          // 身份令牌有效期
	TokenNoExpiry    bool          `json:"token_no_expiry"`    // 签发不带 exp 的令牌
	ResetTokenTTL    time.Duration `json:"reset_token_ttl"`    // 重置令牌有效期
	IdentityCacheTTL time.Duration `json:"identity_cache_ttl"` // 身份缓存有效期
	BcryptCost       int           `json:"bcrypt_cost"`        // bcrypt 计算成本
}

// DatabaseConfig 数据库配置。
type DatabaseConfig struct {
	Driver string `json:"driver"` // mysql / postgres / sqlite
	DSN    string `json:"dsn"`    // 数据库连接字符串
}

// RedisConfig Redis 缓存配置（Addr 为空表示不启用缓存）。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret     string `json:"jwt_secret"`      // JWT 签名密钥
	ResetLinkBase string `json:"reset_link_base"` // 重置密码链接前缀
	AdminEmail    string `json:"admin_email"`     // 启动时确保存在的管理员邮箱（为空则跳过）
	AdminPassword string `json:"admin_password"`  // 管理员初始密码
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量始终优先于文件中的值。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Validate 检查启动所必需的配置。
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is empty")
	}
	if strings.TrimSpace(c.Security.JWTSecret) == "" {
		return fmt.Errorf("jwt secret is empty")
	}
	if c.Env() == "prod" && c.Security.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("default jwt secret is not allowed in prod")
	}
	if c.Security.AdminEmail != "" && len(c.Security.AdminPassword) < 6 {
		return fmt.Errorf("admin password must be at least 6 characters")
	}
	return nil
}

// EffectiveTokenTTL 返回签发身份令牌时使用的有效期，0 表示不过期。
func (c *Config) EffectiveTokenTTL() time.Duration {
	if c.App.TokenNoExpiry {
		return 0
	}
	return c.App.TokenTTL
}

// Env 返回规范化后的运行环境。
func (c *Config) Env() string {
	return strings.ToLower(strings.TrimSpace(c.App.Env))
}

const defaultJWTSecret = "dev_secret_change_me"

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:              "local",
			LogLevel:         "info",
			HTTPAddr:         ":3000",
			TokenTTL:         24 * time.Hour,
			ResetTokenTTL:    time.Hour,
			IdentityCacheTTL: 5 * time.Minute,
			BcryptCost:       10,
		},
		Database: DatabaseConfig{
			Driver: DriverMySQL,
			DSN:    "root:password@tcp(localhost:3306)/userbackend?charset=utf8mb4&parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Security: SecurityConfig{
			JWTSecret:     defaultJWTSecret,
			ResetLinkBase: "http://localhost:3000/api/v1/user/reset-password",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.TokenTTL <= 0 {
		cfg.App.TokenTTL = defaults.App.TokenTTL
	}
	if cfg.App.ResetTokenTTL <= 0 {
		cfg.App.ResetTokenTTL = defaults.App.ResetTokenTTL
	}
	if cfg.App.IdentityCacheTTL <= 0 {
		cfg.App.IdentityCacheTTL = defaults.App.IdentityCacheTTL
	}
	if cfg.App.BcryptCost == 0 {
		cfg.App.BcryptCost = defaults.App.BcryptCost
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == DriverMySQL {
		cfg.Database.DSN = defaults.Database.DSN
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.ResetLinkBase == "" {
		cfg.Security.ResetLinkBase = defaults.Security.ResetLinkBase
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS", "EMAIL_PASS")
	_ = viper.BindEnv("smtp_user", "SMTP_USER", "EMAIL_USER")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET", "TOKEN_SECRET")
	_ = viper.BindEnv("admin_password", "ADMIN_PASSWORD")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.App.HTTPAddr = ":" + v
	}
	if v := os.Getenv("APP_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.App.TokenTTL = d
		}
	}
	if v := os.Getenv("APP_TOKEN_NO_EXPIRY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.App.TokenNoExpiry = b
		}
	}
	if v := os.Getenv("APP_RESET_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.App.ResetTokenTTL = d
		}
	}
	if v := os.Getenv("APP_IDENTITY_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.App.IdentityCacheTTL = d
		}
	}
	if v := os.Getenv("APP_BCRYPT_COST"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.BcryptCost = i
		}
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("RESET_LINK_BASE"); v != "" {
		cfg.Security.ResetLinkBase = v
	}
	if v := os.Getenv("ADMIN_EMAIL"); v != "" {
		cfg.Security.AdminEmail = v
	}
	if v := viper.GetString("admin_password"); v != "" {
		cfg.Security.AdminPassword = v
	}

	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Database.DSN = v
	} else if cfg.Database.Driver == DriverMySQL &&
		(hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "") {
		parsed := parseMySQLDSN(cfg.Database.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.Database.DSN = parsed.FormatDSN()
	}

	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		// 允许显式置空以关闭缓存
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := viper.GetString("smtp_user"); v != "" {
		cfg.Email.SMTPUser = v
		if cfg.Email.FromEmail == "" {
			cfg.Email.FromEmail = v
		}
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := func() *mysql.Config {
		c := mysql.NewConfig()
		c.User = "root"
		c.Net = "tcp"
		c.Addr = "localhost:3306"
		c.DBName = "userbackend"
		c.ParseTime = true
		c.Params = map[string]string{"charset": "utf8mb4"}
		return c
	}
	if dsn == "" {
		return fallback()
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback()
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		TokenTTL         string `json:"token_ttl"`
		ResetTokenTTL    string `json:"reset_token_ttl"`
		IdentityCacheTTL string `json:"identity_cache_ttl"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.TokenTTL != "" {
		d, err := time.ParseDuration(aux.TokenTTL)
		if err != nil {
			return fmt.Errorf("invalid token_ttl format: %w", err)
		}
		a.TokenTTL = d
	}
	if aux.ResetTokenTTL != "" {
		d, err := time.ParseDuration(aux.ResetTokenTTL)
		if err != nil {
			return fmt.Errorf("invalid reset_token_ttl format: %w", err)
		}
		a.ResetTokenTTL = d
	}
	if aux.IdentityCacheTTL != "" {
		d, err := time.ParseDuration(aux.IdentityCacheTTL)
		if err != nil {
			return fmt.Errorf("invalid identity_cache_ttl format: %w", err)
		}
		a.IdentityCacheTTL = d
	}

	return nil
}
