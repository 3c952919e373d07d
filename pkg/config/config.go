package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DBMETA_DATABASE_PASSWORD.
const EnvPrefix = "DBMETA"

type DBConfig struct {
	Type         string `yaml:"type" json:"type" mapstructure:"type"`
	Host         string `yaml:"host" json:"host" mapstructure:"host"`
	Port         int    `yaml:"port" json:"port" mapstructure:"port"`
	Username     string `yaml:"username" json:"username" mapstructure:"username"`
	Password     string `yaml:"password" json:"password" mapstructure:"password"`
	DatabaseName string `yaml:"database_name" json:"database_name" mapstructure:"database_name"`
	DSN          string `yaml:"dsn" json:"dsn" mapstructure:"dsn"` // optional explicit DSN
}

type ServerConfig struct {
	Port int `yaml:"port" json:"port" mapstructure:"port"`
}

// CacheConfig tunes metadata loading.
type CacheConfig struct {
	// Prefetch loads the whole structure of every schema right after connect.
	Prefetch        bool `yaml:"prefetch" json:"prefetch" mapstructure:"prefetch"`
	PrefetchWorkers int  `yaml:"prefetch_workers" json:"prefetch_workers" mapstructure:"prefetch_workers"`
	// QueryTimeout bounds connect and every metadata request, in seconds.
	QueryTimeout int `yaml:"query_timeout" json:"query_timeout" mapstructure:"query_timeout"`
	// FoldKeys makes name lookups case-insensitive.
	FoldKeys bool `yaml:"fold_keys" json:"fold_keys" mapstructure:"fold_keys"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" mapstructure:"level"`
	Format string `yaml:"format" json:"format" mapstructure:"format"`
}

type AppConfig struct {
	Database DBConfig     `yaml:"database" json:"database" mapstructure:"database"`
	Server   ServerConfig `yaml:"server" json:"server" mapstructure:"server"`
	Cache    CacheConfig  `yaml:"cache" json:"cache" mapstructure:"cache"`
	Log      LogConfig    `yaml:"log" json:"log" mapstructure:"log"`
}

var defaults = map[string]any{
	"database.type":          "",
	"database.host":          "",
	"database.port":          0,
	"database.username":      "",
	"database.password":      "",
	"database.database_name": "",
	"database.dsn":           "",
	"server.port":            8080,
	"cache.prefetch":         false,
	"cache.prefetch_workers": 4,
	"cache.query_timeout":    30,
	"cache.fold_keys":        false,
	"log.level":              "info",
	"log.format":             "console",
}

// New returns a viper instance carrying the defaults and environment
// overrides, without any file.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the configuration built from defaults and the environment.
func Default() (AppConfig, error) {
	return decode(New())
}

// LoadFile loads YAML config from path. Environment variables override
// file values.
func LoadFile(path string) (AppConfig, error) {
	v := New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// NormalizeDriver maps common aliases to canonical keys (keeps backwards compat).
func NormalizeDriver(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "postgresql", "pg", "postgres":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "mssql", "sqlserver":
		return "sqlserver"
	case "godror", "oracle":
		return "godror"
	default:
		return strings.ToLower(d)
	}
}

// BuildDriverAndDSN produces a driver name and DSN string for supported DB types.
func BuildDriverAndDSN(db DBConfig) (driver string, dsn string, err error) {
	// If explicit DSN provided, user must also set Type to choose driver or we guess
	t := NormalizeDriver(db.Type)

	if db.DSN != "" {
		return t, db.DSN, nil
	}

	switch t {
	case "postgres":
		driver = "postgres"
		// simple URL form
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "mysql":
		driver = "mysql"
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "sqlite":
		driver = "sqlite"
		if db.DatabaseName == "" {
			return "", "", fmt.Errorf("sqlite needs a file path in database_name")
		}
		dsn = fmt.Sprintf("file:%s?mode=ro", db.DatabaseName)
	case "sqlserver":
		driver = "sqlserver"
		dsn = fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "godror":
		driver = "godror"
		// simple EZCONNECT style; may need adjustments per environment
		dsn = fmt.Sprintf("%s/%s@%s:%d/%s",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	default:
		err = fmt.Errorf("unsupported database type: %s", db.Type)
	}
	return
}
