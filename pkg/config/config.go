package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path
const EnvConfigPath = "RINTENTO_CONFIG"

type ProxyConfig struct {
	Port           int           `mapstructure:"port"`
	// Threads sizes the worker pool that performs recognized utterances
	Threads        int           `mapstructure:"threads"`
	// MaxConnections caps live client connections, 0 means unbounded
	MaxConnections int           `mapstructure:"max_connections"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	MessageRoute   string        `mapstructure:"message_route"`
	SpeechRoute    string        `mapstructure:"speech_route"`
}

type RecognizeConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Auth        string        `mapstructure:"auth"`
	// MaxSessions caps concurrent backend sessions, 0 means unbounded
	MaxSessions int           `mapstructure:"max_sessions"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// Version pins the backend API version date (YYYYMMDD); empty means today
	Version   string `mapstructure:"version"`
	ChunkSize int    `mapstructure:"chunk_size"`
}

type AuthConfig struct {
	// Secret enables HS256 bearer token checks on inbound requests
	Secret string `mapstructure:"secret"`
}

type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	Channel string `mapstructure:"channel"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Config is the complete gateway configuration
type Config struct {
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Recognize RecognizeConfig `mapstructure:"recognize"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
}

// Default returns the built-in defaults without consulting the environment
func Default() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Port:         8080,
			Threads:      8,
			ReadTimeout:  2 * time.Minute,
			MessageRoute: "/message",
			SpeechRoute:  "/speech",
		},
		Recognize: RecognizeConfig{
			Host:        "api.wit.ai",
			Port:        443,
			IdleTimeout: 30 * time.Second,
			ChunkSize:   20000,
		},
		Admin: AdminConfig{Addr: ":9090"},
		Redis: RedisConfig{Channel: "rintento:utterances"},
		Log:   LogConfig{Level: "INFO", Pretty: true},
	}
}

// NewConfig returns the defaults overridden by RINTENTO_* environment variables
func NewConfig() *Config {
	c := Default()
	c.loadFromEnv()
	return c
}

// Load reads a JSON or YAML file on top of the defaults, then applies the environment
func Load(path string) (*Config, error) {
	c := Default()
	if err := c.loadFile(path); err != nil {
		return nil, err
	}
	c.loadFromEnv()
	return c, nil
}

// LoadFromEnvironment loads the file named by RINTENTO_CONFIG when set
func LoadFromEnvironment() (*Config, error) {
	_ = godotenv.Load()
	if path := os.Getenv(EnvConfigPath); path != "" {
		return Load(path)
	}
	return NewConfig(), nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return c.decode(raw)
}

func (c *Config) decode(raw map[string]interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(durationHook, mapstructure.StringToTimeDurationHookFunc()),
		WeaklyTypedInput: true,
		Result:           c,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// durationHook reads bare numbers as seconds
func durationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

func (c *Config) loadFromEnv() {
	// Load .env if exists
	_ = godotenv.Load()

	envInt("RINTENTO_PROXY_PORT", &c.Proxy.Port)
	envInt("RINTENTO_PROXY_THREADS", &c.Proxy.Threads)
	envInt("RINTENTO_PROXY_MAX_CONNECTIONS", &c.Proxy.MaxConnections)
	envDuration("RINTENTO_PROXY_READ_TIMEOUT", &c.Proxy.ReadTimeout)
	envString("RINTENTO_PROXY_MESSAGE_ROUTE", &c.Proxy.MessageRoute)
	envString("RINTENTO_PROXY_SPEECH_ROUTE", &c.Proxy.SpeechRoute)

	envString("RINTENTO_RECOGNIZE_HOST", &c.Recognize.Host)
	envInt("RINTENTO_RECOGNIZE_PORT", &c.Recognize.Port)
	envString("RINTENTO_RECOGNIZE_AUTH", &c.Recognize.Auth)
	envInt("RINTENTO_RECOGNIZE_MAX_SESSIONS", &c.Recognize.MaxSessions)
	envDuration("RINTENTO_RECOGNIZE_IDLE_TIMEOUT", &c.Recognize.IdleTimeout)
	envString("RINTENTO_RECOGNIZE_VERSION", &c.Recognize.Version)
	envInt("RINTENTO_RECOGNIZE_CHUNK_SIZE", &c.Recognize.ChunkSize)

	envString("RINTENTO_AUTH_SECRET", &c.Auth.Secret)
	envString("RINTENTO_ADMIN_ADDR", &c.Admin.Addr)
	envString("RINTENTO_REDIS_ADDR", &c.Redis.Addr)
	envString("RINTENTO_REDIS_CHANNEL", &c.Redis.Channel)

	envString("RINTENTO_LOG_LEVEL", &c.Log.Level)
	if pretty := os.Getenv("RINTENTO_LOG_PRETTY"); pretty != "" {
		c.Log.Pretty = pretty == "true"
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			*dst = val
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if val, err := time.ParseDuration(v); err == nil {
			*dst = val
		}
	}
}

// BackendAddr returns host:port of the recognition backend
func (c *Config) BackendAddr() string {
	return fmt.Sprintf("%s:%d", c.Recognize.Host, c.Recognize.Port)
}

// ListenAddr returns the proxy listen address
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Proxy.Port)
}

// Validate returns list of issues
func (c *Config) Validate() []string {
	issues := []string{}

	if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
		issues = append(issues, fmt.Sprintf("Invalid proxy port: %d", c.Proxy.Port))
	}
	if c.Proxy.Threads <= 0 {
		issues = append(issues, "Proxy threads must be positive")
	}
	if c.Proxy.MaxConnections < 0 {
		issues = append(issues, "Proxy max connections must not be negative")
	}
	if !strings.HasPrefix(c.Proxy.MessageRoute, "/") || !strings.HasPrefix(c.Proxy.SpeechRoute, "/") {
		issues = append(issues, "Routes must start with '/'")
	} else if c.Proxy.MessageRoute == c.Proxy.SpeechRoute {
		issues = append(issues, "Message and speech routes must differ")
	}

	if c.Recognize.Host == "" {
		issues = append(issues, "Recognize host not set")
	}
	if c.Recognize.Port <= 0 || c.Recognize.Port > 65535 {
		issues = append(issues, fmt.Sprintf("Invalid recognize port: %d", c.Recognize.Port))
	}
	if c.Recognize.Auth == "" {
		issues = append(issues, "Recognize auth token not set (RINTENTO_RECOGNIZE_AUTH)")
	}
	if c.Recognize.MaxSessions < 0 {
		issues = append(issues, "Recognize max sessions must not be negative")
	}
	if c.Recognize.IdleTimeout <= 0 {
		issues = append(issues, "Recognize idle timeout must be positive")
	}
	if c.Recognize.ChunkSize < 1 {
		issues = append(issues, "Recognize chunk size must be at least 1")
	}
	if v := c.Recognize.Version; v != "" {
		if _, err := time.Parse("20060102", v); err != nil {
			issues = append(issues, fmt.Sprintf("Invalid recognize version date: %s", v))
		}
	}

	validLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR"}
	found := false
	for _, level := range validLevels {
		if strings.EqualFold(level, c.Log.Level) {
			found = true
			break
		}
	}
	if !found {
		issues = append(issues, fmt.Sprintf("Invalid log level: %s", c.Log.Level))
	}

	return issues
}

func mask(secret string) string {
	if secret == "" {
		return "NOT SET"
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + "..."
}

func limit(n int) string {
	if n == 0 {
		return "unbounded"
	}
	return strconv.Itoa(n)
}

// PrintConfig writes a human readable summary with secrets masked
func (c *Config) PrintConfig(w io.Writer) {
	fmt.Fprintln(w, "Rintento Configuration")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "Proxy Port: %d\n", c.Proxy.Port)
	fmt.Fprintf(w, "Proxy Threads: %d\n", c.Proxy.Threads)
	fmt.Fprintf(w, "Proxy Max Connections: %s\n", limit(c.Proxy.MaxConnections))
	fmt.Fprintf(w, "Proxy Read Timeout: %s\n", c.Proxy.ReadTimeout)
	fmt.Fprintf(w, "Message Route: %s\n", c.Proxy.MessageRoute)
	fmt.Fprintf(w, "Speech Route: %s\n", c.Proxy.SpeechRoute)
	fmt.Fprintf(w, "Recognize Backend: %s\n", c.BackendAddr())
	fmt.Fprintf(w, "Recognize Auth: %s\n", mask(c.Recognize.Auth))
	fmt.Fprintf(w, "Recognize Max Sessions: %s\n", limit(c.Recognize.MaxSessions))
	fmt.Fprintf(w, "Recognize Idle Timeout: %s\n", c.Recognize.IdleTimeout)
	if c.Recognize.Version != "" {
		fmt.Fprintf(w, "Recognize Version: %s\n", c.Recognize.Version)
	} else {
		fmt.Fprintln(w, "Recognize Version: current date")
	}
	fmt.Fprintf(w, "Chunk Size: %d\n", c.Recognize.ChunkSize)
	fmt.Fprintf(w, "Auth Secret: %s\n", mask(c.Auth.Secret))
	fmt.Fprintf(w, "Admin Addr: %s\n", c.Admin.Addr)
	if c.Redis.Addr != "" {
		fmt.Fprintf(w, "Redis: %s (channel %s)\n", c.Redis.Addr, c.Redis.Channel)
	} else {
		fmt.Fprintln(w, "Redis: disabled")
	}
	fmt.Fprintf(w, "Log Level: %s\n", c.Log.Level)
	fmt.Fprintf(w, "Log Pretty: %t\n", c.Log.Pretty)
}
