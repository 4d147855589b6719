package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/MimeLyc/fetchbot/internal/llm"
	"github.com/MimeLyc/fetchbot/pkg/icron"
	"github.com/MimeLyc/fetchbot/pkg/log"
)

// Config holds all application configuration.
//
// Values are resolved in this order, later wins: built-in defaults, the
// YAML file named by CONFIG_FILE (or passed to Load), environment
// variables (a .env file in the working directory is loaded first), and
// finally Options.
//
// Environment Variables:
// Storage:
// - STORAGE_DIR: directory for persisted documents (default: storage)
// - ERRORS_FILE: error log document (default: $STORAGE_DIR/errors.json)
// - TRANSLATIONS_FILE: translation cache (default: $STORAGE_DIR/saved-translations.json)
// - COOKIES_FILE: Netscape cookie file for yt-dlp (default: $STORAGE_DIR/cookies.txt)
// - HISTORY_DB: SQLite archive of finished tasks, "off" disables (default: $STORAGE_DIR/history.db)
// - HISTORY_KEEP: archived tasks kept on startup (default: 10000)
//
// Queue and error log:
// - QUEUE_CONCURRENCY: jobs running at once (default: 1)
// - SHUTDOWN_TIMEOUT: grace period for running jobs on exit (default: 30s)
// - ERROR_LOG_LIMIT: entries kept (default: 300)
// - ERROR_LOG_FLUSH_DELAY: debounce before saving, 0 saves on every record (default: 2s)
// - ERROR_TEXT_LIMIT: max characters of context and error text (default: 4000)
//
// Maintenance:
// - UPDATE_CRON: six-field cron expression for yt-dlp upgrades (default: 0 0 4 * * *)
// - UPDATE_DRAIN_TIMEOUT: max wait for running jobs before upgrading, 0 waits forever (default: 10m)
//
// Media tools:
// - YTDLP_PATH, FFMPEG_PATH, FFPROBE_PATH: binaries (default: looked up in PATH)
// - TEMP_DIR: parent of per-job work directories (default: system temp dir)
// - OUTPUT_DIR: where the console transport saves delivered files (optional)
//
// Translation:
// - LLM_API_KEY: enables translation when set
// - LLM_API_URL (default: https://api.openai.com/v1), LLM_MODEL (default: gpt-4o-mini)
// - LLM_MAX_TOKENS (default: 256), LLM_TEMPERATURE (default: 0.2), LLM_TIMEOUT seconds (default: 30)
// - SOURCE_LANGUAGE: language of the built-in texts (default: en)
//
// Transport and operations:
// - ADMIN_CHAT_ID: chat receiving error copies (optional)
// - INTAKE_RPS, INTAKE_BURST: per-chat rate limit (default: 1, 3)
// - HTTP_ADDR: health and metrics listener, empty disables (default: 127.0.0.1:9090)
// - LOG_LEVEL: DEBUG, INFO, WARN or ERROR (default: INFO)
// - LOG_FILE: write logs to this file instead of stdout (optional)
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
	ErrorLog  ErrorLogConfig  `yaml:"error_log"`
	Update    UpdateConfig    `yaml:"update"`
	Media     MediaConfig     `yaml:"media"`
	LLM       LLMConfig       `yaml:"llm"`
	Translate TranslateConfig `yaml:"translate"`
	Bot       BotConfig       `yaml:"bot"`
	HTTP      HTTPConfig      `yaml:"http"`
	System    SystemConfig    `yaml:"system"`
}

type StorageConfig struct {
	Dir              string `yaml:"dir"`
	ErrorsFile       string `yaml:"errors_file"`
	TranslationsFile string `yaml:"translations_file"`
	CookiesFile      string `yaml:"cookies_file"`
	HistoryDB        string `yaml:"history_db"`
	HistoryKeep      int    `yaml:"history_keep"`
}

func (c StorageConfig) ErrorsPath() string {
	return c.path(c.ErrorsFile, "errors.json")
}

func (c StorageConfig) TranslationsPath() string {
	return c.path(c.TranslationsFile, "saved-translations.json")
}

func (c StorageConfig) CookiesPath() string {
	return c.path(c.CookiesFile, "cookies.txt")
}

// HistoryPath is empty when the archive is disabled.
func (c StorageConfig) HistoryPath() string {
	if strings.EqualFold(c.HistoryDB, "off") {
		return ""
	}
	return c.path(c.HistoryDB, "history.db")
}

func (c StorageConfig) path(explicit, name string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(c.Dir, name)
}

type QueueConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ErrorLogConfig struct {
	Limit      int           `yaml:"limit"`
	FlushDelay time.Duration `yaml:"flush_delay"`
	TextLimit  int           `yaml:"text_limit"`
}

type UpdateConfig struct {
	CronExpr     string        `yaml:"cron"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type MediaConfig struct {
	YTDLPPath   string `yaml:"ytdlp_path"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	TempDir     string `yaml:"temp_dir"`
	OutputDir   string `yaml:"output_dir"`
}

// LLMConfig configures the OpenAI-compatible translation backend.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Timeout     int     `yaml:"timeout"`
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// Client converts the section into the llm package configuration.
func (c LLMConfig) Client() *llm.Config {
	return &llm.Config{
		APIKey:      c.APIKey,
		APIURL:      c.APIURL,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Timeout:     c.Timeout,
	}
}

type TranslateConfig struct {
	SourceLanguage string `yaml:"source_language"`
}

// SourceTag is the parsed SourceLanguage; validate guarantees it parses.
func (c TranslateConfig) SourceTag() language.Tag {
	tag, err := language.Parse(c.SourceLanguage)
	if err != nil {
		return language.English
	}
	return tag
}

type BotConfig struct {
	AdminChatID int64   `yaml:"admin_chat_id"`
	IntakeRPS   float64 `yaml:"intake_rps"`
	IntakeBurst int     `yaml:"intake_burst"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Dir: "storage", HistoryKeep: 10000},
		Queue: QueueConfig{
			Concurrency:     1,
			ShutdownTimeout: 30 * time.Second,
		},
		ErrorLog: ErrorLogConfig{
			Limit:      300,
			FlushDelay: 2 * time.Second,
			TextLimit:  4000,
		},
		Update: UpdateConfig{
			CronExpr:     "0 0 4 * * *",
			DrainTimeout: 10 * time.Minute,
		},
		LLM: LLMConfig{
			APIURL:      "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   256,
			Temperature: 0.2,
			Timeout:     30,
		},
		Translate: TranslateConfig{SourceLanguage: "en"},
		Bot: BotConfig{
			IntakeRPS:   1,
			IntakeBurst: 3,
		},
		HTTP:   HTTPConfig{Addr: "127.0.0.1:9090"},
		System: SystemConfig{LogLevel: "INFO"},
	}
}

// NewFromEnv loads the configuration using CONFIG_FILE as the YAML file.
func NewFromEnv(opts ...Option) (*Config, error) {
	return Load("", opts...)
}

// Load resolves the configuration. An empty configFile falls back to the
// CONFIG_FILE variable; when both are empty no file is read.
func Load(configFile string, opts ...Option) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Failed to load .env: %v", err)
	}

	config := Default()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	if configFile != "" {
		if err := config.mergeFile(configFile); err != nil {
			return nil, err
		}
	}

	config.applyEnv()

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %s", config.redacted())
	return config, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Storage.Dir = getEnvString("STORAGE_DIR", c.Storage.Dir)
	c.Storage.ErrorsFile = getEnvString("ERRORS_FILE", c.Storage.ErrorsFile)
	c.Storage.TranslationsFile = getEnvString("TRANSLATIONS_FILE", c.Storage.TranslationsFile)
	c.Storage.CookiesFile = getEnvString("COOKIES_FILE", c.Storage.CookiesFile)
	c.Storage.HistoryDB = getEnvString("HISTORY_DB", c.Storage.HistoryDB)
	c.Storage.HistoryKeep = getEnvInt("HISTORY_KEEP", c.Storage.HistoryKeep)

	c.Queue.Concurrency = getEnvInt("QUEUE_CONCURRENCY", c.Queue.Concurrency)
	c.Queue.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.Queue.ShutdownTimeout)

	c.ErrorLog.Limit = getEnvInt("ERROR_LOG_LIMIT", c.ErrorLog.Limit)
	c.ErrorLog.FlushDelay = getEnvDuration("ERROR_LOG_FLUSH_DELAY", c.ErrorLog.FlushDelay)
	c.ErrorLog.TextLimit = getEnvInt("ERROR_TEXT_LIMIT", c.ErrorLog.TextLimit)

	c.Update.CronExpr = getEnvString("UPDATE_CRON", c.Update.CronExpr)
	c.Update.DrainTimeout = getEnvDuration("UPDATE_DRAIN_TIMEOUT", c.Update.DrainTimeout)

	c.Media.YTDLPPath = getEnvString("YTDLP_PATH", c.Media.YTDLPPath)
	c.Media.FFmpegPath = getEnvString("FFMPEG_PATH", c.Media.FFmpegPath)
	c.Media.FFprobePath = getEnvString("FFPROBE_PATH", c.Media.FFprobePath)
	c.Media.TempDir = getEnvString("TEMP_DIR", c.Media.TempDir)
	c.Media.OutputDir = getEnvString("OUTPUT_DIR", c.Media.OutputDir)

	c.LLM.APIKey = getEnvString("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.APIURL = getEnvString("LLM_API_URL", c.LLM.APIURL)
	c.LLM.Model = getEnvString("LLM_MODEL", c.LLM.Model)
	c.LLM.MaxTokens = getEnvInt("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.Timeout = getEnvInt("LLM_TIMEOUT", c.LLM.Timeout)

	c.Translate.SourceLanguage = getEnvString("SOURCE_LANGUAGE", c.Translate.SourceLanguage)

	c.Bot.AdminChatID = getEnvInt64("ADMIN_CHAT_ID", c.Bot.AdminChatID)
	c.Bot.IntakeRPS = getEnvFloat("INTAKE_RPS", c.Bot.IntakeRPS)
	c.Bot.IntakeBurst = getEnvInt("INTAKE_BURST", c.Bot.IntakeBurst)

	if addr, ok := os.LookupEnv("HTTP_ADDR"); ok {
		c.HTTP.Addr = addr
	}
	c.System.LogLevel = getEnvString("LOG_LEVEL", c.System.LogLevel)
	c.System.LogFile = getEnvString("LOG_FILE", c.System.LogFile)
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	var errs []error
	if c.Storage.Dir == "" {
		errs = append(errs, errors.New("STORAGE_DIR must not be empty"))
	}
	if c.Storage.HistoryKeep < 1 {
		errs = append(errs, fmt.Errorf("HISTORY_KEEP must be at least 1, got %d", c.Storage.HistoryKeep))
	}
	if c.Queue.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("QUEUE_CONCURRENCY must be at least 1, got %d", c.Queue.Concurrency))
	}
	if c.Queue.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	if c.ErrorLog.Limit < 1 {
		errs = append(errs, fmt.Errorf("ERROR_LOG_LIMIT must be at least 1, got %d", c.ErrorLog.Limit))
	}
	if c.ErrorLog.FlushDelay < 0 {
		errs = append(errs, errors.New("ERROR_LOG_FLUSH_DELAY must not be negative"))
	}
	if c.ErrorLog.TextLimit < 1 {
		errs = append(errs, fmt.Errorf("ERROR_TEXT_LIMIT must be at least 1, got %d", c.ErrorLog.TextLimit))
	}
	if c.Update.CronExpr != "" {
		if _, err := icron.Parse(c.Update.CronExpr); err != nil {
			errs = append(errs, fmt.Errorf("UPDATE_CRON: %w", err))
		}
	}
	if _, err := language.Parse(c.Translate.SourceLanguage); err != nil {
		errs = append(errs, fmt.Errorf("SOURCE_LANGUAGE: %w", err))
	}
	if c.Bot.IntakeRPS <= 0 || c.Bot.IntakeBurst < 1 {
		errs = append(errs, errors.New("INTAKE_RPS must be positive and INTAKE_BURST at least 1"))
	}
	switch strings.ToUpper(strings.TrimSpace(c.System.LogLevel)) {
	case "", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL: unknown level %q", c.System.LogLevel))
	}
	if c.LLM.Enabled() {
		if err := c.LLM.Client().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("LLM: %w", err))
		}
	}
	return errors.Join(errs...)
}

// redacted renders the configuration with secrets masked.
func (c Config) redacted() string {
	if c.LLM.APIKey != "" {
		c.LLM.APIKey = "***"
	}
	return fmt.Sprintf("%+v", c)
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("2s") or plain milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	log.Warn("Ignoring invalid %s=%q", key, value)
	return defaultValue
}
