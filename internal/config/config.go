package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/joho/godotenv"
)

const (
	DefaultEnvFile    = ".env"
	DefaultPromptFile = "prompts/prompt_1.txt"
	DefaultLLMBaseURL = "https://llm.api.cloud.yandex.net/v1"
	DefaultLLMModel   = "yandexgpt-lite"
)

// RelayConfig holds configuration for the relay process.
type RelayConfig struct {
	TelegramAPIBase      string
	Timeout              int
	SleepSeconds         int
	LLMAPIKey            string
	LLMFolderID          string
	LLMBaseURL           string
	LLMModel             string
	LLMTimeoutSeconds    int
	PromptFile           string
	JournalPath          string
	ModelProvider        string
	Commander            string
	DummyProviderScript  string
	DummyCommanderScript string
	DummySendScript      string
	Debug                bool
}

// ModelURI is the fully qualified model identifier sent with every request,
// e.g. "gpt://b1g.../yandexgpt-lite".
func (c RelayConfig) ModelURI() string {
	if strings.Contains(c.LLMModel, "://") {
		return c.LLMModel
	}
	return fmt.Sprintf("gpt://%s/%s", c.LLMFolderID, c.LLMModel)
}

// source resolves keys from the .env file first, then the process environment.
type source map[string]string

func (s source) get(key string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return os.Getenv(key)
}

func (s source) lookup(key string) (string, bool) {
	if v, ok := s[key]; ok {
		return v, true
	}
	return os.LookupEnv(key)
}

// Load reads relay configuration from envFile and the environment. An empty
// envFile skips the file and uses the environment only.
func Load(envFile string) (RelayConfig, error) {
	src := source{}
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		if errors.Is(err, fs.ErrNotExist) {
			return RelayConfig{}, fmt.Errorf("env file %s not found: make sure it exists in the project root", envFile)
		}
		if err != nil {
			return RelayConfig{}, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
		src = values
	}

	modelProvider := src.orDefault("RELAY_MODEL_PROVIDER", "openai")
	commander := src.orDefault("RELAY_COMMANDER", "telegram")

	telegramToken := src.get("TELEGRAM_BOT_TOKEN")
	if commander == "telegram" && telegramToken == "" {
		return RelayConfig{}, missing("TELEGRAM_BOT_TOKEN", envFile)
	}
	apiKey := src.get("YA_API_KEY")
	folderID := src.get("YA_FOLDER_ID")
	if modelProvider == "openai" {
		if apiKey == "" {
			return RelayConfig{}, missing("YA_API_KEY", envFile)
		}
		if folderID == "" {
			return RelayConfig{}, missing("YA_FOLDER_ID", envFile)
		}
	}

	cfg := RelayConfig{
		TelegramAPIBase:      fmt.Sprintf("https://api.telegram.org/bot%s", telegramToken),
		Timeout:              src.intOrDefault("TG_TIMEOUT", 30),
		SleepSeconds:         src.intOrDefault("TG_SLEEP_SECONDS", 1),
		LLMAPIKey:            apiKey,
		LLMFolderID:          folderID,
		LLMBaseURL:           src.orDefault("LLM_BASE_URL", DefaultLLMBaseURL),
		LLMModel:             src.orDefault("LLM_MODEL", DefaultLLMModel),
		LLMTimeoutSeconds:    src.intOrDefault("LLM_TIMEOUT_SECONDS", 120),
		PromptFile:           src.orDefault("RELAY_PROMPT_FILE", DefaultPromptFile),
		JournalPath:          src.orDefault("RELAY_JOURNAL_PATH", "state/relay.db"),
		ModelProvider:        modelProvider,
		Commander:            commander,
		DummyProviderScript:  src.orDefault("RELAY_DUMMY_PROVIDER_SCRIPT", "ok"),
		DummyCommanderScript: src.orDefault("RELAY_DUMMY_COMMANDER_SCRIPT", "ok"),
		DummySendScript:      src.orDefault("RELAY_DUMMY_COMMANDER_SEND_SCRIPT", "ok"),
		Debug:                src.boolOrDefault("RELAY_DEBUG", false),
	}
	// An explicitly empty journal path disables the journal.
	if v, ok := src.lookup("RELAY_JOURNAL_PATH"); ok && v == "" {
		cfg.JournalPath = ""
	}
	if err := cfg.validate(); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func (c RelayConfig) validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("TG_TIMEOUT must be >= 0, got %d", c.Timeout)
	}
	if c.SleepSeconds <= 0 {
		return fmt.Errorf("TG_SLEEP_SECONDS must be > 0, got %d", c.SleepSeconds)
	}
	if c.LLMTimeoutSeconds <= 0 {
		return fmt.Errorf("LLM_TIMEOUT_SECONDS must be > 0, got %d", c.LLMTimeoutSeconds)
	}
	switch c.ModelProvider {
	case "openai", "dummy":
	default:
		return fmt.Errorf("RELAY_MODEL_PROVIDER must be openai or dummy, got %q", c.ModelProvider)
	}
	switch c.Commander {
	case "telegram", "dummy":
	default:
		return fmt.Errorf("RELAY_COMMANDER must be telegram or dummy, got %q", c.Commander)
	}
	return nil
}

func missing(key, envFile string) error {
	if envFile == "" {
		return fmt.Errorf("%s is required in environment", key)
	}
	return fmt.Errorf("%s not found in %s or environment: check its contents", key, envFile)
}

// LoadSystemPrompt reads the system prompt from a UTF-8 text file.
func LoadSystemPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("prompt file %s not found", path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("prompt file %s is not valid UTF-8", path)
	}
	return string(data), nil
}

func (s source) orDefault(key, fallback string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return fallback
}

func (s source) intOrDefault(key string, fallback int) int {
	v := s.get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s source) boolOrDefault(key string, fallback bool) bool {
	v := s.get(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
