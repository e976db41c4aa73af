package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr       string
	CORSOrigin string

	// Redis - optional; when set the rate windows live in Redis so multiple
	// instances share admission state.
	RedisURL string

	// NLP backend configuration. Empty API key selects the mock backend.
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	SuggestModel    string
	TranscribeModel string
	MaxSuggestions  int
	BackendTimeout  time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration

	// Admission control, one policy per resource class.
	APICallLimit  int
	APICallWindow time.Duration
	VoiceLimit    int
	VoiceWindow   time.Duration
	SuggestLimit  int
	SuggestWindow time.Duration
	MessageLimit  int
	MessageWindow time.Duration

	// Document settings.
	SupportedDocTypes []string
	MaxUploadBytes    int64
	DefaultDocType    string
}

func Load() Config {
	return Config{
		Addr:       getenv("API_ADDR", ":8000"),
		CORSOrigin: getenv("REDLINE_CORS_ORIGIN", "*"),
		RedisURL:   getenv("REDIS_URL", ""),

		OpenAIAPIKey:    getenv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getenv("OPENAI_BASE_URL", ""),
		SuggestModel:    getenv("REDLINE_SUGGEST_MODEL", "gpt-4o-mini"),
		TranscribeModel: getenv("REDLINE_TRANSCRIBE_MODEL", "whisper-1"),
		MaxSuggestions:  getenvInt("REDLINE_MAX_SUGGESTIONS", 3),
		BackendTimeout:  time.Duration(getenvInt("REDLINE_BACKEND_TIMEOUT_SECONDS", 30)) * time.Second,
		RetryAttempts:   getenvInt("REDLINE_RETRY_ATTEMPTS", 3),
		RetryDelay:      time.Duration(getenvInt("REDLINE_RETRY_DELAY_SECONDS", 1)) * time.Second,

		APICallLimit:  getenvInt("REDLINE_API_CALL_LIMIT", 100),
		APICallWindow: time.Duration(getenvInt("REDLINE_API_CALL_INTERVAL", 3600)) * time.Second,
		VoiceLimit:    getenvInt("REDLINE_VOICE_CALL_LIMIT", 30),
		VoiceWindow:   time.Duration(getenvInt("REDLINE_VOICE_CALL_INTERVAL", 60)) * time.Second,
		SuggestLimit:  getenvInt("REDLINE_SUGGEST_CALL_LIMIT", 50),
		SuggestWindow: time.Duration(getenvInt("REDLINE_SUGGEST_CALL_INTERVAL", 60)) * time.Second,
		MessageLimit:  getenvInt("REDLINE_WS_MESSAGE_LIMIT", 100),
		MessageWindow: time.Duration(getenvInt("REDLINE_WS_MESSAGE_INTERVAL", 60)) * time.Second,

		SupportedDocTypes: getenvList("REDLINE_DOC_TYPES", []string{"google_docs", "microsoft_office"}),
		MaxUploadBytes:    int64(getenvInt("REDLINE_MAX_UPLOAD_MB", 10)) * 1024 * 1024,
		DefaultDocType:    getenv("REDLINE_DEFAULT_DOC_TYPE", "google_docs"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
