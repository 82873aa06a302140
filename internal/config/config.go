// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// AI tools collaborators
	AIToolsBaseURL    string
	AIToolsAuthHeader string
	ProviderTimeout   time.Duration
	ProviderRetries   int

	// Outbound transport
	TransportSocketURL string

	// Structured flow verification service
	VerificationBaseURL string

	// Storage
	DatabaseURL string
	RedisURL    string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// LLM settings
	LLMProvider     string
	LLMModel        string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	EmbeddingModel  string
	SystemPrompt    string

	// Similarity settings
	SimilarityBackend        string
	SimilarityThreshold      float64
	CacheSimilarityThreshold float64
	HistoryWindow            int
	ContextMatchCount        int

	// Conversation sessions
	SessionTTL     time.Duration
	TurnTimeout    time.Duration
	StatusKeywords []string

	// Auth
	AuthEnabled bool
	JWTSecret   string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string
	LogFile  string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// DefaultSystemPrompt establishes the domain and tone of generated answers.
const DefaultSystemPrompt = "You are an AI assistant who answers questions by farmers from Odisha, India on agriculture related queries. " +
	"Answer the question asked by the user based on a summary of the context provided. " +
	"Ignore the context if irrelevant to the question asked."

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// AI tools
		AIToolsBaseURL:    getEnv("AI_TOOLS_BASE_URL", "http://localhost:8000"),
		AIToolsAuthHeader: getEnv("AI_TOOLS_AUTH_HEADER", ""),
		ProviderTimeout:   getDurationEnv("PROVIDER_TIMEOUT", 30*time.Second),
		ProviderRetries:   getIntEnv("PROVIDER_RETRIES", 2),

		TransportSocketURL:  getEnv("TRANSPORT_SOCKET_URL", ""),
		VerificationBaseURL: getEnv("VERIFICATION_BASE_URL", ""),

		// Storage
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// LLM
		LLMProvider:     getEnv("LLM_PROVIDER", "aitools"),
		LLMModel:        getEnv("LLM_MODEL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "text-embedding-ada-002"),
		SystemPrompt:    getEnv("SYSTEM_PROMPT", DefaultSystemPrompt),

		// Similarity
		SimilarityBackend:        getEnv("SIMILARITY_BACKEND", "remote"),
		SimilarityThreshold:      getFloatEnv("SIMILARITY_THRESHOLD", 0.78),
		CacheSimilarityThreshold: getFloatEnv("CACHE_SIMILARITY_THRESHOLD", 0.97),
		HistoryWindow:            getIntEnv("HISTORY_WINDOW", 2),
		ContextMatchCount:        getIntEnv("CONTEXT_MATCH_COUNT", 2),

		// Sessions
		SessionTTL:     getDurationEnv("SESSION_TTL", 30*time.Minute),
		TurnTimeout:    getDurationEnv("TURN_TIMEOUT", 60*time.Second),
		StatusKeywords: getListEnv("STATUS_KEYWORDS", []string{"application status", "installment", "payment status", "scheme status"}),

		// Auth
		AuthEnabled: getBoolEnv("AUTH_ENABLED", false),
		JWTSecret:   getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv reads a comma separated list, dropping empty items.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
