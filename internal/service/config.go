package service

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds all env-parsed configuration for the indicator engine service.
type Config struct {
	LogLevel string

	// Event feed. FeedMode selects "redis" (stream consumer group),
	// "ws" (direct exchange WebSocket) or "replay" (JSONL file).
	FeedMode      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	ConsumerGroup string
	ConsumerName  string
	SnapshotKey   string
	WSURL         string
	WSSymbols     []string
	ReplayFile    string
	ReplaySpeed   float64

	SQLitePath string

	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr string

	SnapshotIntervalS int
	IngestQueueSize   int
	BufferMaxPoints   int
	BufferTTLS        int
	CacheMaxEntries   int
	MemoryCapMB       int
	MaxInstances      int
	MaxPerSymbol      int

	// System indicators created at startup: SYSTEM_SYMBOLS ×
	// SYSTEM_INDICATORS ("TYPE:PERIOD,...").
	SystemSymbols []string
	SystemSpecs   []SystemSpec
}

// SystemSpec is one always-on indicator parsed from SYSTEM_INDICATORS.
type SystemSpec struct {
	Type   string
	Period int
}

// LoadConfig reads all environment variables and returns a Config.
func LoadConfig() Config {
	return Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		FeedMode:      getEnv("FEED_MODE", "redis"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "market:events"),
		ConsumerGroup: getEnv("CONSUMER_GROUP", "indengine"),
		ConsumerName:  getEnv("CONSUMER_NAME", "worker-1"),
		SnapshotKey:   getEnv("SNAPSHOT_KEY", "indengine:snapshot"),
		WSURL:         getEnv("WS_FEED_URL", ""),
		WSSymbols:     splitCSV(getEnv("WS_SYMBOLS", "")),
		ReplayFile:    getEnv("REPLAY_FILE", ""),
		ReplaySpeed:   getEnvFloat("REPLAY_SPEED", 0),

		SQLitePath: getEnv("SQLITE_PATH", "data/variants.db"),

		KafkaBrokers: splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "indicator-updates"),

		HTTPAddr: getEnv("INDENGINE_HTTP_ADDR", ":9095"),

		SnapshotIntervalS: getEnvInt("SNAPSHOT_INTERVAL_SEC", 30),
		IngestQueueSize:   getEnvInt("INGEST_QUEUE_SIZE", 8192),
		BufferMaxPoints:   getEnvInt("BUFFER_MAX_POINTS", 10000),
		BufferTTLS:        getEnvInt("BUFFER_TTL_SEC", 3600),
		CacheMaxEntries:   getEnvInt("CACHE_MAX_ENTRIES", 10000),
		MemoryCapMB:       getEnvInt("MEMORY_CAP_MB", 512),
		MaxInstances:      getEnvInt("MAX_INSTANCES", 5000),
		MaxPerSymbol:      getEnvInt("MAX_PER_SYMBOL", 500),

		SystemSymbols: splitCSV(getEnv("SYSTEM_SYMBOLS", "")),
		SystemSpecs:   ParseSystemSpecs(getEnv("SYSTEM_INDICATORS", "")),
	}
}

// ParseSystemSpecs parses "TYPE:PERIOD,..." into []SystemSpec.
// Example: "SMA:20,SMA:50,EMA:9,RSI:14". Returns defaults if input is empty.
func ParseSystemSpecs(s string) []SystemSpec {
	if s == "" {
		return []SystemSpec{
			{Type: "SMA", Period: 20},
			{Type: "SMA", Period: 50},
			{Type: "EMA", Period: 9},
			{Type: "RSI", Period: 14},
		}
	}

	var specs []SystemSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		tokens := strings.SplitN(part, ":", 2)
		if len(tokens) != 2 {
			continue
		}
		typ := strings.ToUpper(strings.TrimSpace(tokens[0]))
		period, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
		if err != nil || period <= 0 {
			log.Printf("[service] skipping invalid system indicator spec: %q", part)
			continue
		}
		specs = append(specs, SystemSpec{Type: typ, Period: period})
	}
	if len(specs) == 0 {
		log.Println("[service] WARNING: no valid system indicators parsed, using defaults")
		return ParseSystemSpecs("")
	}
	log.Printf("[service] loaded %d system indicator specs from SYSTEM_INDICATORS", len(specs))
	return specs
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[service] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[service] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
