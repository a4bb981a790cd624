package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreS3     = "s3"
	StoreMemory = "memory"
)

type Config struct {
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	CORSAllowedOrigins []string

	StoreBackend      string
	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool
	CDNDomain         string
	AudioPrefix       string

	FTPServerAddr      string
	FTPServerUsername  string
	FTPServerPassword  string
	FTPServerPasvHost  string
	FTPServerPasvMin   int
	FTPServerPasvMax   int
	FTPServerAutostart bool
	FTPServerGreeting  string
	FTPServerRoot      string

	FTPHost     string
	FTPPort     int
	FTPUser     string
	FTPPassword string
	FTPSecure   bool
	FTPTimeout  time.Duration

	JWTSecret  string
	AdminEmail string

	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	RedisURL         string
	ManifestCacheTTL time.Duration

	TempDir             string
	MaxTempStorageBytes int64
	IngestTimeout       time.Duration

	FetchDataDir    string
	FetchListenPort int

	OTLPEndpoint string
}

func LoadConfig() Config {
	bucket := strings.TrimSpace(getEnv("S3_BUCKET", ""))
	defaultBackend := StoreMemory
	if bucket != "" {
		defaultBackend = StoreS3
	}
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		CORSAllowedOrigins: parseCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),

		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", defaultBackend)),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Region:          getEnv("S3_REGION", "auto"),
		S3Bucket:          bucket,
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", false),
		CDNDomain:         getEnv("CDN_DOMAIN", ""),
		AudioPrefix:       getEnv("AUDIO_PREFIX", "audio/"),

		FTPServerAddr:      getEnv("FTP_SERVER_ADDR", ":21"),
		FTPServerUsername:  getEnv("FTP_SERVER_USERNAME", "admin"),
		FTPServerPassword:  getEnv("FTP_SERVER_PASSWORD", "password"),
		FTPServerPasvHost:  getEnv("FTP_SERVER_PASV_HOST", ""),
		FTPServerPasvMin:   int(getEnvInt64("FTP_SERVER_PASV_MIN", 21000)),
		FTPServerPasvMax:   int(getEnvInt64("FTP_SERVER_PASV_MAX", 21100)),
		FTPServerAutostart: getEnvBool("FTP_SERVER_AUTOSTART", false),
		FTPServerGreeting:  getEnv("FTP_SERVER_GREETING", ""),
		FTPServerRoot:      getEnv("FTP_SERVER_ROOT", ""),

		FTPHost:     getEnv("FTP_HOST", ""),
		FTPPort:     int(getEnvInt64("FTP_PORT", 21)),
		FTPUser:     getEnv("FTP_USER", ""),
		FTPPassword: getEnv("FTP_PASSWORD", ""),
		FTPSecure:   getEnvBool("FTP_SECURE", false),
		FTPTimeout:  time.Duration(getEnvInt64("FTP_TIMEOUT_SEC", 30)) * time.Second,

		JWTSecret:  getEnv("AUTH_JWT_SECRET", ""),
		AdminEmail: getEnv("ADMIN_EMAIL", ""),

		MongoURI:        getEnv("MONGO_URI", ""),
		MongoDatabase:   getEnv("MONGO_DB", "audiobridge"),
		MongoCollection: getEnv("MONGO_COLLECTION", "ingests"),

		RedisURL:         getEnv("REDIS_URL", ""),
		ManifestCacheTTL: time.Duration(getEnvInt64("MANIFEST_CACHE_TTL_SEC", 3600)) * time.Second,

		TempDir:             getEnv("TEMP_DIR", ""),
		MaxTempStorageBytes: getEnvInt64("MAX_TEMP_STORAGE_MB", 1024) << 20,
		IngestTimeout:       time.Duration(getEnvInt64("INGEST_TIMEOUT_SEC", 300)) * time.Second,

		FetchDataDir:    getEnv("FETCH_DATA_DIR", ""),
		FetchListenPort: int(getEnvInt64("FETCH_LISTEN_PORT", 0)),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// RemoteConfigured reports whether an upstream FTP endpoint is set.
func (c Config) RemoteConfigured() bool {
	return strings.TrimSpace(c.FTPHost) != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
