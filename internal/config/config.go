package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Version is reported by /api/check and the CLI.
const Version = "1.0.0"

type Config struct {
	Port       int
	Domain     string
	HomeDomain string
	TrustProxy bool

	Private            bool
	EnableUserAccounts bool
	ServeFiles         bool

	UploadsRoot string
	DBPath      string

	MaxSize      int64
	ChunkSize    int64
	MaxChunks    int
	ChunkTimeout time.Duration

	FileIDLength    int
	FileIDLengthMin int
	FileIDLengthMax int
	AlbumIDLength   int
	MaxTries        int

	MaxFilesPerUpload  int
	MaxFieldsPerUpload int

	FilterEmptyFile     bool
	ExtensionFilter     []string
	ExtensionFilterMode string // "blacklist" or "whitelist"

	URLUploads         bool
	URLMaxSize         int64
	URLFetchTimeout    time.Duration
	URLProxy           string
	URLExtensionFilter []string
	URLFilterMode      string

	HashFiles        bool
	StoreIP          bool
	StripTagsAllowed bool

	TemporaryUploadAges       []float64
	DefaultTemporaryUploadAge float64

	ClamdAddr         string
	ScanBypassRank    int
	ScanWhitelistExts []string
	ScanMaxSize       int64

	ThumbExtensions  []string
	ThumbPlaceholder string

	ZipMaxTotalSize int64
	SweepInterval   time.Duration

	CFZoneID         string
	CFAPIToken       string
	CFUserServiceKey string
	CFAPIKey         string
	CFEmail          string

	RedisURL string

	PageSize int

	Environment  string
	LogLevel     string
	LogFormat    string
	TracingOn    bool
	OTLPEndpoint string
	SampleRate   float64

	// DeriveMissingType switches the missing-MIME default from
	// application/octet-stream to an extension-derived type.
	DeriveMissingType bool
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Port = getEnvInt("PORT", 9999)
	cfg.Domain = getEnvString("DOMAIN", fmt.Sprintf("http://localhost:%d", cfg.Port))
	cfg.HomeDomain = getEnvString("HOME_DOMAIN", cfg.Domain)
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", false)

	cfg.Private = getEnvBool("PRIVATE", true)
	cfg.EnableUserAccounts = getEnvBool("ENABLE_USER_ACCOUNTS", true)
	cfg.ServeFiles = getEnvBool("SERVE_FILES", true)

	cfg.UploadsRoot = getEnvString("UPLOADS_ROOT", "uploads")
	cfg.DBPath = getEnvString("DB_PATH", "database/db.sqlite3")

	cfg.MaxSize = getEnvInt64("MAX_SIZE", 512*1024*1024)
	cfg.ChunkSize = getEnvInt64("CHUNK_SIZE", 10*1024*1024)
	cfg.MaxChunks = getEnvInt("MAX_CHUNKS", 500)
	var err error
	cfg.ChunkTimeout, err = getEnvDuration("CHUNK_TIMEOUT", "30m")
	if err != nil {
		return nil, fmt.Errorf("invalid CHUNK_TIMEOUT: %w", err)
	}

	cfg.FileIDLength = getEnvInt("FILE_ID_LENGTH", 8)
	cfg.FileIDLengthMin = getEnvInt("FILE_ID_LENGTH_MIN", 4)
	cfg.FileIDLengthMax = getEnvInt("FILE_ID_LENGTH_MAX", 32)
	cfg.AlbumIDLength = getEnvInt("ALBUM_ID_LENGTH", 8)
	cfg.MaxTries = getEnvInt("MAX_TRIES", 3)

	cfg.MaxFilesPerUpload = getEnvInt("MAX_FILES_PER_UPLOAD", 20)
	cfg.MaxFieldsPerUpload = getEnvInt("MAX_FIELDS_PER_UPLOAD", 6)

	cfg.FilterEmptyFile = getEnvBool("FILTER_EMPTY_FILE", true)
	cfg.ExtensionFilter = getEnvList("EXTENSION_FILTER", ".exe,.bat,.cmd,.msi,.sh,.com,.scr,.jar")
	cfg.ExtensionFilterMode = getEnvString("EXTENSION_FILTER_MODE", "blacklist")

	cfg.URLUploads = getEnvBool("URL_UPLOADS", true)
	cfg.URLMaxSize = getEnvInt64("URL_MAX_SIZE", 100*1024*1024)
	cfg.URLFetchTimeout, err = getEnvDuration("URL_FETCH_TIMEOUT", "10s")
	if err != nil {
		return nil, fmt.Errorf("invalid URL_FETCH_TIMEOUT: %w", err)
	}
	cfg.URLProxy = os.Getenv("URL_PROXY")
	cfg.URLExtensionFilter = getEnvList("URL_EXTENSION_FILTER", "")
	cfg.URLFilterMode = getEnvString("URL_EXTENSION_FILTER_MODE", cfg.ExtensionFilterMode)

	cfg.HashFiles = getEnvBool("HASH_FILES", true)
	cfg.StoreIP = getEnvBool("STORE_IP", true)
	cfg.StripTagsAllowed = getEnvBool("STRIP_TAGS", true)

	cfg.TemporaryUploadAges = getEnvFloats("TEMPORARY_UPLOAD_AGES", "0,1,6,12,24,72,168")
	cfg.DefaultTemporaryUploadAge = getEnvFloat("DEFAULT_TEMPORARY_UPLOAD_AGE", 0)

	cfg.ClamdAddr = os.Getenv("CLAMD_ADDR")
	cfg.ScanBypassRank = getEnvInt("SCAN_BYPASS_RANK", 64)
	cfg.ScanWhitelistExts = getEnvList("SCAN_WHITELIST_EXTENSIONS", "")
	cfg.ScanMaxSize = getEnvInt64("SCAN_MAX_SIZE", 0)

	cfg.ThumbExtensions = getEnvList("THUMB_EXTENSIONS", ".jpg,.jpeg,.png,.gif,.bmp,.tiff,.webp")
	cfg.ThumbPlaceholder = getEnvString("THUMB_PLACEHOLDER", "pages/error/thumb_placeholder.png")

	cfg.ZipMaxTotalSize = getEnvInt64("ZIP_MAX_TOTAL_SIZE", 512*1024*1024)
	cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", "1m")
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}

	cfg.CFZoneID = os.Getenv("CF_ZONE_ID")
	cfg.CFAPIToken = os.Getenv("CF_API_TOKEN")
	cfg.CFUserServiceKey = os.Getenv("CF_USER_SERVICE_KEY")
	cfg.CFAPIKey = os.Getenv("CF_API_KEY")
	cfg.CFEmail = os.Getenv("CF_EMAIL")

	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.PageSize = getEnvInt("PAGE_SIZE", 25)

	cfg.Environment = getEnvString("ENVIRONMENT", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFormat = os.Getenv("LOG_FORMAT")
	cfg.TracingOn = getEnvBool("TRACING_ENABLED", false)
	cfg.OTLPEndpoint = getEnvString("OTLP_ENDPOINT", "localhost:4317")
	cfg.SampleRate = getEnvFloat("TRACE_SAMPLE_RATE", 1.0)

	cfg.DeriveMissingType = getEnvBool("DERIVE_MISSING_TYPE", false)

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MaxSize < 1 {
		return fmt.Errorf("invalid max size: %d", c.MaxSize)
	}
	if c.FileIDLength < c.FileIDLengthMin || c.FileIDLength > c.FileIDLengthMax {
		return fmt.Errorf("file identifier length %d outside [%d, %d]",
			c.FileIDLength, c.FileIDLengthMin, c.FileIDLengthMax)
	}
	if c.MaxChunks < 2 {
		return fmt.Errorf("invalid max chunks: %d", c.MaxChunks)
	}
	if c.ExtensionFilterMode != "blacklist" && c.ExtensionFilterMode != "whitelist" {
		return fmt.Errorf("invalid extension filter mode: %q", c.ExtensionFilterMode)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	return time.ParseDuration(value)
}

func getEnvList(key, defaultValue string) []string {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvFloats(key, defaultValue string) []float64 {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		if f, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err == nil {
			out = append(out, f)
		}
	}
	return out
}
