package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	PhotoStorageLocal      = "local"
	PhotoStorageCloudinary = "cloudinary"
	PhotoStorageS3         = "s3"
)

type Config struct {
	Port           string   `koanf:"port"`
	Environment    string   `koanf:"env"`  // ENV: production, development, etc.
	Host           string   `koanf:"host"` // Raw HOST env (e.g. https://api.tracklog.app)
	FrontendURL    string   `koanf:"frontend_url"`
	AllowedOrigins []string `koanf:"allowed_origins"` // CORS: from ALLOWED_ORIGINS or FRONTEND_URL(s)
	TrustProxy     bool     `koanf:"trust_proxy"`     // Log X-Forwarded-For client IPs

	Store        StoreConfig        `koanf:"store"`
	Session      SessionConfig      `koanf:"session"`
	Photos       PhotoConfig        `koanf:"photos"`
	ExternalAuth ExternalAuthConfig `koanf:"external_auth"`
	Log          LogConfig          `koanf:"log"`
}

type StoreConfig struct {
	Driver        string `koanf:"driver"`
	MongoURI      string `koanf:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database"`
	PostgresURI   string `koanf:"postgres_uri"`
	RedisURI      string `koanf:"redis_uri"` // Empty disables the session cache
}

type SessionConfig struct {
	TTL        time.Duration `koanf:"ttl"`
	CookieName string        `koanf:"cookie_name"`
}

type PhotoConfig struct {
	Storage    string `koanf:"storage"`
	UploadsDir string `koanf:"uploads_dir"`

	CloudinaryName      string `koanf:"cloudinary_name"`
	CloudinaryAPIKey    string `koanf:"cloudinary_api_key"`
	CloudinaryAPISecret string `koanf:"cloudinary_api_secret"`
	CloudinaryFolder    string `koanf:"cloudinary_folder"`

	S3Bucket    string `koanf:"s3_bucket"`
	S3Region    string `koanf:"s3_region"`
	S3Endpoint  string `koanf:"s3_endpoint"`
	S3AccessKey string `koanf:"s3_access_key"`
	S3SecretKey string `koanf:"s3_secret_key"`
	S3PublicURL string `koanf:"s3_public_url"`
	S3Prefix    string `koanf:"s3_prefix"`
}

type ExternalAuthConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DefaultConfigPaths lists the config files searched when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

func defaultConfig() *Config {
	return &Config{
		Port:        "8001",
		Environment: "development",
		Host:        "http://localhost:8001",
		FrontendURL: "http://localhost:3000",
		Store: StoreConfig{
			Driver:        StoreMongo,
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "tracklog",
			PostgresURI:   "postgres://localhost:5432/tracklog?sslmode=disable",
		},
		Session: SessionConfig{
			TTL:        7 * 24 * time.Hour,
			CookieName: "session_token",
		},
		Photos: PhotoConfig{
			Storage:          PhotoStorageLocal,
			UploadsDir:       "uploads",
			CloudinaryFolder: "tracklog",
			S3Region:         "us-east-1",
			S3Prefix:         "sightings",
		},
		ExternalAuth: ExternalAuthConfig{
			URL:     "https://demobackend.emergentagent.com/auth/v1/env/oauth/session-data",
			Timeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in increasing priority. Call godotenv.Load first if
// a .env file should be honoured.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitCommaList(k, "allowed_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.AllowedOrigins = resolveOrigins(cfg.AllowedOrigins, cfg.FrontendURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings maps environment variable names (lower-cased) to config paths.
// Both MONGO_URL/DB_NAME and MONGODB_URI/MONGO_URI spellings are accepted.
var envMappings = map[string]string{
	"port":            "port",
	"env":             "env",
	"host":            "host",
	"frontend_url":    "frontend_url",
	"allowed_origins": "allowed_origins",
	"trust_proxy":     "trust_proxy",

	"store_driver": "store.driver",
	"mongo_url":    "store.mongo_uri",
	"mongodb_uri":  "store.mongo_uri",
	"mongo_uri":    "store.mongo_uri",
	"db_name":      "store.mongo_database",
	"postgres_uri": "store.postgres_uri",
	"redis_uri":    "store.redis_uri",

	"session_ttl":         "session.ttl",
	"session_cookie_name": "session.cookie_name",

	"photo_storage":         "photos.storage",
	"uploads_dir":           "photos.uploads_dir",
	"cloudinary_cloud_name": "photos.cloudinary_name",
	"cloudinary_api_key":    "photos.cloudinary_api_key",
	"cloudinary_api_secret": "photos.cloudinary_api_secret",
	"cloudinary_folder":     "photos.cloudinary_folder",
	"s3_bucket":             "photos.s3_bucket",
	"s3_region":             "photos.s3_region",
	"s3_endpoint":           "photos.s3_endpoint",
	"s3_access_key":         "photos.s3_access_key",
	"s3_secret_key":         "photos.s3_secret_key",
	"s3_public_url":         "photos.s3_public_url",
	"s3_prefix":             "photos.s3_prefix",

	"external_auth_url":     "external_auth.url",
	"external_auth_timeout": "external_auth.timeout",

	"log_level":  "log.level",
	"log_format": "log.format",
}

// envKey returns "" for variables that are not ours so koanf skips them.
func envKey(key string) string {
	return envMappings[strings.ToLower(key)]
}

func splitCommaList(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	if err := k.Set(path, parseOrigins(s)); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

// resolveOrigins falls back to FRONTEND_URL when no explicit origins are set.
func resolveOrigins(origins []string, frontendURL string) []string {
	var out []string
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" && !containsOrigin(out, o) {
			out = append(out, o)
		}
	}
	if len(out) == 0 && strings.TrimSpace(frontendURL) != "" {
		out = append(out, strings.TrimSpace(frontendURL))
	}
	if len(out) == 0 {
		out = []string{"http://localhost:3000"}
	}
	return out
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func containsOrigin(list []string, o string) bool {
	o = strings.TrimSpace(strings.ToLower(o))
	for _, v := range list {
		if strings.TrimSpace(strings.ToLower(v)) == o {
			return true
		}
	}
	return false
}

// Validate rejects unknown drivers and incomplete storage settings.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMongo, StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Photos.Storage {
	case PhotoStorageLocal:
		if c.Photos.UploadsDir == "" {
			return fmt.Errorf("UPLOADS_DIR is required for local photo storage")
		}
	case PhotoStorageCloudinary:
		if c.Photos.CloudinaryName == "" || c.Photos.CloudinaryAPIKey == "" || c.Photos.CloudinaryAPISecret == "" {
			return fmt.Errorf("cloudinary photo storage needs CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET")
		}
	case PhotoStorageS3:
		if c.Photos.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for s3 photo storage")
		}
	default:
		return fmt.Errorf("unknown PHOTO_STORAGE %q", c.Photos.Storage)
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.ExternalAuth.Timeout <= 0 {
		return fmt.Errorf("EXTERNAL_AUTH_TIMEOUT must be > 0")
	}
	return nil
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}
