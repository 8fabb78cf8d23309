package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Backend kinds.
const (
	BackendAuto    = ""
	BackendMemory  = "memory"
	BackendBoincDB = "boincdb"
)

// Tracing exporters.
const (
	TracingNone   = "none"
	TracingStdout = "stdout"
)

// Logging profiles.
const (
	ProfileStructured = "STRUCTURED"
	ProfileConsole    = "CONSOLE"
)

// Identity names the application for config discovery and env mapping.
type Identity struct {
	BinaryName string
	ConfigName string
	EnvPrefix  string
}

// DefaultIdentity is the identity used when none has been set.
var DefaultIdentity = Identity{
	BinaryName: "batchlens",
	ConfigName: "batchlens",
	EnvPrefix:  "BATCHLENS_",
}

// Config is the fully resolved application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Backend   BackendConfig   `mapstructure:"backend"`
	BoincDB   BoincDBConfig   `mapstructure:"boincdb"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Submit    SubmitConfig    `mapstructure:"submit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// BackendConfig selects where execution records come from. An empty Kind
// resolves to boincdb when boincdb.enabled is set and memory otherwise.
type BackendConfig struct {
	Kind     string `mapstructure:"kind"`
	ReadOnly bool   `mapstructure:"readonly"`
	DataDir  string `mapstructure:"data_dir"`
	SeedPath string `mapstructure:"seed_path"`
	Demo     bool   `mapstructure:"demo"`
}

type BoincDBConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Driver         string        `mapstructure:"driver"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	Socket         string        `mapstructure:"socket"`
	Path           string        `mapstructure:"path"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
}

type LimitsConfig struct {
	ListChunks int `mapstructure:"list_chunks"`
	JobChunks  int `mapstructure:"job_chunks"`
	Hosts      int `mapstructure:"hosts"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type SubmitConfig struct {
	VerifyInputs bool     `mapstructure:"verify_inputs"`
	S3           S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

type TracingConfig struct {
	Exporter string `mapstructure:"exporter"`
}

// ResolvedBackend returns the backend kind after applying the
// boincdb.enabled switch.
func (c *Config) ResolvedBackend() string {
	kind := strings.ToLower(strings.TrimSpace(c.Backend.Kind))
	if kind != BackendAuto {
		return kind
	}
	if c.BoincDB.Enabled {
		return BackendBoincDB
	}
	return BackendMemory
}

// Validate rejects values no component can act on.
func (c *Config) Validate() error {
	var errs []error

	switch c.ResolvedBackend() {
	case BackendMemory, BackendBoincDB:
	default:
		errs = append(errs, fmt.Errorf("backend.kind: unsupported value %q (want memory or boincdb)", c.Backend.Kind))
	}
	switch strings.ToLower(c.BoincDB.Driver) {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("boincdb.driver: unsupported value %q (want mysql or sqlite)", c.BoincDB.Driver))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	switch strings.ToUpper(c.Logging.Profile) {
	case ProfileStructured, ProfileConsole:
	default:
		errs = append(errs, fmt.Errorf("logging.profile: unsupported value %q", c.Logging.Profile))
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "", TracingNone, TracingStdout:
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter: unsupported value %q (want none or stdout)", c.Tracing.Exporter))
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		errs = append(errs, errors.New("ratelimit.rps must be positive when rate limiting is enabled"))
	}
	return errors.Join(errs...)
}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
	configFile  string
)

// SetConfigFile pins an explicit config file; an empty path restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// SetIdentity replaces the application identity used by Load.
func SetIdentity(id Identity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = &id
}

// GetIdentity returns the active identity, or nil before Load.
func GetIdentity() *Identity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

// Load resolves configuration with precedence
// defaults < config file < environment < runtime overrides.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	explicit := configFile
	configMu.Unlock()

	v := viper.New()
	setDefaults(v)

	if path, err := resolveConfigFile(explicit); err != nil {
		return nil, err
	} else if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for _, spec := range getEnvSpecs() {
		keys := append([]string{spec.Name}, spec.Legacy...)
		if err := v.BindEnv(append([]string{spec.Path}, keys...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		flagHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the last loaded config, or nil before Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", ProfileStructured)

	v.SetDefault("backend.kind", BackendAuto)
	v.SetDefault("backend.readonly", false)
	v.SetDefault("backend.data_dir", "")
	v.SetDefault("backend.seed_path", "")
	v.SetDefault("backend.demo", false)

	v.SetDefault("boincdb.enabled", false)
	v.SetDefault("boincdb.driver", "mysql")
	v.SetDefault("boincdb.host", "127.0.0.1")
	v.SetDefault("boincdb.port", 3306)
	v.SetDefault("boincdb.user", "boinc")
	v.SetDefault("boincdb.password", "")
	v.SetDefault("boincdb.database", "boinc")
	v.SetDefault("boincdb.socket", "")
	v.SetDefault("boincdb.path", "")
	v.SetDefault("boincdb.connect_timeout", "5s")
	v.SetDefault("boincdb.query_timeout", "10s")

	v.SetDefault("limits.list_chunks", 2000)
	v.SetDefault("limits.job_chunks", 20000)
	v.SetDefault("limits.hosts", 2000)

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.rps", 20.0)
	v.SetDefault("ratelimit.burst", 40)

	v.SetDefault("submit.verify_inputs", false)
	v.SetDefault("submit.s3.region", "")
	v.SetDefault("submit.s3.endpoint", "")
	v.SetDefault("submit.s3.profile", "")
	v.SetDefault("submit.s3.force_path_style", false)

	v.SetDefault("tracing.exporter", TracingNone)
}

func normalize(cfg *Config) {
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Profile = strings.ToUpper(strings.TrimSpace(cfg.Logging.Profile))
	cfg.Backend.Kind = strings.ToLower(strings.TrimSpace(cfg.Backend.Kind))
	cfg.BoincDB.Driver = strings.ToLower(strings.TrimSpace(cfg.BoincDB.Driver))
	cfg.Tracing.Exporter = strings.ToLower(strings.TrimSpace(cfg.Tracing.Exporter))
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = TracingNone
	}

	cfg.Limits.ListChunks = clamp(cfg.Limits.ListChunks, 1, 20000)
	cfg.Limits.JobChunks = clamp(cfg.Limits.JobChunks, 1, 50000)
	cfg.Limits.Hosts = clamp(cfg.Limits.Hosts, 1, 50000)

	if strings.TrimSpace(cfg.Backend.DataDir) == "" {
		if id := GetIdentity(); id != nil {
			cfg.Backend.DataDir = gfconfig.GetAppDataDir(id.ConfigName)
		}
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// envSpec maps one environment variable (and any legacy aliases) onto a
// config path.
type envSpec struct {
	Name   string
	Path   string
	Legacy []string
}

func getEnvSpecs() []envSpec {
	id := GetIdentity()
	if id == nil {
		return []envSpec{}
	}
	p := id.EnvPrefix
	return []envSpec{
		{Name: p + "HOST", Path: "server.host", Legacy: []string{"AI_GENIE_HOST"}},
		{Name: p + "PORT", Path: "server.port", Legacy: []string{"AI_GENIE_PORT"}},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: p + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},

		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},

		{Name: p + "BACKEND", Path: "backend.kind"},
		{Name: p + "READONLY", Path: "backend.readonly"},
		{Name: p + "DATA_DIR", Path: "backend.data_dir"},
		{Name: p + "SEED_PATH", Path: "backend.seed_path"},
		{Name: p + "DEMO", Path: "backend.demo"},

		{Name: p + "DB_ENABLED", Path: "boincdb.enabled", Legacy: []string{"BOINC_DB_ENABLED"}},
		{Name: p + "DB_DRIVER", Path: "boincdb.driver"},
		{Name: p + "DB_HOST", Path: "boincdb.host", Legacy: []string{"BOINC_DB_HOST"}},
		{Name: p + "DB_PORT", Path: "boincdb.port", Legacy: []string{"BOINC_DB_PORT"}},
		{Name: p + "DB_USER", Path: "boincdb.user", Legacy: []string{"BOINC_DB_USER"}},
		{Name: p + "DB_PASSWORD", Path: "boincdb.password", Legacy: []string{"BOINC_DB_PASS"}},
		{Name: p + "DB_NAME", Path: "boincdb.database", Legacy: []string{"BOINC_DB_NAME"}},
		{Name: p + "DB_SOCKET", Path: "boincdb.socket", Legacy: []string{"BOINC_DB_SOCKET"}},
		{Name: p + "DB_PATH", Path: "boincdb.path"},
		{Name: p + "DB_CONNECT_TIMEOUT", Path: "boincdb.connect_timeout"},
		{Name: p + "DB_QUERY_TIMEOUT", Path: "boincdb.query_timeout"},

		{Name: p + "LIMIT_LIST_CHUNKS", Path: "limits.list_chunks"},
		{Name: p + "LIMIT_JOB_CHUNKS", Path: "limits.job_chunks"},
		{Name: p + "LIMIT_HOSTS", Path: "limits.hosts"},

		{Name: p + "RATELIMIT_ENABLED", Path: "ratelimit.enabled"},
		{Name: p + "RATELIMIT_RPS", Path: "ratelimit.rps"},
		{Name: p + "RATELIMIT_BURST", Path: "ratelimit.burst"},

		{Name: p + "VERIFY_INPUTS", Path: "submit.verify_inputs"},
		{Name: p + "S3_REGION", Path: "submit.s3.region"},
		{Name: p + "S3_ENDPOINT", Path: "submit.s3.endpoint"},
		{Name: p + "S3_PROFILE", Path: "submit.s3.profile"},
		{Name: p + "S3_FORCE_PATH_STYLE", Path: "submit.s3.force_path_style"},

		{Name: p + "TRACING_EXPORTER", Path: "tracing.exporter"},
	}
}

// getUserConfigPaths lists candidate config files in discovery order.
func getUserConfigPaths() []string {
	id := GetIdentity()
	if id == nil {
		return []string{}
	}

	paths := []string{id.ConfigName + ".yaml"}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		paths = append(paths, filepath.Join(dir, id.ConfigName, "config.yaml"))
	}
	return paths
}

func resolveConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	for _, p := range getUserConfigPaths() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", nil
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// flagHookFunc accepts the yes/no/on/off spellings used by the legacy
// environment variables for boolean fields.
func flagHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
			return data, nil
		}
		switch strings.ToLower(strings.TrimSpace(data.(string))) {
		case "1", "true", "yes", "on", "y":
			return true, nil
		case "", "0", "false", "no", "off", "n":
			return false, nil
		}
		return data, nil
	}
}
