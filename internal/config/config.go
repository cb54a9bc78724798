// Package config loads and validates link checker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// TemplateFile is read from the working directory when no config path is
// given.
const TemplateFile = "config.template.yaml"

// DebugMaxRecords caps the lines read per collection in debug mode unless
// scan.max_records is set explicitly: the header plus ten records.
const DebugMaxRecords = 11

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	APIKey           string        `mapstructure:"api_key"`
	Debug            bool          `mapstructure:"debug"`
	Collections      []string      `mapstructure:"collections"`
	LocalCollections []string      `mapstructure:"local_collections"`
	Email            EmailConfig   `mapstructure:"email"`
	HTTP             HTTPConfig    `mapstructure:"http"`
	Scan             ScanConfig    `mapstructure:"scan"`
	KB               KBConfig      `mapstructure:"kb"`
	Report           ReportConfig  `mapstructure:"report"`
	PubSub           PubSubConfig  `mapstructure:"pubsub"`
	Metrics          MetricsConfig `mapstructure:"metrics"`
	Logging          LoggingConfig `mapstructure:"logging"`
}

// EmailConfig addresses report emails.
type EmailConfig struct {
	From   string     `mapstructure:"from"`
	To     string     `mapstructure:"to"`
	Server SMTPConfig `mapstructure:"server"`
}

// SMTPConfig locates the outgoing mail relay.
type SMTPConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	// Username defaults to email.from.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// HTTPConfig configures link fetching.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	PerHostRPS     float64 `mapstructure:"per_host_rps"`
	PerHostBurst   int     `mapstructure:"per_host_burst"`
}

// ScanConfig governs how a collection is walked.
type ScanConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// MaxRecords limits lines read per collection, header included. Zero
	// means no limit.
	MaxRecords int `mapstructure:"max_records"`
}

// KBConfig points at the knowledge base metadata API.
type KBConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ReportConfig sets where report files go.
type ReportConfig struct {
	OutputDir string        `mapstructure:"output_dir"`
	Archive   ArchiveConfig `mapstructure:"archive"`
}

// ArchiveConfig enables a GCS copy of every report.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig exposes Prometheus metrics during and after a run.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Textfile   string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"debug":        "debug",
	"api-key":      "api_key",
	"collection":   "collections",
	"local":        "local_collections",
	"from":         "email.from",
	"to":           "email.to",
	"concurrency":  "scan.concurrency",
	"max-records":  "scan.max_records",
	"timeout":      "http.timeout_seconds",
	"output-dir":   "report.output_dir",
	"metrics-addr": "metrics.listen_addr",
}

// RegisterFlags adds the override flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Bool("debug", false, "verbose per-line logging; limits each collection to the header plus 10 records unless --max-records is set")
	fs.String("api-key", "", "knowledge base API key")
	fs.StringSlice("collection", nil, "knowledge base collection ID (repeatable)")
	fs.StringSlice("local", nil, "path to a local KBART file (repeatable)")
	fs.String("from", "", "report sender address")
	fs.String("to", "", "report recipient address")
	fs.String("smtp", "", "mail relay as address,port,password")
	fs.Int("concurrency", 1, "links checked in parallel per collection")
	fs.Int("max-records", 0, "lines read per collection, header included (0 = all)")
	fs.Int("timeout", 30, "per-request timeout in seconds")
	fs.String("output-dir", ".", "directory report files are written to")
	fs.String("metrics-addr", "", "serve /metrics and /status on this address while running")
}

// Load builds a Config from defaults, the config file, the environment
// (KBART_ prefix) and changed flags, in increasing precedence. flags may be
// nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KBART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		if _, err := os.Stat(TemplateFile); err == nil {
			path = TemplateFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return Config{}, err
		}
	}
	// Older config files spell the key without an underscore.
	if legacy := v.GetStringSlice("localcollections"); len(legacy) > 0 && len(v.GetStringSlice("local_collections")) == 0 {
		v.Set("local_collections", legacy)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("debug", false)
	v.SetDefault("collections", []string{})
	v.SetDefault("local_collections", []string{})
	v.SetDefault("email.from", "")
	v.SetDefault("email.to", "")
	v.SetDefault("email.server.address", "")
	v.SetDefault("email.server.port", 587)
	v.SetDefault("email.server.username", "")
	v.SetDefault("email.server.password", "")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "kbart-linkcheck/1.0")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.per_host_rps", 0)
	v.SetDefault("http.per_host_burst", 1)
	v.SetDefault("scan.concurrency", 1)
	v.SetDefault("scan.max_records", 0)
	v.SetDefault("kb.base_url", "https://worldcat.org/webservices/kb/rest")
	v.SetDefault("report.output_dir", ".")
	v.SetDefault("report.archive.gcs_bucket", "")
	v.SetDefault("report.archive.prefix", "kbart-linkcheck")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("logging.development", true)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}

	smtp := flags.Lookup("smtp")
	if smtp == nil || !smtp.Changed {
		return nil
	}
	server, err := ParseSMTP(smtp.Value.String())
	if err != nil {
		return err
	}
	v.Set("email.server.address", server.Address)
	v.Set("email.server.port", server.Port)
	v.Set("email.server.password", server.Password)
	return nil
}

// ParseSMTP reads an "address,port,password" triple. The password may itself
// contain commas.
func ParseSMTP(raw string) (SMTPConfig, error) {
	parts := strings.SplitN(raw, ",", 3)
	if len(parts) != 3 {
		return SMTPConfig{}, fmt.Errorf("--smtp wants address,port,password, got %d fields", len(parts))
	}
	address := strings.TrimSpace(parts[0])
	if address == "" {
		return SMTPConfig{}, errors.New("--smtp address is empty")
	}
	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return SMTPConfig{}, fmt.Errorf("--smtp port: %w", err)
	}
	return SMTPConfig{Address: address, Port: port, Password: parts[2]}, nil
}

func (c *Config) normalize() {
	c.Collections = compact(c.Collections)
	c.LocalCollections = compact(c.LocalCollections)
	if c.Debug && c.Scan.MaxRecords == 0 {
		c.Scan.MaxRecords = DebugMaxRecords
	}
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate enforces reasonable limits on every setting.
func (c Config) Validate() error {
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.PerHostRPS < 0 {
		return errors.New("http.per_host_rps must be >= 0")
	}
	if c.HTTP.PerHostRPS > 0 && c.HTTP.PerHostBurst <= 0 {
		return errors.New("http.per_host_burst must be > 0 when http.per_host_rps is set")
	}
	if c.Scan.Concurrency <= 0 {
		return errors.New("scan.concurrency must be > 0")
	}
	if c.Scan.MaxRecords < 0 {
		return errors.New("scan.max_records must be >= 0")
	}
	if c.Email.Server.Address != "" && (c.Email.Server.Port <= 0 || c.Email.Server.Port > 65535) {
		return fmt.Errorf("email.server.port %d out of range", c.Email.Server.Port)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// ValidateRun checks the settings a full check-and-report run needs on top of
// Validate.
func (c Config) ValidateRun() error {
	if len(c.Collections) == 0 && len(c.LocalCollections) == 0 {
		return errors.New("no collections configured: set collections or local_collections")
	}
	if len(c.Collections) > 0 && c.APIKey == "" {
		return errors.New("api_key is required for knowledge base collections")
	}
	if c.Email.From == "" {
		return errors.New("email.from is required")
	}
	if c.Email.To == "" {
		return errors.New("email.to is required")
	}
	if c.Email.Server.Address == "" {
		return errors.New("email.server.address is required")
	}
	return nil
}

// Timeout returns the per-request fetch timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
