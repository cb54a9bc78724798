package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Equal(t, 1, cfg.Scan.Concurrency)
	assert.Zero(t, cfg.Scan.MaxRecords)
	assert.Equal(t, "https://worldcat.org/webservices/kb/rest", cfg.KB.BaseURL)
	assert.Equal(t, ".", cfg.Report.OutputDir)
	assert.Equal(t, 587, cfg.Email.Server.Port)
	assert.True(t, cfg.Logging.Development)
	assert.Empty(t, cfg.Collections)
}

func TestLoadWithFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, t.TempDir(), "config.yaml", `
api_key: secret
debug: false
collections: ["customer.1.oa", " ", "customer.2.oa"]
local_collections: ["data/oa_local.txt"]
email:
  from: kb@example.org
  to: team@example.org
  server:
    address: smtp.example.org
    port: 2525
    password: hunter2
http:
  timeout_seconds: 45
  per_host_rps: 2
  per_host_burst: 3
scan:
  concurrency: 8
report:
  output_dir: out
  archive:
    gcs_bucket: kb-reports
logging:
  development: false
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, []string{"customer.1.oa", "customer.2.oa"}, cfg.Collections)
	assert.Equal(t, []string{"data/oa_local.txt"}, cfg.LocalCollections)
	assert.Equal(t, "smtp.example.org", cfg.Email.Server.Address)
	assert.Equal(t, 2525, cfg.Email.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Timeout())
	assert.InDelta(t, 2.0, cfg.HTTP.PerHostRPS, 0.001)
	assert.Equal(t, 8, cfg.Scan.Concurrency)
	assert.Equal(t, "kb-reports", cfg.Report.Archive.GCSBucket)
	assert.False(t, cfg.Logging.Development)
	assert.NoError(t, cfg.ValidateRun())
}

func TestLoadJSONWithLegacyKey(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, t.TempDir(), "config.json", `{
  "api_key": "k",
  "collections": [],
  "localcollections": ["a.txt", "b.txt"]
}`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, cfg.LocalCollections)
}

func TestLoadTemplateFallback(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeConfig(t, dir, TemplateFile, "scan:\n  concurrency: 3\n")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scan.Concurrency)
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, t.TempDir(), "config.yaml", `
api_key: from-file
collections: ["file.oa"]
scan:
  concurrency: 2
email:
  from: kb@example.org
`)
	flags := newFlags(t,
		"--api-key", "from-flag",
		"--collection", "flag.oa", "--collection", "flag2.oa",
		"--concurrency", "6",
		"--smtp", "smtp.example.org,465,pa,ss",
		"--to", "team@example.org",
	)

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.APIKey)
	assert.Equal(t, []string{"flag.oa", "flag2.oa"}, cfg.Collections)
	assert.Equal(t, 6, cfg.Scan.Concurrency)
	assert.Equal(t, "kb@example.org", cfg.Email.From)
	assert.Equal(t, "team@example.org", cfg.Email.To)
	assert.Equal(t, SMTPConfig{Address: "smtp.example.org", Port: 465, Password: "pa,ss"}, cfg.Email.Server)
	assert.Equal(t, 30, cfg.HTTP.TimeoutSeconds, "unchanged flags keep the file or default value")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KBART_EMAIL_SERVER_PASSWORD", "from-env")
	t.Setenv("KBART_SCAN_CONCURRENCY", "4")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Email.Server.Password)
	assert.Equal(t, 4, cfg.Scan.Concurrency)
}

func TestDebugMaxRecords(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", newFlags(t, "--debug"))
	require.NoError(t, err)
	assert.Equal(t, 11, cfg.Scan.MaxRecords)

	cfg, err = Load("", newFlags(t, "--debug", "--max-records", "25"))
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Scan.MaxRecords)
}

func TestLoadErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorContains(t, err, "read config")

	_, err = Load("", newFlags(t, "--smtp", "smtp.example.org,587"))
	assert.ErrorContains(t, err, "address,port,password")

	_, err = Load("", newFlags(t, "--smtp", "smtp.example.org,abc,pw"))
	assert.ErrorContains(t, err, "--smtp port")

	_, err = Load("", newFlags(t, "--concurrency", "0"))
	assert.ErrorContains(t, err, "scan.concurrency")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := Config{HTTP: HTTPConfig{TimeoutSeconds: 30, PerHostBurst: 1}, Scan: ScanConfig{Concurrency: 1}}
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"http.timeout_seconds": func(c *Config) { c.HTTP.TimeoutSeconds = 0 },
		"http.per_host_rps":    func(c *Config) { c.HTTP.PerHostRPS = -1 },
		"http.per_host_burst":  func(c *Config) { c.HTTP.PerHostRPS = 1; c.HTTP.PerHostBurst = 0 },
		"scan.max_records":     func(c *Config) { c.Scan.MaxRecords = -1 },
		"email.server.port":    func(c *Config) { c.Email.Server = SMTPConfig{Address: "smtp", Port: 0} },
		"pubsub.project_id":    func(c *Config) { c.PubSub.TopicName = "runs" },
	}
	for key, mutate := range cases {
		cfg := base
		mutate(&cfg)
		err := cfg.Validate()
		require.Error(t, err, key)
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidateRun(t *testing.T) {
	t.Parallel()

	ok := Config{
		Collections: []string{"oa"},
		APIKey:      "k",
		Email: EmailConfig{
			From:   "a@example.org",
			To:     "b@example.org",
			Server: SMTPConfig{Address: "smtp.example.org", Port: 587},
		},
	}
	require.NoError(t, ok.ValidateRun())

	noKey := ok
	noKey.APIKey = ""
	assert.ErrorContains(t, noKey.ValidateRun(), "api_key")

	localOnly := noKey
	localOnly.Collections = nil
	localOnly.LocalCollections = []string{"x.txt"}
	assert.NoError(t, localOnly.ValidateRun())

	none := ok
	none.Collections = nil
	assert.ErrorContains(t, none.ValidateRun(), "no collections")

	noRelay := ok
	noRelay.Email.Server.Address = ""
	assert.ErrorContains(t, noRelay.ValidateRun(), "email.server.address")
}

func TestParseSMTP(t *testing.T) {
	t.Parallel()

	got, err := ParseSMTP(" smtp.example.org , 587 ,secret")
	require.NoError(t, err)
	assert.Equal(t, SMTPConfig{Address: "smtp.example.org", Port: 587, Password: "secret"}, got)

	_, err = ParseSMTP(",587,x")
	assert.Error(t, err)
}
