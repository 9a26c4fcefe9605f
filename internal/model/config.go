package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// MAILPRINT_MAILBOX_HOST or MAILPRINT_PRINTER_NAME.
const EnvPrefix = "MAILPRINT"

// MailboxConfig holds the IMAP account that is polled for attachments.
type MailboxConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`

	// TLS selects implicit TLS. Otherwise STARTTLS is used when the
	// server offers it.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Folder is the mailbox searched for unread messages.
	Folder string `mapstructure:"folder" yaml:"folder"`

	// Password is never written to the config file. It is filled from the
	// keyring, or from MAILPRINT_MAILBOX_PASSWORD.
	Password string `mapstructure:"password" yaml:"-"`
}

// ToolConfig is one external converter binary and its time budget.
type ToolConfig struct {
	Binary     string `mapstructure:"binary" yaml:"binary"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// ConvertersConfig holds the external converters and their limits.
type ConvertersConfig struct {
	Office   ToolConfig `mapstructure:"office" yaml:"office"`
	Image    ToolConfig `mapstructure:"image" yaml:"image"`
	Document ToolConfig `mapstructure:"document" yaml:"document"`

	PDFEngine      string `mapstructure:"pdf_engine" yaml:"pdf_engine"`
	MaxImagePixels int64  `mapstructure:"max_image_pixels" yaml:"max_image_pixels"`

	// FormatsFile overrides the built-in extension table.
	FormatsFile string `mapstructure:"formats_file" yaml:"formats_file"`

	PollIntervalMs int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// PrinterConfig selects the print queue.
type PrinterConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Command    string `mapstructure:"command" yaml:"command"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// DryRun logs instead of printing. Files are still removed.
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// JournalConfig locates the run journal. An empty path disables it.
type JournalConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MetricsConfig controls the end-of-run push to a Prometheus Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url"`
	Job            string `mapstructure:"job" yaml:"job"`
}

// NotifyConfig holds the SMTP account used for failure reports. Reports
// are disabled when SMTPHost is empty.
type NotifyConfig struct {
	SMTPHost string   `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username string   `mapstructure:"username" yaml:"username"`
	From     string   `mapstructure:"from" yaml:"from"`
	To       []string `mapstructure:"to" yaml:"to"`

	// NotifySender also addresses the report to the message's sender.
	NotifySender bool `mapstructure:"notify_sender" yaml:"notify_sender"`

	// TLS selects implicit TLS. StartTLS upgrades a plain connection and
	// fails when the server does not offer it. With neither set the
	// connection stays plain.
	TLS      bool `mapstructure:"tls" yaml:"tls"`
	StartTLS bool `mapstructure:"starttls" yaml:"starttls"`

	Password string `mapstructure:"password" yaml:"-"`
}

// Enabled reports whether failure reports should be sent.
func (n NotifyConfig) Enabled() bool {
	return n.SMTPHost != ""
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
	File        string `mapstructure:"file" yaml:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// DownloadFolder holds raw attachments and converted PDFs until they
	// are printed.
	DownloadFolder string `mapstructure:"download_folder" yaml:"download_folder"`

	Mailbox    MailboxConfig    `mapstructure:"mailbox" yaml:"mailbox"`
	Converters ConvertersConfig `mapstructure:"converters" yaml:"converters"`
	Printer    PrinterConfig    `mapstructure:"printer" yaml:"printer"`
	Journal    JournalConfig    `mapstructure:"journal" yaml:"journal"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Notify     NotifyConfig     `mapstructure:"notify" yaml:"notify"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailprint/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailprint", "config.yaml")
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "mailprint")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("download_folder", filepath.Join(dataDir(), "spool"))

	v.SetDefault("mailbox.host", "")
	v.SetDefault("mailbox.port", 993)
	v.SetDefault("mailbox.username", "")
	v.SetDefault("mailbox.password", "")
	v.SetDefault("mailbox.tls", true)
	v.SetDefault("mailbox.folder", "INBOX")

	v.SetDefault("converters.office.binary", "soffice")
	v.SetDefault("converters.office.timeout_sec", 25)
	v.SetDefault("converters.image.binary", "convert")
	v.SetDefault("converters.image.timeout_sec", 25)
	v.SetDefault("converters.document.binary", "pandoc")
	v.SetDefault("converters.document.timeout_sec", 120)
	v.SetDefault("converters.pdf_engine", "")
	v.SetDefault("converters.max_image_pixels", 100_000_000)
	v.SetDefault("converters.formats_file", "")
	v.SetDefault("converters.poll_interval_ms", 1000)

	v.SetDefault("printer.name", "")
	v.SetDefault("printer.command", "lp")
	v.SetDefault("printer.timeout_sec", 60)
	v.SetDefault("printer.dry_run", false)

	v.SetDefault("journal.path", filepath.Join(dataDir(), "journal.db"))

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "mailprint")

	v.SetDefault("notify.smtp_host", "")
	v.SetDefault("notify.smtp_port", 587)
	v.SetDefault("notify.username", "")
	v.SetDefault("notify.password", "")
	v.SetDefault("notify.from", "")
	v.SetDefault("notify.to", []string{})
	v.SetDefault("notify.notify_sender", false)
	v.SetDefault("notify.tls", false)
	v.SetDefault("notify.starttls", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *AppConfig {
	v := viper.New()
	setDefaults(v)

	cfg := &AppConfig{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file yields the defaults. Environment variables prefixed with
// MAILPRINT_ override file values; a .env file in the working directory
// is loaded first when present.
func LoadConfig(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.DownloadFolder = expandHome(cfg.DownloadFolder)
	cfg.Journal.Path = expandHome(cfg.Journal.Path)
	cfg.Log.File = expandHome(cfg.Log.File)
	cfg.Converters.FormatsFile = expandHome(cfg.Converters.FormatsFile)

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. Passwords are not written.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("download_folder", cfg.DownloadFolder)
	v.Set("mailbox", cfg.Mailbox)
	v.Set("converters", cfg.Converters)
	v.Set("printer", cfg.Printer)
	v.Set("journal", cfg.Journal)
	v.Set("metrics", cfg.Metrics)
	v.Set("notify", cfg.Notify)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// Validate checks the settings a run depends on.
func (c *AppConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DownloadFolder, validation.Required),
		validation.Field(&c.Mailbox),
		validation.Field(&c.Converters),
		validation.Field(&c.Printer),
		validation.Field(&c.Notify),
		validation.Field(&c.Metrics),
	)
}

func (m MailboxConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Host, validation.Required, is.Host),
		validation.Field(&m.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&m.Username, validation.Required),
		validation.Field(&m.Folder, validation.Required),
	)
}

func (t ToolConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Binary, validation.Required),
		validation.Field(&t.TimeoutSec, validation.Required, validation.Min(1)),
	)
}

func (c ConvertersConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Office),
		validation.Field(&c.Image),
		validation.Field(&c.Document),
		validation.Field(&c.MaxImagePixels, validation.Min(int64(0))),
		validation.Field(&c.PollIntervalMs, validation.Required, validation.Min(10)),
	)
}

func (p PrinterConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.When(!p.DryRun, validation.Required)),
		validation.Field(&p.Command, validation.Required),
		validation.Field(&p.TimeoutSec, validation.Required, validation.Min(1)),
	)
}

func (n NotifyConfig) Validate() error {
	if !n.Enabled() {
		return nil
	}
	return validation.ValidateStruct(&n,
		validation.Field(&n.SMTPHost, is.Host),
		validation.Field(&n.SMTPPort, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&n.From, validation.Required, is.EmailFormat),
		validation.Field(&n.To, validation.When(!n.NotifySender, validation.Required), validation.Each(is.EmailFormat)),
	)
}

func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.PushgatewayURL, is.URL),
		validation.Field(&m.Job, validation.When(m.PushgatewayURL != "", validation.Required)),
	)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
