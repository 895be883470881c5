package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/shirou/gopsutil/v4/cpu"
)

// Connection holds the MySQL server credentials and endpoint. Exactly one
// credential path is used, in priority order: defaults file, socket,
// login path, host/port/user.
type Connection struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Socket       string `mapstructure:"socket" yaml:"socket,omitempty"`
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	NoPassword   bool   `mapstructure:"no_password" yaml:"no_password,omitempty"`
	LoginPath    string `mapstructure:"login_path" yaml:"login_path,omitempty"`
	DefaultsFile string `mapstructure:"defaults_file" yaml:"defaults_file,omitempty"`
}

// Args returns the connection argv fragment shared by every MySQL client
// tool. The password is never part of it; password auth travels via the
// MYSQL_PWD environment variable of the child process. A defaults file or
// login path must be the first option a MySQL tool sees, so callers keep
// these args at the front of the command line.
func (c Connection) Args() []string {
	switch {
	case c.DefaultsFile != "":
		return []string{"--defaults-file=" + c.DefaultsFile}
	case c.Socket != "":
		return []string{"--socket=" + c.Socket, "--user=" + c.User}
	case c.LoginPath != "":
		return []string{"--login-path=" + c.LoginPath}
	default:
		return []string{"--host=" + c.Host, "--port=" + strconv.Itoa(c.Port), "--user=" + c.User}
	}
}

// Address returns a human-readable server endpoint for logs and metadata.
func (c Connection) Address() string {
	if c.Socket != "" {
		return c.Socket
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RequiresClientBinary reports whether server queries must go through the
// mysql client binary. Login paths and defaults files are readable only by
// MySQL client programs, not by the wire driver.
func (c Connection) RequiresClientBinary() bool {
	return c.LoginPath != "" || c.DefaultsFile != ""
}

// PasswordAuth reports whether the connection authenticates with a password
// that the tool processes receive via MYSQL_PWD.
func (c Connection) PasswordAuth() bool {
	return !c.NoPassword && c.LoginPath == "" && c.DefaultsFile == ""
}

// Local reports whether the target server is this machine.
func (c Connection) Local() bool {
	return c.Socket != "" || c.Host == "localhost" || c.Host == "127.0.0.1" || c.Host == "::1"
}

// BackupOptions selects the tool, the scope and the output locations of a
// single backup run.
type BackupOptions struct {
	Tool        Tool     `mapstructure:"tool" yaml:"tool"`
	Databases   []string `mapstructure:"databases" yaml:"databases,omitempty"`
	Tables      []string `mapstructure:"tables" yaml:"tables,omitempty"`
	BaseDir     string   `mapstructure:"base_dir" yaml:"base_dir"`
	BackupDir   string   `mapstructure:"backup_dir" yaml:"backup_dir,omitempty"`
	BackupFile  string   `mapstructure:"backup_file" yaml:"backup_file,omitempty"`
	BackupLog   string   `mapstructure:"backup_log" yaml:"backup_log,omitempty"`
	Extra       []string `mapstructure:"extra" yaml:"extra,omitempty"`
	Incremental bool     `mapstructure:"incremental" yaml:"incremental,omitempty"`
	JustInsert  bool     `mapstructure:"just_insert" yaml:"just_insert,omitempty"`
	NoData      bool     `mapstructure:"no_data" yaml:"no_data,omitempty"`
	Threads     int      `mapstructure:"threads" yaml:"threads"`
}

// EncryptionConfig enables post-backup artifact encryption.
type EncryptionConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`
}

// Validate validates the encryption configuration.
func (ec *EncryptionConfig) Validate() error {
	if ec.Enabled && ec.Passphrase == "" {
		return errors.New("passphrase is required when encryption is enabled")
	}
	return nil
}

// RetentionConfig enables the post-backup sweep of old artifacts.
type RetentionConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Days    int  `mapstructure:"days" yaml:"days,omitempty"`
	Keep    int  `mapstructure:"keep" yaml:"keep,omitempty"`
	DryRun  bool `mapstructure:"dry_run" yaml:"dry_run,omitempty"`
}

// Validate validates the retention configuration.
func (rc *RetentionConfig) Validate() error {
	var errs []error

	if rc.Days < 0 {
		errs = append(errs, errors.New("days cannot be negative"))
	}
	if rc.Keep < 0 {
		errs = append(errs, errors.New("keep cannot be negative"))
	}
	if rc.Enabled && rc.Days == 0 && rc.Keep == 0 {
		errs = append(errs, errors.New("at least one of days or keep must be set when retention is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("retention configuration validation failed: %v", errs)
	}
	return nil
}

// UploadConfig selects the remote storage provider for post-backup upload.
type UploadConfig struct {
	Enabled  bool         `mapstructure:"enabled" yaml:"enabled"`
	Provider string       `mapstructure:"provider" yaml:"provider,omitempty"`
	Prefix   string       `mapstructure:"prefix" yaml:"prefix,omitempty"`
	S3       *S3Config    `mapstructure:"s3,omitempty" yaml:"s3,omitempty"`
	GCS      *GCSConfig   `mapstructure:"gcs,omitempty" yaml:"gcs,omitempty"`
	Azure    *AzureConfig `mapstructure:"azure,omitempty" yaml:"azure,omitempty"`
}

// S3Config for Amazon S3 upload
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
}

// GCSConfig for Google Cloud Storage upload
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id,omitempty"`
}

// AzureConfig for Azure Blob Storage upload
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
}

// Validate validates the upload configuration.
func (uc *UploadConfig) Validate() error {
	if !uc.Enabled {
		return nil
	}

	switch uc.Provider {
	case "s3":
		if uc.S3 == nil {
			return errors.New("s3 configuration is required when provider is 's3'")
		}
		return uc.S3.Validate()
	case "gcs":
		if uc.GCS == nil {
			return errors.New("gcs configuration is required when provider is 'gcs'")
		}
		return uc.GCS.Validate()
	case "azure":
		if uc.Azure == nil {
			return errors.New("azure configuration is required when provider is 'azure'")
		}
		return uc.Azure.Validate()
	case "":
		return errors.New("provider is required when upload is enabled")
	default:
		return fmt.Errorf("invalid upload provider: %s", uc.Provider)
	}
}

// Validate validates the S3 upload configuration.
func (s3c *S3Config) Validate() error {
	if s3c.Bucket == "" {
		return errors.New("bucket is required for S3 upload")
	}
	if s3c.Region == "" {
		return errors.New("region is required for S3 upload")
	}
	return nil
}

// Validate validates the GCS upload configuration.
func (gc *GCSConfig) Validate() error {
	if gc.Bucket == "" {
		return errors.New("bucket is required for GCS upload")
	}
	return nil
}

// Validate validates the Azure upload configuration.
func (ac *AzureConfig) Validate() error {
	if ac.AccountName == "" {
		return errors.New("account name is required for Azure upload")
	}
	if ac.AccountKey == "" {
		return errors.New("account key is required for Azure upload")
	}
	if ac.ContainerName == "" {
		return errors.New("container name is required for Azure upload")
	}
	return nil
}

// Config is the fully resolved configuration of one backup invocation.
type Config struct {
	Connection Connection       `mapstructure:"connection" yaml:"connection"`
	Backup     BackupOptions    `mapstructure:"backup" yaml:"backup"`
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
	Upload     UploadConfig     `mapstructure:"upload" yaml:"upload"`
	Retention  RetentionConfig  `mapstructure:"retention" yaml:"retention"`
	Debug      bool             `mapstructure:"debug" yaml:"debug,omitempty"`

	// ResetLoginPath re-stores the login path credentials before the run.
	// CLI-only; never read from a config file.
	ResetLoginPath bool `mapstructure:"-" yaml:"-"`
}

// SetDefaults fills in every unset field that has a default.
func (c *Config) SetDefaults() {
	if c.Connection.Host == "" {
		c.Connection.Host = "localhost"
	}
	if c.Connection.Port == 0 {
		c.Connection.Port = 3306
	}
	if c.Connection.User == "" {
		c.Connection.User = "root"
	}

	if c.Backup.Threads == 0 {
		c.Backup.Threads = defaultThreads()
	}
	if c.Backup.BaseDir == "" {
		c.Backup.BaseDir = "/data/backups"
	}
	if c.Backup.BackupDir == "" {
		c.Backup.BackupDir = filepath.Join(c.Backup.BaseDir, fmt.Sprintf("mysql%d", c.Connection.Port))
	}
	if c.Backup.BackupLog == "" {
		c.Backup.BackupLog = "process_mysql_backup.log"
	}
	if !filepath.IsAbs(c.Backup.BackupLog) {
		c.Backup.BackupLog = filepath.Join(c.Backup.BackupDir, c.Backup.BackupLog)
	}
	if c.Backup.BackupFile != "" && !filepath.IsAbs(c.Backup.BackupFile) {
		c.Backup.BackupFile = filepath.Join(c.Backup.BackupDir, c.Backup.BackupFile)
	}
}

// Validate checks the resolved configuration for contradictions. It returns
// a plain error; the application layer wraps it into the typed taxonomy.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backup.Tool {
	case ToolMysqldump, ToolMysqlpump, ToolXtrabackup, ToolMydumper:
	case "":
		errs = append(errs, errors.New("backup tool is required"))
	default:
		errs = append(errs, fmt.Errorf("unknown backup tool %q", c.Backup.Tool))
	}

	if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}
	if c.Connection.Host == "" && c.Connection.Socket == "" && c.Connection.DefaultsFile == "" {
		errs = append(errs, errors.New("host is required without a socket or defaults file"))
	}
	if c.Backup.Threads <= 0 {
		errs = append(errs, errors.New("threads must be positive"))
	}

	// mydumper links its own option parser and has no login-path support.
	if c.Backup.Tool == ToolMydumper && c.Connection.LoginPath != "" {
		errs = append(errs, errors.New("mydumper does not support login-path authentication; use host/user credentials or a defaults file"))
	}
	if c.Backup.Incremental && c.Backup.Tool != ToolXtrabackup {
		errs = append(errs, fmt.Errorf("incremental backups require xtrabackup, not %s", c.Backup.Tool))
	}
	if c.Backup.NoData && c.Backup.Tool == ToolXtrabackup {
		errs = append(errs, errors.New("xtrabackup takes physical backups and has no schema-only mode"))
	}
	if c.ResetLoginPath && c.Connection.LoginPath == "" {
		errs = append(errs, errors.New("resetting login path credentials requires a login path"))
	}

	if err := c.Encryption.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("encryption: %w", err))
	}
	if err := c.Upload.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("upload: %w", err))
	}
	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// Warnings returns the non-fatal notices the operator should see before the
// run starts.
func (c *Config) Warnings() []string {
	var warnings []string

	if len(c.Backup.Databases) > 0 && len(c.Backup.Tables) > 0 {
		warnings = append(warnings, "both database and table filters are set; the database filter takes precedence")
	}
	if c.Backup.Tool == ToolMydumper && len(c.Backup.Tables) > 0 && len(c.Backup.Databases) == 0 {
		warnings = append(warnings, "mydumper table filters must be schema-qualified (db.table)")
	}
	if c.Backup.JustInsert && !c.Backup.Tool.UsesCompressorPipeline() {
		warnings = append(warnings, fmt.Sprintf("just-insert mode has no effect with %s", c.Backup.Tool))
	}

	return warnings
}

// TmpDir is the staging directory for stream-style tools. Removed again
// after a successful run.
func (c *Config) TmpDir() string {
	return filepath.Join(c.Backup.BackupDir, "tmp")
}

// HistoryDir holds the xtrabackup LSN history used by incremental runs.
func (c *Config) HistoryDir() string {
	return filepath.Join(c.Backup.BackupDir, "history")
}

// CheckpointFile is the xtrabackup checkpoint record of the previous run.
func (c *Config) CheckpointFile() string {
	return filepath.Join(c.HistoryDir(), "xtrabackup_checkpoints")
}

// defaultThreads derives the parallelism default from the logical CPU
// count: half the CPUs when that is more than four, otherwise three.
func defaultThreads() int {
	count, err := cpu.Counts(true)
	if err != nil || count <= 0 {
		count = runtime.NumCPU()
	}
	if half := count / 2; half > 4 {
		return half
	}
	return 3
}
