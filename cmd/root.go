// Package cmd wires the command line surface: flag parsing, configuration
// resolution through viper and the subcommands around the backup run.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/michael-liumh/mysqlbackup/internal/application"
	"github.com/michael-liumh/mysqlbackup/internal/config"
)

var cfgFile string

// CLI flag variables
var (
	// Connection flags
	host         string
	port         int
	socket       string
	user         string
	password     string
	noPassword   bool
	loginPath    string
	defaultsFile string

	// Backup flags
	toolName    string
	databases   []string
	tables      []string
	baseDir     string
	backupDir   string
	backupFile  string
	backupLog   string
	extraArgs   []string
	incremental bool
	justInsert  bool
	noData      bool
	threads     int

	// Other flags
	debugMode      bool
	resetLoginPath bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mysqlbackup",
	Short: "Back up MySQL servers with mysqldump, mysqlpump, xtrabackup or mydumper",
	Long: `mysqlbackup runs one backup of a MySQL server through the selected tool,
watches the server for backup-induced lock pile-ups while the tool runs,
and verifies the resulting artifact. Optional post-steps encrypt the
artifact, upload it to S3, GCS or Azure Blob storage and sweep old
artifacts by age or count.

Dump-style tools (mysqldump, mysqlpump) are piped through lz4 into a
single .sql.lz4 artifact. xtrabackup produces an xbstream .xb artifact and
supports incremental runs; mydumper streams a .stream artifact.

Examples:
  # Logical backup of two schemas over TCP
  mysqlbackup --tool mysqldump -H db1.internal -u backup -d app -d billing

  # Physical full backup through a stored login path
  mysqlbackup --tool xtrabackup --login-path nightly --base-dir /data/backups

  # Incremental follow-up (falls back to full without a checkpoint)
  mysqlbackup --tool xtrabackup --login-path nightly --incremental

  # Schema-only dump with extra tool flags appended verbatim
  mysqlbackup --tool mysqldump -H db1 -u backup --no-data --extra --skip-triggers

  # Everything from a config file, credentials from the environment
  MYSQL_PWD=secret mysqlbackup --config /etc/mysqlbackup/mysqlbackup.yaml`,
	SilenceUsage: true,
	RunE:         runBackup,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default search: ., $HOME/.mysqlbackup, /etc/mysqlbackup)")

	registerBackupFlags(rootCmd)

	// Bind flags to viper
	viper.BindPFlag("connection.host", rootCmd.Flags().Lookup("host"))
	viper.BindPFlag("connection.port", rootCmd.Flags().Lookup("port"))
	viper.BindPFlag("connection.socket", rootCmd.Flags().Lookup("socket"))
	viper.BindPFlag("connection.user", rootCmd.Flags().Lookup("user"))
	viper.BindPFlag("connection.no_password", rootCmd.Flags().Lookup("no-pass"))
	viper.BindPFlag("connection.login_path", rootCmd.Flags().Lookup("login-path"))
	viper.BindPFlag("connection.defaults_file", rootCmd.Flags().Lookup("defaults-file"))

	viper.BindPFlag("backup.tool", rootCmd.Flags().Lookup("tool"))
	viper.BindPFlag("backup.base_dir", rootCmd.Flags().Lookup("base-dir"))
	viper.BindPFlag("backup.backup_dir", rootCmd.Flags().Lookup("backup-dir"))
	viper.BindPFlag("backup.backup_file", rootCmd.Flags().Lookup("backup-file"))
	viper.BindPFlag("backup.backup_log", rootCmd.Flags().Lookup("backup-log"))
	viper.BindPFlag("backup.incremental", rootCmd.Flags().Lookup("incremental"))
	viper.BindPFlag("backup.just_insert", rootCmd.Flags().Lookup("just-insert"))
	viper.BindPFlag("backup.no_data", rootCmd.Flags().Lookup("no-data"))
	viper.BindPFlag("backup.threads", rootCmd.Flags().Lookup("threads"))

	viper.BindPFlag("debug", rootCmd.Flags().Lookup("debug"))
}

// registerBackupFlags declares the backup run's flags on cmd, writing into
// the package-level flag variables.
func registerBackupFlags(cmd *cobra.Command) {
	// Connection flags
	cmd.Flags().StringVarP(&host, "host", "H", "", "MySQL server host (default \"localhost\")")
	cmd.Flags().IntVarP(&port, "port", "P", 0, "MySQL server port (default 3306)")
	cmd.Flags().StringVarP(&socket, "socket", "S", "", "connect through a local socket file")
	cmd.Flags().StringVarP(&user, "user", "u", "", "MySQL user (default \"root\")")
	cmd.Flags().StringVarP(&password, "password", "p", "", "MySQL password (prompted when omitted; prefer MYSQL_PWD)")
	cmd.Flags().BoolVar(&noPassword, "no-pass", false, "connect without a password")
	cmd.Flags().StringVar(&loginPath, "login-path", "", "authenticate through a mysql_config_editor login path")
	cmd.Flags().StringVar(&defaultsFile, "defaults-file", "", "authenticate through a MySQL defaults file")

	// Backup flags
	cmd.Flags().StringVarP(&toolName, "tool", "t", "", "backup tool: mysqldump, mysqlpump, xtrabackup or mydumper (aliases: dump, pump, xtra, xbk, mydump)")
	cmd.Flags().StringSliceVarP(&databases, "databases", "d", nil, "databases to back up (repeatable; default all)")
	cmd.Flags().StringSliceVarP(&tables, "tables", "T", nil, "tables to back up (repeatable; mydumper needs db.table)")
	cmd.Flags().StringVar(&baseDir, "base-dir", "", "base directory for backups (default \"/data/backups\")")
	cmd.Flags().StringVar(&backupDir, "backup-dir", "", "backup directory (default \"<base-dir>/mysql<port>\")")
	cmd.Flags().StringVar(&backupFile, "backup-file", "", "artifact file name (default derived from host, port, tool and timestamp)")
	cmd.Flags().StringVar(&backupLog, "backup-log", "", "tool log file (default \"process_mysql_backup.log\" in the backup dir)")
	cmd.Flags().StringArrayVar(&extraArgs, "extra", nil, "extra argument passed to the backup tool verbatim (repeatable)")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "incremental xtrabackup run from the last recorded checkpoint")
	cmd.Flags().BoolVar(&justInsert, "just-insert", false, "dump INSERT statements only (mysqldump, mysqlpump)")
	cmd.Flags().BoolVar(&noData, "no-data", false, "dump schema without rows (mysqldump, mysqlpump)")
	cmd.Flags().IntVar(&threads, "threads", 0, "parallel threads for mysqlpump, xtrabackup and mydumper (default half the CPUs)")

	// Other flags
	cmd.Flags().BoolVar(&debugMode, "debug", false, "log the commands being run")
	cmd.Flags().BoolVar(&resetLoginPath, "reset", false, "re-store the login path credentials before the run")
}

// runBackup is the main execution function for the CLI
func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	app, err := application.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	// An interrupt cancels the run; the executor cleans up the partial
	// artifact before the process exits with 130.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if code := app.Run(ctx); code != 0 {
		os.Exit(code)
	}
	return nil
}

// buildConfig builds the backup configuration from CLI flags, environment
// variables and the config file, in that order of precedence.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Override with CLI flags if provided (viper binding should handle
	// this, but explicit override for clarity)
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Connection.Host = host
	}
	if flags.Changed("port") {
		cfg.Connection.Port = port
	}
	if flags.Changed("socket") {
		cfg.Connection.Socket = socket
	}
	if flags.Changed("user") {
		cfg.Connection.User = user
	}
	if flags.Changed("password") {
		cfg.Connection.Password = password
	}
	if flags.Changed("no-pass") {
		cfg.Connection.NoPassword = noPassword
	}
	if flags.Changed("login-path") {
		cfg.Connection.LoginPath = loginPath
	}
	if flags.Changed("defaults-file") {
		cfg.Connection.DefaultsFile = defaultsFile
	}

	if flags.Changed("tool") {
		cfg.Backup.Tool = config.Tool(toolName)
	}
	if flags.Changed("databases") {
		cfg.Backup.Databases = databases
	}
	if flags.Changed("tables") {
		cfg.Backup.Tables = tables
	}
	if flags.Changed("base-dir") {
		cfg.Backup.BaseDir = baseDir
	}
	if flags.Changed("backup-dir") {
		cfg.Backup.BackupDir = backupDir
	}
	if flags.Changed("backup-file") {
		cfg.Backup.BackupFile = backupFile
	}
	if flags.Changed("backup-log") {
		cfg.Backup.BackupLog = backupLog
	}
	if flags.Changed("extra") {
		cfg.Backup.Extra = extraArgs
	}
	if flags.Changed("incremental") {
		cfg.Backup.Incremental = incremental
	}
	if flags.Changed("just-insert") {
		cfg.Backup.JustInsert = justInsert
	}
	if flags.Changed("no-data") {
		cfg.Backup.NoData = noData
	}
	if flags.Changed("threads") {
		cfg.Backup.Threads = threads
	}
	if flags.Changed("debug") {
		cfg.Debug = debugMode
	}
	cfg.ResetLoginPath = resetLoginPath

	if cfg.Backup.Tool == "" {
		return nil, fmt.Errorf("no backup tool selected, use --tool (mysqldump, mysqlpump, xtrabackup or mydumper)")
	}
	tool, err := config.ParseTool(string(cfg.Backup.Tool))
	if err != nil {
		return nil, err
	}
	cfg.Backup.Tool = tool

	if cfg.Connection.PasswordAuth() && cfg.Connection.Password == "" {
		pw, err := promptSecret("Password: ")
		if err != nil {
			return nil, err
		}
		cfg.Connection.Password = pw
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readPassword is swapped out in tests.
var readPassword = term.ReadPassword

// promptSecret reads a secret from the controlling terminal without echoing
// it. Non-interactive sessions keep the secret empty; for passwords the
// tools then connect as if MYSQL_PWD were unset.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, label)
	secret, err := readPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read from terminal: %w", err)
	}
	return string(secret), nil
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join(home, ".mysqlbackup"))
		viper.AddConfigPath("/etc/mysqlbackup")
		viper.SetConfigType("yaml")
		viper.SetConfigName("mysqlbackup")
	}

	viper.SetEnvPrefix("MYSQLBACKUP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match
	bindConventionalEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if debugMode {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// bindConventionalEnv makes the conventional MySQL client variables work
// alongside the MYSQLBACKUP_ prefixed ones.
func bindConventionalEnv() {
	viper.BindEnv("connection.host", "MYSQLBACKUP_CONNECTION_HOST", "MYSQL_HOST")
	viper.BindEnv("connection.port", "MYSQLBACKUP_CONNECTION_PORT", "MYSQL_PORT")
	viper.BindEnv("connection.user", "MYSQLBACKUP_CONNECTION_USER", "MYSQL_USER")
	viper.BindEnv("connection.password", "MYSQLBACKUP_CONNECTION_PASSWORD", "MYSQL_PWD")
	viper.BindEnv("encryption.passphrase", "MYSQLBACKUP_ENCRYPTION_PASSPHRASE")
}
