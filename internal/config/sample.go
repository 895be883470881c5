package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SampleConfig returns a populated configuration used as the starting point
// printed by the config subcommand.
func SampleConfig() *Config {
	return &Config{
		Connection: Connection{
			Host: "localhost",
			Port: 3306,
			User: "root",
		},
		Backup: BackupOptions{
			Tool:      ToolMysqldump,
			Databases: []string{"app", "billing"},
			BaseDir:   "/data/backups",
			Threads:   4,
		},
		Encryption: EncryptionConfig{
			Enabled:    false,
			Passphrase: "change-me",
		},
		Upload: UploadConfig{
			Enabled:  false,
			Provider: "s3",
			Prefix:   "mysql",
			S3: &S3Config{
				Bucket: "backup-bucket",
				Region: "us-east-1",
			},
		},
		Retention: RetentionConfig{
			Enabled: false,
			Days:    14,
			Keep:    7,
		},
	}
}

// SampleYAML renders the sample configuration as a YAML document.
func SampleYAML() (string, error) {
	out, err := yaml.Marshal(SampleConfig())
	if err != nil {
		return "", fmt.Errorf("failed to render sample configuration: %w", err)
	}
	return string(out), nil
}
