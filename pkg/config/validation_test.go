package config

import (
	"strings"
	"testing"

	"github.com/marmos91/blobspace/pkg/space"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "INVALID" },
			wantErr: "oneof",
		},
		{
			name:    "invalid log format",
			mutate:  func(cfg *Config) { cfg.Logging.Format = "xml" },
			wantErr: "Format",
		},
		{
			name:    "invalid content type",
			mutate:  func(cfg *Config) { cfg.Content.Type = "ftp" },
			wantErr: "Type",
		},
		{
			name:    "invalid metadata type",
			mutate:  func(cfg *Config) { cfg.Metadata.Type = "mongo" },
			wantErr: "Type",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(cfg *Config) { cfg.Server.ShutdownTimeout = 0 },
			wantErr: "ShutdownTimeout",
		},
		{
			name:    "no spaces",
			mutate:  func(cfg *Config) { cfg.Spaces = nil },
			wantErr: "Spaces",
		},
		{
			name:    "space without name",
			mutate:  func(cfg *Config) { cfg.Spaces = []space.Settings{{}} },
			wantErr: "Name",
		},
		{
			name:    "negative retention",
			mutate:  func(cfg *Config) { cfg.Spaces[0].RetentionDays = -1 },
			wantErr: "RetentionDays",
		},
		{
			name: "duplicate space names",
			mutate: func(cfg *Config) {
				cfg.Spaces = []space.Settings{{Name: "docs"}, {Name: "docs"}}
			},
			wantErr: "duplicate space name",
		},
		{
			name:    "sql without dsn",
			mutate:  func(cfg *Config) { cfg.Metadata.Type = "sql"; cfg.Metadata.SQL["dsn"] = "" },
			wantErr: "dsn is required",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(cfg *Config) { cfg.Content.Type = "s3"; cfg.Content.S3["region"] = "eu-west-1" },
			wantErr: "bucket is required",
		},
		{
			name:    "unknown zstd level",
			mutate:  func(cfg *Config) { cfg.Conversion.ZstdLevel = "max" },
			wantErr: "ZstdLevel",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(cfg *Config) { cfg.Server.Metrics.Port = 70000 },
			wantErr: "Port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}
