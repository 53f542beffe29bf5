package backup

import (
	"context"
	"fmt"
	"strings"

	"acore-backup/internal/errors"
)

// Mirror uploads finished dump files to offsite storage. The local backup
// directory stays the source of truth; mirrors are write-only copies.
type Mirror interface {
	Upload(ctx context.Context, localPath, key string) error
	Name() string
}

// MirrorProvider names a mirror backend
type MirrorProvider string

const (
	MirrorNone  MirrorProvider = "none"
	MirrorS3    MirrorProvider = "s3"
	MirrorGCS   MirrorProvider = "gcs"
	MirrorAzure MirrorProvider = "azure"
)

// MirrorConfig selects and configures a mirror backend
type MirrorConfig struct {
	Provider MirrorProvider `mapstructure:"provider" yaml:"provider"`
	Prefix   string         `mapstructure:"prefix" yaml:"prefix"`
	S3       S3Config       `mapstructure:"s3" yaml:"s3"`
	GCS      GCSConfig      `mapstructure:"gcs" yaml:"gcs"`
	Azure    AzureConfig    `mapstructure:"azure" yaml:"azure"`
}

// S3Config for Amazon S3 and S3-compatible stores
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
}

// Enabled reports whether a backend is selected
func (mc MirrorConfig) Enabled() bool {
	return mc.Provider != "" && mc.Provider != MirrorNone
}

// Validate checks the selected backend's required fields
func (mc MirrorConfig) Validate() error {
	var errs errors.ValidationErrors
	switch mc.Provider {
	case "", MirrorNone:
	case MirrorS3:
		if mc.S3.Bucket == "" {
			errs.Add("mirror.s3.bucket is required")
		}
		if mc.S3.Region == "" {
			errs.Add("mirror.s3.region is required")
		}
	case MirrorGCS:
		if mc.GCS.Bucket == "" {
			errs.Add("mirror.gcs.bucket is required")
		}
	case MirrorAzure:
		if mc.Azure.AccountName == "" || mc.Azure.AccountKey == "" {
			errs.Add("mirror.azure.account_name and account_key are required")
		}
		if mc.Azure.ContainerName == "" {
			errs.Add("mirror.azure.container_name is required")
		}
	default:
		errs.Add("unsupported mirror provider %q", mc.Provider)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// NewMirror builds the configured backend, or nil when mirroring is off
func NewMirror(ctx context.Context, cfg MirrorConfig) (Mirror, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewInputError(err.Error())
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "backups"
	}
	prefix += "/"

	switch cfg.Provider {
	case MirrorS3:
		return NewS3Mirror(cfg.S3, prefix)
	case MirrorGCS:
		return NewGCSMirror(ctx, cfg.GCS, prefix)
	case MirrorAzure:
		return NewAzureMirror(cfg.Azure, prefix)
	default:
		return nil, errors.NewInputError(fmt.Sprintf("unsupported mirror provider %q", cfg.Provider))
	}
}
