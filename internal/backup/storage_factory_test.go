package backup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acore-backup/internal/errors"
)

func TestMirrorConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  MirrorConfig
		wantErr bool
	}{
		{name: "disabled", config: MirrorConfig{}},
		{name: "none", config: MirrorConfig{Provider: MirrorNone}},
		{
			name:   "s3",
			config: MirrorConfig{Provider: MirrorS3, S3: S3Config{Bucket: "b", Region: "eu-west-1"}},
		},
		{
			name:    "s3 missing bucket",
			config:  MirrorConfig{Provider: MirrorS3, S3: S3Config{Region: "eu-west-1"}},
			wantErr: true,
		},
		{
			name:    "gcs missing bucket",
			config:  MirrorConfig{Provider: MirrorGCS},
			wantErr: true,
		},
		{
			name:    "azure missing container",
			config:  MirrorConfig{Provider: MirrorAzure, Azure: AzureConfig{AccountName: "a", AccountKey: "dGVzdA=="}},
			wantErr: true,
		},
		{
			name:    "unknown provider",
			config:  MirrorConfig{Provider: "ftp"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewMirror(t *testing.T) {
	ctx := context.Background()

	m, err := NewMirror(ctx, MirrorConfig{})
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = NewMirror(ctx, MirrorConfig{
		Provider: MirrorS3,
		Prefix:   "/realm-1/",
		S3: S3Config{
			Bucket:    "acore-backups",
			Region:    "us-east-1",
			AccessKey: "key",
			SecretKey: "secret",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://acore-backups/realm-1/", m.Name())

	m, err = NewMirror(ctx, MirrorConfig{
		Provider: MirrorAzure,
		Azure:    AzureConfig{AccountName: "acore", AccountKey: "dGVzdA==", ContainerName: "dumps"},
	})
	require.NoError(t, err)
	assert.Equal(t, "azure://dumps/backups/", m.Name())

	_, err = NewMirror(ctx, MirrorConfig{Provider: MirrorS3})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInput))
}
