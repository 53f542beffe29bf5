package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"acore-backup/internal/errors"
)

// AzureMirror copies dumps to an Azure Blob Storage container
type AzureMirror struct {
	containerURL  azblob.ContainerURL
	containerName string
	prefix        string
}

// NewAzureMirror creates an Azure mirror
func NewAzureMirror(config AzureConfig, prefix string) (*AzureMirror, error) {
	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, errors.NewInputError(fmt.Sprintf("invalid Azure credentials: %v", err))
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, errors.NewInputError(fmt.Sprintf("invalid Azure account name %q", config.AccountName))
	}

	return &AzureMirror{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
		prefix:        prefix,
	}, nil
}

// Name identifies the mirror in logs
func (m *AzureMirror) Name() string {
	return fmt.Sprintf("azure://%s/%s", m.containerName, m.prefix)
}

// Upload sends a dump file as a block blob
func (m *AzureMirror) Upload(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return errors.WrapError(err, "failed to open dump for upload")
	}
	defer file.Close()

	blobURL := m.containerURL.NewBlockBlobURL(m.prefix + key)
	_, err = azblob.UploadFileToBlockBlob(ctx, file, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 4,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType:     "application/sql",
			ContentEncoding: "gzip",
		},
	})
	if err != nil {
		return errors.NewTransientIOError(fmt.Sprintf("failed to upload %s to Azure", key), err)
	}
	return nil
}
