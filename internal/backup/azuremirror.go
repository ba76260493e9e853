package backup

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureMirror is a RemoteMirror backed by an Azure Blob Storage container.
// It is a best-effort secondary copy — Run never fails because a mirror
// upload failed, it only logs the failure to the backup ledger.
type AzureMirror struct {
	client    *azblob.Client
	container string
}

// NewAzureMirror builds a mirror from a storage account connection string
// and target container name.
func NewAzureMirror(connectionString, container string) (*AzureMirror, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("backup: new azblob client: %w", err)
	}
	return &AzureMirror{client: client, container: container}, nil
}

// Upload pushes a backup bundle's on-disk bytes to the configured
// container under objectName.
func (m *AzureMirror) Upload(ctx context.Context, objectName string, data []byte) error {
	_, err := m.client.UploadBuffer(ctx, m.container, objectName, data, nil)
	if err != nil {
		return fmt.Errorf("backup: upload to azure blob: %w", err)
	}
	return nil
}
