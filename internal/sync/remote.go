// Package sync reconciles the local document store with the remote
// folder: a pull cycle driven by the delta feed, fire-and-forget push
// intents drained by a single worker, conflict merging on concurrent
// metadata writes, and a post-pull reconciliation pass.
package sync

import (
	"context"

	"github.com/avbaker/shelfsync/internal/models"
	"github.com/avbaker/shelfsync/internal/remote"
)

//go:generate mockgen -source=remote.go -destination=mocks/remote.go -package=mocks

// Remote is the slice of the folder API this package consumes.
// Implemented by *remote.Client.
type Remote interface {
	UploadContent(ctx context.Context, id string, data []byte) error
	UploadMetadata(ctx context.Context, id string, meta models.DocumentMetadata, etag string) (string, error)
	DownloadContent(ctx context.Context, id string) ([]byte, error)
	DownloadMetadata(ctx context.Context, id string) (models.DocumentMetadata, error)
	Delete(ctx context.Context, id string) error
	Delta(ctx context.Context, token string) (remote.DeltaPage, error)
	ListAll(ctx context.Context) (remote.Listing, error)
	DownloadIndex(ctx context.Context) ([]models.DocumentMetadata, error)
	UploadIndex(ctx context.Context, items []models.DocumentMetadata) error
}
