package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avbaker/shelfsync/internal/models"
	"github.com/avbaker/shelfsync/internal/syncerrors"
)

// ConflictMerger owns metadata uploads and their optimistic-concurrency
// recovery. A precondition conflict is resolved here and never surfaced
// to the caller.
type ConflictMerger struct {
	remote Remote
	logger *slog.Logger
}

func NewConflictMerger(r Remote, logger *slog.Logger) *ConflictMerger {
	return &ConflictMerger{remote: r, logger: logger}
}

// Upload writes meta conditionally on etag and returns the new etag.
// On conflict it downloads the winner, merges, and retries
// unconditionally; if the merge path itself fails, the original meta is
// written unconditionally so the caller's write is never lost.
func (m *ConflictMerger) Upload(ctx context.Context, meta models.DocumentMetadata, etag string) (string, error) {
	newEtag, err := m.remote.UploadMetadata(ctx, meta.ID, meta, etag)
	if err == nil {
		return newEtag, nil
	}

	if !errors.Is(err, syncerrors.ErrPreconditionFailed) {
		return "", err
	}

	m.logger.Info("metadata conflict, merging", "id", meta.ID)

	newEtag, mergeErr := m.mergeAndRetry(ctx, meta)
	if mergeErr == nil {
		return newEtag, nil
	}

	m.logger.Warn("conflict merge failed, overwriting", "id", meta.ID, "error", mergeErr)

	newEtag, err = m.remote.UploadMetadata(ctx, meta.ID, meta, "")
	if err != nil {
		return "", fmt.Errorf("overwriting metadata %s after failed merge: %w", meta.ID, err)
	}

	return newEtag, nil
}

func (m *ConflictMerger) mergeAndRetry(ctx context.Context, meta models.DocumentMetadata) (string, error) {
	current, err := m.remote.DownloadMetadata(ctx, meta.ID)
	if err != nil {
		return "", fmt.Errorf("downloading conflicting metadata: %w", err)
	}

	merged := mergeMetadata(meta, current)

	newEtag, err := m.remote.UploadMetadata(ctx, meta.ID, merged, "")
	if err != nil {
		return "", fmt.Errorf("uploading merged metadata: %w", err)
	}

	return newEtag, nil
}

// mergeMetadata combines a local write with the remote copy that beat
// it. Favorite is OR-merged so neither device's action is lost;
// updatedAt takes the newer side; all other fields keep the local
// values.
func mergeMetadata(local, current models.DocumentMetadata) models.DocumentMetadata {
	merged := local
	merged.IsFavorite = local.IsFavorite || current.IsFavorite

	if current.UpdatedAt > merged.UpdatedAt {
		merged.UpdatedAt = current.UpdatedAt
	}

	return merged
}
