package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"

	"github.com/avbaker/shelfsync/internal/models"
	"github.com/avbaker/shelfsync/internal/syncerrors"
	"golang.org/x/sync/errgroup"
)

// metadataFetchLimit bounds the parallelism of per-document metadata
// downloads within one pull, to stay under the remote API's rate
// limits.
const metadataFetchLimit = 4

// DeltaClient turns the raw change feed into a classified batch of
// metadata upserts and document-ID deletes.
type DeltaClient struct {
	remote Remote
	logger *slog.Logger
}

func NewDeltaClient(r Remote, logger *slog.Logger) *DeltaClient {
	return &DeltaClient{remote: r, logger: logger}
}

// PullResult is one fully-paged, fully-classified sweep of the feed.
type PullResult struct {
	// Upserts holds downloaded metadata for every changed document.
	Upserts []models.DocumentMetadata

	// Deletes holds document IDs the feed or a gone metadata object
	// reported as removed.
	Deletes []string

	// NextToken is the cursor to resume from. It must not be persisted
	// when HadFailures is true: re-reading from the stale position is
	// the only way the failed items become visible again.
	NextToken string

	// FullResync reports that the feed returned a complete listing
	// rather than an increment. The cloud index must be replaced, not
	// merged, unless HadFailures is also true.
	FullResync bool

	// HadFailures is true when at least one metadata fetch failed for
	// a reason other than the object being gone.
	HadFailures bool

	// Unresolved counts delete events that carried no object name.
	// They cannot be mapped to a document ID here; the reconciler
	// catches them on its next complete pass.
	Unresolved int
}

// Pull pages through the feed from token, classifies every item, and
// downloads metadata for the upserted documents with bounded
// parallelism. Individual fetch failures are counted, not fatal.
func (d *DeltaClient) Pull(ctx context.Context, token string) (PullResult, error) {
	upsertIDs, res, err := d.collect(ctx, token)
	if err != nil {
		return PullResult{}, err
	}

	if len(upsertIDs) == 0 {
		return res, nil
	}

	var (
		mu       gosync.Mutex
		failures int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metadataFetchLimit)

	for _, id := range upsertIDs {
		id := id
		g.Go(func() error {
			meta, err := d.remote.DownloadMetadata(gctx, id)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				res.Upserts = append(res.Upserts, meta)
			case errors.Is(err, syncerrors.ErrNotFound):
				// The object disappeared between the feed event and
				// our fetch. That is a delete, not a failure.
				res.Deletes = append(res.Deletes, id)
			default:
				failures++
				d.logger.Warn("metadata fetch failed", "id", id, "error", err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return PullResult{}, fmt.Errorf("fetching metadata batch: %w", err)
	}

	res.HadFailures = failures > 0

	return res, nil
}

// collect pages the feed to completion and splits items into upsert
// IDs and delete IDs. Later events for the same document supersede
// earlier ones.
func (d *DeltaClient) collect(ctx context.Context, token string) ([]string, PullResult, error) {
	var (
		res PullResult
		// order preserves first-seen position per document so batches
		// are stable across runs.
		order   []string
		deleted = map[string]bool{}
		seen    = map[string]bool{}
	)

	cursor := token

	for {
		page, err := d.remote.Delta(ctx, cursor)
		if err != nil {
			return nil, PullResult{}, fmt.Errorf("pulling delta page: %w", err)
		}

		if cursor == token {
			res.FullResync = page.FullResync
		}

		for _, item := range page.Items {
			id := item.DocID()
			if id == "" {
				if item.Deleted {
					res.Unresolved++
					d.logger.Warn("delta reported a delete without an object name, deferring to reconciler")
				}

				continue
			}

			if !seen[id] {
				seen[id] = true
				order = append(order, id)
			}

			deleted[id] = item.Deleted
		}

		res.NextToken = page.NextToken

		if page.Done {
			break
		}

		cursor = page.NextToken
	}

	var upsertIDs []string

	for _, id := range order {
		if deleted[id] {
			res.Deletes = append(res.Deletes, id)
		} else {
			upsertIDs = append(upsertIDs, id)
		}
	}

	return upsertIDs, res, nil
}
