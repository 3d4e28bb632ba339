package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/avbaker/shelfsync/internal/crypto"
	"github.com/avbaker/shelfsync/internal/models"
	"github.com/avbaker/shelfsync/internal/state"
	"github.com/avbaker/shelfsync/internal/store"
	"github.com/avbaker/shelfsync/internal/syncerrors"
)

// tombstoneTTL bounds how long a pending-delete tombstone survives
// without confirmation. Expired tombstones are pruned regardless of
// whether the remote delete ever succeeded.
const tombstoneTTL = 30 * 24 * time.Hour

type intentKind int

const (
	intentUpsert intentKind = iota
	intentDelete
	intentMetaUpdate
)

// intent is one queued push. Upserts carry only the document ID; the
// worker re-reads the record at send time so it always pushes the
// latest local state.
type intent struct {
	kind intentKind
	id   string
	meta models.DocumentMetadata
}

// Coordinator orchestrates pull cycles against the remote folder and
// drains fire-and-forget push intents from a single worker. At most
// one pull runs at a time, enforced by the persisted syncing flag.
type Coordinator struct {
	remote           Remote
	store            *store.Store
	state            *state.State
	delta            *DeltaClient
	merger           *ConflictMerger
	syncBox          *crypto.Box
	legacyPassphrase string
	logger           *slog.Logger

	mu    gosync.Mutex
	queue []intent
	wake  chan struct{}
}

// NewCoordinator wires a coordinator. syncBox must hold the identity
// key so any device on the same account can open pushed payloads.
// legacyPassphrase may be empty; when set, payloads still encrypted
// under the old passphrase scheme are migrated as they are seen.
func NewCoordinator(r Remote, st *store.Store, sst *state.State, syncBox *crypto.Box, legacyPassphrase string, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		remote:           r,
		store:            st,
		state:            sst,
		delta:            NewDeltaClient(r, logger),
		merger:           NewConflictMerger(r, logger),
		syncBox:          syncBox,
		legacyPassphrase: legacyPassphrase,
		logger:           logger,
		wake:             make(chan struct{}, 1),
	}
}

// Pull runs one pull cycle. A second caller while one is in flight is
// a no-op, not an error. The previous error is cleared on entry; the
// syncing flag is released on every exit path and lastSyncTime
// advances only on success.
func (c *Coordinator) Pull(ctx context.Context) error {
	started, err := c.state.BeginSync()
	if err != nil {
		return fmt.Errorf("acquiring sync gate: %w", err)
	}

	if !started {
		c.logger.Debug("pull already in flight, skipping")
		return nil
	}

	pullErr := c.pull(ctx)

	errMsg := ""
	if pullErr != nil {
		errMsg = pullErr.Error()
	}

	if endErr := c.state.EndSync(errMsg); endErr != nil {
		c.logger.Error("releasing sync gate", "error", endErr)
	}

	return pullErr
}

func (c *Coordinator) pull(ctx context.Context) error {
	token, err := c.state.DeltaToken()
	if err != nil {
		return err
	}

	if token == "" {
		c.bootstrapFromSnapshot(ctx)
	}

	res, err := c.delta.Pull(ctx, token)
	if err != nil {
		return err
	}

	tombs, err := c.state.Tombstones()
	if err != nil {
		return err
	}

	c.logger.Info("delta pulled",
		"upserts", len(res.Upserts),
		"deletes", len(res.Deletes),
		"fullResync", res.FullResync,
		"hadFailures", res.HadFailures,
		"unresolved", res.Unresolved)

	applyFailures := 0
	kept := make([]models.DocumentMetadata, 0, len(res.Upserts))
	reported := make(map[string]bool, len(res.Upserts)+len(res.Deletes))

	for _, meta := range res.Upserts {
		reported[meta.ID] = true

		if _, dead := tombs[meta.ID]; dead {
			// Deleted here; the feed is lagging. Do not resurrect.
			continue
		}

		kept = append(kept, meta)

		if err := c.applyUpsert(ctx, meta); err != nil {
			applyFailures++
			c.logger.Warn("applying upsert", "id", meta.ID, "error", err)
		}
	}

	var confirmed []string

	for _, id := range res.Deletes {
		reported[id] = true

		if err := c.applyDelete(id); err != nil {
			return err
		}

		if _, ok := tombs[id]; ok {
			confirmed = append(confirmed, id)
		}
	}

	hadFailures := res.HadFailures || applyFailures > 0
	cleanResync := res.FullResync && !hadFailures

	if cleanResync {
		// The listing is ground truth: rebuild the index and treat
		// every tombstone the feed no longer mentions as confirmed.
		if err := c.state.ReplaceIndex(kept); err != nil {
			return err
		}

		for id := range tombs {
			if !reported[id] {
				confirmed = append(confirmed, id)
			}
		}
	} else {
		for _, meta := range kept {
			if err := c.state.UpsertIndexEntry(meta); err != nil {
				return err
			}
		}
	}

	if err := c.state.RemoveTombstones(confirmed); err != nil {
		return err
	}

	if pruned, err := c.state.PruneTombstones(tombstoneTTL); err != nil {
		return err
	} else if pruned > 0 {
		c.logger.Info("pruned expired tombstones", "count", pruned)
	}

	if hadFailures {
		// Persisting the token would skip past the failed items for
		// good. Re-read from the same position next cycle instead.
		c.logger.Warn("partial failures, keeping previous continuation token")
	} else if err := c.state.SetDeltaToken(res.NextToken); err != nil {
		return err
	}

	if err := c.reconcileCycle(ctx, cleanResync); err != nil {
		return err
	}

	if cleanResync {
		c.refreshSnapshot(ctx)
	}

	return nil
}

// applyUpsert caches the metadata and, when the document is already
// hydrated locally with strictly older content, downloads and installs
// the remote copy.
func (c *Coordinator) applyUpsert(ctx context.Context, meta models.DocumentMetadata) error {
	local, err := c.store.Summary(meta.ID)
	if err != nil {
		return err
	}

	if local == nil || meta.UpdatedAt <= local.UpdatedAt {
		return nil
	}

	content, err := c.downloadContent(ctx, meta.ID)
	if err != nil {
		return err
	}

	return c.store.Overwrite(meta.Record(content))
}

func (c *Coordinator) applyDelete(id string) error {
	if err := c.state.RemoveIndexEntry(id); err != nil {
		return err
	}

	return c.store.Delete(id)
}

// downloadContent fetches and opens a document's remote content
// payload. Legacy-passphrase envelopes are migrated on sight: decrypted
// with the configured passphrase, then re-pushed under the identity
// key.
func (c *Coordinator) downloadContent(ctx context.Context, id string) ([]byte, error) {
	data, err := c.remote.DownloadContent(ctx, id)
	if err != nil {
		return nil, err
	}

	env, err := crypto.ParseEnvelope(data)
	if err != nil {
		return nil, err
	}

	if env.Version == crypto.VersionLegacy {
		if c.legacyPassphrase == "" {
			return nil, fmt.Errorf("document %s: %w: legacy envelope and no passphrase configured", id, syncerrors.ErrDecrypt)
		}

		plaintext, err := DecryptAndMigrate(ctx, c.remote, c.syncBox, id, env, c.legacyPassphrase)
		if err != nil {
			return nil, err
		}

		c.logger.Info("migrated legacy payload", "id", id)

		return plaintext, nil
	}

	return c.syncBox.Open(env)
}

// bootstrapFromSnapshot seeds the cloud index from the optional index
// snapshot object before the first full delta listing. Best effort: a
// missing or unreadable snapshot just means a slower first sync.
func (c *Coordinator) bootstrapFromSnapshot(ctx context.Context) {
	items, err := c.remote.DownloadIndex(ctx)
	if err != nil {
		if !errors.Is(err, syncerrors.ErrNotFound) {
			c.logger.Warn("index snapshot bootstrap failed", "error", err)
		}

		return
	}

	// Merged, not replaced: the snapshot is a bootstrap hint, not
	// ground truth.
	if err := c.state.MergeIndex(items); err != nil {
		c.logger.Warn("seeding index from snapshot", "error", err)
		return
	}

	c.logger.Info("seeded cloud index from snapshot", "entries", len(items))
}

// refreshSnapshot rewrites the index snapshot after a clean full
// resync so the next device's first sync can bootstrap from it.
func (c *Coordinator) refreshSnapshot(ctx context.Context) {
	entries, err := c.state.AllIndexEntries()
	if err != nil {
		c.logger.Warn("reading index for snapshot refresh", "error", err)
		return
	}

	items := make([]models.DocumentMetadata, 0, len(entries))
	for _, meta := range entries {
		items = append(items, meta)
	}

	if err := c.remote.UploadIndex(ctx, items); err != nil {
		c.logger.Warn("refreshing index snapshot", "error", err)
	}
}

// reconcileCycle diffs local documents against the cloud index and
// applies the resulting actions.
func (c *Coordinator) reconcileCycle(ctx context.Context, indexComplete bool) error {
	local, err := c.store.Summaries()
	if err != nil {
		return err
	}

	index, err := c.state.AllIndexEntries()
	if err != nil {
		return err
	}

	tombs, err := c.state.Tombstones()
	if err != nil {
		return err
	}

	complete := indexComplete && len(index) > 0
	actions := reconcile(local, index, tombs, complete, time.Now().UnixMilli())

	for _, id := range actions.PushLocal {
		c.logger.Info("reconciler pushing unsynced local document", "id", id)
		c.enqueue(intent{kind: intentUpsert, id: id})
	}

	for _, id := range actions.DeleteLocal {
		c.logger.Info("reconciler removing remotely-deleted document", "id", id)

		if err := c.store.Delete(id); err != nil {
			return err
		}
	}

	for _, id := range actions.DeleteRemote {
		c.logger.Info("reconciler re-issuing remote delete", "id", id)

		if err := c.state.RemoveIndexEntry(id); err != nil {
			return err
		}

		c.enqueue(intent{kind: intentDelete, id: id})
	}

	for _, id := range actions.Deferred {
		c.logger.Info("reconciliation deferred, index incomplete this cycle", "id", id)
	}

	return nil
}

// Push schedules an upload of the document's current local state. It
// never blocks and never fails the caller's write.
func (c *Coordinator) Push(id string) {
	c.enqueue(intent{kind: intentUpsert, id: id})
}

// PushDelete records the tombstone durably, drops the index entry, and
// schedules the remote delete. The tombstone is visible before any
// network call so a racing pull cannot resurrect the document.
func (c *Coordinator) PushDelete(id string) error {
	if err := c.state.AddTombstone(id); err != nil {
		return err
	}

	if err := c.state.RemoveIndexEntry(id); err != nil {
		return err
	}

	c.enqueue(intent{kind: intentDelete, id: id})

	return nil
}

// PushMetaUpdate schedules a metadata-only upload (favorite toggles,
// title edits) without re-uploading content.
func (c *Coordinator) PushMetaUpdate(meta models.DocumentMetadata) {
	c.enqueue(intent{kind: intentMetaUpdate, id: meta.ID, meta: meta})
}

func (c *Coordinator) enqueue(it intent) {
	c.mu.Lock()
	c.queue = append(c.queue, it)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) dequeue() (intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return intent{}, false
	}

	it := c.queue[0]
	c.queue = c.queue[1:]

	return it, true
}

// QueueLen reports the number of pending push intents.
func (c *Coordinator) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.queue)
}

// RunPushWorker drains the push queue until ctx is cancelled. Intents
// that fail are logged and dropped; the reconciler re-discovers
// anything that never made it to the remote.
func (c *Coordinator) RunPushWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		}

		c.DrainQueue(ctx)
	}
}

// DrainQueue processes every currently queued intent. Exposed so the
// daemon can flush pending pushes on shutdown.
func (c *Coordinator) DrainQueue(ctx context.Context) {
	for {
		it, ok := c.dequeue()
		if !ok {
			return
		}

		if err := c.process(ctx, it); err != nil {
			c.logger.Warn("push intent failed", "kind", int(it.kind), "id", it.id, "error", err)
		}
	}
}

func (c *Coordinator) process(ctx context.Context, it intent) error {
	switch it.kind {
	case intentUpsert:
		return c.pushDocument(ctx, it.id)
	case intentDelete:
		return c.remote.Delete(ctx, it.id)
	case intentMetaUpdate:
		return c.pushMetadata(ctx, it.meta)
	}

	return fmt.Errorf("unknown intent kind %d", it.kind)
}

func (c *Coordinator) pushDocument(ctx context.Context, id string) error {
	rec, err := c.store.Get(id)
	if err != nil {
		return err
	}

	if rec == nil {
		// Deleted locally after the push was queued.
		return nil
	}

	env, err := c.syncBox.Seal(rec.Content)
	if err != nil {
		return err
	}

	sealed, err := env.Marshal()
	if err != nil {
		return err
	}

	if err := c.remote.UploadContent(ctx, id, sealed); err != nil {
		return err
	}

	return c.pushMetadata(ctx, rec.Metadata())
}

// pushMetadata uploads metadata conditionally on the cached etag and
// records the resulting etag back into the index.
func (c *Coordinator) pushMetadata(ctx context.Context, meta models.DocumentMetadata) error {
	etag := ""

	if cached, err := c.state.IndexEntry(meta.ID); err != nil {
		return err
	} else if cached != nil {
		etag = cached.ETag
	}

	newEtag, err := c.merger.Upload(ctx, meta, etag)
	if err != nil {
		return err
	}

	meta.ETag = newEtag

	return c.state.UpsertIndexEntry(meta)
}
