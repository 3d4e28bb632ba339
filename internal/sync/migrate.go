package sync

import (
	"context"
	"fmt"

	"github.com/avbaker/shelfsync/internal/crypto"
)

// DecryptAndMigrate opens a legacy passphrase envelope and immediately
// re-uploads the payload sealed under the identity key, so the
// passphrase path is exercised exactly once per payload.
func DecryptAndMigrate(ctx context.Context, r Remote, syncBox *crypto.Box, id string, env crypto.Envelope, passphrase string) ([]byte, error) {
	plaintext, err := crypto.DecryptLegacy(env, passphrase)
	if err != nil {
		return nil, fmt.Errorf("opening legacy payload %s: %w", id, err)
	}

	reSealed, err := syncBox.Seal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("re-sealing migrated payload %s: %w", id, err)
	}

	data, err := reSealed.Marshal()
	if err != nil {
		return nil, err
	}

	if err := r.UploadContent(ctx, id, data); err != nil {
		return nil, fmt.Errorf("re-uploading migrated payload %s: %w", id, err)
	}

	return plaintext, nil
}

// MigrateLegacy walks the whole remote folder and rewrites every
// legacy-passphrase content payload under the identity key. Documents
// already on a current envelope version are left untouched. Returns
// the number of payloads migrated.
func (c *Coordinator) MigrateLegacy(ctx context.Context) (int, error) {
	if c.legacyPassphrase == "" {
		return 0, fmt.Errorf("no legacy passphrase configured")
	}

	listing, err := c.remote.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing folder for migration: %w", err)
	}

	if listing.HadFailures {
		c.logger.Warn("folder listing incomplete, migration pass will be partial")
	}

	migrated := 0

	for _, meta := range listing.Items {
		data, err := c.remote.DownloadContent(ctx, meta.ID)
		if err != nil {
			c.logger.Warn("skipping payload during migration", "id", meta.ID, "error", err)
			continue
		}

		env, err := crypto.ParseEnvelope(data)
		if err != nil {
			c.logger.Warn("skipping unreadable envelope during migration", "id", meta.ID, "error", err)
			continue
		}

		if env.Version != crypto.VersionLegacy {
			continue
		}

		if _, err := DecryptAndMigrate(ctx, c.remote, c.syncBox, meta.ID, env, c.legacyPassphrase); err != nil {
			c.logger.Warn("migrating payload", "id", meta.ID, "error", err)
			continue
		}

		migrated++
	}

	c.logger.Info("legacy migration pass finished", "migrated", migrated, "total", len(listing.Items))

	return migrated, nil
}
