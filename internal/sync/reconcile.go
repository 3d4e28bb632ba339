package sync

import (
	"time"

	"github.com/avbaker/shelfsync/internal/models"
	"github.com/avbaker/shelfsync/internal/state"
)

// freshnessThreshold separates "new local document not yet pushed"
// from "deleted remotely" when a local document is absent from the
// cloud index. A bare list diff cannot tell the two apart; recency of
// the local write is the only signal. This is a heuristic and can
// misclassify a push delayed past the threshold.
const freshnessThreshold = 5 * time.Minute

// ReconcileActions is the outcome of one reconciliation pass.
type ReconcileActions struct {
	// PushLocal holds fresh local documents absent from the index:
	// not yet uploaded, push them now.
	PushLocal []string

	// DeleteLocal holds stale local documents absent from a
	// known-complete index: deleted on another device, remove them.
	DeleteLocal []string

	// DeleteRemote holds index entries masked by an unexpired
	// tombstone: the remote delete never landed, re-issue it.
	DeleteRemote []string

	// Deferred holds stale local documents that could not be
	// classified because the index is incomplete this cycle.
	Deferred []string
}

// reconcile diffs the local store against the cloud index. local and
// index are keyed by document ID; indexComplete reports whether this
// cycle's index can be trusted as remote ground truth (full listing,
// no partial failures, nonempty). now is epoch milliseconds.
func reconcile(local, index map[string]models.DocumentMetadata, tombs map[string]state.Tombstone, indexComplete bool, now int64) ReconcileActions {
	var actions ReconcileActions

	thresholdMs := freshnessThreshold.Milliseconds()

	for id, meta := range local {
		if _, ok := index[id]; ok {
			continue
		}

		if _, dead := tombs[id]; dead {
			// Locally deleted already; the tombstone path owns it.
			continue
		}

		if now-meta.UpdatedAt < thresholdMs {
			actions.PushLocal = append(actions.PushLocal, id)

			continue
		}

		if indexComplete {
			actions.DeleteLocal = append(actions.DeleteLocal, id)
		} else {
			actions.Deferred = append(actions.Deferred, id)
		}
	}

	for id := range index {
		if _, dead := tombs[id]; dead {
			actions.DeleteRemote = append(actions.DeleteRemote, id)
		}
	}

	return actions
}
