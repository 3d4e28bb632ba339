package remote

import "github.com/avbaker/shelfsync/internal/models"

// Object name suffixes inside the per-user folder. Each document owns
// one content object and one metadata object.
const (
	contentSuffix = ".dat"
	metaSuffix    = ".meta"
)

// DeltaItem is one entry from the change feed. Exactly one of the two
// object names is usually present; delete events for some servers omit
// both, in which case the item cannot be resolved to a document ID here
// and is caught later by reconciliation against the full index.
type DeltaItem struct {
	// Deleted reports whether this item announces a removal.
	Deleted bool

	// ContentName and MetaName are the object names the event refers
	// to, when the feed included them.
	ContentName string
	MetaName    string
}

// DocID extracts the document ID from whichever object name is
// present. Returns empty when the item carries no name.
func (it DeltaItem) DocID() string {
	if n := trimSuffix(it.ContentName, contentSuffix); n != "" {
		return n
	}

	return trimSuffix(it.MetaName, metaSuffix)
}

func trimSuffix(name, suffix string) string {
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}

	return ""
}

// DeltaPage is one page of the change feed.
type DeltaPage struct {
	Items []DeltaItem

	// NextToken is the continuation cursor. On intermediate pages it
	// points at the next page; on the final page it is the cursor to
	// persist for the next sync.
	NextToken string

	// Done reports whether this is the final page of the cycle.
	Done bool

	// FullResync reports that this page belongs to a full listing
	// (missing or expired token): the caller must replace, not merge,
	// its view of the remote.
	FullResync bool
}

// Listing is the result of enumerating the whole folder.
type Listing struct {
	Items []models.DocumentMetadata `json:"items"`

	// HadFailures reports that the listing is incomplete: some entries
	// could not be enumerated and the result must not be trusted as
	// ground truth.
	HadFailures bool `json:"hadFailures"`
}
