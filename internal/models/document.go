// Package models holds the document types shared by the store, remote,
// and sync layers.
package models

// DocumentRecord is the full local form of a document. Owned
// exclusively by the local store; mutated only through its API.
type DocumentRecord struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	SourceURL  string   `json:"sourceUrl"`
	Content    []byte   `json:"content,omitempty"`
	CreatedAt  int64    `json:"createdAt"`
	UpdatedAt  int64    `json:"updatedAt"`
	IsFavorite bool     `json:"isFavorite"`
	SizeBytes  int64    `json:"sizeBytes"`
	AssetRefs  []string `json:"assetRefs,omitempty"`
}

// DocumentMetadata is the remote-facing projection of a DocumentRecord:
// everything except the content payload. ETag carries the remote
// store's optimistic-concurrency token when the metadata was read from
// or written to the remote; it is empty for metadata that has never
// been uploaded.
type DocumentMetadata struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	SourceURL  string   `json:"sourceUrl"`
	CreatedAt  int64    `json:"createdAt"`
	UpdatedAt  int64    `json:"updatedAt"`
	IsFavorite bool     `json:"isFavorite"`
	SizeBytes  int64    `json:"sizeBytes"`
	AssetRefs  []string `json:"assetRefs,omitempty"`

	// ETag is carried out of band (response headers, index cache); the
	// remote metadata body never includes it.
	ETag string `json:"etag,omitempty"`
}

// Metadata returns the remote-facing projection of the record.
func (r DocumentRecord) Metadata() DocumentMetadata {
	return DocumentMetadata{
		ID:         r.ID,
		Title:      r.Title,
		SourceURL:  r.SourceURL,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		IsFavorite: r.IsFavorite,
		SizeBytes:  r.SizeBytes,
		AssetRefs:  r.AssetRefs,
	}
}

// Record builds a DocumentRecord from the metadata and a content
// payload, used when hydrating a remote document locally.
func (m DocumentMetadata) Record(content []byte) DocumentRecord {
	return DocumentRecord{
		ID:         m.ID,
		Title:      m.Title,
		SourceURL:  m.SourceURL,
		Content:    content,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		IsFavorite: m.IsFavorite,
		SizeBytes:  m.SizeBytes,
		AssetRefs:  m.AssetRefs,
	}
}
