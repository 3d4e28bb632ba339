package store

import (
	"crypto/sha256"
	"path/filepath"
	"testing"

	"github.com/avbaker/shelfsync/internal/crypto"
	"github.com/avbaker/shelfsync/internal/models"
	"github.com/avbaker/shelfsync/internal/syncerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func testBox(t *testing.T, seed string) *crypto.Box {
	t.Helper()

	key := sha256.Sum256([]byte(seed))
	box, err := crypto.NewDeviceBox(key[:])
	require.NoError(t, err)

	return box
}

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "docs.db"), testBox(t, "device"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func testDoc(title string) models.DocumentRecord {
	return models.DocumentRecord{
		Title:     title,
		SourceURL: "https://example.com/" + title,
		Content:   []byte("body of " + title),
	}
}

// --- Save / Get ---

func TestSave_AssignsIDAndTimestamps(t *testing.T) {
	s := testStore(t)

	saved, err := s.Save(testDoc("a"))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Positive(t, saved.CreatedAt)
	assert.Positive(t, saved.UpdatedAt)
	assert.Equal(t, int64(len(saved.Content)), saved.SizeBytes)
}

func TestSaveGet_RoundTrip(t *testing.T) {
	s := testStore(t)

	saved, err := s.Save(testDoc("a"))
	require.NoError(t, err)

	got, err := s.Get(saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved, *got)
}

func TestGet_AbsentReturnsNil(t *testing.T) {
	s := testStore(t)

	got, err := s.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSave_MonotonicUpdatedAt(t *testing.T) {
	s := testStore(t)

	saved, err := s.Save(testDoc("a"))
	require.NoError(t, err)

	// Immediate resave within the same millisecond must still advance.
	saved.Content = []byte("edited")
	resaved, err := s.Save(saved)
	require.NoError(t, err)
	assert.Greater(t, resaved.UpdatedAt, saved.UpdatedAt)
}

func TestSave_PreservesAssetRefs(t *testing.T) {
	s := testStore(t)

	doc := testDoc("a")
	doc.AssetRefs = []string{"sha256-abc123", "sha256-def456"}

	saved, err := s.Save(doc)
	require.NoError(t, err)

	got, err := s.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.AssetRefs, got.AssetRefs)
}

// --- At-rest encryption ---

func TestContent_EncryptedAtRest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docs.db")

	s, err := Open(path, testBox(t, "device"))
	require.NoError(t, err)

	saved, err := s.Save(models.DocumentRecord{Title: "a", Content: []byte("plaintext-marker-xyzzy")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	err = db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(contentBucket).Get([]byte(saved.ID))
		require.NotNil(t, raw)
		assert.NotContains(t, string(raw), "plaintext-marker-xyzzy", "content must not be stored in the clear")

		return nil
	})
	require.NoError(t, err)
}

func TestGet_WrongDeviceKeyFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docs.db")

	s1, err := Open(path, testBox(t, "device-a"))
	require.NoError(t, err)
	saved, err := s1.Save(testDoc("a"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path, testBox(t, "device-b"))
	require.NoError(t, err)
	defer s2.Close()

	_, err = s2.Get(saved.ID)
	assert.ErrorIs(t, err, syncerrors.ErrDecrypt, "wrong key must fail loudly, not return empty content")
}

// --- Overwrite ---

func TestOverwrite_PreservesCallerTimestamps(t *testing.T) {
	s := testStore(t)

	saved, err := s.Save(testDoc("a"))
	require.NoError(t, err)

	remote := saved
	remote.Content = []byte("remote version")
	remote.UpdatedAt = saved.UpdatedAt + 1000

	require.NoError(t, s.Overwrite(remote))

	got, err := s.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, remote.UpdatedAt, got.UpdatedAt, "overwrite must keep the remote timestamp verbatim")
	assert.Equal(t, []byte("remote version"), got.Content)
}

func TestOverwrite_RequiresID(t *testing.T) {
	s := testStore(t)

	err := s.Overwrite(models.DocumentRecord{Title: "no id"})
	assert.Error(t, err)
}

// --- Summaries ---

func TestSummaries_OmitContent(t *testing.T) {
	s := testStore(t)

	a, err := s.Save(testDoc("a"))
	require.NoError(t, err)
	_, err = s.Save(testDoc("b"))
	require.NoError(t, err)

	sums, err := s.Summaries()
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, a.Title, sums[a.ID].Title)
	assert.Equal(t, a.UpdatedAt, sums[a.ID].UpdatedAt)
}

// --- SetFavorite ---

func TestSetFavorite_FlipsAndAdvancesUpdatedAt(t *testing.T) {
	s := testStore(t)

	saved, err := s.Save(testDoc("a"))
	require.NoError(t, err)

	updated, err := s.SetFavorite(saved.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.IsFavorite)
	assert.Greater(t, updated.UpdatedAt, saved.UpdatedAt)

	got, err := s.Get(saved.ID)
	require.NoError(t, err)
	assert.True(t, got.IsFavorite)
	assert.Equal(t, saved.Content, got.Content, "favorite toggle must not disturb content")
}

func TestSetFavorite_MissingDoc(t *testing.T) {
	s := testStore(t)

	_, err := s.SetFavorite("missing", true)
	assert.Error(t, err)
}

func TestTouch_AdvancesUpdatedAtOnly(t *testing.T) {
	s := testStore(t)

	saved, err := s.Save(testDoc("a"))
	require.NoError(t, err)

	updated, err := s.Touch(saved.ID)
	require.NoError(t, err)
	assert.Greater(t, updated.UpdatedAt, saved.UpdatedAt)
	assert.Equal(t, saved.Title, updated.Title)

	got, err := s.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.Content, got.Content)
}

func TestTouch_MissingDoc(t *testing.T) {
	s := testStore(t)

	_, err := s.Touch("missing")
	assert.Error(t, err)
}

// --- Delete / Clear ---

func TestDelete_RemovesMetaAndContent(t *testing.T) {
	s := testStore(t)

	saved, err := s.Save(testDoc("a"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(saved.ID))

	got, err := s.Get(saved.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDelete_AbsentIsNoop(t *testing.T) {
	s := testStore(t)
	assert.NoError(t, s.Delete("missing"))
}

func TestClear_RemovesDocumentsKeepsSettings(t *testing.T) {
	s := testStore(t)

	_, err := s.Save(testDoc("a"))
	require.NoError(t, err)
	require.NoError(t, s.SaveSettings([]byte(`{"theme":"dark"}`)))

	require.NoError(t, s.Clear())

	sums, err := s.Summaries()
	require.NoError(t, err)
	assert.Empty(t, sums)

	settings, _, err := s.Settings()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"theme":"dark"}`), settings)
}

// --- Settings blob ---

func TestSettings_RoundTrip(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.SaveSettings([]byte(`{"fontSize":14}`)))

	plain, updatedAt, err := s.Settings()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"fontSize":14}`), plain)
	assert.Positive(t, updatedAt)
}

func TestSettings_AbsentReturnsNil(t *testing.T) {
	s := testStore(t)

	plain, updatedAt, err := s.Settings()
	require.NoError(t, err)
	assert.Nil(t, plain)
	assert.Zero(t, updatedAt)
}

func TestSettings_WrongKeyIsHardFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docs.db")

	s1, err := Open(path, testBox(t, "device-a"))
	require.NoError(t, err)
	require.NoError(t, s1.SaveSettings([]byte(`{"theme":"dark"}`)))
	require.NoError(t, s1.Close())

	s2, err := Open(path, testBox(t, "device-b"))
	require.NoError(t, err)
	defer s2.Close()

	_, _, err = s2.Settings()
	assert.ErrorIs(t, err, syncerrors.ErrDecrypt, "corrupt settings must not read as defaults")
}
