// Package crypto implements the three envelope formats used by
// shelfsync: device-key encryption for data at rest, identity-key
// encryption for payloads leaving the device, and a decrypt-only legacy
// passphrase format kept for one-time migration.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/avbaker/shelfsync/internal/syncerrors"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	// keyLen is the symmetric key length in bytes (AES-256).
	keyLen = 32

	// scryptN is the CPU/memory cost parameter for the legacy
	// passphrase KDF (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for the legacy passphrase KDF.
	scryptR = 8

	// scryptP is the parallelization parameter for the legacy
	// passphrase KDF.
	scryptP = 1

	// legacySaltLen is the length of the random per-payload salt
	// carried by legacy envelopes.
	legacySaltLen = 16
)

// identityInfo is the HKDF context string for identity-key derivation.
// Baked into the protocol version: changing it orphans every synced
// payload.
var identityInfo = []byte("shelfsync/identity-key/v1")

// identitySalt is the fixed HKDF salt for identity-key derivation. A
// fixed salt keeps the derivation reproducible on any device signed
// into the same account, with no secret exchange and no key material
// stored on the server.
var identitySalt = []byte{
	0x73, 0x68, 0x65, 0x6c, 0x66, 0x73, 0x79, 0x6e,
	0x63, 0x2d, 0x69, 0x64, 0x2d, 0x73, 0x61, 0x6c,
	0x74, 0x2f, 0x76, 0x31, 0x00, 0x00, 0x00, 0x01,
}

// NewDeviceKey generates a fresh 32-byte device key. Generated once per
// installation and persisted only in the local state database; it never
// leaves the device.
func NewDeviceKey() ([]byte, error) {
	key := make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating device key: %w", err)
	}

	return key, nil
}

// DeriveIdentityKey derives the 32-byte identity key from a stable user
// identifier via HKDF-SHA256 with the fixed protocol salt and context
// string. The identifier is NFKC-normalized first so equivalent Unicode
// spellings derive the same key on every device.
func DeriveIdentityKey(userID string) ([]byte, error) {
	if userID == "" {
		return nil, fmt.Errorf("user identifier must not be empty")
	}

	ikm := []byte(norm.NFKC.String(userID))

	return hkdfDeriveKey(ikm, identitySalt, identityInfo, keyLen)
}

// deriveLegacyKey derives the 32-byte key for a legacy passphrase
// envelope using scrypt with the envelope's per-payload salt.
// Parameters: N=32768, r=8, p=1. The passphrase is NFKC-normalized.
func deriveLegacyKey(passphrase string, salt []byte) ([]byte, error) {
	passphrase = norm.NFKC.String(passphrase)

	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving legacy key: %w", err)
	}

	return key, nil
}

// ZeroKey overwrites the key material in the given slice. Call this
// after passing the key to a Box constructor to limit the window during
// which raw key bytes are accessible in memory.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

// hkdfDeriveKey derives keyLen bytes using HKDF-SHA256 with the given
// IKM, salt, and info parameters.
func hkdfDeriveKey(ikm, salt, info []byte, keyLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)

	out := make([]byte, keyLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}

	return out, nil
}

// Box seals and opens envelopes of one fixed version under one AES-256
// key. The sync and store layers hold one Box for the device key and
// one for the identity key.
type Box struct {
	gcm     cipher.AEAD
	version int
}

// NewDeviceBox creates a Box producing VersionDevice envelopes from the
// 32-byte device key.
func NewDeviceBox(key []byte) (*Box, error) {
	return newBox(key, VersionDevice)
}

// NewIdentityBox creates a Box producing VersionIdentity envelopes from
// the key returned by DeriveIdentityKey.
func NewIdentityBox(key []byte) (*Box, error) {
	return newBox(key, VersionIdentity)
}

func newBox(key []byte, version int) (*Box, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("invalid key length %d: expected %d bytes", len(key), keyLen)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	return &Box{gcm: gcm, version: version}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return gcm, nil
}

// Seal encrypts plaintext into an envelope with a fresh random nonce.
func (b *Box) Seal(plaintext []byte) (Envelope, error) {
	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, fmt.Errorf("generating IV: %w", err)
	}

	ct := b.gcm.Seal(nil, iv, plaintext, nil)

	return Envelope{Version: b.version, IV: iv, Ciphertext: ct}, nil
}

// Open decrypts an envelope sealed by a Box of the same version. A
// wrong key, tampered ciphertext, or mismatched version fails with
// ErrDecrypt in the chain.
func (b *Box) Open(e Envelope) ([]byte, error) {
	if e.Version != b.version {
		return nil, fmt.Errorf("envelope version %d, box expects %d: %w", e.Version, b.version, syncerrors.ErrDecrypt)
	}

	if len(e.IV) != nonceSize {
		return nil, fmt.Errorf("envelope IV is %d bytes: %w", len(e.IV), syncerrors.ErrDecrypt)
	}

	plain, err := b.gcm.Open(nil, e.IV, e.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("opening envelope: %w", syncerrors.ErrDecrypt)
	}

	return plain, nil
}

// Version returns the envelope version this box produces.
func (b *Box) Version() int {
	return b.version
}

// DecryptLegacy opens a VersionLegacy envelope with a human-supplied
// passphrase. Read-only path for one-time migration: the caller
// re-encrypts the plaintext under a current key afterwards.
func DecryptLegacy(e Envelope, passphrase string) ([]byte, error) {
	if e.Version != VersionLegacy {
		return nil, fmt.Errorf("envelope version %d is not legacy: %w", e.Version, syncerrors.ErrDecrypt)
	}

	if len(e.Salt) == 0 {
		return nil, fmt.Errorf("legacy envelope missing salt: %w", syncerrors.ErrDecrypt)
	}

	key, err := deriveLegacyKey(passphrase, e.Salt)
	if err != nil {
		return nil, err
	}
	defer ZeroKey(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plain, err := gcm.Open(nil, e.IV, e.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("opening legacy envelope: %w", syncerrors.ErrDecrypt)
	}

	return plain, nil
}
