package crypto

import (
	"encoding/json"
	"fmt"

	"github.com/avbaker/shelfsync/internal/syncerrors"
)

// Envelope versions. The version discriminates the key-derivation path
// on decrypt; an unknown version is a hard decrypt failure, never an
// empty result.
const (
	// VersionLegacy marks payloads encrypted under the old
	// human-supplied-passphrase scheme. Decrypt-only: each payload is
	// re-encrypted under a current key after one-time migration.
	VersionLegacy = 1

	// VersionDevice marks payloads encrypted under the non-exportable
	// per-installation device key. Used for data at rest only.
	VersionDevice = 2

	// VersionIdentity marks payloads encrypted under the key derived
	// from the stable user identifier. Used for everything that leaves
	// the device.
	VersionIdentity = 3
)

// nonceSize is the GCM nonce length in bytes (96 bits). A fresh random
// nonce is generated on every encrypt call; nonce reuse under a fixed
// key is a confidentiality failure.
const nonceSize = 12

// Envelope is the wire and at-rest form of an encrypted payload:
// version, nonce, and ciphertext (with the GCM tag appended). Salt is
// present only on legacy passphrase payloads, which carry a random
// per-payload KDF salt.
type Envelope struct {
	Version    int    `json:"v"`
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ct"`
	Salt       []byte `json:"salt,omitempty"`
}

// Marshal encodes the envelope to its JSON byte form.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}

	return data, nil
}

// ParseEnvelope decodes an envelope from its JSON byte form and checks
// the structural invariants shared by all versions.
func ParseEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}

	switch e.Version {
	case VersionLegacy, VersionDevice, VersionIdentity:
	default:
		return Envelope{}, fmt.Errorf("envelope version %d: %w", e.Version, syncerrors.ErrUnknownEnvelopeVersion)
	}

	if len(e.IV) != nonceSize {
		return Envelope{}, fmt.Errorf("envelope IV is %d bytes, expected %d: %w", len(e.IV), nonceSize, syncerrors.ErrDecrypt)
	}

	return e, nil
}
