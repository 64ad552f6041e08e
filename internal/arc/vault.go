package arc

import "io"

// Vault stores off-site copies of archive metadata: the run-history
// database and each provider's index and media registry. Snapshots are
// scoped by instance id so several machines can share one vault.
type Vault interface {
	// PutSnapshot stores a named snapshot together with its version.
	// size is the number of bytes that will be read from r.
	PutSnapshot(instanceID, name string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the named snapshot to w. Returns an error matching
	// ErrNotFound when it has never been stored.
	GetSnapshot(instanceID, name string, w io.Writer) error

	// GetSnapshotVersion returns the stored version, 0 when absent.
	GetSnapshotVersion(instanceID, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}

// Encryptor encrypts snapshots before they leave the machine. Encryption
// needs only the public key; decryption requires unlocking the private key
// with a passphrase.
type Encryptor interface {
	// Setup generates a key pair, stores the public key in plaintext and
	// the private key encrypted with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a context for the session.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
