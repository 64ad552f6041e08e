package encryption

import (
	"fmt"

	"chatvault/internal/arc"
	"chatvault/internal/config"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// Type "none" returns a nil Encryptor; snapshots are then uploaded in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (arc.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
