package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"chatvault/internal/fs"
	"chatvault/internal/storage"
)

// dbSnapshotName is the vault name of the run history database. Its version
// is the last run ID.
const dbSnapshotName = "db"

// snapshotName returns the vault name of a provider metadata file, e.g.
// "claude-index.json.gz".
func snapshotName(providerName, path string) string {
	return storage.Sanitize(providerName) + "-" + filepath.Base(path)
}

// uploadSnapshots snapshots the run database with VACUUM INTO and uploads
// it, followed by the index, hierarchy index and media registry of every
// provider touched by this run. All snapshots share version = run ID.
func (a *App) uploadSnapshots() error {
	version := a.op.ID

	tmpFile, err := os.CreateTemp("", "chatvault-db-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for db snapshot: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	if err := a.runs.BackupTo(tmpPath); err != nil {
		return fmt.Errorf("snapshotting database: %w", err)
	}
	if err := a.upload(dbSnapshotName, tmpPath, version); err != nil {
		return err
	}

	var errs []error
	for providerName := range a.touched {
		paths, err := a.store.MetadataFiles(providerName)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		registry := a.media.RegistryPath(providerName)
		if _, err := os.Stat(registry); err == nil {
			paths = append(paths, registry)
		}
		for _, p := range paths {
			if err := a.upload(snapshotName(providerName, p), p, version); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// upload sends the file at path to the vault, encrypting it first when an
// encryptor is configured.
func (a *App) upload(name, path string, version int64) error {
	src := path
	if a.encryptor != nil {
		encPath, err := a.encryptFile(path)
		if err != nil {
			return fmt.Errorf("encrypting snapshot %s: %w", name, err)
		}
		defer os.Remove(encPath)
		src = encPath
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot %s for upload: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot %s: %w", name, err)
	}

	if err := a.vault.PutSnapshot(a.cfg.InstanceID, name, f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading snapshot %s to vault: %w", name, err)
	}
	a.logger.Debug("snapshot uploaded", "name", name, "version", version, "size", info.Size())
	return nil
}

// encryptFile writes an encrypted copy of path to a temp file and returns
// its path. The caller removes it.
func (a *App) encryptFile(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp("", "chatvault-snapshot-*.enc")
	if err != nil {
		return "", err
	}
	if err := a.encryptor.Encrypt(in, out); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

// NeedsPassphrase reports whether restoring a snapshot requires unlocking
// the private key.
func (a *App) NeedsPassphrase() bool {
	return a.encryptor != nil
}

// RestoreSnapshot downloads the named snapshot from the vault, decrypts it
// when encryption is configured and writes it atomically to destPath.
func (a *App) RestoreSnapshot(name, destPath, passphrase string) error {
	if a.vault == nil {
		return errors.New("no vault configured")
	}

	var data bytes.Buffer
	if err := a.vault.GetSnapshot(a.cfg.InstanceID, name, &data); err != nil {
		return fmt.Errorf("downloading snapshot %s: %w", name, err)
	}

	var r io.Reader = &data
	if a.encryptor != nil {
		dec, err := a.encryptor.Unlock(passphrase)
		if err != nil {
			return fmt.Errorf("unlocking private key: %w", err)
		}
		var plain bytes.Buffer
		if err := dec.Decrypt(&data, &plain); err != nil {
			return fmt.Errorf("decrypting snapshot %s: %w", name, err)
		}
		r = &plain
	}

	n, err := fs.WriteAtomic(destPath, r)
	if err != nil {
		return fmt.Errorf("writing snapshot %s: %w", name, err)
	}
	a.logger.Info("snapshot restored", "name", name, "path", destPath, "size", n)
	return nil
}
