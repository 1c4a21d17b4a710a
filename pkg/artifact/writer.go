// Package artifact writes a finished batch to disk: one EIP-2335 keystore per
// validator and one aggregate JSON array.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/validator-deposits/pkg/deposit"
	"github.com/ethpandaops/validator-deposits/pkg/device"
)

// DefaultOutputDir is offered when prompting for the output directory.
const DefaultOutputDir = "./deposit-data"

// KeystoreFilename returns validator-{index}-{pubkey}-{timestamp}.json.
func KeystoreFilename(index int, pubkey string, timestamp int64) string {
	return fmt.Sprintf("validator-%d-%s-%d.json", index, strings.TrimPrefix(pubkey, "0x"), timestamp)
}

// AggregateFilename returns deposit-data-{timestamp}.json or
// deposit-calldata-{timestamp}.json.
func AggregateFilename(kind deposit.ExportFormat, timestamp int64) string {
	return fmt.Sprintf("%s-%d.json", kind, timestamp)
}

// CredentialChangesFilename returns bls_to_execution_change-{timestamp}.json.
func CredentialChangesFilename(timestamp int64) string {
	return fmt.Sprintf("bls_to_execution_change-%d.json", timestamp)
}

// WriteKeystore writes an encrypted keystore blob unchanged.
func WriteKeystore(dir string, index int, pubkey string, timestamp int64, blob []byte) (string, error) {
	path := filepath.Join(dir, KeystoreFilename(index, pubkey, timestamp))

	if err := writeAtomic(dir, path, blob); err != nil {
		return "", errors.Wrap(err, "failed to write keystore")
	}

	log.WithFields(logrus.Fields{"index": index, "path": path}).Debug("Wrote keystore")

	return path, nil
}

// WriteAggregate writes the deposit records of one export kind as a JSON array
// in insertion order.
func WriteAggregate(dir string, kind deposit.ExportFormat, timestamp int64, records []*deposit.Artifact) (string, error) {
	out := make([]any, 0, len(records))

	for i, r := range records {
		if r.Format != kind {
			return "", errors.Errorf("record %d is %s, expected %s", i, r.Format, kind)
		}

		out = append(out, r.Record())
	}

	path := filepath.Join(dir, AggregateFilename(kind, timestamp))

	if err := writeJSON(dir, path, out); err != nil {
		return "", errors.Wrap(err, "failed to write deposit file")
	}

	log.WithFields(logrus.Fields{"records": len(out), "path": path}).Debug("Wrote deposit file")

	return path, nil
}

// WriteCredentialChanges writes signed credential changes as a JSON array.
func WriteCredentialChanges(dir string, timestamp int64, changes []*device.SignedCredentialChange) (string, error) {
	path := filepath.Join(dir, CredentialChangesFilename(timestamp))

	if err := writeJSON(dir, path, changes); err != nil {
		return "", errors.Wrap(err, "failed to write credential changes")
	}

	log.WithFields(logrus.Fields{"changes": len(changes), "path": path}).Debug("Wrote credential changes")

	return path, nil
}

func writeJSON(dir, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal")
	}

	return writeAtomic(dir, path, data)
}

// writeAtomic creates dir if needed and renames a fully written temp file into
// place, so path either holds all of data or does not exist.
func writeAtomic(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return errors.Wrap(err, "failed to write temp file")
	}

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()

		return errors.Wrap(err, "failed to chmod temp file")
	}

	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "failed to move file into place")
	}

	return nil
}
