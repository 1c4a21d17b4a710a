package softdevice

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	keystorev4 "github.com/wealdtech/go-eth2-wallet-encryptor-keystorev4"

	"github.com/ethpandaops/validator-deposits/pkg/device"
	"github.com/ethpandaops/validator-deposits/pkg/hdpath"
)

// keystore is the EIP-2335 container.
type keystore struct {
	Crypto      map[string]any `json:"crypto"`
	Description string         `json:"description"`
	PubKey      string         `json:"pubkey"`
	Path        string         `json:"path"`
	UUID        string         `json:"uuid"`
	Version     uint           `json:"version"`
}

// ExportEncryptedKeystore encrypts the BLS key at path with the configured
// keystore password.
func (d *Device) ExportEncryptedKeystore(ctx context.Context, path hdpath.Path) ([]byte, error) {
	release, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}

	blob, err := d.exportKeystore(ctx, path)
	if err = release(err); err != nil {
		return nil, err
	}

	return blob, nil
}

func (d *Device) exportKeystore(ctx context.Context, path hdpath.Path) ([]byte, error) {
	if d.password == "" {
		return nil, device.ErrEncryptionNotConfigured
	}

	if err := d.approve(ctx, Request{Operation: "export keystore", Path: path}); err != nil {
		return nil, err
	}

	sk, err := d.blsKey(path)
	if err != nil {
		return nil, err
	}

	log.WithField("path", path.String()).Debug("Encrypting keystore")

	encryptor := keystorev4.New()

	crypto, err := encryptor.Encrypt(sk.Marshal(), d.password)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt keystore")
	}

	blob, err := json.Marshal(&keystore{
		Crypto:  crypto,
		PubKey:  hex.EncodeToString(sk.PublicKey().Marshal()),
		Path:    path.String(),
		UUID:    uuid.New().String(),
		Version: encryptor.Version(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal keystore")
	}

	return blob, nil
}
