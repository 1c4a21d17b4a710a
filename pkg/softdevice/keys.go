package softdevice

import (
	"context"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
	"github.com/prysmaticlabs/prysm/v5/crypto/bls"
	util "github.com/wealdtech/go-eth2-util"

	"github.com/ethpandaops/validator-deposits/pkg/device"
	"github.com/ethpandaops/validator-deposits/pkg/hdpath"
)

// DerivePublicKey returns the compressed public key at path.
func (d *Device) DerivePublicKey(ctx context.Context, path hdpath.Path, scheme device.KeyScheme) ([]byte, error) {
	release, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}

	log.WithField("path", path.String()).WithField("scheme", scheme.String()).Debug("Deriving public key")

	pubkey, err := d.derivePublicKey(path, scheme)
	if err = release(err); err != nil {
		return nil, err
	}

	return pubkey, nil
}

func (d *Device) derivePublicKey(path hdpath.Path, scheme device.KeyScheme) ([]byte, error) {
	switch scheme {
	case device.SchemeBLS12381G1:
		sk, err := d.blsKey(path)
		if err != nil {
			return nil, err
		}

		return sk.PublicKey().Marshal(), nil
	case device.SchemeSecp256k1:
		return d.secp256k1PublicKey(path)
	default:
		return nil, errors.Wrap(device.ErrUnsupportedScheme, scheme.String())
	}
}

// blsKey derives the EIP-2333 secret key at path.
func (d *Device) blsKey(path hdpath.Path) (bls.SecretKey, error) {
	key, err := util.PrivateKeyFromSeedAndPath(d.seed, path.String())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to derive BLS key at %s", path)
	}

	sk, err := bls.SecretKeyFromBytes(key.Marshal())
	if err != nil {
		return nil, errors.Wrap(err, "failed to load BLS key")
	}

	return sk, nil
}

func (d *Device) secp256k1PublicKey(path hdpath.Path) ([]byte, error) {
	key, err := hdkeychain.NewMaster(d.seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}

	for _, idx := range path.Indices() {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive secp256k1 key at %s", path)
		}
	}

	pub, err := key.ECPubKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get secp256k1 public key")
	}

	return pub.SerializeCompressed(), nil
}
