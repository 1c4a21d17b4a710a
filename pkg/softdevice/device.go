// Package softdevice is an in-process signing device backed by a BIP39
// mnemonic. It implements device.Gateway and serialises every operation the
// way a hardware device would.
package softdevice

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
	e2types "github.com/wealdtech/go-eth2-types/v2"

	"github.com/ethpandaops/validator-deposits/pkg/device"
	"github.com/ethpandaops/validator-deposits/pkg/hdpath"
)

var initBLS sync.Once

// Request describes an operation awaiting on-device approval.
type Request struct {
	Operation string
	Path      hdpath.Path
	Summary   string
}

// Approver confirms signing requests, standing in for the device's buttons.
type Approver interface {
	Approve(ctx context.Context, req Request) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req Request) (bool, error)

// Approve calls f.
func (f ApproverFunc) Approve(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// Config opens a Device.
type Config struct {
	Mnemonic   string
	Passphrase string
	// KeystorePassword encrypts exported keystores. Empty means exports fail
	// with device.ErrEncryptionNotConfigured.
	KeystorePassword string
	// Approver is consulted before every signature and keystore export when set.
	Approver Approver
}

// Device holds the seed for the lifetime of a session.
type Device struct {
	mu       sync.Mutex
	seed     []byte
	password string
	approver Approver
	closed   bool
}

var _ device.Gateway = (*Device)(nil)

// Open validates the mnemonic and derives the seed.
func Open(cfg Config) (*Device, error) {
	var errInit error

	initBLS.Do(func() {
		errInit = e2types.InitBLS()
	})

	if errInit != nil {
		return nil, errors.Wrap(errInit, "failed to initialise BLS")
	}

	mnemonic := strings.Join(strings.Fields(cfg.Mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, cfg.Passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive seed")
	}

	log.Debug("Signing device opened")

	return &Device{
		seed:     seed,
		password: cfg.KeystorePassword,
		approver: cfg.Approver,
	}, nil
}

// Close wipes the seed. Later calls fail with device.ErrDeviceUnavailable.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.seed {
		d.seed[i] = 0
	}

	d.seed = nil
	d.closed = true

	return nil
}

// acquire locks the device for one operation. The returned func releases it
// and converts a context that expired meanwhile into ErrDeviceUnavailable.
func (d *Device) acquire(ctx context.Context) (func(error) error, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(device.ErrDeviceUnavailable, err.Error())
	}

	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()

		return nil, errors.Wrap(device.ErrDeviceUnavailable, "device closed")
	}

	return func(opErr error) error {
		d.mu.Unlock()

		if opErr != nil {
			return opErr
		}

		if err := ctx.Err(); err != nil {
			return errors.Wrap(device.ErrDeviceUnavailable, err.Error())
		}

		return nil
	}, nil
}

func (d *Device) approve(ctx context.Context, req Request) error {
	if d.approver == nil {
		return nil
	}

	resume := device.AwaitApproval(ctx)
	ok, err := d.approver.Approve(ctx, req)
	resume()

	if err != nil {
		return errors.Wrap(device.ErrDeviceUnavailable, err.Error())
	}

	if !ok {
		return errors.Wrapf(device.ErrDeviceDeclined, "%s at %s", req.Operation, req.Path)
	}

	return nil
}
