package softdevice_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/prysmaticlabs/prysm/v5/beacon-chain/core/signing"
	"github.com/prysmaticlabs/prysm/v5/config/params"
	"github.com/prysmaticlabs/prysm/v5/consensus-types/primitives"
	"github.com/prysmaticlabs/prysm/v5/crypto/bls"
	ethpb "github.com/prysmaticlabs/prysm/v5/proto/prysm/v1alpha1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	keystorev4 "github.com/wealdtech/go-eth2-wallet-encryptor-keystorev4"

	"github.com/ethpandaops/validator-deposits/pkg/credentials"
	"github.com/ethpandaops/validator-deposits/pkg/deposit"
	"github.com/ethpandaops/validator-deposits/pkg/device"
	"github.com/ethpandaops/validator-deposits/pkg/hdpath"
	"github.com/ethpandaops/validator-deposits/pkg/network"
	"github.com/ethpandaops/validator-deposits/pkg/softdevice"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func openDevice(t *testing.T, cfg softdevice.Config) *softdevice.Device {
	t.Helper()

	if cfg.Mnemonic == "" {
		cfg.Mnemonic = testMnemonic
	}

	d, err := softdevice.Open(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = d.Close() })

	return d
}

func holesky(t *testing.T) network.Network {
	t.Helper()

	n, err := network.ByName("holesky")
	require.NoError(t, err)

	return n
}

func TestOpenInvalidMnemonic(t *testing.T) {
	_, err := softdevice.Open(softdevice.Config{Mnemonic: "abandon abandon"})
	require.Error(t, err)
}

func TestDerivePublicKey(t *testing.T) {
	ctx := context.Background()
	d := openDevice(t, softdevice.Config{})

	first, err := d.DerivePublicKey(ctx, hdpath.SigningPath(0), device.SchemeBLS12381G1)
	require.NoError(t, err)
	assert.Len(t, first, 48)

	again, err := d.DerivePublicKey(ctx, hdpath.SigningPath(0), device.SchemeBLS12381G1)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	second, err := d.DerivePublicKey(ctx, hdpath.SigningPath(1), device.SchemeBLS12381G1)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	withdrawal, err := d.DerivePublicKey(ctx, hdpath.WithdrawalPath(0), device.SchemeBLS12381G1)
	require.NoError(t, err)
	assert.NotEqual(t, first, withdrawal)
}

func TestDerivePublicKeySecp256k1(t *testing.T) {
	d := openDevice(t, softdevice.Config{})

	pub, err := d.DerivePublicKey(context.Background(), hdpath.DefaultSecp256k1Path, device.SchemeSecp256k1)
	require.NoError(t, err)
	require.Len(t, pub, 33)

	key, err := crypto.DecompressPubkey(pub)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", crypto.PubkeyToAddress(*key).Hex())
}

func TestDerivePublicKeyUnsupported(t *testing.T) {
	d := openDevice(t, softdevice.Config{})

	_, err := d.DerivePublicKey(context.Background(), hdpath.DefaultEd25519Path, device.SchemeEd25519)
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrUnsupportedScheme))
}

func TestExportEncryptedKeystore(t *testing.T) {
	ctx := context.Background()

	t.Run("not configured", func(t *testing.T) {
		d := openDevice(t, softdevice.Config{})

		_, err := d.ExportEncryptedKeystore(ctx, hdpath.SigningPath(0))
		require.Error(t, err)
		assert.True(t, errors.Is(err, device.ErrEncryptionNotConfigured))
	})

	t.Run("encrypts signing key", func(t *testing.T) {
		d := openDevice(t, softdevice.Config{KeystorePassword: "testpassword"})

		pubkey, err := d.DerivePublicKey(ctx, hdpath.SigningPath(3), device.SchemeBLS12381G1)
		require.NoError(t, err)

		blob, err := d.ExportEncryptedKeystore(ctx, hdpath.SigningPath(3))
		require.NoError(t, err)

		var ks struct {
			Crypto  map[string]any `json:"crypto"`
			PubKey  string         `json:"pubkey"`
			Path    string         `json:"path"`
			UUID    string         `json:"uuid"`
			Version uint           `json:"version"`
		}
		require.NoError(t, json.Unmarshal(blob, &ks))

		assert.Equal(t, hex.EncodeToString(pubkey), ks.PubKey)
		assert.Equal(t, "m/12381/3600/3/0/0", ks.Path)
		assert.Equal(t, uint(4), ks.Version)
		assert.NotEmpty(t, ks.UUID)

		secret, err := keystorev4.New().Decrypt(ks.Crypto, "testpassword")
		require.NoError(t, err)

		sk, err := bls.SecretKeyFromBytes(secret)
		require.NoError(t, err)
		assert.Equal(t, pubkey, sk.PublicKey().Marshal())
	})
}

func TestSignDepositMessage(t *testing.T) {
	ctx := context.Background()
	d := openDevice(t, softdevice.Config{})
	n := holesky(t)

	creds, err := credentials.NewETH1Credential("0x1111111111111111111111111111111111111111")
	require.NoError(t, err)

	t.Run("deposit data", func(t *testing.T) {
		artifact, err := d.SignDepositMessage(ctx, hdpath.SigningPath(0), creds, 32000000000, n, deposit.FormatDepositData)
		require.NoError(t, err)
		require.Equal(t, deposit.FormatDepositData, artifact.Format)
		require.NotNil(t, artifact.Data)

		pubkey, err := d.DerivePublicKey(ctx, hdpath.SigningPath(0), device.SchemeBLS12381G1)
		require.NoError(t, err)

		assert.Equal(t, hex.EncodeToString(pubkey), artifact.PubKey())
		assert.Equal(t, creds.Hex(), artifact.Data.WithdrawalCredentials)
		assert.Equal(t, uint64(32000000000), artifact.Data.Amount)
		assert.Equal(t, "holesky", artifact.Data.NetworkName)
		assert.Equal(t, "01017000", artifact.Data.ForkVersion)

		sig, err := hex.DecodeString(artifact.Data.Signature)
		require.NoError(t, err)

		wc := creds.Bytes()
		ok, err := deposit.IsValidDepositSignature(&ethpb.Deposit_Data{
			PublicKey:             pubkey,
			WithdrawalCredentials: wc[:],
			Amount:                32000000000,
			Signature:             sig,
		}, n.GenesisForkVersion[:])
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("calldata", func(t *testing.T) {
		artifact, err := d.SignDepositMessage(ctx, hdpath.SigningPath(1), creds, 32000000000, n, deposit.FormatCalldata)
		require.NoError(t, err)
		require.Equal(t, deposit.FormatCalldata, artifact.Format)
		require.NotNil(t, artifact.Calldata)

		args, err := deposit.DecodeCalldataHex(artifact.Calldata.Calldata)
		require.NoError(t, err)
		assert.Len(t, args.PubKey, 48)

		wc := creds.Bytes()
		assert.Equal(t, wc[:], args.WithdrawalCredentials)

		root, err := args.DepositData(32000000000).HashTreeRoot()
		require.NoError(t, err)
		assert.Equal(t, root, args.DepositDataRoot)
	})

	t.Run("zero amount", func(t *testing.T) {
		_, err := d.SignDepositMessage(ctx, hdpath.SigningPath(0), creds, 0, n, deposit.FormatDepositData)
		require.Error(t, err)
	})
}

func TestSignCredentialChange(t *testing.T) {
	ctx := context.Background()
	d := openDevice(t, softdevice.Config{})
	n := holesky(t)

	change, err := d.SignCredentialChange(ctx, hdpath.WithdrawalPath(0), "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01", 42, n)
	require.NoError(t, err)

	withdrawalKey, err := d.DerivePublicKey(ctx, hdpath.WithdrawalPath(0), device.SchemeBLS12381G1)
	require.NoError(t, err)

	assert.Equal(t, "42", change.Message.ValidatorIndex)
	assert.Equal(t, hexutil.Encode(withdrawalKey), change.Message.FromBLSPubkey)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", change.Message.ToExecutionAddress)

	addr, err := credentials.ParseEth1Address(change.Message.ToExecutionAddress)
	require.NoError(t, err)

	domain, err := signing.ComputeDomain(params.BeaconConfig().DomainBLSToExecutionChange, n.GenesisForkVersion[:], n.GenesisValidatorsRoot[:])
	require.NoError(t, err)

	root, err := signing.ComputeSigningRoot(&ethpb.BLSToExecutionChange{
		ValidatorIndex:     primitives.ValidatorIndex(42),
		FromBlsPubkey:      withdrawalKey,
		ToExecutionAddress: addr.Bytes(),
	}, domain)
	require.NoError(t, err)

	sigBytes, err := hexutil.Decode(change.Signature)
	require.NoError(t, err)

	sig, err := bls.SignatureFromBytes(sigBytes)
	require.NoError(t, err)

	pub, err := bls.PublicKeyFromBytes(withdrawalKey)
	require.NoError(t, err)
	assert.True(t, sig.Verify(pub, root[:]))

	_, err = d.SignCredentialChange(ctx, hdpath.WithdrawalPath(0), "0x123", 42, n)
	assert.True(t, errors.Is(err, credentials.ErrInvalidAddress))

	_, err = d.SignCredentialChange(ctx, hdpath.DefaultSecp256k1Path, "0x1111111111111111111111111111111111111111", 42, n)
	assert.Error(t, err)
}

func TestDeviceFailures(t *testing.T) {
	n := holesky(t)

	creds, err := credentials.NewETH1Credential("0x1111111111111111111111111111111111111111")
	require.NoError(t, err)

	t.Run("declined on device", func(t *testing.T) {
		var requests []softdevice.Request

		d := openDevice(t, softdevice.Config{
			Approver: softdevice.ApproverFunc(func(_ context.Context, req softdevice.Request) (bool, error) {
				requests = append(requests, req)

				return false, nil
			}),
		})

		_, err := d.SignDepositMessage(context.Background(), hdpath.SigningPath(0), creds, 32000000000, n, deposit.FormatDepositData)
		require.Error(t, err)
		assert.True(t, errors.Is(err, device.ErrDeviceDeclined))
		require.Len(t, requests, 1)
		assert.Equal(t, "sign deposit", requests[0].Operation)
		assert.Equal(t, "m/12381/3600/0/0/0", requests[0].Path.String())
	})

	t.Run("closed", func(t *testing.T) {
		d := openDevice(t, softdevice.Config{})
		require.NoError(t, d.Close())

		_, err := d.DerivePublicKey(context.Background(), hdpath.SigningPath(0), device.SchemeBLS12381G1)
		assert.True(t, errors.Is(err, device.ErrDeviceUnavailable))
	})

	t.Run("cancelled context", func(t *testing.T) {
		d := openDevice(t, softdevice.Config{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := d.DerivePublicKey(ctx, hdpath.SigningPath(0), device.SchemeBLS12381G1)
		assert.True(t, errors.Is(err, device.ErrDeviceUnavailable))
	})

	t.Run("context expires during approval", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		d := openDevice(t, softdevice.Config{
			Approver: softdevice.ApproverFunc(func(_ context.Context, _ softdevice.Request) (bool, error) {
				cancel()

				return true, nil
			}),
		})

		_, err := d.SignDepositMessage(ctx, hdpath.SigningPath(0), creds, 32000000000, n, deposit.FormatDepositData)
		assert.True(t, errors.Is(err, device.ErrDeviceUnavailable))
	})
}

func TestDeviceSignalsApprovalWait(t *testing.T) {
	var events []string

	d := openDevice(t, softdevice.Config{
		KeystorePassword: "secret",
		Approver: softdevice.ApproverFunc(func(_ context.Context, _ softdevice.Request) (bool, error) {
			events = append(events, "approve")

			return true, nil
		}),
	})

	ctx := device.WithApprovalHook(context.Background(), func() func() {
		events = append(events, "wait")

		return func() { events = append(events, "resume") }
	})

	_, err := d.ExportEncryptedKeystore(ctx, hdpath.SigningPath(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"wait", "approve", "resume"}, events)

	events = nil

	_, err = d.DerivePublicKey(ctx, hdpath.SigningPath(0), device.SchemeBLS12381G1)
	require.NoError(t, err)
	assert.Empty(t, events)
}
