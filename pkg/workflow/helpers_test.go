package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	ethpb "github.com/prysmaticlabs/prysm/v5/proto/prysm/v1alpha1"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ethpandaops/validator-deposits/pkg/beacon"
	"github.com/ethpandaops/validator-deposits/pkg/credentials"
	"github.com/ethpandaops/validator-deposits/pkg/deposit"
	"github.com/ethpandaops/validator-deposits/pkg/device"
	"github.com/ethpandaops/validator-deposits/pkg/hdpath"
	"github.com/ethpandaops/validator-deposits/pkg/network"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testTime = time.UnixMilli(1700000000123)

// step is one scripted answer. A nil value accepts the prompt's default.
type step struct {
	kind  string
	value any
}

func input(v string) step        { return step{kind: "input", value: v} }
func inputDefault() step         { return step{kind: "input"} }
func confirm(v bool) step        { return step{kind: "confirm", value: v} }
func choose(i int) step          { return step{kind: "select", value: i} }
func number(n int64) step        { return step{kind: "number", value: n} }
func numberDefault() step        { return step{kind: "number"} }
func interrupt(kind string) step { return step{kind: kind, value: ErrAborted} }

// scriptedUI answers prompts from a fixed script and records all output.
type scriptedUI struct {
	t *testing.T

	mu      sync.Mutex
	steps   []step
	labels  []string
	info    []string
	success []string
	warn    []string
	errs    []string
}

func newScriptedUI(t *testing.T, steps ...step) *scriptedUI {
	t.Helper()

	return &scriptedUI{t: t, steps: steps}
}

func (s *scriptedUI) next(kind, label string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.labels = append(s.labels, label)

	if len(s.steps) == 0 {
		s.t.Errorf("unexpected %s prompt %q: script exhausted", kind, label)

		return nil, ErrAborted
	}

	st := s.steps[0]
	s.steps = s.steps[1:]

	if st.kind != kind {
		s.t.Errorf("prompt %q: expected a %s step, script has %s", label, kind, st.kind)

		return nil, ErrAborted
	}

	if err, ok := st.value.(error); ok {
		return nil, err
	}

	return st.value, nil
}

func (s *scriptedUI) Input(label, def string) (string, error) {
	v, err := s.next("input", label)
	if err != nil {
		return "", err
	}

	if v == nil {
		return def, nil
	}

	return v.(string), nil
}

func (s *scriptedUI) Password(label string) (string, error) {
	v, err := s.next("password", label)
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (s *scriptedUI) Confirm(label string, _ bool) (bool, error) {
	v, err := s.next("confirm", label)
	if err != nil {
		return false, err
	}

	return v.(bool), nil
}

func (s *scriptedUI) Select(label string, _ []string) (int, error) {
	v, err := s.next("select", label)
	if err != nil {
		return 0, err
	}

	return v.(int), nil
}

func (s *scriptedUI) Number(label string, def int64) (int64, error) {
	v, err := s.next("number", label)
	if err != nil {
		return 0, err
	}

	if v == nil {
		return def, nil
	}

	return v.(int64), nil
}

func (s *scriptedUI) Info(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info = append(s.info, msg)
}

func (s *scriptedUI) Success(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.success = append(s.success, msg)
}

func (s *scriptedUI) Warn(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.warn = append(s.warn, msg)
}

func (s *scriptedUI) Error(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errs = append(s.errs, msg)
}

// done fails the test if script steps were left unused.
func (s *scriptedUI) done() {
	s.t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	require.Empty(s.t, s.steps, "unused script steps")
}

// fakeGateway is a deterministic device. Queued errors are returned, in order,
// by the next calls of the matching operation.
type fakeGateway struct {
	mu sync.Mutex

	exportErrs []error
	deriveErrs []error
	signErrs   []error
	changeErrs []error

	// badCalldata makes the next calldata signature truncated.
	badCalldata int

	calls []string
}

func (f *fakeGateway) record(call string) {
	f.calls = append(f.calls, call)
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}

	err := (*errs)[0]
	*errs = (*errs)[1:]

	return err
}

func fakePubkey(path hdpath.Path) []byte {
	a := sha256.Sum256([]byte(path.String()))
	b := sha256.Sum256(a[:])

	return append(a[:], b[:16]...)
}

func (f *fakeGateway) DerivePublicKey(_ context.Context, path hdpath.Path, scheme device.KeyScheme) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("derive " + path.String())

	if err := popErr(&f.deriveErrs); err != nil {
		return nil, err
	}

	if scheme != device.SchemeBLS12381G1 {
		return nil, device.ErrUnsupportedScheme
	}

	return fakePubkey(path), nil
}

func (f *fakeGateway) ExportEncryptedKeystore(_ context.Context, path hdpath.Path) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("export " + path.String())

	if err := popErr(&f.exportErrs); err != nil {
		return nil, err
	}

	return []byte(fmt.Sprintf(`{"path":%q,"version":4}`, path.String())), nil
}

func (f *fakeGateway) SignDepositMessage(
	_ context.Context,
	path hdpath.Path,
	creds credentials.WithdrawalCredential,
	amountGwei uint64,
	n network.Network,
	format deposit.ExportFormat,
) (*deposit.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("sign " + path.String())

	if err := popErr(&f.signErrs); err != nil {
		return nil, err
	}

	pubkey := fakePubkey(path)
	wc := creds.Bytes()

	if format == deposit.FormatCalldata {
		raw, err := deposit.EncodeCalldata(&ethpb.Deposit_Data{
			PublicKey:             pubkey,
			WithdrawalCredentials: wc[:],
			Amount:                amountGwei,
			Signature:             make([]byte, 96),
		})
		if err != nil {
			return nil, err
		}

		if f.badCalldata > 0 {
			f.badCalldata--
			raw = raw[:40]
		}

		return &deposit.Artifact{Format: format, Calldata: &deposit.Calldata{Calldata: hexutil.Encode(raw)}}, nil
	}

	return &deposit.Artifact{
		Format: format,
		Data: &deposit.Deposit{
			PubKey:                hex.EncodeToString(pubkey),
			WithdrawalCredentials: creds.Hex(),
			Amount:                amountGwei,
			NetworkName:           n.Name,
			ForkVersion:           n.ForkVersionHex(),
		},
	}, nil
}

func (f *fakeGateway) SignCredentialChange(
	_ context.Context,
	withdrawalPath hdpath.Path,
	executionAddress string,
	validatorIndex uint64,
	_ network.Network,
) (*device.SignedCredentialChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("change " + withdrawalPath.String())

	if err := popErr(&f.changeErrs); err != nil {
		return nil, err
	}

	return &device.SignedCredentialChange{
		Message: device.CredentialChange{
			ValidatorIndex:     strconv.FormatUint(validatorIndex, 10),
			FromBLSPubkey:      hexutil.Encode(fakePubkey(withdrawalPath)),
			ToExecutionAddress: executionAddress,
		},
		Signature: hexutil.Encode(make([]byte, 96)),
	}, nil
}

// fakeBeacon serves validators keyed by 0x pubkey.
type fakeBeacon struct {
	mu         sync.Mutex
	validators map[string]*beacon.ValidatorInfo
	submitted  []*device.SignedCredentialChange
	submitErr  error
}

func (f *fakeBeacon) Validator(_ context.Context, id string) (*beacon.ValidatorInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.validators[id]
	if !ok {
		return nil, errors.Wrap(beacon.ErrValidatorNotFound, id)
	}

	return v, nil
}

func (f *fakeBeacon) SubmitBLSToExecutionChanges(_ context.Context, changes []*device.SignedCredentialChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitErr != nil {
		return f.submitErr
	}

	f.submitted = append(f.submitted, changes...)

	return nil
}

func testConfig(t *testing.T, gw device.Gateway, ui UI) Config {
	t.Helper()

	n, err := network.ByName("holesky")
	require.NoError(t, err)

	return Config{
		Device:  gw,
		UI:      ui,
		Network: n,
		Clock:   clockwork.NewFakeClockAt(testTime),
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}

	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names
}
