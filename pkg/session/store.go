// Package session persists the login settings in a .env file.
package session

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const (
	// MnemonicFileKey is the path of the file holding the BIP39 mnemonic.
	MnemonicFileKey = "MNEMONIC_FILE"
	// MnemonicPassphraseKey is the optional BIP39 passphrase.
	MnemonicPassphraseKey = "MNEMONIC_PASSPHRASE"
	// KeystorePasswordKey encrypts exported keystores.
	KeystorePasswordKey = "KEYSTORE_PASSWORD"
	// NetworkKey is the default network name.
	NetworkKey = "NETWORK"
	// BeaconURLKey is the default beacon node URL.
	BeaconURLKey = "BEACON_URL"

	DefaultNetwork = "mainnet"
)

// ErrNotLoggedIn is returned when no mnemonic file is configured.
var ErrNotLoggedIn = errors.New("no session, run login first")

// Store is a key-value view of the .env file. Environment variables with the
// same names take precedence over file values.
type Store struct {
	vip  *viper.Viper
	path string
}

// Load reads path if it exists. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	vip := viper.New()
	vip.SetConfigFile(path)
	vip.SetConfigType("env")
	vip.AutomaticEnv()
	vip.SetDefault(NetworkKey, DefaultNetwork)

	if _, err := os.Stat(path); err == nil {
		if err := vip.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}

	return &Store{vip: vip, path: path}, nil
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value for key.
func (s *Store) Get(key string) string {
	return s.vip.GetString(key)
}

// Set stores value for key until Save.
func (s *Store) Set(key, value string) {
	s.vip.Set(key, value)
}

// Save writes the store back to its file, readable by the owner only. Values
// are quoted where needed so that Load returns them unchanged.
func (s *Store) Save() error {
	keys := s.vip.AllKeys()
	sort.Strings(keys)

	var b strings.Builder

	for _, k := range keys {
		key := strings.ToUpper(k)

		line, err := encodeLine(key, s.vip.GetString(k))
		if err != nil {
			return err
		}

		b.WriteString(line)
		b.WriteByte('\n')
	}

	if err := os.WriteFile(s.path, []byte(b.String()), 0o600); err != nil {
		return errors.Wrapf(err, "failed to write %s", s.path)
	}

	if err := os.Chmod(s.path, 0o600); err != nil {
		return errors.Wrapf(err, "failed to chmod %s", s.path)
	}

	return nil
}

var doubleQuoteEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`$`, `\$`,
	"\n", `\n`,
	"\r", `\r`,
)

// encodeLine renders key=value in the first form the dotenv parser reads back
// as value: bare, single quoted, then double quoted with escapes.
func encodeLine(key, value string) (string, error) {
	candidates := []string{
		value,
		"'" + value + "'",
		`"` + doubleQuoteEscaper.Replace(value) + `"`,
	}

	for _, c := range candidates {
		line := fmt.Sprintf("%s=%s", key, c)

		env, err := gotenv.Unmarshal(line)
		if err != nil || len(env) != 1 {
			continue
		}

		if got, ok := env[key]; ok && got == value {
			return line, nil
		}
	}

	return "", errors.Errorf("value of %s cannot be stored in a .env file", key)
}

// Session is the resolved login state.
type Session struct {
	MnemonicFile       string
	MnemonicPassphrase string
	KeystorePassword   string
	Network            string
	BeaconURL          string
}

// Session returns the stored login state.
func (s *Store) Session() (Session, error) {
	sess := Session{
		MnemonicFile:       s.Get(MnemonicFileKey),
		MnemonicPassphrase: s.Get(MnemonicPassphraseKey),
		KeystorePassword:   s.Get(KeystorePasswordKey),
		Network:            s.Get(NetworkKey),
		BeaconURL:          s.Get(BeaconURLKey),
	}

	if sess.MnemonicFile == "" {
		return Session{}, ErrNotLoggedIn
	}

	return sess, nil
}

// SetSession stores every field of sess.
func (s *Store) SetSession(sess Session) {
	s.Set(MnemonicFileKey, sess.MnemonicFile)
	s.Set(MnemonicPassphraseKey, sess.MnemonicPassphrase)
	s.Set(KeystorePasswordKey, sess.KeystorePassword)
	s.Set(NetworkKey, sess.Network)
	s.Set(BeaconURLKey, sess.BeaconURL)
}

// ReadMnemonic returns the whitespace-normalised mnemonic in path.
func ReadMnemonic(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to read mnemonic file")
	}

	mnemonic := strings.Join(strings.Fields(string(raw)), " ")
	if mnemonic == "" {
		return "", errors.Errorf("mnemonic file %s is empty", path)
	}

	return mnemonic, nil
}
