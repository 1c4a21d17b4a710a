package cmd

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/validator-deposits/pkg/network"
	"github.com/ethpandaops/validator-deposits/pkg/prompt"
	"github.com/ethpandaops/validator-deposits/pkg/session"
	"github.com/ethpandaops/validator-deposits/pkg/softdevice"
	"github.com/ethpandaops/validator-deposits/pkg/workflow"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Connect to the signing device and save the session",
	Long: `Prompts for the mnemonic backing the signing device and the keystore
encryption password, checks that the device opens, and saves the session to the env file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return login(prompt.Stdio())
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

// Function signature type for login
type loginFunc func(ui workflow.UI) error

var login loginFunc = func(ui workflow.UI) error {
	store, err := session.Load(envFile)
	if err != nil {
		return err
	}

	sess := session.Session{}

	sess.MnemonicFile, err = ui.Input("Mnemonic file", store.Get(session.MnemonicFileKey))
	if err != nil {
		return err
	}

	mnemonic, err := session.ReadMnemonic(sess.MnemonicFile)
	if err != nil {
		return err
	}

	sess.MnemonicPassphrase, err = ui.Password("Mnemonic passphrase (empty for none)")
	if err != nil {
		return err
	}

	sess.KeystorePassword, err = keystorePassword(ui)
	if err != nil {
		return err
	}

	names := network.Names()

	choice, err := ui.Select("Network", names)
	if err != nil {
		return err
	}

	sess.Network = names[choice]

	sess.BeaconURL, err = ui.Input("Beacon node URL (empty for none)", store.Get(session.BeaconURLKey))
	if err != nil {
		return err
	}

	dev, err := softdevice.Open(softdevice.Config{
		Mnemonic:         mnemonic,
		Passphrase:       sess.MnemonicPassphrase,
		KeystorePassword: sess.KeystorePassword,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open signing device")
	}

	dev.Close()

	store.SetSession(sess)

	if err := store.Save(); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"file":    store.Path(),
		"network": sess.Network,
	}).Debug("Session saved")

	ui.Success("Logged in, session saved to " + store.Path())

	if sess.KeystorePassword == "" {
		ui.Warn("No keystore encryption password set, keystore export will fail until you log in again with one")
	}

	return nil
}

// keystorePassword asks for the password twice until both answers match.
func keystorePassword(ui workflow.UI) (string, error) {
	for {
		password, err := ui.Password("Keystore encryption password (empty to disable keystore export)")
		if err != nil {
			return "", err
		}

		if password == "" {
			return "", nil
		}

		again, err := ui.Password("Confirm password")
		if err != nil {
			return "", err
		}

		if password == again {
			return password, nil
		}

		ui.Error("Passwords do not match")
	}
}
