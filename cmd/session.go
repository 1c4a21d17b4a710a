package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/validator-deposits/pkg/network"
	"github.com/ethpandaops/validator-deposits/pkg/session"
	"github.com/ethpandaops/validator-deposits/pkg/softdevice"
	"github.com/ethpandaops/validator-deposits/pkg/workflow"
)

var (
	networkName     string
	deviceTimeout   time.Duration
	requireApproval bool
	outputDir       string
)

// addDeviceFlags registers the flags shared by commands that drive the device.
func addDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&networkName, "network", "", "Network name, overrides the session (mainnet, holesky, sepolia)")
	cmd.Flags().DurationVar(&deviceTimeout, "device-timeout", workflow.DefaultDeviceTimeout, "Timeout for a single device request")
	cmd.Flags().BoolVar(&requireApproval, "require-approval", false, "Ask for approval before every device signature or export")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Default output directory offered at the end of a batch")
}

// loadSession reads the session written by login.
func loadSession() (session.Session, error) {
	store, err := session.Load(envFile)
	if err != nil {
		return session.Session{}, err
	}

	sess, err := store.Session()
	if err != nil {
		return session.Session{}, errors.Wrapf(err, "failed to load session from %s", store.Path())
	}

	return sess, nil
}

func resolveNetwork(sess session.Session) (network.Network, error) {
	name := sess.Network
	if networkName != "" {
		name = networkName
	}

	return network.ByName(name)
}

// openDevice opens the in-process signing device for sess.
func openDevice(sess session.Session, ui workflow.UI) (*softdevice.Device, error) {
	mnemonic, err := session.ReadMnemonic(sess.MnemonicFile)
	if err != nil {
		return nil, err
	}

	cfg := softdevice.Config{
		Mnemonic:         mnemonic,
		Passphrase:       sess.MnemonicPassphrase,
		KeystorePassword: sess.KeystorePassword,
	}

	if requireApproval {
		cfg.Approver = promptApprover(ui)
	}

	dev, err := softdevice.Open(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open signing device")
	}

	return dev, nil
}

// promptApprover asks the operator to approve each device request.
func promptApprover(ui workflow.UI) softdevice.Approver {
	return softdevice.ApproverFunc(func(_ context.Context, req softdevice.Request) (bool, error) {
		if req.Summary != "" {
			ui.Info(req.Summary)
		}

		return ui.Confirm(fmt.Sprintf("Approve %s for %s on the device?", req.Operation, req.Path), false)
	})
}

func workflowConfig(dev *softdevice.Device, ui workflow.UI, n network.Network) workflow.Config {
	return workflow.Config{
		Device:        dev,
		UI:            ui,
		Network:       n,
		DeviceTimeout: deviceTimeout,
		OutputDir:     outputDir,
	}
}
