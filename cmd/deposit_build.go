package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/validator-deposits/pkg/prompt"
	"github.com/ethpandaops/validator-deposits/pkg/workflow"
)

var depositBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Generate keystores and signed deposits",
	Long: `Exports an encrypted keystore and signs a deposit for consecutive validators,
then writes the keystores and one deposit data or calldata file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return buildDeposits(cmd.Context(), prompt.Stdio())
	},
}

func init() {
	depositCmd.AddCommand(depositBuildCmd)

	addDeviceFlags(depositBuildCmd)
}

func buildDeposits(ctx context.Context, ui workflow.UI) error {
	sess, err := loadSession()
	if err != nil {
		return err
	}

	n, err := resolveNetwork(sess)
	if err != nil {
		return err
	}

	dev, err := openDevice(sess, ui)
	if err != nil {
		return err
	}
	defer dev.Close()

	result, err := workflow.NewDepositBatch(workflowConfig(dev, ui, n)).Run(ctx)
	if err != nil {
		return errors.Wrap(err, "deposit batch failed")
	}

	log.WithFields(logrus.Fields{
		"network":    n.Name,
		"validators": len(result.Records),
		"dir":        result.Dir,
	}).Info("Deposit batch finished")

	return nil
}
