package cmd

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/validator-deposits/pkg/beacon"
	"github.com/ethpandaops/validator-deposits/pkg/network"
	"github.com/ethpandaops/validator-deposits/pkg/prompt"
	"github.com/ethpandaops/validator-deposits/pkg/workflow"
)

var beaconURL string

var credentialsChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Sign BLS to execution withdrawal credential changes",
	Long: `Signs BLSToExecutionChange messages moving validators from BLS (0x00) withdrawal
credentials to an execution address, and writes them for submission to a beacon node.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeCredentials(cmd.Context(), prompt.Stdio())
	},
}

func init() {
	credentialsCmd.AddCommand(credentialsChangeCmd)

	addDeviceFlags(credentialsChangeCmd)
	credentialsChangeCmd.Flags().StringVar(&beaconURL, "beacon", "", "Beacon node URL used to look up validators and submit changes, overrides the session")
}

func changeCredentials(ctx context.Context, ui workflow.UI) error {
	sess, err := loadSession()
	if err != nil {
		return err
	}

	n, err := resolveNetwork(sess)
	if err != nil {
		return err
	}

	url := sess.BeaconURL
	if beaconURL != "" {
		url = beaconURL
	}

	var node workflow.BeaconNode

	if url != "" {
		api := beacon.NewBeaconAPI(url)
		if err := checkGenesis(ctx, api, n); err != nil {
			return err
		}

		node = api
	}

	dev, err := openDevice(sess, ui)
	if err != nil {
		return err
	}
	defer dev.Close()

	result, err := workflow.NewCredentialChangeBatch(workflowConfig(dev, ui, n), node, url).Run(ctx)
	if err != nil {
		return errors.Wrap(err, "credential change batch failed")
	}

	log.WithFields(logrus.Fields{
		"network":   n.Name,
		"changes":   len(result.Records),
		"file":      result.File,
		"submitted": result.Submitted,
	}).Info("Credential change batch finished")

	return nil
}

// checkGenesis refuses a beacon node that follows a different chain than n.
func checkGenesis(ctx context.Context, api *beacon.BeaconAPI, n network.Network) error {
	genesis, err := api.FetchGenesis(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to fetch genesis from beacon node")
	}

	if !strings.EqualFold(strings.TrimPrefix(genesis.GenesisForkVersion, "0x"), n.ForkVersionHex()) {
		return errors.Errorf("beacon node genesis fork version %s does not match %s (0x%s)",
			genesis.GenesisForkVersion, n.Name, n.ForkVersionHex())
	}

	return nil
}
