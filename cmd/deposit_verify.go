package cmd

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/validator-deposits/pkg/deposit"
)

var (
	verifyDepositPath            string
	verifyExpectedNetwork        string
	verifyExpectedAmount         uint64
	verifyExpectedWithdrawalCred string
	verifyExpectedCount          int
)

// Function signature type for verifyDeposits
type verifyDepositsFunc func() error

var verifyDeposits verifyDepositsFunc = func() error {
	depositData, err := deposit.NewDepositData(
		verifyDepositPath,
		verifyExpectedNetwork,
		verifyExpectedWithdrawalCred,
		verifyExpectedAmount,
		verifyExpectedCount,
	)
	if err != nil {
		return errors.Wrap(err, "failed to load deposits")
	}

	if err := depositData.Validate(); err != nil {
		return errors.Wrap(err, "failed to validate deposits")
	}

	if err := depositData.Verify(); err != nil {
		return errors.Wrap(err, "failed to verify deposits")
	}

	pubkeys := make([]string, len(depositData.DepositData))
	formats := map[string]int{}

	for i, d := range depositData.DepositData {
		pubkeys[i] = "0x" + d.Deposit.PubKey
		formats[d.Format.String()]++
	}

	log.WithFields(logrus.Fields{
		"deposit_count": len(depositData.DepositData),
		"formats":       formats,
	}).Info("✅ Successfully verified deposits")

	fmt.Printf("[\"%s\"]\n", strings.Join(pubkeys, "\", \""))

	return nil
}

var depositVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a deposit data or calldata file",
	Long:  `Verifies the format, contents and signatures of a written deposit-data or deposit-calldata file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return verifyDeposits()
	},
}

func init() {
	depositCmd.AddCommand(depositVerifyCmd)

	depositVerifyCmd.Flags().StringVar(&verifyDepositPath, "file", "", "Path to deposit-data or deposit-calldata JSON file")
	depositVerifyCmd.Flags().StringVar(&verifyExpectedNetwork, "network", "", "Expected network (required for calldata files)")
	depositVerifyCmd.Flags().Uint64Var(&verifyExpectedAmount, "amount", 32000000000, "Expected deposit amount in Gwei, 0 to skip (not allowed for calldata files)")
	depositVerifyCmd.Flags().StringVar(&verifyExpectedWithdrawalCred, "withdrawal-credentials", "", "Expected withdrawal credentials (hex)")
	depositVerifyCmd.Flags().IntVar(&verifyExpectedCount, "count", 0, "Expected number of deposits")

	err := depositVerifyCmd.MarkFlagRequired("file")
	if err != nil {
		log.WithError(err).Fatalf("Failed to mark flag %s as required", "file")
	}
}
