package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DorAlter/postguard/pkg/artifacts"
	"github.com/DorAlter/postguard/pkg/config"
	"github.com/DorAlter/postguard/pkg/ibe"
	"github.com/DorAlter/postguard/pkg/pkgclient"
	"github.com/DorAlter/postguard/pkg/unseal"
)

var (
	unsealID  string
	unsealUSK string
	unsealIn  string
	unsealOut string
)

var unsealCmd = &cobra.Command{
	Use:   "unseal",
	Short: "Unseal a stream, verifying the sender's signed attributes",
	Long: `unseal reads a sealed stream from --in (or stdin), decrypts it using the
user secret key issued for --id's hidden policy, verifies every signature
against the attributes the sender proved, and writes plaintext to --out
(or stdout).

Example:
  postguard unseal --id alice --user-secret-key alice.usk --in report.pdf.pg --out report.pdf`,
	RunE: runUnseal,
}

func init() {
	unsealCmd.Flags().StringVar(&unsealID, "id", "", "recipient identifier this stream was sealed to (required)")
	unsealCmd.Flags().StringVar(&unsealUSK, "user-secret-key", "", "file containing the recipient's user secret key, from \"postguard derive --purpose encrypt\" (required)")
	unsealCmd.Flags().StringVar(&unsealIn, "in", "", "input file (default: stdin)")
	unsealCmd.Flags().StringVar(&unsealOut, "out", "", "output file (default: stdout)")
	unsealCmd.MarkFlagRequired("id")
	unsealCmd.MarkFlagRequired("user-secret-key")
}

func runUnseal(cmd *cobra.Command, args []string) error {
	uskBytes, err := os.ReadFile(unsealUSK)
	if err != nil {
		return fmt.Errorf("failed to read user secret key %s: %w", unsealUSK, err)
	}
	usk, err := artifacts.UserSecretKeyFromBytes(uskBytes)
	if err != nil {
		return fmt.Errorf("malformed user secret key %s: %w", unsealUSK, err)
	}

	client := pkgclient.New(cfg.PKG.BaseURL)
	ctx, cancel := context.WithTimeout(cmd.Context(), config.PollTimeout())
	defer cancel()
	pk, err := client.Parameters(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch PKG parameters: %w", err)
	}

	in, err := openInput(unsealIn)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := openOutput(unsealOut)
	if err != nil {
		return err
	}
	defer out.Close()

	u, err := unseal.New(pk, ibe.Scheme{}, in)
	if err != nil {
		return fmt.Errorf("failed to parse sealed stream: %w", err)
	}
	result, err := u.Unseal(unsealID, usk, out)
	if err != nil {
		return fmt.Errorf("unseal failed: %w", err)
	}
	if result.Public != nil {
		log.Info("unseal verified", zap.Int("conjuncts", len(result.Public.Con)))
	}
	return nil
}
