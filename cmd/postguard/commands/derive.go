package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DorAlter/postguard/pkg/config"
	"github.com/DorAlter/postguard/pkg/pkgclient"
)

var (
	derivePolicy    string
	derivePurpose   string
	deriveTimestamp string
	deriveOut       string
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Obtain a user secret key or signing key from the PKG",
	Long: `derive starts an attribute-disclosure session against the PKG for the
given policy, waits for it to complete, and writes the resulting key to
--out once the disclosed attributes satisfy the policy.

Examples:
  postguard derive --policy "email=alice@example.org" --purpose encrypt --out alice.usk
  postguard derive --policy "role=admin,org=acme" --purpose sign --out admin.sk`,
	RunE: runDerive,
}

func init() {
	deriveCmd.Flags().StringVar(&derivePolicy, "policy", "", "conjunction of attributes, e.g. \"email=alice@example.org,role=admin\"")
	deriveCmd.Flags().StringVar(&derivePurpose, "purpose", "encrypt", "\"encrypt\" (user secret key) or \"sign\" (signing key)")
	deriveCmd.Flags().StringVar(&deriveTimestamp, "timestamp", "", "policy timestamp, unix seconds (default: now)")
	deriveCmd.Flags().StringVar(&deriveOut, "out", "", "file to write the issued key to (required)")
	deriveCmd.MarkFlagRequired("policy")
	deriveCmd.MarkFlagRequired("out")
}

func runDerive(cmd *cobra.Command, args []string) error {
	pol, err := parsePolicy(derivePolicy, deriveTimestamp)
	if err != nil {
		return err
	}
	var purpose pkgclient.Purpose
	switch derivePurpose {
	case "encrypt":
		purpose = pkgclient.PurposeEncrypt
	case "sign":
		purpose = pkgclient.PurposeSign
	default:
		return fmt.Errorf("--purpose must be \"encrypt\" or \"sign\", got %q", derivePurpose)
	}

	client := pkgclient.New(cfg.PKG.BaseURL)
	ctx, cancel := context.WithTimeout(cmd.Context(), config.PollTimeout())
	defer cancel()

	token, err := client.StartSession(ctx, pol, purpose)
	if err != nil {
		return fmt.Errorf("failed to start PKG session: %w", err)
	}
	log.Info("disclosure session started", zap.String("token", token), zap.String("pkg", cfg.PKG.BaseURL))
	cmd.Printf("Complete the attribute disclosure for session %s at the identity provider, then this command will continue automatically.\n", token)

	status, err := client.WaitUntilDone(ctx, token)
	if err != nil {
		return fmt.Errorf("failed waiting for session: %w", err)
	}
	if status != "done" {
		return fmt.Errorf("session ended with status %q", status)
	}

	keyBytes, err := client.Key(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to fetch key: %w", err)
	}
	if err := os.WriteFile(deriveOut, keyBytes, 0600); err != nil {
		return fmt.Errorf("failed to write key to %s: %w", deriveOut, err)
	}
	cmd.Printf("wrote %s\n", deriveOut)
	return nil
}
