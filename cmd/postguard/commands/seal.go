package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DorAlter/postguard/pkg/artifacts"
	"github.com/DorAlter/postguard/pkg/config"
	"github.com/DorAlter/postguard/pkg/ibe"
	"github.com/DorAlter/postguard/pkg/pkgclient"
	"github.com/DorAlter/postguard/pkg/seal"
	"github.com/DorAlter/postguard/pkg/wire"
)

var (
	sealTo          []string
	sealTimestamp   string
	sealSigningKey  string
	sealIn          string
	sealOut         string
	sealMode        string
	sealSegmentSize uint32
)

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal a stream to one or more attribute-policy recipients",
	Long: `seal reads plaintext from --in (or stdin) and writes a sealed stream to
--out (or stdout), encrypted so that only a recipient who can prove every
attribute in their --to policy to the PKG can decrypt it, and signed so a
recipient can verify the attributes the sender proved.

Example:
  postguard seal --to alice:email=alice@example.org \
    --to bob:role=admin,org=acme \
    --signing-key sender.sk --in report.pdf --out report.pdf.pg`,
	RunE: runSeal,
}

func init() {
	sealCmd.Flags().StringArrayVar(&sealTo, "to", nil, "recipient as id:type=value,type2=value2 (repeatable)")
	sealCmd.Flags().StringVar(&sealTimestamp, "timestamp", "", "policy timestamp, unix seconds (default: now)")
	sealCmd.Flags().StringVar(&sealSigningKey, "signing-key", "", "file containing the sender's signing key, from \"postguard derive --purpose sign\" (required)")
	sealCmd.Flags().StringVar(&sealIn, "in", "", "input file (default: stdin)")
	sealCmd.Flags().StringVar(&sealOut, "out", "", "output file (default: stdout)")
	sealCmd.Flags().StringVar(&sealMode, "mode", "stream", "\"stream\" or \"memory\"")
	sealCmd.Flags().Uint32Var(&sealSegmentSize, "segment-size", 0, "streaming segment size in bytes (default: config's segment_size)")
	sealCmd.MarkFlagRequired("to")
	sealCmd.MarkFlagRequired("signing-key")
}

func runSeal(cmd *cobra.Command, args []string) error {
	recipients, err := parseRecipients(sealTo, sealTimestamp)
	if err != nil {
		return err
	}

	signingBytes, err := os.ReadFile(sealSigningKey)
	if err != nil {
		return fmt.Errorf("failed to read signing key %s: %w", sealSigningKey, err)
	}
	signingKey, err := artifacts.SigningKeyFromBytes(signingBytes)
	if err != nil {
		return fmt.Errorf("malformed signing key %s: %w", sealSigningKey, err)
	}

	var modeKind wire.ModeKind
	switch sealMode {
	case "stream":
		modeKind = wire.ModeStreaming
	case "memory":
		modeKind = wire.ModeInMemory
	default:
		return fmt.Errorf("--mode must be \"stream\" or \"memory\", got %q", sealMode)
	}

	client := pkgclient.New(cfg.PKG.BaseURL)
	ctx, cancel := context.WithTimeout(cmd.Context(), config.PollTimeout())
	defer cancel()
	pk, err := client.Parameters(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch PKG parameters: %w", err)
	}

	in, err := openInput(sealIn)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := openOutput(sealOut)
	if err != nil {
		return err
	}
	defer out.Close()

	sealCfg := seal.Config{
		Mode:        modeKind,
		SegmentSize: cfg.SegmentSizeOrDefault(sealSegmentSize),
	}
	sealer := seal.NewSealer(pk, ibe.Scheme{}, recipients, signingKey, sealCfg)
	if err := sealer.Seal(in, out); err != nil {
		return fmt.Errorf("seal failed: %w", err)
	}
	return nil
}

