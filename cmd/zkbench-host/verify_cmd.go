package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Real-JW/zkbench/pkg/config"
	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/prover"
	"github.com/Real-JW/zkbench/pkg/receipt"
	"github.com/Real-JW/zkbench/pkg/verifier"
	"github.com/Real-JW/zkbench/pkg/zkerr"
)

type verifyResult struct {
	Receipt       string            `json:"receipt"`
	ImageID       image.ID          `json:"image_id"`
	Outcome       *verifier.Outcome `json:"outcome"`
	JournalDigest string            `json:"journal_digest,omitempty"`
}

// runVerifyCmd implements `zkbench-host verify`.
//
// Checks a receipt file against an expected image ID using the configured
// trusted keys. The local signing key, when present, is trusted too.
//
// Exit codes:
//
//	0 = receipt accepted
//	1 = receipt rejected
//	2 = usage, configuration or I/O error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath  string
		receiptPath string
		imageID     string
		wasmPath    string
		trusted     string
		allowDev    bool
		jsonOutput  bool
	)
	cmd.StringVar(&configPath, "config", "", "YAML config `file` layered over the environment")
	cmd.StringVar(&receiptPath, "receipt", "", "Path to the receipt file (REQUIRED)")
	cmd.StringVar(&imageID, "image-id", "", "Expected image ID")
	cmd.StringVar(&wasmPath, "wasm", "", "Derive the expected image ID from this guest .wasm `file`")
	cmd.StringVar(&trusted, "trusted-keys", "", "Comma-separated extra public key files or dirs")
	cmd.BoolVar(&allowDev, "allow-dev", false, "Accept unsound dev seals")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the outcome as JSON")

	if err := cmd.Parse(args); err != nil {
		return zkerr.KindConfig.ExitCode()
	}
	if receiptPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --receipt is required")
		return zkerr.KindConfig.ExitCode()
	}
	if (imageID == "") == (wasmPath == "") {
		_, _ = fmt.Fprintln(stderr, "Error: exactly one of --image-id or --wasm is required")
		return zkerr.KindConfig.ExitCode()
	}

	cfg, _, err := loadConfig(configPath, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	expected, err := expectedImage(imageID, wasmPath)
	if err != nil {
		return fail(stderr, err)
	}

	var extra []string
	for _, k := range strings.Split(trusted, ",") {
		if k = strings.TrimSpace(k); k != "" {
			extra = append(extra, k)
		}
	}
	v, err := newVerifier(cfg, localSigner(cfg), extra, allowDev)
	if err != nil {
		return fail(stderr, err)
	}

	outcome, err := v.VerifyFile(receiptPath, expected)
	if err != nil {
		return fail(stderr, zkerr.New(zkerr.KindConfig, "read receipt", err))
	}
	res := verifyResult{Receipt: receiptPath, ImageID: expected, Outcome: &outcome}
	if outcome.Accepted {
		res.JournalDigest = receipt.JournalDigest(outcome.Journal)
	}

	if jsonOutput {
		if err := writeJSON(stdout, res); err != nil {
			return fail(stderr, zkerr.New(zkerr.KindInternal, "write outcome", err))
		}
	} else if outcome.Accepted {
		_, _ = fmt.Fprintln(stdout, "Receipt ACCEPTED")
		_, _ = fmt.Fprintf(stdout, "Image:   %s\n", expected)
		_, _ = fmt.Fprintf(stdout, "Journal: %s (%d bytes)\n", res.JournalDigest, len(outcome.Journal))
	} else {
		_, _ = fmt.Fprintln(stdout, "Receipt REJECTED")
		_, _ = fmt.Fprintf(stdout, "Reason:  %s\n", outcome.Reason)
		_, _ = fmt.Fprintf(stdout, "Detail:  %s\n", outcome.Detail)
	}

	if !outcome.Accepted {
		return zkerr.ExitRejected
	}
	return zkerr.ExitOK
}

func expectedImage(imageID, wasmPath string) (image.ID, error) {
	if imageID != "" {
		id, err := image.ParseID(imageID)
		if err != nil {
			return image.ID{}, zkerr.New(zkerr.KindConfig, "parse image id", err)
		}
		return id, nil
	}
	raw, err := os.ReadFile(wasmPath)
	if err != nil {
		return image.ID{}, zkerr.New(zkerr.KindConfig, "read guest", err)
	}
	img, err := image.FromBytes(context.Background(), wasmPath, raw)
	if err != nil {
		return image.ID{}, err
	}
	return img.ID(), nil
}

// localSigner returns the configured signing key if one can be loaded.
func localSigner(cfg *config.Config) *prover.Signer {
	if cfg.Prover.Scheme != config.SchemeEd25519 {
		return nil
	}
	s, err := prover.LoadSigner(cfg.Prover.KeyPath)
	if err != nil {
		return nil
	}
	return s
}
