package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/Real-JW/zkbench/pkg/prover"
	"github.com/Real-JW/zkbench/pkg/zkerr"
)

// runKeygenCmd implements `zkbench-host keygen`. The private key lands
// where the ed25519 prover looks for it by default.
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		outDir     string
		keyID      string
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", "", "YAML config `file` layered over the environment")
	cmd.StringVar(&outDir, "out", "", "Key directory (default: directory of the configured key path)")
	cmd.StringVar(&keyID, "key-id", "host", "Key identifier, also the file name stem")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	if err := cmd.Parse(args); err != nil {
		return zkerr.KindConfig.ExitCode()
	}
	if keyID == "" || keyID != filepath.Base(keyID) {
		_, _ = fmt.Fprintf(stderr, "Error: invalid --key-id %q\n", keyID)
		return zkerr.KindConfig.ExitCode()
	}
	if outDir == "" {
		cfg, _, err := loadConfig(configPath, stderr)
		if err != nil {
			return fail(stderr, err)
		}
		outDir = filepath.Dir(cfg.Prover.KeyPath)
	}

	s, err := prover.GenerateSigner(keyID)
	if err != nil {
		return fail(stderr, zkerr.New(zkerr.KindInternal, "generate key", err))
	}
	privPath, pubPath, err := prover.SaveKeyPair(outDir, s)
	if err != nil {
		return fail(stderr, zkerr.New(zkerr.KindConfig, "save key", err))
	}

	if jsonOutput {
		out := struct {
			KeyID      string `json:"key_id"`
			PrivateKey string `json:"private_key"`
			PublicKey  string `json:"public_key"`
		}{s.KeyID, privPath, pubPath}
		if err := writeJSON(stdout, out); err != nil {
			return fail(stderr, zkerr.New(zkerr.KindInternal, "write keys", err))
		}
		return zkerr.ExitOK
	}
	_, _ = fmt.Fprintf(stdout, "Created key %q\n", s.KeyID)
	_, _ = fmt.Fprintf(stdout, "Private: %s\n", privPath)
	_, _ = fmt.Fprintf(stdout, "Public:  %s\n", pubPath)
	return zkerr.ExitOK
}
