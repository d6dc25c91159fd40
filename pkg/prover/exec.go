package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/receipt"
	"github.com/Real-JW/zkbench/pkg/trace"
	"github.com/Real-JW/zkbench/pkg/zkerr"
)

// MaxExecSealBytes bounds the seal an external prover may return.
const MaxExecSealBytes = 64 << 20

// ProveRequest is written to an external prover's stdin.
type ProveRequest struct {
	Claim       receipt.Claim `json:"claim"`
	ClaimDigest string        `json:"claim_digest"`
	Trace       *trace.Trace  `json:"trace"`
}

// CheckRequest is written to an external checker's stdin.
type CheckRequest struct {
	Scheme  string `json:"scheme"`
	Seal    []byte `json:"seal"`
	Journal []byte `json:"journal"`
	ImageID string `json:"image_id"`
}

// ExecProver delegates proving to an external command. The command reads a
// ProveRequest on stdin and writes the raw seal to stdout.
type ExecProver struct {
	SchemeName string
	Command    []string
}

func (p *ExecProver) Scheme() string { return p.SchemeName }

func (p *ExecProver) Prove(ctx context.Context, claim receipt.Claim, tr *trace.Trace) (receipt.Seal, error) {
	if len(p.Command) == 0 {
		return receipt.Seal{}, zkerr.Errorf(zkerr.KindProver, "prove", "no prover command configured")
	}
	d, err := claim.Digest()
	if err != nil {
		return receipt.Seal{}, zkerr.New(zkerr.KindProver, "prove", err)
	}
	req, err := json.Marshal(ProveRequest{Claim: claim, ClaimDigest: fmt.Sprintf("%x", d), Trace: tr})
	if err != nil {
		return receipt.Seal{}, zkerr.New(zkerr.KindProver, "prove", err)
	}

	out, err := runCommand(ctx, p.Command, req, MaxExecSealBytes)
	if err != nil {
		if ctx.Err() != nil {
			return receipt.Seal{}, zkerr.New(zkerr.KindCancelled, "prove", ctx.Err())
		}
		return receipt.Seal{}, zkerr.New(zkerr.KindProver, "prove", err)
	}
	if len(out) == 0 {
		return receipt.Seal{}, zkerr.Errorf(zkerr.KindProver, "prove", "prover command produced an empty seal")
	}
	return receipt.Seal{Scheme: p.SchemeName, Bytes: out}, nil
}

// ExecChecker delegates seal checking to an external command reading a
// CheckRequest on stdin. Exit status 0 accepts, 1 rejects, anything else
// is a checker failure.
type ExecChecker struct {
	SchemeName string
	Command    []string
}

func (c *ExecChecker) Scheme() string { return c.SchemeName }

func (c *ExecChecker) Check(seal receipt.Seal, journal []byte, id image.ID) error {
	if err := checkScheme(seal, c.SchemeName); err != nil {
		return err
	}
	if len(c.Command) == 0 {
		return errors.New("no checker command configured")
	}
	req, err := json.Marshal(CheckRequest{Scheme: seal.Scheme, Seal: seal.Bytes, Journal: journal, ImageID: id.String()})
	if err != nil {
		return err
	}
	_, err = runCommand(context.Background(), c.Command, req, 1<<20)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return fmt.Errorf("%w: %v", ErrSealInvalid, err)
	}
	return err
}

type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.buf.Len()+len(p) > c.max {
		return 0, fmt.Errorf("output exceeds %d bytes", c.max)
	}
	return c.buf.Write(p)
}

func runCommand(ctx context.Context, argv []string, stdin []byte, maxOut int) ([]byte, error) {
	//nolint:gosec // G204: the command comes from operator configuration
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(stdin)
	stdout := &cappedBuffer{max: maxOut}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 4096 {
			msg = msg[:4096]
		}
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", argv[0], err)
	}
	return stdout.buf.Bytes(), nil
}
