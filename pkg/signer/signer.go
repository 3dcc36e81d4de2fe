package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/nightcloud/nightfleet/pkg/log"
)

// Signature is a detached signature over a message, with the public key
// the verifier needs.
type Signature struct {
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
}

// Signer produces a signature for a message on behalf of an address. Key
// material never enters this process; the production implementation
// shells out to the external signing tool that holds the wallet.
type Signer interface {
	Sign(ctx context.Context, address, message string) (*Signature, error)
}

// ToolSigner invokes the external signing-tool binary. The tool receives
// the address and the message as flags and prints one JSON object with
// signature and public_key on stdout.
type ToolSigner struct {
	// Path to the signing tool binary.
	Path string

	// Timeout bounds one signing invocation.
	Timeout time.Duration

	logger zerolog.Logger
}

// NewToolSigner creates a signer for the tool at path.
func NewToolSigner(path string) *ToolSigner {
	return &ToolSigner{
		Path:    path,
		Timeout: 30 * time.Second,
		logger:  log.WithComponent("signer"),
	}
}

// Sign runs the tool once for the given address and message.
func (s *ToolSigner) Sign(ctx context.Context, address, message string) (*Signature, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.Path, "--address", address, "--message", message)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = s.logger.With().Str("address", address).Logger()

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("signing tool failed for %s: %w", address, err)
	}
	return parseSignature(stdout.Bytes())
}

// parseSignature decodes the tool's stdout, tolerating log noise around
// the outermost JSON object.
func parseSignature(output []byte) (*Signature, error) {
	trimmed := bytes.TrimSpace(output)
	start := bytes.IndexByte(trimmed, '{')
	end := bytes.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("signing tool produced no JSON output")
	}
	var sig Signature
	if err := json.Unmarshal(trimmed[start:end+1], &sig); err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}
	if sig.Signature == "" || sig.PublicKey == "" {
		return nil, fmt.Errorf("signing tool returned an incomplete signature")
	}
	return &sig, nil
}

// StaticSigner returns fixed signatures, for tests and dry runs.
type StaticSigner struct {
	Sig Signature
}

// Sign returns the fixed signature.
func (s *StaticSigner) Sign(ctx context.Context, address, message string) (*Signature, error) {
	out := s.Sig
	return &out, nil
}
