package miner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nightcloud/nightfleet/pkg/log"
	"github.com/nightcloud/nightfleet/pkg/types"
)

// Runner executes one mining pass for a work item. The production
// implementation shells out to the native miner binary; tests inject
// fakes.
type Runner interface {
	Mine(ctx context.Context, item types.WorkItem) (*types.MinerResult, error)
}

// BinaryRunner invokes the external miner binary per work item. The
// binary receives the challenge parameters as flags, prints one JSON
// result object on stdout, and honors SIGTERM for abort-on-expiry.
type BinaryRunner struct {
	// Path to the miner binary.
	Path string

	// MaxAttempts caps one mining pass; zero uses the binary's default.
	MaxAttempts uint64

	// GracePeriod is how long a SIGTERMed miner gets before SIGKILL.
	GracePeriod time.Duration

	logger zerolog.Logger
}

// NewBinaryRunner creates a runner for the miner binary at path.
func NewBinaryRunner(path string) *BinaryRunner {
	return &BinaryRunner{
		Path:        path,
		GracePeriod: 10 * time.Second,
		logger:      log.WithComponent("miner"),
	}
}

// Mine runs one pass. Context cancellation sends SIGTERM to the child;
// the returned error is then the context error so the caller can tell an
// abort from a crash. A clean exit with success=false means no solution
// was found this pass.
func (r *BinaryRunner) Mine(ctx context.Context, item types.WorkItem) (*types.MinerResult, error) {
	args := []string{
		"--address", item.Address,
		"--challenge-id", item.Challenge.ChallengeID,
		"--difficulty", item.Challenge.Difficulty,
		"--no-pre-mine", item.Challenge.NoPreMine,
		"--latest-submission", item.Challenge.LatestSubmission.UTC().Format(time.RFC3339),
		"--no-pre-mine-hour", item.Challenge.NoPreMineHour,
	}
	if r.MaxAttempts > 0 {
		args = append(args, "--max-attempts", strconv.FormatUint(r.MaxAttempts, 10))
	}

	cmd := exec.CommandContext(ctx, r.Path, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = r.logger.With().Str("address", item.Address).Logger()
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.GracePeriod

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("miner exited abnormally: %w", err)
	}
	return ParseResult(stdout.Bytes())
}

// ParseResult decodes the miner's stdout into a result. The binary may
// print the JSON object pretty-printed; anything around the outermost
// braces is ignored.
func ParseResult(output []byte) (*types.MinerResult, error) {
	trimmed := bytes.TrimSpace(output)
	start := bytes.IndexByte(trimmed, '{')
	end := bytes.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("miner produced no JSON result: %q", truncateOutput(trimmed))
	}
	var result types.MinerResult
	if err := json.Unmarshal(trimmed[start:end+1], &result); err != nil {
		return nil, fmt.Errorf("failed to decode miner result: %w", err)
	}
	if result.Success && result.Nonce == "" {
		return nil, fmt.Errorf("miner reported success without a nonce")
	}
	return &result, nil
}

func truncateOutput(out []byte) string {
	const max = 120
	if len(out) > max {
		return string(out[:max]) + "..."
	}
	return string(out)
}
