package health

import (
	"context"
	"fmt"
	"os"
	"time"
)

// BinaryChecker verifies an external tool (the miner or the signer) is
// present and executable. Workers depend on subprocess binaries shipped
// out of band, so a bad install should flip readiness rather than
// surface as every mining pass crashing.
type BinaryChecker struct {
	Path string
}

// NewBinaryChecker creates a checker for the binary at path
func NewBinaryChecker(path string) *BinaryChecker {
	return &BinaryChecker{Path: path}
}

// Check verifies the binary exists and carries an execute bit
func (b *BinaryChecker) Check(ctx context.Context) Result {
	start := time.Now()

	info, err := os.Stat(b.Path)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("stat failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	if info.IsDir() {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%s is a directory", b.Path),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	if info.Mode().Perm()&0111 == 0 {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%s is not executable", b.Path),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   "binary present",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (b *BinaryChecker) Type() CheckType {
	return CheckTypeBinary
}
