package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nightcloud/nightfleet/pkg/registry"
)

func TestAllocatorExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"contention", registry.ErrRegistryContention, exitAllocator},
		{"exhausted", registry.ErrRegistryExhausted, exitAllocator},
		{"wrapped exhausted", fmt.Errorf("reserve: %w", registry.ErrRegistryExhausted), exitAllocator},
		{"other failure", errors.New("bucket unreachable"), exitFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, allocatorExitCode(tt.err))
		})
	}
}
