package pipelinecfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPoolSizeFloorsAtOne(t *testing.T) {
	h := HostInfo{CPUCores: 0}
	assert.Equal(t, 1, h.DefaultPoolSize())

	h.CPUCores = 8
	assert.Equal(t, 8, h.DefaultPoolSize())
}

func TestDefaultAllocBlocksScalesOnLargerHosts(t *testing.T) {
	h := HostInfo{CPUCores: 4}
	assert.Equal(t, 10, h.DefaultAllocBlocks(10))

	h.CPUCores = 8
	assert.Equal(t, 12, h.DefaultAllocBlocks(10))
}
