package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyFailureTransient(t *testing.T) {
	result := ExecResult{Stderr: "curl: (7) Failed to connect: Connection refused"}
	assert.Equal(t, classTransient, classifyFailure(result))
}

func TestClassifyFailureRepairable(t *testing.T) {
	result := ExecResult{Stderr: "ERROR: Could not find a version that satisfies the requirement foobar==9.9.9"}
	assert.Equal(t, classRepairable, classifyFailure(result))
}

func TestClassifyFailureFatalFallback(t *testing.T) {
	result := ExecResult{Stderr: "panic: runtime error: invalid memory address"}
	assert.Equal(t, classFatal, classifyFailure(result))
}

func TestTailTruncateKeepsLastBytesWhenOverLimit(t *testing.T) {
	s := "0123456789"
	assert.Equal(t, "789", tailTruncate(s, 3))
}

func TestTailTruncateLeavesShortStringUntouched(t *testing.T) {
	s := "short"
	assert.Equal(t, s, tailTruncate(s, 100))
}

func TestParseMemoryLimitUnits(t *testing.T) {
	assert.EqualValues(t, 512<<20, parseMemoryLimit("512m"))
	assert.EqualValues(t, 2<<30, parseMemoryLimit("2g"))
	assert.EqualValues(t, 0, parseMemoryLimit(""))
}

func TestContainerNameUsesTaskUUID(t *testing.T) {
	record := &ContainerRecord{TaskUUID: "abc-123"}
	assert.Equal(t, "coding-agent-exec-abc-123", record.ContainerName())
}
