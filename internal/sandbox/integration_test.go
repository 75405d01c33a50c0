package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/docker/docker/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testContainer   testcontainers.Container
	testManager     *Manager
	skipIntegration bool
)

// TestMain starts a single alpine container shared across this file's
// tests, and skips them entirely when no docker daemon is reachable —
// the same fallback the rest of the pack uses for container-backed
// integration tests.
func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:      "alpine:3.20",
			Cmd:        []string{"sleep", "infinity"},
			WaitingFor: wait.ForExec([]string{"true"}).WithStartupTimeout(30 * time.Second),
		}
		testContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		skipIntegration = true
	} else {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			skipIntegration = true
		} else {
			testManager = &Manager{
				docker:  cli,
				records: make(map[string]*ContainerRecord),
				editors: make(map[string]*textEditorProxy),
				logger:  slog.Default(),
			}
		}
	}

	code := m.Run()

	if testContainer != nil {
		_ = testcontainers.TerminateContainer(testContainer)
	}
	if code != 0 {
		panic(fmt.Sprintf("sandbox integration tests exited %d", code))
	}
}

func requireDocker(t *testing.T) *ContainerRecord {
	t.Helper()
	if skipIntegration {
		t.Skip("docker not available, skipping sandbox integration test")
	}

	id := testContainer.GetContainerID()
	record := &ContainerRecord{
		ContainerID:     id,
		TaskUUID:        t.Name(),
		EnvironmentName: "alpine",
		WorkspacePath:   "/",
		Status:          StatusReady,
	}
	testManager.mu.Lock()
	testManager.records[record.TaskUUID] = record
	testManager.mu.Unlock()
	t.Cleanup(func() {
		testManager.mu.Lock()
		delete(testManager.records, record.TaskUUID)
		testManager.mu.Unlock()
	})
	return record
}

func TestExecuteCommandReturnsExitCodeAndOutput(t *testing.T) {
	record := requireDocker(t)

	result, err := testManager.ExecuteCommand(context.Background(), record.TaskUUID, "echo hello", "")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "hello")
}

func TestExecuteCommandReturnsNonZeroExit(t *testing.T) {
	record := requireDocker(t)

	result, err := testManager.ExecuteCommand(context.Background(), record.TaskUUID, "exit 3", "")
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestFileExistsDetectsMarkerFile(t *testing.T) {
	record := requireDocker(t)

	_, err := testManager.ExecuteCommand(context.Background(), record.TaskUUID, "mkdir -p /tmp/proj && echo '{}' > /tmp/proj/go.mod", "")
	require.NoError(t, err)

	record.WorkspacePath = "/tmp/proj"
	exists, err := testManager.fileExists(context.Background(), record, "go.mod")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = testManager.fileExists(context.Background(), record, "package.json")
	require.NoError(t, err)
	assert.False(t, exists)
}
