package cmd

import (
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var submitArgs = []string{
	"jobs", "submit",
	"--input", "s3://bucket/in/",
	"--output", "s3://bucket/out/",
	"--image", "ghcr.io/org/infer:1.0",
	"--chunks", "2",
}

func TestJobsSubmit_ReadOnlyFlag_BlocksSubmission(t *testing.T) {
	cliEnv(t)

	_, err := runCLI(t, append([]string{"--readonly"}, submitArgs...)...)
	require.Error(t, err)
	require.Contains(t, err.Error(), "readonly")
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))

	out, err := runCLI(t, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs found")
}

func TestJobsSubmit_ReadOnlyEnv_BlocksSubmission(t *testing.T) {
	cliEnv(t)
	t.Setenv("BATCHLENS_READONLY", "1")

	_, err := runCLI(t, submitArgs...)
	require.Error(t, err)
	require.Contains(t, err.Error(), "readonly")
}

func TestReadOnly_StillReportsPersistedJobs(t *testing.T) {
	cliEnv(t)

	_, err := runCLI(t, append(submitArgs, "--job-id", "kept")...)
	require.NoError(t, err)

	out, err := runCLI(t, "--readonly", "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "kept")
}
