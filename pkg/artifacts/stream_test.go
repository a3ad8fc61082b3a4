package artifacts

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

func TestGlobalStreamAppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executions.jsonl")
	stream := NewGlobalStream(path)
	defer stream.Close()

	require.NoError(t, stream.Append(contracts.ExecutionRecord{ExecutionID: "exec-001", PlanID: "plan-1"}))
	require.NoError(t, stream.Append(contracts.ExecutionRecord{ExecutionID: "exec-002", PlanID: "plan-1"}))

	records, err := ReadJSONLFile[contracts.ExecutionRecord](path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "exec-001", records[0].ExecutionID)
	assert.Equal(t, "exec-002", records[1].ExecutionID)
}

func TestGlobalStreamRefusesOversizedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executions.jsonl")
	stream := NewGlobalStream(path)
	defer stream.Close()

	big := contracts.ExecutionRecord{
		ExecutionID: "exec-001",
		Reason:      strings.Repeat("x", MaxGlobalRecordBytes),
	}
	err := stream.Append(big)
	require.ErrorIs(t, err, contracts.ErrIO)
	assert.Contains(t, err.Error(), "exceeds")

	records, readErr := ReadJSONLFile[contracts.ExecutionRecord](path)
	require.NoError(t, readErr)
	assert.Empty(t, records, "a refused record leaves the stream untouched")
}
