package signals

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodian-labs/custodian/pkg/artifacts"
	"github.com/custodian-labs/custodian/pkg/contracts"
)

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	arch, err := OpenArchive(ctx, filepath.Join(t.TempDir(), "signals.db"))
	require.NoError(t, err)
	defer arch.Close()

	sigs := []contracts.Signal{
		{Stage: contracts.SignalStageDialogueAuthorization, Timestamp: ts(0), SessionID: "sess-1",
			BusinessMode: contracts.BusinessModeOps, Decision: "allow"},
		{Stage: contracts.SignalStageDialogueAuthorization, Timestamp: ts(0), SessionID: "sess-2",
			BusinessMode: contracts.BusinessModeUser, Decision: "deny"},
		{Stage: contracts.SignalStageRuntime, Timestamp: ts(0), SessionID: "sess-1",
			BusinessMode: contracts.BusinessModeOps, Decision: "allow"},
	}
	require.NoError(t, arch.StoreSignals(ctx, sigs))
	require.NoError(t, arch.StoreMatrix(ctx, []contracts.MatrixSignal{
		{Timestamp: ts(0), SessionID: "sess-1", BusinessMode: contracts.BusinessModeOps,
			PortfolioPass: true, Score: 0.9, ValidRate: 1.0},
	}))

	counts, err := arch.CountByStage(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"dialogue_authorization": 2,
		"runtime":                1,
	}, counts)
}

func TestEmitterWritesStageStreamAndSessionCopy(t *testing.T) {
	root := t.TempDir()
	store, err := artifacts.NewStore(root)
	require.NoError(t, err)
	sess, err := store.Session("sess-1")
	require.NoError(t, err)

	e := NewEmitter(root).WithClock(func() time.Time { return reportNow })
	defer e.Close()

	sig := &contracts.Signal{
		Stage:     contracts.SignalStageDialogueAuthorization,
		SessionID: "sess-1",
		Decision:  "allow",
	}
	require.NoError(t, e.Emit(sess, sig))
	assert.Equal(t, contracts.Timestamp(reportNow), sig.Timestamp, "the emitter stamps unstamped signals")
	assert.Equal(t, contracts.BusinessModeUnknown, sig.BusinessMode, "unset business mode falls back to unknown")

	require.NoError(t, e.EmitMatrix(sess, &contracts.MatrixSignal{SessionID: "sess-1", Score: 0.8, ValidRate: 1.0}))

	global, err := artifacts.ReadJSONLFile[contracts.Signal](
		filepath.Join(root, StreamDir, StreamFile(contracts.SignalStageDialogueAuthorization)))
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.Equal(t, "sess-1", global[0].SessionID)

	matrix, err := artifacts.ReadJSONLFile[contracts.MatrixSignal](
		filepath.Join(root, StreamDir, StreamFile(contracts.SignalStageMatrix)))
	require.NoError(t, err)
	require.Len(t, matrix, 1)
	assert.Equal(t, contracts.SignalStageMatrix, matrix[0].Stage)

	local, err := artifacts.ReadJSONL[contracts.Signal](sess, SessionSignalsFile)
	require.NoError(t, err)
	assert.Len(t, local, 2, "the session copy carries both the signal and the matrix record")
}
