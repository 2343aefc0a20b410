package confirmation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordApprovalGraduatesAtThreshold(t *testing.T) {
	tr := NewTracker(map[Bundle]int{BundleCodebaseWrite: 3})

	var result RecordResult
	for i := 0; i < 3; i++ {
		result = tr.RecordApproval("a1", "arbor://code/write/a1/file.go")
	}
	assert.True(t, result.Graduated)
	assert.True(t, tr.Graduated("a1", "arbor://code/write/a1/file.go"))
}

func TestRecordApprovalDoesNotGraduateBeforeThreshold(t *testing.T) {
	tr := NewTracker(map[Bundle]int{BundleCodebaseWrite: 3})
	tr.RecordApproval("a1", "arbor://code/write/a1/file.go")
	tr.RecordApproval("a1", "arbor://code/write/a1/file.go")
	assert.False(t, tr.Graduated("a1", "arbor://code/write/a1/file.go"))
}

func TestShellNeverGraduatesRegardlessOfApprovals(t *testing.T) {
	tr := NewTracker(DefaultThresholds())
	for i := 0; i < 1000; i++ {
		tr.RecordApproval("a1", "arbor://shell/exec/a1")
	}
	assert.False(t, tr.Graduated("a1", "arbor://shell/exec/a1"))
}

func TestGovernanceNeverGraduatesRegardlessOfApprovals(t *testing.T) {
	tr := NewTracker(DefaultThresholds())
	for i := 0; i < 1000; i++ {
		tr.RecordApproval("a1", "arbor://governance/vote/a1")
	}
	assert.False(t, tr.Graduated("a1", "arbor://governance/vote/a1"))
}

func TestRecordRejectionResetsStreakAndGraduation(t *testing.T) {
	tr := NewTracker(map[Bundle]int{BundleCodebaseWrite: 2})
	tr.RecordApproval("a1", "arbor://code/write/a1/file.go")
	tr.RecordApproval("a1", "arbor://code/write/a1/file.go")
	require.True(t, tr.Graduated("a1", "arbor://code/write/a1/file.go"))

	tr.RecordRejection("a1", "arbor://code/write/a1/file.go")
	assert.False(t, tr.Graduated("a1", "arbor://code/write/a1/file.go"))
	status := tr.Status("a1", BundleCodebaseWrite)
	assert.Equal(t, 0, status.Streak)
	assert.Equal(t, 1, status.Rejections)
}

func TestLockGatedPreventsGraduationUntilUnlocked(t *testing.T) {
	tr := NewTracker(map[Bundle]int{BundleCodebaseWrite: 1})
	tr.LockGated("a1", BundleCodebaseWrite)

	result := tr.RecordApproval("a1", "arbor://code/write/a1/file.go")
	assert.False(t, result.Graduated)
	assert.False(t, tr.Graduated("a1", "arbor://code/write/a1/file.go"))

	tr.UnlockGated("a1", BundleCodebaseWrite)
	result = tr.RecordApproval("a1", "arbor://code/write/a1/file.go")
	assert.True(t, result.Graduated)
}

func TestRevertToGatedClearsGraduationKeepsLockState(t *testing.T) {
	tr := NewTracker(map[Bundle]int{BundleCodebaseWrite: 1})
	tr.RecordApproval("a1", "arbor://code/write/a1/file.go")
	require.True(t, tr.Graduated("a1", "arbor://code/write/a1/file.go"))

	tr.RevertToGated("a1", BundleCodebaseWrite)
	assert.False(t, tr.Graduated("a1", "arbor://code/write/a1/file.go"))
	status := tr.Status("a1", BundleCodebaseWrite)
	assert.Equal(t, 0, status.Streak)
	assert.False(t, status.Locked, "an unlocked entry stays unlocked")
}

func TestResetIsolatedToSingleAgent(t *testing.T) {
	tr := NewTracker(map[Bundle]int{BundleCodebaseWrite: 1})
	tr.RecordApproval("a1", "arbor://code/write/a1/file.go")
	tr.RecordApproval("a2", "arbor://code/write/a2/file.go")

	tr.Reset("a1")
	assert.False(t, tr.Graduated("a1", "arbor://code/write/a1/file.go"))
	assert.True(t, tr.Graduated("a2", "arbor://code/write/a2/file.go"), "resetting a1 must not affect a2")
}

func TestRecordApprovalUnknownBundleIsNoOp(t *testing.T) {
	tr := NewTracker(DefaultThresholds())
	result := tr.RecordApproval("a1", "arbor://unknown/thing")
	assert.Equal(t, RecordResult{}, result)
}

func TestThresholdForNeverBundleReturnsFalse(t *testing.T) {
	tr := NewTracker(DefaultThresholds())
	_, ok := tr.ThresholdFor(BundleShell)
	assert.False(t, ok)
	th, ok := tr.ThresholdFor(BundleCodebaseWrite)
	assert.True(t, ok)
	assert.Equal(t, 3, th)
}
