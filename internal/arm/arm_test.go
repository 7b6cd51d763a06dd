package arm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

var fastHandshake = Handshake{Attempts: 5, Interval: time.Millisecond, Settle: time.Millisecond}

func TestEnableWithRetrySucceedsAfterRetries(t *testing.T) {
	sim := NewSim()
	sim.SetEnableAfter(3)

	require.NoError(t, EnableWithRetry(context.Background(), sim, fastHandshake))
	assert.Equal(t, 4, sim.EnableCalls())
	assert.True(t, sim.Enabled())
}

func TestEnableWithRetryExhausts(t *testing.T) {
	sim := NewSim()
	sim.SetEnableAfter(-1)

	err := EnableWithRetry(context.Background(), sim, fastHandshake)
	require.ErrorIs(t, err, ErrEnableFailed)
	assert.Equal(t, 5, sim.EnableCalls())
}

func TestEnableWithRetryHonoursContext(t *testing.T) {
	sim := NewSim()
	sim.SetEnableAfter(-1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := EnableWithRetry(ctx, sim, Handshake{Attempts: 100, Interval: time.Second})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPrepareForPlaybackSequence(t *testing.T) {
	sim := NewSim()
	require.NoError(t, PrepareForPlayback(context.Background(), sim, fastHandshake))

	cmds := sim.GripperCommands()
	require.Len(t, cmds, 2)
	assert.Equal(t, GripperDisableClear, cmds[0].Code)
	assert.Equal(t, GripperEnable, cmds[1].Code)
	assert.Equal(t, []MotionMode{MotionModePrepare}, sim.MotionModes())
}

func TestInitGripperFailureIsNotFatal(t *testing.T) {
	sim := NewSim()
	sim.SetCommandError(ErrSimulatedFault)
	require.NoError(t, PrepareForRecording(context.Background(), sim, fastHandshake))
}

func TestReadSampleUsesEffortMagnitude(t *testing.T) {
	sim := NewSim()
	sim.SetJoints(ppr.Joints{1, 2, 3, 4, 5, 6})
	require.NoError(t, sim.MoveGripper(20, -1.5, GripperEnable))

	now := time.UnixMilli(1700000000123)
	s, err := ReadSample(sim, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), s.Timestamp)
	assert.Equal(t, ppr.Joints{1, 2, 3, 4, 5, 6}, s.Joints)
	assert.Equal(t, 1.5, s.Gripper.Effort)

	sim.SetReadError(ErrSimulatedFault)
	_, err = ReadSample(sim, now)
	require.ErrorIs(t, err, ErrSimulatedFault)
}

func TestSendSampleClampsEffort(t *testing.T) {
	sim := NewSim()
	s := ppr.Sample{Joints: ppr.Joints{1}, Gripper: ppr.Gripper{Position: 10, Effort: 9}}
	require.NoError(t, SendSample(sim, s))

	cmds := sim.GripperCommands()
	require.Len(t, cmds, 1)
	assert.Equal(t, MaxGripperEffort, cmds[0].Effort)
	assert.Equal(t, []ppr.Joints{{1}}, sim.Moves())
}

func TestOpenDriver(t *testing.T) {
	a, err := Open("SIM")
	require.NoError(t, err)
	st, err := a.Status()
	require.NoError(t, err)
	assert.Equal(t, CtrlModeStandby, st.CtrlMode)

	_, err = Open("vendor-x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sim")
}
