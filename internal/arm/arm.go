// Package arm defines the hardware capability surface consumed by the
// recorder, player, monitor and server, together with the enable and
// gripper handshakes shared by those components.
package arm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

// Raw controller codes reported by the arm status frame.
const (
	CtrlModeStandby  uint8 = 0x00
	CtrlModeCAN      uint8 = 0x01
	CtrlModeTeaching uint8 = 0x02
	CtrlModeOffline  uint8 = 0x07

	ArmStatusNormal    uint8 = 0x00
	ArmStatusExecuting uint8 = 0x0C
)

// Gripper command codes.
const (
	GripperDisableClear = 0x02
	GripperEnable       = 0x01
)

// MaxGripperEffort bounds the effort sent with gripper commands, in Nm.
const MaxGripperEffort = 5.0

// Status is the coarse mode/status pair read from the controller.
type Status struct {
	CtrlMode  uint8 `json:"ctrl_mode"`
	ArmStatus uint8 `json:"arm_status"`
}

// MotionMode is the mode frame that has to precede joint commands.
type MotionMode struct {
	Ctrl         uint8
	Move         uint8
	SpeedPercent uint8
	MIT          uint8
}

var (
	// MotionModePrepare is sent once before a playback session.
	MotionModePrepare = MotionMode{Ctrl: 0x01, Move: 0x01, SpeedPercent: 50}
	// MotionModeFrame is reasserted before every frame by fixed-rate playback.
	MotionModeFrame = MotionMode{Ctrl: 0x01, Move: 0x01, SpeedPercent: 100}
)

// ErrEnableFailed is returned when the enable handshake exhausts its retries.
var ErrEnableFailed = errors.New("failed to enable arm")

// StatusReader is the part of the surface the state monitor needs.
type StatusReader interface {
	Status() (Status, error)
}

// Arm is the hardware capability surface. Implementations are not assumed
// to be safe for concurrent use; wrap them with Locked when they are shared.
type Arm interface {
	StatusReader

	JointAngles() (ppr.Joints, error)
	EndPose() (ppr.Pose, error)
	Gripper() (ppr.Gripper, error)

	MoveJoints(j ppr.Joints) error
	MoveGripper(position, effort float64, code int) error

	// Enable requests all motors enabled and reports whether they are.
	Enable() (bool, error)
	Disable() error
	SetMotionMode(m MotionMode) error
}

// ReadSample reads a full snapshot from a, stamped with now.
func ReadSample(a Arm, now time.Time) (ppr.Sample, error) {
	joints, err := a.JointAngles()
	if err != nil {
		return ppr.Sample{}, fmt.Errorf("failed to read joints: %w", err)
	}
	pose, err := a.EndPose()
	if err != nil {
		return ppr.Sample{}, fmt.Errorf("failed to read pose: %w", err)
	}
	grp, err := a.Gripper()
	if err != nil {
		return ppr.Sample{}, fmt.Errorf("failed to read gripper: %w", err)
	}
	grp.Effort = math.Abs(grp.Effort)
	return ppr.Sample{
		Timestamp: now.UnixMilli(),
		Pose:      pose,
		Joints:    joints,
		Gripper:   grp,
	}, nil
}

// Handshake holds the retry bounds of the enable sequence.
type Handshake struct {
	Attempts int
	Interval time.Duration
	// Settle is slept after mode changes and gripper commands.
	Settle time.Duration
}

// DefaultHandshake mirrors the controller's documented enable timing.
var DefaultHandshake = Handshake{Attempts: 100, Interval: 10 * time.Millisecond, Settle: 100 * time.Millisecond}

// EnableWithRetry calls Enable until it reports success or attempts run out.
func EnableWithRetry(ctx context.Context, a Arm, h Handshake) error {
	attempts := h.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		ok, err := a.Enable()
		if err == nil && ok {
			slog.Debug("Arm enabled", "attempts", i)
			return nil
		}
		lastErr = err
		if err := sleepCtx(ctx, h.Interval); err != nil {
			return err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrEnableFailed, attempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrEnableFailed, attempts)
}

// InitGripper clears gripper errors and re-enables it. Failures are logged,
// not returned: a missing gripper must not block arm motion.
func InitGripper(ctx context.Context, a Arm, h Handshake) {
	if err := a.MoveGripper(0, 1, GripperDisableClear); err != nil {
		slog.Warn("Gripper clear failed", "error", err)
		return
	}
	if err := sleepCtx(ctx, h.Settle); err != nil {
		return
	}
	if err := a.MoveGripper(0, 1, GripperEnable); err != nil {
		slog.Warn("Gripper enable failed", "error", err)
		return
	}
	_ = sleepCtx(ctx, h.Settle)
}

// PrepareForRecording enables the arm and initialises the gripper.
func PrepareForRecording(ctx context.Context, a Arm, h Handshake) error {
	if err := EnableWithRetry(ctx, a, h); err != nil {
		return err
	}
	InitGripper(ctx, a, h)
	return nil
}

// PrepareForPlayback enables the arm, initialises the gripper and selects
// joint motion mode. It runs once per playback session.
func PrepareForPlayback(ctx context.Context, a Arm, h Handshake) error {
	if err := EnableWithRetry(ctx, a, h); err != nil {
		return err
	}
	InitGripper(ctx, a, h)
	if err := a.SetMotionMode(MotionModePrepare); err != nil {
		return fmt.Errorf("failed to set motion mode: %w", err)
	}
	return sleepCtx(ctx, h.Settle)
}

// SendSample commands joints and gripper to the values in s. Gripper effort
// is clamped to [0, MaxGripperEffort].
func SendSample(a Arm, s ppr.Sample) error {
	if err := a.MoveJoints(s.Joints); err != nil {
		return fmt.Errorf("failed to move joints: %w", err)
	}
	effort := math.Min(math.Max(s.Gripper.Effort, 0), MaxGripperEffort)
	if err := a.MoveGripper(s.Gripper.Position, effort, GripperEnable); err != nil {
		return fmt.Errorf("failed to move gripper: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
