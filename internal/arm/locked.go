package arm

import (
	"sync"

	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

// LockedArm serializes every call to the wrapped Arm.
type LockedArm struct {
	arm Arm
	mu  sync.Mutex
}

// Locked wraps a so that the monitor, recorder and player can share it.
func Locked(a Arm) *LockedArm {
	if l, ok := a.(*LockedArm); ok {
		return l
	}
	return &LockedArm{arm: a}
}

func (l *LockedArm) Status() (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arm.Status()
}

func (l *LockedArm) JointAngles() (ppr.Joints, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arm.JointAngles()
}

func (l *LockedArm) EndPose() (ppr.Pose, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arm.EndPose()
}

func (l *LockedArm) Gripper() (ppr.Gripper, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arm.Gripper()
}

func (l *LockedArm) MoveJoints(j ppr.Joints) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arm.MoveJoints(j)
}

func (l *LockedArm) MoveGripper(position, effort float64, code int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arm.MoveGripper(position, effort, code)
}

func (l *LockedArm) Enable() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arm.Enable()
}

func (l *LockedArm) Disable() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arm.Disable()
}

func (l *LockedArm) SetMotionMode(m MotionMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arm.SetMotionMode(m)
}
