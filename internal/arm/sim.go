package arm

import (
	"errors"
	"sync"

	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

// ErrSimulatedFault is returned by Sim when a read or command fault is injected.
var ErrSimulatedFault = errors.New("simulated arm fault")

// GripperCommand is a gripper command recorded by Sim.
type GripperCommand struct {
	Position float64
	Effort   float64
	Code     int
}

// Sim is an in-memory arm. In teaching mode every joint read nudges the
// joints forward so captured recordings contain motion.
type Sim struct {
	mu sync.Mutex

	status  Status
	joints  ppr.Joints
	pose    ppr.Pose
	gripper ppr.Gripper
	enabled bool

	// enableAfter Enable calls report not-ready first; negative never enables.
	enableAfter  int
	enableCalls  int
	statusErr    error
	readErr      error
	commandErr   error
	moves        []ppr.Joints
	gripperCmds  []GripperCommand
	motionModes  []MotionMode
	disableCalls int
}

// NewSim returns a simulated arm in standby.
func NewSim() *Sim {
	return &Sim{status: Status{CtrlMode: CtrlModeStandby}}
}

// SetStatus sets the raw mode/status pair returned by Status.
func (s *Sim) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// SetStatusError makes Status fail with err until cleared with nil.
func (s *Sim) SetStatusError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusErr = err
}

// SetReadError makes joint, pose and gripper reads fail with err until cleared.
func (s *Sim) SetReadError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// SetCommandError makes motion commands fail with err until cleared.
func (s *Sim) SetCommandError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandErr = err
}

// SetEnableAfter sets how many Enable calls fail before success.
func (s *Sim) SetEnableAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enableAfter = n
	s.enableCalls = 0
}

// SetJoints sets the joint angles returned by JointAngles.
func (s *Sim) SetJoints(j ppr.Joints) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joints = j
}

func (s *Sim) Status() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return Status{}, s.statusErr
	}
	return s.status, nil
}

func (s *Sim) JointAngles() (ppr.Joints, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return ppr.Joints{}, s.readErr
	}
	if s.status.CtrlMode == CtrlModeTeaching {
		for i := range s.joints {
			s.joints[i] += 0.01 * float64(i+1)
		}
	}
	return s.joints, nil
}

func (s *Sim) EndPose() (ppr.Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return ppr.Pose{}, s.readErr
	}
	return s.pose, nil
}

func (s *Sim) Gripper() (ppr.Gripper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return ppr.Gripper{}, s.readErr
	}
	return s.gripper, nil
}

func (s *Sim) MoveJoints(j ppr.Joints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commandErr != nil {
		return s.commandErr
	}
	s.joints = j
	s.moves = append(s.moves, j)
	return nil
}

func (s *Sim) MoveGripper(position, effort float64, code int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commandErr != nil {
		return s.commandErr
	}
	s.gripperCmds = append(s.gripperCmds, GripperCommand{Position: position, Effort: effort, Code: code})
	if code == GripperEnable {
		s.gripper = ppr.Gripper{Position: position, Effort: effort, Code: code}
	}
	return nil
}

func (s *Sim) Enable() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enableCalls++
	if s.enableAfter < 0 || s.enableCalls <= s.enableAfter {
		return false, nil
	}
	s.enabled = true
	return true, nil
}

func (s *Sim) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	s.disableCalls++
	return nil
}

func (s *Sim) SetMotionMode(m MotionMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commandErr != nil {
		return s.commandErr
	}
	s.motionModes = append(s.motionModes, m)
	return nil
}

// Enabled reports whether the last enable handshake succeeded.
func (s *Sim) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// EnableCalls returns the number of Enable calls so far.
func (s *Sim) EnableCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enableCalls
}

// Moves returns a copy of the joint commands received.
func (s *Sim) Moves() []ppr.Joints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ppr.Joints(nil), s.moves...)
}

// GripperCommands returns a copy of the gripper commands received.
func (s *Sim) GripperCommands() []GripperCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GripperCommand(nil), s.gripperCmds...)
}

// MotionModes returns a copy of the motion mode frames received.
func (s *Sim) MotionModes() []MotionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MotionMode(nil), s.motionModes...)
}
