// Package monitor polls the arm's coarse status and reports transitions
// between the logical arm states. Readers that also report joint angles
// have them cached on each poll so status queries never touch the arm.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

// State is the logical arm state.
type State string

const (
	StateUnknown   State = "UNKNOWN"
	StateStandby   State = "STANDBY"
	StateTeaching  State = "TEACHING"
	StateExecution State = "EXECUTION"
)

const (
	DefaultPollHz = 20

	stopTimeout = 2 * time.Second
)

// Derive maps a raw status to a logical state. Teaching is the
// gravity-compensated free-drive mode; Execution is the controller
// replaying its own trajectory.
func Derive(st arm.Status) State {
	switch {
	case st.CtrlMode == arm.CtrlModeTeaching:
		return StateTeaching
	case st.CtrlMode == arm.CtrlModeOffline || st.ArmStatus == arm.ArmStatusExecuting:
		return StateExecution
	default:
		return StateStandby
	}
}

// Callbacks are invoked synchronously on the polling goroutine and must
// return quickly.
type Callbacks struct {
	OnStateChange   func(old, new State)
	OnEnterTeaching func()
	OnLeaveTeaching func(new State)
}

type jointReader interface {
	JointAngles() (ppr.Joints, error)
}

// Monitor polls a StatusReader at a fixed rate.
type Monitor struct {
	reader    arm.StatusReader
	interval  time.Duration
	callbacks Callbacks

	mutex    sync.RWMutex
	state    State
	baseline bool
	joints   ppr.Joints
	jointsOK bool

	runMutex sync.Mutex
	stopChan chan struct{}
	doneChan chan struct{}
}

// New returns a stopped monitor. A non-positive interval uses DefaultPollHz.
func New(reader arm.StatusReader, interval time.Duration, cb Callbacks) *Monitor {
	if interval <= 0 {
		interval = time.Second / DefaultPollHz
	}
	return &Monitor{
		reader:    reader,
		interval:  interval,
		callbacks: cb,
		state:     StateUnknown,
	}
}

// State returns the last observed state.
func (m *Monitor) State() State {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.state
}

// Joints returns the joint angles read by the last poll and whether that
// read succeeded. It reports false for readers without joint angles.
func (m *Monitor) Joints() (ppr.Joints, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.joints, m.jointsOK
}

// Start polls once, so State and Joints are current when it returns, then
// launches the polling goroutine. Calling Start on a running monitor does nothing.
func (m *Monitor) Start() {
	m.runMutex.Lock()
	defer m.runMutex.Unlock()
	if m.stopChan != nil {
		return
	}
	m.Poll()
	m.stopChan = make(chan struct{})
	m.doneChan = make(chan struct{})
	go m.run(m.stopChan, m.doneChan)
	slog.Info("Arm state monitor started", "interval", m.interval)
}

// Stop ends polling and waits briefly for the goroutine to exit.
func (m *Monitor) Stop() {
	m.runMutex.Lock()
	stop, done := m.stopChan, m.doneChan
	m.stopChan, m.doneChan = nil, nil
	m.runMutex.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(stopTimeout):
		slog.Warn("Arm state monitor did not stop in time")
	}
	slog.Info("Arm state monitor stopped")
}

func (m *Monitor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Poll()
		}
	}
}

// Poll reads the status once and fires callbacks if the state changed. The
// first successful read sets the baseline without firing.
func (m *Monitor) Poll() State {
	m.pollJoints()

	next := StateUnknown
	st, err := m.reader.Status()
	if err != nil {
		slog.Debug("Arm status read failed", "error", err)
	} else {
		next = Derive(st)
	}

	m.mutex.Lock()
	prev := m.state
	if !m.baseline {
		if err != nil {
			m.mutex.Unlock()
			return prev
		}
		m.baseline = true
		m.state = next
		m.mutex.Unlock()
		slog.Info("Arm state observed", "state", next)
		return next
	}
	changed := next != prev
	if changed {
		m.state = next
	}
	m.mutex.Unlock()

	if !changed {
		return next
	}

	slog.Info("Arm state changed", "from", prev, "to", next)
	if m.callbacks.OnStateChange != nil {
		m.callbacks.OnStateChange(prev, next)
	}
	if next == StateTeaching {
		if m.callbacks.OnEnterTeaching != nil {
			m.callbacks.OnEnterTeaching()
		}
	} else if prev == StateTeaching {
		if m.callbacks.OnLeaveTeaching != nil {
			m.callbacks.OnLeaveTeaching(next)
		}
	}
	return next
}

func (m *Monitor) pollJoints() {
	jr, ok := m.reader.(jointReader)
	if !ok {
		return
	}
	j, err := jr.JointAngles()
	if err != nil {
		slog.Debug("Arm joint read failed", "error", err)
	}
	m.mutex.Lock()
	m.jointsOK = err == nil
	if err == nil {
		m.joints = j
	}
	m.mutex.Unlock()
}
