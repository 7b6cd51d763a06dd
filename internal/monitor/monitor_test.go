package monitor

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

var (
	rawStandby   = arm.Status{CtrlMode: arm.CtrlModeStandby}
	rawTeaching  = arm.Status{CtrlMode: arm.CtrlModeTeaching}
	rawExecution = arm.Status{CtrlMode: arm.CtrlModeCAN, ArmStatus: arm.ArmStatusExecuting}
)

// scripted returns its statuses in order, repeating the last one.
type scripted struct {
	mu       sync.Mutex
	statuses []arm.Status
	errs     []error
	i        int
}

func (s *scripted) Status() (arm.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.i
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	} else {
		s.i++
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.statuses[i], err
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) callbacks() Callbacks {
	return Callbacks{
		OnStateChange:   func(old, new State) { l.add("change %s->%s", old, new) },
		OnEnterTeaching: func() { l.add("enter") },
		OnLeaveTeaching: func(new State) { l.add("leave %s", new) },
	}
}

func TestDerive(t *testing.T) {
	cases := []struct {
		status arm.Status
		want   State
	}{
		{arm.Status{CtrlMode: 0x00}, StateStandby},
		{arm.Status{CtrlMode: 0x01}, StateStandby},
		{arm.Status{CtrlMode: 0x02}, StateTeaching},
		{arm.Status{CtrlMode: 0x02, ArmStatus: 0x0C}, StateTeaching},
		{arm.Status{CtrlMode: 0x07}, StateExecution},
		{arm.Status{CtrlMode: 0x01, ArmStatus: 0x0C}, StateExecution},
		{arm.Status{CtrlMode: 0x03, ArmStatus: 0x01}, StateStandby},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Derive(c.status), "status %+v", c.status)
	}
}

func TestPollSequenceFiresCallbacksInOrder(t *testing.T) {
	log := &eventLog{}
	reader := &scripted{statuses: []arm.Status{rawStandby, rawTeaching, rawTeaching, rawExecution, rawStandby}}
	m := New(reader, 0, log.callbacks())

	assert.Equal(t, StateUnknown, m.State())
	for range reader.statuses {
		m.Poll()
	}

	assert.Equal(t, []string{
		"change STANDBY->TEACHING",
		"enter",
		"change TEACHING->EXECUTION",
		"leave EXECUTION",
		"change EXECUTION->STANDBY",
	}, log.get())
	assert.Equal(t, StateStandby, m.State())
}

func TestReadErrorYieldsUnknown(t *testing.T) {
	log := &eventLog{}
	boom := errors.New("bus timeout")
	reader := &scripted{
		statuses: []arm.Status{rawTeaching, {}, rawTeaching},
		errs:     []error{nil, boom, nil},
	}
	m := New(reader, 0, log.callbacks())

	m.Poll()
	assert.Equal(t, StateUnknown, m.Poll())
	m.Poll()

	assert.Equal(t, []string{
		"change TEACHING->UNKNOWN",
		"leave UNKNOWN",
		"change UNKNOWN->TEACHING",
		"enter",
	}, log.get())
}

func TestErrorsBeforeBaselineAreSilent(t *testing.T) {
	log := &eventLog{}
	reader := &scripted{
		statuses: []arm.Status{{}, rawStandby},
		errs:     []error{errors.New("not connected"), nil},
	}
	m := New(reader, 0, log.callbacks())

	m.Poll()
	m.Poll()
	assert.Empty(t, log.get())
	assert.Equal(t, StateStandby, m.State())
}

func TestStartStopPollsInBackground(t *testing.T) {
	defer goleak.VerifyNone(t)

	sim := arm.NewSim()
	log := &eventLog{}
	m := New(sim, 2*time.Millisecond, log.callbacks())
	m.Start()
	m.Start()

	require.Eventually(t, func() bool { return m.State() == StateStandby }, time.Second, time.Millisecond)
	sim.SetStatus(rawTeaching)
	require.Eventually(t, func() bool { return m.State() == StateTeaching }, time.Second, time.Millisecond)

	m.Stop()
	m.Stop()
	assert.Equal(t, []string{"change STANDBY->TEACHING", "enter"}, log.get())
}

func TestPollCachesJoints(t *testing.T) {
	sim := arm.NewSim()
	sim.SetJoints(ppr.Joints{0.1, 0.2})
	m := New(sim, 0, Callbacks{})

	_, ok := m.Joints()
	assert.False(t, ok)

	m.Poll()
	j, ok := m.Joints()
	require.True(t, ok)
	assert.Equal(t, ppr.Joints{0.1, 0.2}, j)

	sim.SetReadError(errors.New("bus timeout"))
	m.Poll()
	_, ok = m.Joints()
	assert.False(t, ok)

	// Status-only readers never report joints.
	s := New(&scripted{statuses: []arm.Status{rawStandby}}, 0, Callbacks{})
	s.Poll()
	_, ok = s.Joints()
	assert.False(t, ok)
}
