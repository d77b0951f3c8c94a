package procutil

import (
	"os"
	"testing"
)

func TestPIDAliveForSelf(t *testing.T) {
	if !PIDAlive(os.Getpid()) {
		t.Fatalf("expected own PID to be alive")
	}
}

func TestPIDAliveForInvalidPID(t *testing.T) {
	if PIDAlive(0) {
		t.Fatalf("expected PID 0 to be reported not alive")
	}
	if PIDAlive(-1) {
		t.Fatalf("expected negative PID to be reported not alive")
	}
}

func TestCheckpointable(t *testing.T) {
	cases := []struct {
		s    State
		want bool
	}{
		{StateRunning, true},
		{StateSleeping, true},
		{StateDiskSleep, true},
		{StateTracingStop, true},
		{StateStopped, false},
		{StateZombie, false},
		{StateUnknown, false},
	}
	for _, c := range cases {
		if got := c.s.Checkpointable(); got != c.want {
			t.Errorf("State(%s).Checkpointable() = %v, want %v", c.s, got, c.want)
		}
	}
}

func TestStateFromChar(t *testing.T) {
	cases := map[byte]State{
		'R': StateRunning,
		'S': StateSleeping,
		'D': StateDiskSleep,
		'T': StateStopped,
		't': StateTracingStop,
		'Z': StateZombie,
		'X': StateZombie,
		'?': StateUnknown,
	}
	for c, want := range cases {
		if got := stateFromChar(c); got != want {
			t.Errorf("stateFromChar(%q) = %s, want %s", c, got, want)
		}
	}
}

func TestPIDStateForSelfIsRunningOrSleeping(t *testing.T) {
	if !ProcFSAvailable() {
		t.Skip("procfs unavailable on this platform")
	}
	s := PIDState(os.Getpid())
	if !s.Checkpointable() {
		t.Fatalf("expected own process state to be checkpointable, got %s", s)
	}
}
