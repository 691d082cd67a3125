package uws

import (
	"testing"
	"time"
)

func TestPhaseIsActive(t *testing.T) {
	active := map[ExecutionPhase]bool{
		PhasePending:   true,
		PhaseQueued:    true,
		PhaseExecuting: true,
	}
	for phase := range allPhases {
		if phase.IsActive() != active[phase] {
			t.Errorf("IsActive(%s) = %v", phase, phase.IsActive())
		}
	}
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("EXECUTING")
	if err != nil || p != PhaseExecuting {
		t.Errorf("ParsePhase = %v, %v", p, err)
	}
	for _, s := range []string{"RUNNING", "executing", ""} {
		if _, err := ParsePhase(s); err == nil {
			t.Errorf("ParsePhase(%q) succeeded", s)
		}
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	in := time.Date(2026, 8, 24, 15, 4, 5, 999999999, time.UTC)
	s := FormatTimestamp(in)
	if s != "2026-08-24T15:04:05Z" {
		t.Errorf("formatted = %q", s)
	}
	out, err := ParseTimestamp(s)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !out.Equal(in.Truncate(time.Second)) {
		t.Errorf("round trip = %v", out)
	}

	// Non-UTC input is rendered in UTC.
	est := time.FixedZone("EST", -5*3600)
	if got := FormatTimestamp(time.Date(2026, 8, 24, 10, 0, 0, 0, est)); got != "2026-08-24T15:00:00Z" {
		t.Errorf("zoned format = %q", got)
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("garbage timestamp parsed")
	}
}

func TestJobErrorRender(t *testing.T) {
	e := &JobError{Type: ErrorTypeFatal, Code: CodeUsageError, Message: "unknown dataset"}
	if got := e.Render(); got != "unknown dataset" {
		t.Errorf("Render = %q", got)
	}

	e.Detail = "band-9 does not exist"
	if got := e.Render(); got != "unknown dataset\n\nband-9 does not exist" {
		t.Errorf("Render = %q", got)
	}

	var nilErr *JobError
	if got := nilErr.Render(); got != "" {
		t.Errorf("nil Render = %q", got)
	}
}

func TestParameterError(t *testing.T) {
	err := NewParameterError("bad value %q", "x")
	if err.Error() != `bad value "x"` {
		t.Errorf("Error = %q", err.Error())
	}
	if !IsParameterError(err) {
		t.Error("IsParameterError = false")
	}
	if IsParameterError(ErrUnknownJob) {
		t.Error("sentinel misclassified as parameter error")
	}
}
