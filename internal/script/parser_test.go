package script_test

import (
	"strings"
	"testing"
	"time"

	"github.com/sweeney/voip-mqtt/internal/script"
)

const sample = `# outbound call answered then hung up remotely
Action: connect
From: alice
To: bob
Token: abc

Action: ring

Action: advance
Duration: 1.5s

Action: proximity
Distance: 0.5
Action: route
Speaker: true
`

func TestParseBlocks(t *testing.T) {
	steps := script.ParseBytes([]byte(sample))

	if len(steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(steps))
	}

	if steps[0].Action() != "connect" {
		t.Errorf("expected connect, got %q", steps[0].Action())
	}
	if steps[0].Get("To") != "bob" {
		t.Errorf("expected To=bob, got %q", steps[0].Get("To"))
	}
	if steps[0].Line != 2 {
		t.Errorf("expected first step on line 2, got %d", steps[0].Line)
	}
	if steps[2].GetDuration("Duration") != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", steps[2].GetDuration("Duration"))
	}
}

func TestBlockWithoutSeparatorKeepsFields(t *testing.T) {
	steps := script.ParseBytes([]byte(sample))
	last := steps[3]

	// No blank line between proximity and route: one block, first Action wins.
	if last.Action() != "proximity" {
		t.Errorf("expected proximity, got %q", last.Action())
	}
	if last.GetFloat("Distance") != 0.5 {
		t.Errorf("expected Distance=0.5, got %v", last.GetFloat("Distance"))
	}
	if !last.GetBool("Speaker") {
		t.Error("expected Speaker=true")
	}
	want := []string{"Action", "Distance", "Action", "Speaker"}
	got := last.Keys()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected keys %v, got %v", want, got)
	}
}

func TestParseCRLF(t *testing.T) {
	steps := script.ParseBytes([]byte("Action: toggleMute\r\nMuted: true\r\n\r\nAction: hangUp\r\n"))
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Get("Muted") != "true" {
		t.Errorf("expected Muted=true, got %q", steps[0].Get("Muted"))
	}
	if steps[1].Action() != "hangUp" {
		t.Errorf("expected hangUp, got %q", steps[1].Action())
	}
}

func TestLookupDistinguishesEmpty(t *testing.T) {
	s := script.NewStep("Action", "fail", "Error", "")
	if v, ok := s.Lookup("Error"); !ok || v != "" {
		t.Errorf("expected present empty Error, got %q %v", v, ok)
	}
	if _, ok := s.Lookup("Code"); ok {
		t.Error("expected Code to be absent")
	}
}

func TestUnparseableValuesDefault(t *testing.T) {
	s := script.NewStep("Action", "advance", "Duration", "soon", "Speaker", "maybe")
	if s.GetDuration("Duration") != 0 {
		t.Error("expected zero duration")
	}
	if s.GetBool("Speaker") {
		t.Error("expected false")
	}
	if s.GetFloat("Missing") != 0 {
		t.Error("expected zero float")
	}
}

func TestEmptyInput(t *testing.T) {
	if steps := script.ParseBytes(nil); len(steps) != 0 {
		t.Errorf("expected no steps, got %d", len(steps))
	}
	if steps := script.ParseBytes([]byte("\n\n# only comments\n\n")); len(steps) != 0 {
		t.Errorf("expected no steps, got %d", len(steps))
	}
}
