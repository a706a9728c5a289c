package node

import (
	"testing"
)

func TestNameMatcher_CaseSensitivity(t *testing.T) {
	exact := newNameMatcher([]string{"sshd"}, false)
	if !exact.matches("sshd") {
		t.Error("expected sshd to match")
	}
	if exact.matches("SSHD") {
		t.Error("expected case-sensitive matcher to reject SSHD")
	}

	folded := newNameMatcher([]string{"Explorer.exe"}, true)
	if !folded.matches("explorer.EXE") {
		t.Error("expected case-insensitive match")
	}
}

func TestNameMatcher_Empty(t *testing.T) {
	m := newNameMatcher(nil, false)
	if m.matches("anything") {
		t.Error("empty matcher should match nothing")
	}
}

func TestSelectProcesses_RequestedFirst(t *testing.T) {
	samples := []procSample{
		{name: "a", cpu: 50},
		{name: "b", cpu: 90},
		{name: "watched-low", cpu: 1, requested: true},
		{name: "c", cpu: 70},
		{name: "watched-high", cpu: 5, requested: true},
	}

	got := selectProcesses(samples, 3)

	want := []string{"watched-high", "watched-low", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected %d processes, got %d", len(want), len(got))
	}
	for i, name := range want {
		if got[i].name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, got[i].name)
		}
	}
}

func TestSelectProcesses_RequestedBeyondLimit(t *testing.T) {
	samples := []procSample{
		{name: "x", cpu: 10, requested: true},
		{name: "y", cpu: 20, requested: true},
		{name: "z", cpu: 99},
	}

	got := selectProcesses(samples, 1)
	if len(got) != 2 {
		t.Fatalf("expected all requested processes and no others, got %d", len(got))
	}
	for _, s := range got {
		if !s.requested {
			t.Errorf("unexpected unrequested process %s", s.name)
		}
	}
}

func TestSelectProcesses_Empty(t *testing.T) {
	if got := selectProcesses(nil, 10); len(got) != 0 {
		t.Errorf("expected empty selection, got %d", len(got))
	}
}
