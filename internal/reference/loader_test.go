package reference

import (
	"testing"
	"time"
)

func TestLoader_LoadFile(t *testing.T) {
	l := NewLoader()
	set, err := l.LoadFile("testdata/basic/reference.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if len(set.Tracks) != 2 {
		t.Fatalf("Tracks = %d, want 2", len(set.Tracks))
	}
	if set.Tracks[0].DiscoveryDuration != 45*time.Minute {
		t.Errorf("DiscoveryDuration = %v, want 45m", set.Tracks[0].DiscoveryDuration)
	}
	if len(set.StepPolicies) != 14 {
		t.Errorf("StepPolicies = %d, want 14", len(set.StepPolicies))
	}
	if got := set.StepPolicies[3].AllowedCITypeIDs; len(got) != 3 || got[1] != "SW" {
		t.Errorf("AllowedCITypeIDs = %v", got)
	}
	if len(set.Actions) != 3 {
		t.Errorf("Actions = %d, want 3", len(set.Actions))
	}
	if set.Checksum == "" {
		t.Error("Checksum should not be empty")
	}
	if set.SourceFile != "testdata/basic/reference.yaml" {
		t.Errorf("SourceFile = %q", set.SourceFile)
	}
}

func TestLoader_LoadFile_not_found(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadFile("testdata/missing.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoader_LoadAll(t *testing.T) {
	l := NewLoader()
	sets, err := l.LoadAll([]string{"testdata"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("sets = %d, want 2", len(sets))
	}

	var outcomes int
	for _, s := range sets {
		outcomes += len(s.ActionOutcomes)
	}
	if outcomes != 7 {
		t.Errorf("outcomes = %d, want 7", outcomes)
	}
}

func TestLoader_LoadAll_missing_dir(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadAll([]string{"testdata/nope"}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
