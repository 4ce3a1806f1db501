package guard

import (
	"testing"
	"time"

	"github.com/pitabwire/drill/model"
)

func TestIsLegalActionWindow(t *testing.T) {
	tests := []struct {
		step, state int
		want        bool
	}{
		{20, 11, true},
		{20, 19, true},
		{20, 10, false},
		{20, 20, false},
		{59, 15, true},
		{40, 22, false},
		{60, 21, true},
		{60, 98, true},
		{60, 20, false},
		{60, 99, false},
		{60, 15, false},
		{10, 11, false},
		{70, 25, false},
	}
	for _, tt := range tests {
		if got := IsLegalActionWindow(tt.step, tt.state); got != tt.want {
			t.Errorf("IsLegalActionWindow(%d, %d) = %v, want %v", tt.step, tt.state, got, tt.want)
		}
	}
}

func TestIsExpired(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	discovery := model.Track{Discovery: true, DiscoveryDuration: 30 * time.Minute}
	guided := model.Track{DiscoveryDuration: 30 * time.Minute}

	tests := []struct {
		name  string
		track model.Track
		start time.Time
		now   time.Time
		want  bool
	}{
		{"within", discovery, start, start.Add(29 * time.Minute), false},
		{"at deadline", discovery, start, start.Add(30 * time.Minute), false},
		{"past", discovery, start, start.Add(31 * time.Minute), true},
		{"guided never expires", guided, start, start.Add(2 * time.Hour), false},
		{"unknown start", discovery, time.Time{}, start, false},
		{"no duration", model.Track{Discovery: true}, start, start.Add(time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.track, tt.start, tt.now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsQuotaExhausted(t *testing.T) {
	if IsQuotaExhausted(model.ActionQuota - 1) {
		t.Error("49 actions should leave room for one more")
	}
	if !IsQuotaExhausted(model.ActionQuota) {
		t.Error("50 actions should exhaust the quota")
	}
}

func TestIsReplay(t *testing.T) {
	scope := model.TeamScope{Team: model.Team{AccessID: "a", TeamNo: 1}, OutlineID: "out-1"}
	advanced := model.StatusRow{Scope: scope, StepNo: 30, CurrentState: 15, NextState: 15, ActorName: model.ActorParticipant}

	if !IsReplay(advanced, model.Snapshot{OutlineID: "out-1", StepNo: 20, CurrentState: 15}) {
		t.Error("repeat from step 20 should be a replay")
	}
	if IsReplay(advanced, model.Snapshot{OutlineID: "out-1", StepNo: 20, CurrentState: 11}) {
		t.Error("different state should not be a replay")
	}
	if IsReplay(advanced, model.Snapshot{OutlineID: "out-2", StepNo: 20, CurrentState: 15}) {
		t.Error("different outline should not be a replay")
	}

	system := advanced
	system.ActorName = model.ActorSystem
	if IsReplay(system, model.Snapshot{OutlineID: "out-1", StepNo: 20, CurrentState: 15}) {
		t.Error("system rows are not replays")
	}

	action := advanced
	id := 3
	action.ActionID = &id
	if IsReplay(action, model.Snapshot{OutlineID: "out-1", StepNo: 20, CurrentState: 15}) {
		t.Error("action rows are not replays")
	}
}
