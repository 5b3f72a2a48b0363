package navigation

import (
	"errors"
	"testing"

	"github.com/shaunmat/PostGradePortal/internal/model"
)

func labels(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Label
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStudentMenuIgnoresCapabilities(t *testing.T) {
	want := []string{"Dashboard", "Research", "Tasks", "Inbox", "Milestones", "Settings", "Log Out"}
	for _, caps := range allCapabilityCombos() {
		entries, err := BuildMenu(model.RoleStudent, caps)
		if err != nil {
			t.Fatalf("build error: %v", err)
		}
		if !equal(labels(entries), want) {
			t.Fatalf("caps %+v: got %v", caps, labels(entries))
		}
	}
}

func TestExaminerMenuIgnoresCapabilities(t *testing.T) {
	want := []string{"Dashboard", "Reviews", "Submissions", "Inbox", "Settings", "Log Out"}
	for _, caps := range allCapabilityCombos() {
		entries, err := BuildMenu(model.RoleExaminer, caps)
		if err != nil {
			t.Fatalf("build error: %v", err)
		}
		if !equal(labels(entries), want) {
			t.Fatalf("caps %+v: got %v", caps, labels(entries))
		}
	}
}

func TestSupervisorMenuAllCapabilityCombos(t *testing.T) {
	for _, caps := range allCapabilityCombos() {
		entries, err := BuildMenu(model.RoleSupervisor, caps)
		if err != nil {
			t.Fatalf("build error: %v", err)
		}
		got := labels(entries)

		if got[0] != "Dashboard" {
			t.Fatalf("caps %+v: expected Dashboard first, got %v", caps, got)
		}
		if contains(got, "Honours") != caps.HasHonours {
			t.Fatalf("caps %+v: honours mismatch in %v", caps, got)
		}
		if contains(got, "Masters") != caps.HasMasters {
			t.Fatalf("caps %+v: masters mismatch in %v", caps, got)
		}
		if contains(got, "PhD") != caps.HasPhD {
			t.Fatalf("caps %+v: phd mismatch in %v", caps, got)
		}

		// Conditional entries sit directly after Dashboard, before Tasks.
		conditionalCount := 0
		for _, flag := range []bool{caps.HasHonours, caps.HasMasters, caps.HasPhD} {
			if flag {
				conditionalCount++
			}
		}
		if got[1+conditionalCount] != "Tasks" {
			t.Fatalf("caps %+v: expected Tasks after conditionals, got %v", caps, got)
		}
	}
}

func TestSupervisorMastersOnly(t *testing.T) {
	entries, err := BuildMenu(model.RoleSupervisor, model.SupervisionCapabilities{HasMasters: true})
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	got := labels(entries)
	if contains(got, "Honours") || contains(got, "PhD") {
		t.Fatalf("expected only Masters conditional, got %v", got)
	}
	if got[1] != "Masters" {
		t.Fatalf("expected Masters immediately after Dashboard, got %v", got)
	}
}

func TestLogoutEntryCarriesAction(t *testing.T) {
	entries, err := BuildMenu(model.RoleStudent, model.SupervisionCapabilities{})
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	last := entries[len(entries)-1]
	if last.Action != ActionLogout {
		t.Fatalf("expected logout action on last entry, got %+v", last)
	}
}

func TestUnknownRoleFails(t *testing.T) {
	if _, err := BuildMenu(model.Role("Visitor"), model.SupervisionCapabilities{}); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	// Admin navigation comes from the admin route table, never this builder.
	if _, err := BuildMenu(model.RoleAdmin, model.SupervisionCapabilities{}); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole for admin, got %v", err)
	}
}

func allCapabilityCombos() []model.SupervisionCapabilities {
	var combos []model.SupervisionCapabilities
	for i := 0; i < 8; i++ {
		combos = append(combos, model.SupervisionCapabilities{
			HasHonours: i&1 != 0,
			HasMasters: i&2 != 0,
			HasPhD:     i&4 != 0,
		})
	}
	return combos
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
