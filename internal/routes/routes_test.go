package routes

import (
	"strings"
	"testing"

	"github.com/shaunmat/PostGradePortal/internal/model"
)

func TestAdminTableOnlyAdminPaths(t *testing.T) {
	table := Resolve(model.RoleAdmin)
	if table.Name != "admin" {
		t.Fatalf("expected admin table, got %s", table.Name)
	}
	for _, pattern := range table.Patterns {
		if !strings.HasPrefix(pattern, "/admin/") {
			t.Fatalf("admin table leaked non-admin path %s", pattern)
		}
	}
}

func TestGeneralTableHasNoAdminPaths(t *testing.T) {
	for _, role := range []model.Role{model.RoleStudent, model.RoleSupervisor, model.RoleExaminer} {
		table := Resolve(role)
		if table.Name != "general" {
			t.Fatalf("role %s: expected general table, got %s", role, table.Name)
		}
		for _, pattern := range table.Patterns {
			if strings.HasPrefix(pattern, "/admin") {
				t.Fatalf("general table contains admin path %s", pattern)
			}
		}
	}
}

func TestTablesAreDisjoint(t *testing.T) {
	general := Resolve(model.RoleStudent)
	for _, pattern := range Resolve(model.RoleAdmin).Patterns {
		if general.Contains(pattern) {
			t.Fatalf("pattern %s present in both tables", pattern)
		}
	}
}

func TestUnknownPathRedirectsToLanding(t *testing.T) {
	general := Resolve(model.RoleStudent)
	if got := general.Lookup("/no-such-page"); got != "/dashboard" {
		t.Fatalf("expected general landing, got %s", got)
	}
	admin := Resolve(model.RoleAdmin)
	if got := admin.Lookup("/dashboard"); got != "/admin/dashboard" {
		t.Fatalf("expected admin landing for out-of-table path, got %s", got)
	}
}

func TestParameterisedLookup(t *testing.T) {
	general := Resolve(model.RoleSupervisor)
	cases := map[string]string{
		"/masters/stu-42":                    "/masters/{studentId}",
		"/masters/C1/assignments/a-7":        "/masters/{courseId}/assignments/{assignmentId}",
		"/courses/course/C1":                 "/courses/course/{courseId}",
		"/courses/course/C1/topic/t-1":       "/courses/course/{courseId}/topic/{topicId}",
		"/phd/stu-9":                         "/phd/{studentId}",
		"/honours/C2/assignments/a-1":        "/honours/{courseId}/assignments/{assignmentId}",
		"/masters/C1/assignments/a-7/extras": "/dashboard",
	}
	for path, want := range cases {
		if got := general.Lookup(path); got != want {
			t.Fatalf("path %s: expected %s, got %s", path, want, got)
		}
	}
}
