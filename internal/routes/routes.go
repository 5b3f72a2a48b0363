package routes

import (
	"strings"

	"github.com/shaunmat/PostGradePortal/internal/model"
)

// Table is one of the two disjoint route sets: the admin table carries only
// admin-prefixed paths, the general table everything else. Lookups that match
// no pattern land on the table's default page.
type Table struct {
	Name     string   `json:"name"`
	Landing  string   `json:"landing"`
	Patterns []string `json:"patterns"`
}

var adminTable = Table{
	Name:    "admin",
	Landing: "/admin/dashboard",
	Patterns: []string{
		"/admin/dashboard",
		"/admin/settings",
		"/admin/reports",
	},
}

var generalTable = Table{
	Name:    "general",
	Landing: "/dashboard",
	Patterns: []string{
		"/dashboard",
		"/courses",
		"/courses/course/{courseId}",
		"/courses/course/{courseId}/topic/{topicId}",
		"/research",
		"/research/{researchId}",
		"/honours",
		"/honours/{researchId}",
		"/honours/{courseId}/assignments/{assignmentId}",
		"/masters",
		"/masters/{studentId}",
		"/masters/{courseId}/assignments/{assignmentId}",
		"/phd",
		"/phd/{studentId}",
		"/phd/{courseId}/assignments/{assignmentId}",
		"/tasks",
		"/students",
		"/inbox",
		"/milestones",
		"/settings",
		"/review-submissions",
		"/submissions",
	},
}

// Resolve selects the route table for a role. Only Admin gets the admin
// table; every other role, known or not, is confined to the general table.
func Resolve(role model.Role) Table {
	if role == model.RoleAdmin {
		return adminTable
	}
	return generalTable
}

// Lookup maps a requested path to the route that should render. Unknown
// paths redirect to the table's landing page rather than erroring.
func (t Table) Lookup(path string) string {
	for _, pattern := range t.Patterns {
		if matchPattern(pattern, path) {
			return pattern
		}
	}
	return t.Landing
}

func (t Table) Contains(path string) bool {
	for _, pattern := range t.Patterns {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, path string) bool {
	patternParts := strings.Split(strings.Trim(pattern, "/"), "/")
	pathParts := strings.Split(strings.Trim(path, "/"), "/")
	if len(patternParts) != len(pathParts) {
		return false
	}
	for i, part := range patternParts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			if pathParts[i] == "" {
				return false
			}
			continue
		}
		if part != pathParts[i] {
			return false
		}
	}
	return true
}
