package navigation

import (
	"errors"

	"github.com/shaunmat/PostGradePortal/internal/model"
)

// ErrUnknownRole is fatal to a menu build; consumers must surface it instead
// of rendering an empty menu.
var ErrUnknownRole = errors.New("navigation: unknown role")

// Action marks entries that trigger behaviour instead of navigating. The
// logout entry never participates in active-route highlighting by path.
type Action string

const ActionLogout Action = "logout"

type Entry struct {
	Path   string `json:"path"`
	Label  string `json:"label"`
	Icon   string `json:"icon"`
	Action Action `json:"action,omitempty"`
}

// BuildMenu returns the ordered sidebar entries for a role. Student and
// Examiner menus are fixed; the Supervisor menu gains Honours/Masters/PhD
// entries directly after Dashboard when the matching capability flag is set.
// Admin never reaches this builder: its navigation is the admin route table.
func BuildMenu(role model.Role, caps model.SupervisionCapabilities) ([]Entry, error) {
	switch role {
	case model.RoleStudent:
		return []Entry{
			{Path: "/dashboard", Label: "Dashboard", Icon: "chart-pie"},
			{Path: "/research", Label: "Research", Icon: "academic-cap"},
			{Path: "/tasks", Label: "Tasks", Icon: "view-boards"},
			{Path: "/inbox", Label: "Inbox", Icon: "mail"},
			{Path: "/milestones", Label: "Milestones", Icon: "flag"},
			{Path: "/settings", Label: "Settings", Icon: "user-group"},
			logoutEntry(),
		}, nil
	case model.RoleSupervisor:
		entries := []Entry{
			{Path: "/dashboard", Label: "Dashboard", Icon: "chart-pie"},
		}
		if caps.HasHonours {
			entries = append(entries, Entry{Path: "/honours", Label: "Honours", Icon: "academic-cap"})
		}
		if caps.HasMasters {
			entries = append(entries, Entry{Path: "/masters", Label: "Masters", Icon: "book-open"})
		}
		if caps.HasPhD {
			entries = append(entries, Entry{Path: "/phd", Label: "PhD", Icon: "collection"})
		}
		entries = append(entries,
			Entry{Path: "/tasks", Label: "Tasks", Icon: "view-boards"},
			Entry{Path: "/students", Label: "Students", Icon: "academic-cap"},
			Entry{Path: "/inbox", Label: "Inbox", Icon: "mail"},
			Entry{Path: "/milestones", Label: "Milestones", Icon: "flag"},
			Entry{Path: "/settings", Label: "Settings", Icon: "user-group"},
			logoutEntry(),
		)
		return entries, nil
	case model.RoleExaminer:
		return []Entry{
			{Path: "/dashboard", Label: "Dashboard", Icon: "chart-pie"},
			{Path: "/review-submissions", Label: "Reviews", Icon: "flag"},
			{Path: "/submissions", Label: "Submissions", Icon: "view-boards"},
			{Path: "/inbox", Label: "Inbox", Icon: "mail"},
			{Path: "/settings", Label: "Settings", Icon: "user-group"},
			logoutEntry(),
		}, nil
	default:
		return nil, ErrUnknownRole
	}
}

func logoutEntry() Entry {
	return Entry{Path: "/logout", Label: "Log Out", Icon: "logout", Action: ActionLogout}
}
