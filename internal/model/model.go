package model

import "time"

type Role string

const (
	RoleStudent    Role = "Student"
	RoleSupervisor Role = "Supervisor"
	RoleExaminer   Role = "Examiner"
	RoleAdmin      Role = "Admin"
)

func ParseRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleStudent, RoleSupervisor, RoleExaminer, RoleAdmin:
		return Role(value), true
	}
	return "", false
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         Role
	StudentLevel *string
	AvatarURL    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefreshSession is one issued refresh token; the token itself is never
// stored, only its hash. A session is dead once revoked_at is set or
// expires_at has passed, and rotation revokes the old session before the new
// one is handed out.
type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	UserAgent *string
	IPAddress *string
}

// UserProfile is the session-scoped identity handed out after login and kept
// in the session cache until logout.
type UserProfile struct {
	ID           string   `json:"id"`
	GivenName    string   `json:"givenName"`
	FamilyName   string   `json:"familyName"`
	Role         Role     `json:"role"`
	StudentLevel string   `json:"studentLevel,omitempty"`
	AvatarURL    string   `json:"avatarUrl,omitempty"`
	CourseIDs    []string `json:"courseIds,omitempty"`
}

// SupervisionCapabilities marks which programme levels a supervisor owns at
// least one module in.
type SupervisionCapabilities struct {
	HasHonours bool `json:"hasHonours"`
	HasMasters bool `json:"hasMasters"`
	HasPhD     bool `json:"hasPhD"`
}

type ModuleType string

const (
	ModuleTypeHonours ModuleType = "Honours"
	ModuleTypeMasters ModuleType = "Masters"
	ModuleTypePhD     ModuleType = "PhD"
)

type Module struct {
	ID          string
	Title       string
	Description string
	Type        ModuleType
}

type Assignment struct {
	ID          string
	ModuleID    string
	Title       string
	Description string
	DueAt       time.Time
	CreatedAt   time.Time
}

type Conversation struct {
	ID        string
	CreatedAt time.Time
}

// Message is immutable once written; created_at is assigned by the store and
// is the ordering key (ties broken by id).
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"text"`
	AvatarURL      string    `json:"avatarUrl,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Milestone struct {
	ID        string
	StudentID string
	Title     string
	DueAt     time.Time
	Achieved  bool
}

type Topic struct {
	ID          string `json:"id"`
	TopicName   string `json:"topicName"`
	Description string `json:"description"`
	IsSelected  bool   `json:"isSelected"`
	SelectedBy  string `json:"selectedBy,omitempty"`
	CourseID    string `json:"courseId"`
}

type FinalSubmission struct {
	ModuleID             string
	StudentID            string
	SubmissionPermission bool
	UpdatedAt            time.Time
}

type Submission struct {
	ID           string
	ModuleID     string
	AssignmentID string
	StudentID    string
	BlobPath     string
	SubmittedAt  time.Time
}
