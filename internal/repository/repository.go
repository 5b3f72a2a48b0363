package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaunmat/PostGradePortal/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	var user model.User
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, first_name, last_name, role, student_level, avatar_url, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.StudentLevel,
		&user.AvatarURL,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	var user model.User
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, first_name, last_name, role, student_level, avatar_url, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.StudentLevel,
		&user.AvatarURL,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (s *Store) GetSupervisedCourseIDs(ctx context.Context, supervisorID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT course_id
		FROM supervisor_courses
		WHERE supervisor_id = $1
		ORDER BY course_id
	`, supervisorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courseIDs []string
	for rows.Next() {
		var courseID string
		if err := rows.Scan(&courseID); err != nil {
			return nil, err
		}
		courseIDs = append(courseIDs, courseID)
	}
	return courseIDs, rows.Err()
}

func (s *Store) CreateRefreshSession(ctx context.Context, session model.RefreshSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_token_sessions (id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.UserID, session.TokenHash, session.CreatedAt, session.ExpiresAt, session.RevokedAt, session.UserAgent, session.IPAddress)
	return err
}

func (s *Store) GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var session model.RefreshSession
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address
		FROM refresh_token_sessions
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.RevokedAt,
		&session.UserAgent,
		&session.IPAddress,
	)
	return session, err
}

func (s *Store) RevokeRefreshSession(ctx context.Context, sessionID string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_token_sessions SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL
	`, revokedAt, sessionID)
	return err
}

func (s *Store) RevokeRefreshSessionsByUser(ctx context.Context, userID string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_token_sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL
	`, revokedAt, userID)
	return err
}

func (s *Store) ListSupervisorIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM users WHERE role = 'Supervisor' ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListModulesByCourse(ctx context.Context, courseID string) ([]model.Module, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, description, module_type
		FROM modules
		WHERE id = $1
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []model.Module
	for rows.Next() {
		var m model.Module
		if err := rows.Scan(&m.ID, &m.Title, &m.Description, &m.Type); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

func (s *Store) GetModule(ctx context.Context, moduleID string) (model.Module, error) {
	var m model.Module
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, description, module_type
		FROM modules
		WHERE id = $1
	`, moduleID)
	err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Type)
	return m, err
}

func (s *Store) ListAssignmentsByModule(ctx context.Context, moduleID string) ([]model.Assignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, module_id, title, description, due_at, created_at
		FROM assignments
		WHERE module_id = $1
		ORDER BY created_at DESC
	`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []model.Assignment
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.ID, &a.ModuleID, &a.Title, &a.Description, &a.DueAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func (s *Store) CreateAssignment(ctx context.Context, a model.Assignment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assignments (id, module_id, title, description, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.ModuleID, a.Title, a.Description, a.DueAt, a.CreatedAt)
	return err
}

func (s *Store) ConversationExists(ctx context.Context, conversationID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)
	`, conversationID).Scan(&exists)
	return exists, err
}

// EnsureConversation lazily creates the conversation row; the first message
// sent to a conversation id brings it into existence.
func (s *Store) EnsureConversation(ctx context.Context, conversationID string, createdAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, conversationID, createdAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, sender_id, text, avatar_url, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		var avatar *string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &avatar, &m.CreatedAt); err != nil {
			return nil, err
		}
		if avatar != nil {
			m.AvatarURL = *avatar
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CreateMessage inserts with a server-assigned timestamp and returns the
// stored row so callers see the authoritative created_at.
func (s *Store) CreateMessage(ctx context.Context, m model.Message) (model.Message, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, text, avatar_url, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), now())
		RETURNING created_at
	`, m.ID, m.ConversationID, m.SenderID, m.Text, m.AvatarURL)
	err := row.Scan(&m.CreatedAt)
	return m, err
}

func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID).Scan(&exists)
	return exists, err
}

func (s *Store) AddParticipant(ctx context.Context, conversationID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, conversationID, userID)
	return err
}

func (s *Store) ListMilestonesByStudent(ctx context.Context, studentID string) ([]model.Milestone, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, student_id, title, due_at, achieved
		FROM milestones
		WHERE student_id = $1
		ORDER BY due_at ASC
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var milestones []model.Milestone
	for rows.Next() {
		var m model.Milestone
		if err := rows.Scan(&m.ID, &m.StudentID, &m.Title, &m.DueAt, &m.Achieved); err != nil {
			return nil, err
		}
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

func (s *Store) GetFinalSubmission(ctx context.Context, moduleID, studentID string) (model.FinalSubmission, error) {
	var fs model.FinalSubmission
	row := s.pool.QueryRow(ctx, `
		SELECT module_id, student_id, submission_permission, updated_at
		FROM final_submissions
		WHERE module_id = $1 AND student_id = $2
	`, moduleID, studentID)
	err := row.Scan(&fs.ModuleID, &fs.StudentID, &fs.SubmissionPermission, &fs.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Absent row means permission was never granted.
		return model.FinalSubmission{ModuleID: moduleID, StudentID: studentID}, nil
	}
	return fs, err
}

// SetFinalSubmission persists the toggle before anything is reported back to
// the caller; the stored row is the only source of truth.
func (s *Store) SetFinalSubmission(ctx context.Context, fs model.FinalSubmission) (model.FinalSubmission, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO final_submissions (module_id, student_id, submission_permission, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (module_id, student_id)
		DO UPDATE SET submission_permission = EXCLUDED.submission_permission, updated_at = now()
		RETURNING module_id, student_id, submission_permission, updated_at
	`, fs.ModuleID, fs.StudentID, fs.SubmissionPermission)
	var stored model.FinalSubmission
	err := row.Scan(&stored.ModuleID, &stored.StudentID, &stored.SubmissionPermission, &stored.UpdatedAt)
	return stored, err
}

func (s *Store) CreateSubmission(ctx context.Context, sub model.Submission) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO submissions (id, module_id, assignment_id, student_id, blob_path, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sub.ID, sub.ModuleID, sub.AssignmentID, sub.StudentID, sub.BlobPath, sub.SubmittedAt)
	return err
}

func (s *Store) ListSubmissionsByStudent(ctx context.Context, moduleID, studentID string) ([]model.Submission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, module_id, assignment_id, student_id, blob_path, submitted_at
		FROM submissions
		WHERE module_id = $1 AND student_id = $2
		ORDER BY submitted_at DESC
	`, moduleID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.ModuleID, &sub.AssignmentID, &sub.StudentID, &sub.BlobPath, &sub.SubmittedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
