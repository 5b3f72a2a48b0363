package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaunmat/PostGradePortal/internal/auth"
	"github.com/shaunmat/PostGradePortal/internal/capability"
	"github.com/shaunmat/PostGradePortal/internal/config"
	"github.com/shaunmat/PostGradePortal/internal/crypto"
	"github.com/shaunmat/PostGradePortal/internal/model"
	"github.com/shaunmat/PostGradePortal/internal/navigation"
	"github.com/shaunmat/PostGradePortal/internal/realtime"
	"github.com/shaunmat/PostGradePortal/internal/repository"
	"github.com/shaunmat/PostGradePortal/internal/routes"
	"github.com/shaunmat/PostGradePortal/internal/session"
	"github.com/shaunmat/PostGradePortal/internal/storage"
)

const topicsBlobPath = "r_topics/topics.json"

type Server struct {
	cfg      config.Config
	store    *repository.Store
	sessions *session.Cache
	caps     *capability.Service
	syncer   *realtime.Syncer
	bus      realtime.Bus
	blobs    storage.BlobStore
}

func NewServer(cfg config.Config, store *repository.Store, sessions *session.Cache, caps *capability.Service, syncer *realtime.Syncer, bus realtime.Bus, blobs storage.BlobStore) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		caps:     caps,
		syncer:   syncer,
		bus:      bus,
		blobs:    blobs,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)

	r.With(s.authMiddleware).Get("/menu", s.handleGetMenu)
	r.With(s.authMiddleware).Get("/routes", s.handleGetRoutes)
	r.With(s.authMiddleware).Get("/routes/resolve", s.handleResolveRoute)
	r.With(s.authMiddleware).Get("/supervisor/capabilities", s.handleGetCapabilities)

	r.With(s.authMiddleware).Get("/conversations/{conversationId}/messages", s.handleListMessages)
	r.With(s.authMiddleware).Post("/conversations/{conversationId}/messages", s.handleSendMessage)
	r.With(s.authMiddleware).Get("/conversations/{conversationId}/stream", s.handleStreamConversation)

	r.With(s.authMiddleware).Get("/modules/{moduleId}/assignments", s.handleListAssignments)
	r.With(s.authMiddleware).Post("/modules/{moduleId}/assignments", s.handleCreateAssignment)
	r.With(s.authMiddleware).Post("/modules/{moduleId}/assignments/{assignmentId}/submission", s.handleCreateSubmission)
	r.With(s.authMiddleware).Get("/modules/{moduleId}/submissions", s.handleListSubmissions)

	r.With(s.authMiddleware).Get("/modules/{moduleId}/final-submission/{studentId}", s.handleGetFinalSubmission)
	r.With(s.authMiddleware).Put("/modules/{moduleId}/final-submission/{studentId}", s.handlePutFinalSubmission)

	r.With(s.authMiddleware).Get("/research/topics", s.handleListTopics)
	r.With(s.authMiddleware).Post("/research/topics", s.handleAddTopic)

	r.With(s.authMiddleware).Get("/milestones", s.handleListMilestones)
	r.With(s.authMiddleware).Get("/files", s.handleDownloadFile)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// Models

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	User         model.UserProfile `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type messageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Text           string `json:"text"`
	AvatarURL      string `json:"avatarUrl,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type assignmentResponse struct {
	ID          string `json:"id"`
	ModuleID    string `json:"module"`
	Title       string `json:"title"`
	Description string `json:"description"`
	DueAt       int64  `json:"dueDate"`
	CreatedAt   int64  `json:"createdOn"`
}

type createAssignmentRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueAt       int64  `json:"dueDate"`
}

type finalSubmissionResponse struct {
	ModuleID             string `json:"module"`
	StudentID            string `json:"student"`
	SubmissionPermission bool   `json:"submissionPermission"`
	UpdatedAt            int64  `json:"updatedOn"`
}

type putFinalSubmissionRequest struct {
	SubmissionPermission *bool `json:"submissionPermission"`
}

type addTopicRequest struct {
	TopicName   string `json:"topicName"`
	Description string `json:"description"`
	CourseID    string `json:"courseId"`
}

type milestoneResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	DueAt    int64  `json:"dueDate"`
	Achieved bool   `json:"achieved"`
}

type submissionResponse struct {
	ID           string `json:"id"`
	ModuleID     string `json:"module"`
	AssignmentID string `json:"assignment"`
	StudentID    string `json:"student"`
	DownloadPath string `json:"downloadPath"`
	SubmittedAt  int64  `json:"submittedOn"`
}

// Session handlers

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		log.Printf("login: user lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	profile, err := s.profileFromUser(r.Context(), user)
	if err != nil {
		log.Printf("login: profile build error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := s.sessions.Store(r.Context(), profile); err != nil {
		// Cache failure is not a login failure; the profile reloads from
		// the database on the next request.
		log.Printf("login: session cache store error: %v", err)
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), user, r.UserAgent(), clientIP(r))
	if err != nil {
		log.Printf("login: token issue error: %v", err)
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         profile,
	})
}

// handleRefresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued, so a replayed token is dead on arrival.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	tokenSession, err := s.store.GetRefreshSession(r.Context(), crypto.HashToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
			return
		}
		log.Printf("refresh: session lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if tokenSession.RevokedAt != nil || tokenSession.ExpiresAt.Before(time.Now().UTC()) {
		writeError(w, http.StatusUnauthorized, "refresh_token_expired")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), tokenSession.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user_not_found")
		return
	}
	profile, err := s.profileFromUser(r.Context(), user)
	if err != nil {
		log.Printf("refresh: profile build error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if err := s.store.RevokeRefreshSession(r.Context(), tokenSession.ID, time.Now().UTC()); err != nil {
		log.Printf("refresh: revoke error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), user, r.UserAgent(), clientIP(r))
	if err != nil {
		log.Printf("refresh: token issue error: %v", err)
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         profile,
	})
}

func (s *Server) issueTokens(ctx context.Context, user model.User, userAgent, ip string) (string, string, error) {
	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID: user.ID,
		Role:   string(user.Role),
	})
	if err != nil {
		return "", "", err
	}

	refreshToken, err := crypto.NewRefreshToken()
	if err != nil {
		return "", "", err
	}

	now := time.Now().UTC()
	tokenSession := model.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: crypto.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if userAgent != "" {
		tokenSession.UserAgent = &userAgent
	}
	if ip != "" {
		tokenSession.IPAddress = &ip
	}
	if err := s.store.CreateRefreshSession(ctx, tokenSession); err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if err := s.store.RevokeRefreshSessionsByUser(r.Context(), claims.UserID, time.Now().UTC()); err != nil {
		log.Printf("logout: refresh revoke error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	// A session left behind here leaks identity to the next user of a shared
	// device, so a failed clear is an error, not a warning.
	if err := s.sessions.Clear(r.Context(), claims.UserID); err != nil {
		log.Printf("logout: session clear error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	profile, err := s.loadProfile(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		log.Printf("me: profile load error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// loadProfile serves the cached session profile and falls back to the
// database on a miss, re-priming the cache for the next call.
func (s *Server) loadProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	profile, err := s.sessions.Load(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, session.ErrCacheMiss) {
		log.Printf("session cache load error: %v", err)
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return model.UserProfile{}, err
	}
	profile, err = s.profileFromUser(ctx, user)
	if err != nil {
		return model.UserProfile{}, err
	}
	if err := s.sessions.Store(ctx, profile); err != nil {
		log.Printf("session cache store error: %v", err)
	}
	return profile, nil
}

func (s *Server) profileFromUser(ctx context.Context, user model.User) (model.UserProfile, error) {
	profile := model.UserProfile{
		ID:         user.ID,
		GivenName:  user.FirstName,
		FamilyName: user.LastName,
		Role:       user.Role,
	}
	if user.StudentLevel != nil {
		profile.StudentLevel = *user.StudentLevel
	}
	if user.AvatarURL != nil {
		profile.AvatarURL = *user.AvatarURL
	}
	if user.Role == model.RoleSupervisor {
		courseIDs, err := s.store.GetSupervisedCourseIDs(ctx, user.ID)
		if err != nil {
			return model.UserProfile{}, err
		}
		profile.CourseIDs = courseIDs
	}
	return profile, nil
}

// Navigation handlers

func (s *Server) handleGetMenu(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	role, ok := model.ParseRole(claims.Role)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "unknown_role")
		return
	}

	var caps model.SupervisionCapabilities
	if role == model.RoleSupervisor {
		profile, err := s.loadProfile(r.Context(), claims.UserID)
		if err != nil {
			log.Printf("menu: profile load error: %v", err)
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		caps, err = s.caps.Get(r.Context(), claims.UserID, profile.CourseIDs)
		if err != nil {
			log.Printf("menu: capability error: %v", err)
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
	}

	entries, err := navigation.BuildMenu(role, caps)
	if err != nil {
		// Admin lands here too: its navigation is the admin route table,
		// never a sidebar menu.
		writeError(w, http.StatusUnprocessableEntity, "unknown_role")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetRoutes(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	role, ok := model.ParseRole(claims.Role)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "unknown_role")
		return
	}
	writeJSON(w, http.StatusOK, routes.Resolve(role))
}

func (s *Server) handleResolveRoute(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	role, ok := model.ParseRole(claims.Role)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "unknown_role")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "missing_path")
		return
	}
	table := routes.Resolve(role)
	writeJSON(w, http.StatusOK, map[string]string{"route": table.Lookup(path)})
}

func (s *Server) handleGetCapabilities(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.Role != string(model.RoleSupervisor) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	profile, err := s.loadProfile(r.Context(), claims.UserID)
	if err != nil {
		log.Printf("capabilities: profile load error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	caps, err := s.caps.Get(r.Context(), claims.UserID, profile.CourseIDs)
	if err != nil {
		log.Printf("capabilities: derivation error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

// Conversation handlers

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationId")
	if code, status := s.checkConversationAccess(r.Context(), conversationID, claims.UserID); code != "" {
		writeError(w, status, code)
		return
	}
	messages, err := s.store.ListMessages(r.Context(), conversationID)
	if err != nil {
		log.Printf("conversation %s: list error: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, mapMessages(messages))
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationId")

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "missing_text")
		return
	}

	profile, err := s.loadProfile(r.Context(), claims.UserID)
	if err != nil {
		log.Printf("send: profile load error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if code, status := s.checkConversationAccess(r.Context(), conversationID, claims.UserID); code != "" {
		writeError(w, status, code)
		return
	}

	// The first message brings the conversation into existence.
	created, err := s.store.EnsureConversation(r.Context(), conversationID, time.Now().UTC())
	if err != nil {
		log.Printf("send: conversation create error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := s.store.AddParticipant(r.Context(), conversationID, claims.UserID); err != nil {
		log.Printf("send: participant error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	message := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       claims.UserID,
		Text:           req.Text,
		AvatarURL:      profile.AvatarURL,
	}
	stored, err := s.store.CreateMessage(r.Context(), message)
	if err != nil {
		log.Printf("send: message insert error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if created {
		if err := s.bus.Publish(r.Context(), realtime.ConversationChannel(conversationID)); err != nil {
			log.Printf("send: conversation publish error: %v", err)
		}
	}
	if err := s.bus.Publish(r.Context(), realtime.MessagesChannel(conversationID)); err != nil {
		log.Printf("send: message publish error: %v", err)
	}

	writeJSON(w, http.StatusCreated, mapMessage(stored))
}

func (s *Server) handleStreamConversation(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationId")
	if code, status := s.checkConversationAccess(r.Context(), conversationID, claims.UserID); code != "" {
		writeError(w, status, code)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Latest-snapshot mailbox: intermediate snapshots may be dropped, the
	// newest never is.
	snapshots := make(chan []model.Message, 1)
	cancel := s.syncer.Subscribe(r.Context(), conversationID, func(messages []model.Message) {
		for {
			select {
			case snapshots <- messages:
				return
			default:
				select {
				case <-snapshots:
				default:
				}
			}
		}
	})
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot := <-snapshots:
			data, err := json.Marshal(mapMessages(snapshot))
			if err != nil {
				log.Printf("stream %s: marshal error: %v", conversationID, err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// checkConversationAccess returns an error code and status if the caller may
// not use the conversation. Conversation ids are deterministic pair ids
// ("studentID:supervisorID"), so a named party has access before ever having
// written a message. A conversation that does not exist yet renders as empty
// for its parties.
func (s *Server) checkConversationAccess(ctx context.Context, conversationID, userID string) (string, int) {
	if conversationID == "" {
		return "invalid_conversation", http.StatusBadRequest
	}
	for _, party := range strings.Split(conversationID, ":") {
		if party == userID {
			return "", 0
		}
	}
	participant, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		log.Printf("conversation %s: participant error: %v", conversationID, err)
		return "server_error", http.StatusInternalServerError
	}
	if !participant {
		return "forbidden", http.StatusForbidden
	}
	return "", 0
}

// Assignment handlers

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleId")
	assignments, err := s.store.ListAssignmentsByModule(r.Context(), moduleID)
	if err != nil {
		log.Printf("assignments: list error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make([]assignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		resp = append(resp, assignmentResponse{
			ID:          a.ID,
			ModuleID:    a.ModuleID,
			Title:       a.Title,
			Description: a.Description,
			DueAt:       a.DueAt.Unix(),
			CreatedAt:   a.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims.Role != string(model.RoleSupervisor) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	moduleID := chi.URLParam(r, "moduleId")

	var req createAssignmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Title == "" || req.Description == "" || req.DueAt == 0 {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if _, err := s.store.GetModule(r.Context(), moduleID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "module_not_found")
			return
		}
		log.Printf("assignments: module lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	assignment := model.Assignment{
		ID:          uuid.NewString(),
		ModuleID:    moduleID,
		Title:       req.Title,
		Description: req.Description,
		DueAt:       time.Unix(req.DueAt, 0).UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateAssignment(r.Context(), assignment); err != nil {
		log.Printf("assignments: insert error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, assignmentResponse{
		ID:          assignment.ID,
		ModuleID:    assignment.ModuleID,
		Title:       assignment.Title,
		Description: assignment.Description,
		DueAt:       assignment.DueAt.Unix(),
		CreatedAt:   assignment.CreatedAt.Unix(),
	})
}

// Submission handlers

func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims.Role != string(model.RoleStudent) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	moduleID := chi.URLParam(r, "moduleId")
	assignmentID := chi.URLParam(r, "assignmentId")

	if r.URL.Query().Get("final") == "true" {
		permission, err := s.store.GetFinalSubmission(r.Context(), moduleID, claims.UserID)
		if err != nil {
			log.Printf("submission: permission lookup error: %v", err)
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		if !permission.SubmissionPermission {
			writeError(w, http.StatusForbidden, "final_submission_not_enabled")
			return
		}
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	blobPath := fmt.Sprintf("submissions/%s/%s/%s/%s", moduleID, assignmentID, claims.UserID, header.Filename)
	if err := s.blobs.Put(r.Context(), blobPath, data); err != nil {
		log.Printf("submission: blob write error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	sub := model.Submission{
		ID:           uuid.NewString(),
		ModuleID:     moduleID,
		AssignmentID: assignmentID,
		StudentID:    claims.UserID,
		BlobPath:     blobPath,
		SubmittedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateSubmission(r.Context(), sub); err != nil {
		log.Printf("submission: insert error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, mapSubmission(sub))
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	moduleID := chi.URLParam(r, "moduleId")

	studentID := claims.UserID
	if claims.Role == string(model.RoleSupervisor) || claims.Role == string(model.RoleExaminer) {
		if qs := r.URL.Query().Get("studentId"); qs != "" {
			studentID = qs
		}
	} else if claims.Role != string(model.RoleStudent) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	subs, err := s.store.ListSubmissionsByStudent(r.Context(), moduleID, studentID)
	if err != nil {
		log.Printf("submissions: list error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make([]submissionResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, mapSubmission(sub))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "missing_path")
		return
	}
	if !canDownloadBlob(claims, path) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	data, err := s.blobs.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file_not_found")
			return
		}
		log.Printf("files: read error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Final submission handlers

func (s *Server) handleGetFinalSubmission(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	moduleID := chi.URLParam(r, "moduleId")
	studentID := chi.URLParam(r, "studentId")

	if claims.Role == string(model.RoleStudent) && claims.UserID != studentID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	fs, err := s.store.GetFinalSubmission(r.Context(), moduleID, studentID)
	if err != nil {
		log.Printf("final submission: lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, mapFinalSubmission(fs))
}

func (s *Server) handlePutFinalSubmission(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims.Role != string(model.RoleSupervisor) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	moduleID := chi.URLParam(r, "moduleId")
	studentID := chi.URLParam(r, "studentId")

	var req putFinalSubmissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.SubmissionPermission == nil {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	// The row is written before anything is reported back; the response
	// echoes stored state, never the requested one.
	stored, err := s.store.SetFinalSubmission(r.Context(), model.FinalSubmission{
		ModuleID:             moduleID,
		StudentID:            studentID,
		SubmissionPermission: *req.SubmissionPermission,
	})
	if err != nil {
		log.Printf("final submission: write error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, mapFinalSubmission(stored))
}

// Topic handlers

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.readTopics(r.Context())
	if err != nil {
		log.Printf("topics: read error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if courseID := r.URL.Query().Get("courseId"); courseID != "" {
		filtered := topics[:0]
		for _, topic := range topics {
			if topic.CourseID == courseID {
				filtered = append(filtered, topic)
			}
		}
		topics = filtered
	}
	writeJSON(w, http.StatusOK, topics)
}

func (s *Server) handleAddTopic(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims.Role != string(model.RoleSupervisor) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req addTopicRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.TopicName == "" || req.Description == "" || req.CourseID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	// The topics document is a single blob replaced wholesale: read, append,
	// write back. Concurrent writers race and the last one wins.
	topics, err := s.readTopics(r.Context())
	if err != nil {
		log.Printf("topics: read error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	topic := model.Topic{
		ID:          uuid.NewString(),
		TopicName:   req.TopicName,
		Description: req.Description,
		CourseID:    req.CourseID,
	}
	topics = append(topics, topic)

	data, err := json.Marshal(topics)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := s.blobs.Put(r.Context(), topicsBlobPath, data); err != nil {
		log.Printf("topics: write error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, topic)
}

func (s *Server) readTopics(ctx context.Context) ([]model.Topic, error) {
	data, err := s.blobs.Get(ctx, topicsBlobPath)
	if errors.Is(err, storage.ErrNotFound) {
		return []model.Topic{}, nil
	}
	if err != nil {
		return nil, err
	}
	var topics []model.Topic
	if err := json.Unmarshal(data, &topics); err != nil {
		return nil, err
	}
	return topics, nil
}

// Milestone handlers

func (s *Server) handleListMilestones(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims.Role != string(model.RoleStudent) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	milestones, err := s.store.ListMilestonesByStudent(r.Context(), claims.UserID)
	if err != nil {
		log.Printf("milestones: list error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make([]milestoneResponse, 0, len(milestones))
	for _, m := range milestones {
		resp = append(resp, milestoneResponse{
			ID:       m.ID,
			Title:    m.Title,
			DueAt:    m.DueAt.Unix(),
			Achieved: m.Achieved,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Utilities

func mapMessage(m model.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		AvatarURL:      m.AvatarURL,
		CreatedAt:      m.CreatedAt.Unix(),
	}
}

func mapMessages(messages []model.Message) []messageResponse {
	resp := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		resp = append(resp, mapMessage(m))
	}
	return resp
}

func mapSubmission(sub model.Submission) submissionResponse {
	return submissionResponse{
		ID:           sub.ID,
		ModuleID:     sub.ModuleID,
		AssignmentID: sub.AssignmentID,
		StudentID:    sub.StudentID,
		DownloadPath: sub.BlobPath,
		SubmittedAt:  sub.SubmittedAt.Unix(),
	}
}

func mapFinalSubmission(fs model.FinalSubmission) finalSubmissionResponse {
	resp := finalSubmissionResponse{
		ModuleID:             fs.ModuleID,
		StudentID:            fs.StudentID,
		SubmissionPermission: fs.SubmissionPermission,
	}
	if !fs.UpdatedAt.IsZero() {
		resp.UpdatedAt = fs.UpdatedAt.Unix()
	}
	return resp
}

// canDownloadBlob gates blob reads. Submission blobs live under
// submissions/{module}/{assignment}/{student}/{file}; the owning student and
// the reviewing roles may read them, nobody else. Paths outside the
// submissions tree are internal documents with their own endpoints and are
// only readable by reviewing roles.
func canDownloadBlob(claims *auth.Claims, path string) bool {
	if claims == nil {
		return false
	}
	switch claims.Role {
	case string(model.RoleSupervisor), string(model.RoleExaminer), string(model.RoleAdmin):
		return true
	}
	segments := strings.Split(path, "/")
	if len(segments) != 5 || segments[0] != "submissions" {
		return false
	}
	return segments[3] == claims.UserID
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return ""
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
