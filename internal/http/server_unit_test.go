package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shaunmat/PostGradePortal/internal/auth"
	"github.com/shaunmat/PostGradePortal/internal/capability"
	"github.com/shaunmat/PostGradePortal/internal/config"
	"github.com/shaunmat/PostGradePortal/internal/model"
	"github.com/shaunmat/PostGradePortal/internal/navigation"
	"github.com/shaunmat/PostGradePortal/internal/realtime"
	"github.com/shaunmat/PostGradePortal/internal/routes"
	"github.com/shaunmat/PostGradePortal/internal/session"
	"github.com/shaunmat/PostGradePortal/internal/storage"
)

type fakeModuleLister struct {
	modules map[string][]model.Module
}

func (f fakeModuleLister) ListModulesByCourse(_ context.Context, courseID string) ([]model.Module, error) {
	return f.modules[courseID], nil
}

func newTestServer(t *testing.T, lister fakeModuleLister) (*Server, *session.Cache) {
	t.Helper()
	kv := session.NewMemoryKV()
	sessions := session.NewCache(kv)
	caps := capability.NewService(lister, kv, time.Hour)
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob store error: %v", err)
	}
	cfg := config.Config{
		JWTSecret:      "unit-test-secret",
		JWTIssuer:      "portal-test",
		AccessTokenTTL: time.Hour,
	}
	server := NewServer(cfg, nil, sessions, caps, nil, realtime.NewMemoryBus(), blobs)
	return server, sessions
}

func issueToken(t *testing.T, s *Server, userID string, role model.Role) string {
	t.Helper()
	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID: userID,
		Role:   string(role),
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	return token
}

func doRequest(s *Server, method, target, token string, body []byte) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != nil {
		reader = bytes.NewBuffer(body)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"Bearer abc":       "abc",
		"bearer abc":       "abc",
		"Basic abc":        "",
		"Bearer":           "",
		"Bearer  spaced  ": "spaced",
	}
	for header, expect := range cases {
		if got := bearerToken(header); got != expect {
			t.Fatalf("header %q: expected %q, got %q", header, expect, got)
		}
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"text":"hi","extra":1}`))
	var out sendMessageRequest
	if err := decodeJSON(req, &out); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestAuthMiddlewareRejectsBadTokens(t *testing.T) {
	s, _ := newTestServer(t, fakeModuleLister{})

	rec := doRequest(s, http.MethodGet, "/menu", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/menu", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}

	other, _ := newTestServer(t, fakeModuleLister{})
	other.cfg.JWTSecret = "another-secret"
	foreign := issueToken(t, other, "student-1", model.RoleStudent)
	rec = doRequest(s, http.MethodGet, "/menu", foreign, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d", rec.Code)
	}
}

func TestMenuForStudent(t *testing.T) {
	s, _ := newTestServer(t, fakeModuleLister{})
	token := issueToken(t, s, "student-1", model.RoleStudent)

	rec := doRequest(s, http.MethodGet, "/menu", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var entries []navigation.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected a non-empty menu")
	}
	last := entries[len(entries)-1]
	if last.Action != navigation.ActionLogout {
		t.Fatalf("expected final entry to be the logout action, got %+v", last)
	}
	found := false
	for _, e := range entries {
		if e.Label == "Research" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected student menu to include Research")
	}
}

func TestMenuForAdminIsRejected(t *testing.T) {
	s, _ := newTestServer(t, fakeModuleLister{})
	token := issueToken(t, s, "admin-1", model.RoleAdmin)

	rec := doRequest(s, http.MethodGet, "/menu", token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for admin menu, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp["error"] != "unknown_role" {
		t.Fatalf("expected unknown_role, got %q", resp["error"])
	}
}

func TestMenuForSupervisorUsesDerivedCapabilities(t *testing.T) {
	lister := fakeModuleLister{modules: map[string][]model.Module{
		"C1": {{ID: "M1", Type: model.ModuleTypeMasters}},
	}}
	s, sessions := newTestServer(t, lister)
	profile := model.UserProfile{
		ID:        "sup-1",
		Role:      model.RoleSupervisor,
		CourseIDs: []string{"C1"},
	}
	if err := sessions.Store(context.Background(), profile); err != nil {
		t.Fatalf("session store error: %v", err)
	}
	token := issueToken(t, s, "sup-1", model.RoleSupervisor)

	rec := doRequest(s, http.MethodGet, "/menu", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var entries []navigation.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	hasMasters, hasHonours := false, false
	for _, e := range entries {
		if e.Label == "Masters" {
			hasMasters = true
		}
		if e.Label == "Honours" {
			hasHonours = true
		}
	}
	if !hasMasters {
		t.Fatalf("expected Masters entry for supervisor of a masters module")
	}
	if hasHonours {
		t.Fatalf("did not expect Honours entry without an honours module")
	}
}

func TestCapabilitiesEndpointIsSupervisorOnly(t *testing.T) {
	s, _ := newTestServer(t, fakeModuleLister{})
	token := issueToken(t, s, "student-1", model.RoleStudent)

	rec := doRequest(s, http.MethodGet, "/supervisor/capabilities", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student, got %d", rec.Code)
	}
}

func TestRoutesByRole(t *testing.T) {
	s, _ := newTestServer(t, fakeModuleLister{})

	adminToken := issueToken(t, s, "admin-1", model.RoleAdmin)
	rec := doRequest(s, http.MethodGet, "/routes", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var table routes.Table
	if err := json.Unmarshal(rec.Body.Bytes(), &table); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if table.Landing != "/admin/dashboard" {
		t.Fatalf("expected admin landing, got %q", table.Landing)
	}

	studentToken := issueToken(t, s, "student-1", model.RoleStudent)
	rec = doRequest(s, http.MethodGet, "/routes", studentToken, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &table); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if table.Landing != "/dashboard" {
		t.Fatalf("expected general landing, got %q", table.Landing)
	}
	for _, pattern := range table.Patterns {
		if strings.HasPrefix(pattern, "/admin") {
			t.Fatalf("admin pattern %q leaked into the general table", pattern)
		}
	}
}

func TestResolveRouteFallsBackToLanding(t *testing.T) {
	s, _ := newTestServer(t, fakeModuleLister{})
	token := issueToken(t, s, "student-1", model.RoleStudent)

	rec := doRequest(s, http.MethodGet, "/routes/resolve?path=/admin/reports", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp["route"] != "/dashboard" {
		t.Fatalf("expected landing fallback, got %q", resp["route"])
	}

	rec = doRequest(s, http.MethodGet, "/routes/resolve", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without path, got %d", rec.Code)
	}
}

func TestTopicsRoundTrip(t *testing.T) {
	s, _ := newTestServer(t, fakeModuleLister{})
	supervisor := issueToken(t, s, "sup-1", model.RoleSupervisor)
	student := issueToken(t, s, "student-1", model.RoleStudent)

	rec := doRequest(s, http.MethodGet, "/research/topics", student, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on empty store, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty topic list, got %s", rec.Body.String())
	}

	body := []byte(`{"topicName":"Edge Caching","description":"CDN strategies","courseId":"C1"}`)
	rec = doRequest(s, http.MethodPost, "/research/topics", student, body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student topic creation, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodPost, "/research/topics", supervisor, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	other := []byte(`{"topicName":"Stream Joins","description":"Windowed joins","courseId":"C2"}`)
	rec = doRequest(s, http.MethodPost, "/research/topics", supervisor, other)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/research/topics?courseId=C1", student, nil)
	var topics []model.Topic
	if err := json.Unmarshal(rec.Body.Bytes(), &topics); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(topics) != 1 || topics[0].TopicName != "Edge Caching" {
		t.Fatalf("expected only the C1 topic, got %+v", topics)
	}

	rec = doRequest(s, http.MethodGet, "/research/topics", student, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &topics); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected both topics without a filter, got %d", len(topics))
	}
}

func TestDownloadFileErrors(t *testing.T) {
	s, _ := newTestServer(t, fakeModuleLister{})
	token := issueToken(t, s, "student-1", model.RoleStudent)

	rec := doRequest(s, http.MethodGet, "/files", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without path, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/files?path=submissions/mod-1/asgn-1/student-1/none.pdf", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing blob, got %d", rec.Code)
	}
}

func TestDownloadFileAuthorization(t *testing.T) {
	s, _ := newTestServer(t, fakeModuleLister{})
	ownerPath := "submissions/mod-1/asgn-1/student-a/thesis.pdf"
	if err := s.blobs.Put(context.Background(), ownerPath, []byte("final thesis")); err != nil {
		t.Fatalf("blob put error: %v", err)
	}

	owner := issueToken(t, s, "student-a", model.RoleStudent)
	other := issueToken(t, s, "student-b", model.RoleStudent)
	examiner := issueToken(t, s, "examiner-1", model.RoleExaminer)
	supervisor := issueToken(t, s, "sup-1", model.RoleSupervisor)

	// Another student must never read someone else's submission.
	rec := doRequest(s, http.MethodGet, "/files?path="+ownerPath, other, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another student, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/files?path="+ownerPath, owner, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for the owner, got %d", rec.Code)
	}
	if rec.Body.String() != "final thesis" {
		t.Fatalf("unexpected contents: %q", rec.Body.String())
	}

	for name, token := range map[string]string{"examiner": examiner, "supervisor": supervisor} {
		rec = doRequest(s, http.MethodGet, "/files?path="+ownerPath, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", name, rec.Code)
		}
	}

	// Internal documents outside the submissions tree stay off limits to
	// students even when they exist.
	if err := s.blobs.Put(context.Background(), "r_topics/topics.json", []byte("[]")); err != nil {
		t.Fatalf("blob put error: %v", err)
	}
	rec = doRequest(s, http.MethodGet, "/files?path=r_topics/topics.json", owner, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for internal document, got %d", rec.Code)
	}
}
