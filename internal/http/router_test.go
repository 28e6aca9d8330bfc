package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/splax/teamforge/internal/apperr"
	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/repository"
	"github.com/splax/teamforge/internal/repository/memory"
	"github.com/splax/teamforge/internal/service/assignment"
	"github.com/splax/teamforge/internal/service/auth"
	"github.com/splax/teamforge/internal/service/consensus"
	"github.com/splax/teamforge/internal/service/invitation"
	"github.com/splax/teamforge/internal/service/team"
	jwtpkg "github.com/splax/teamforge/pkg/jwt"
)

const (
	testSecret  = "router-secret"
	testBaseURL = "https://teams.example"
)

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []string
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

func (s *rateLimiterStub) Allow(_ context.Context, key string, limit int, window time.Duration) rateDecision {
	s.mu.Lock()
	s.calls = append(s.calls, key)
	s.mu.Unlock()
	if s.allowFn != nil {
		return s.allowFn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1}
}

func (s *rateLimiterStub) Close() {}

type testEnv struct {
	t       *testing.T
	store   *memory.Store
	router  *Router
	limiter *rateLimiterStub
}

func newTestEnv(t *testing.T, users ...string) *testEnv {
	t.Helper()
	store := memory.New()
	for _, id := range users {
		if err := store.CreateUser(context.Background(), &domain.User{ID: id, Email: id + "@example.com", Role: domain.RoleStudent}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cons := consensus.New(store, logger)
	svcs := Services{
		Auth:        auth.New(store, logger, testSecret),
		Teams:       team.New(store, logger),
		Invitations: invitation.New(store, nil, logger, invitation.Config{LinkSecret: testSecret, BaseURL: testBaseURL}),
		Consensus:   cons,
		Assignment:  assignment.New(store, cons, nil, nil, logger),
		Projects:    store,
	}
	limiter := &rateLimiterStub{}
	router := NewRouter(logger, svcs, Options{Limiter: limiter})
	t.Cleanup(router.Close)
	return &testEnv{t: t, store: store, router: router, limiter: limiter}
}

func (e *testEnv) token(userID, email string) string {
	e.t.Helper()
	token, err := jwtpkg.GenerateToken(userID, email, testSecret, time.Hour)
	if err != nil {
		e.t.Fatalf("generate token: %v", err)
	}
	return token
}

type response struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data"`
	Warnings []string        `json:"warnings"`
}

func (e *testEnv) do(method, path, userID string, body any) (*httptest.ResponseRecorder, response) {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(userID, ""))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	var resp response
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			e.t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, resp
}

func decodeData[T any](t *testing.T, resp response) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		t.Fatalf("decode data %s: %v", resp.Data, err)
	}
	return out
}

func TestHealthzIsPublic(t *testing.T) {
	env := newTestEnv(t)
	rr, resp := env.do(http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK || !resp.Success {
		t.Fatalf("expected healthy response, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestHealthzReportsDatabaseFailure(t *testing.T) {
	env := newTestEnv(t)
	env.router.dbHealth = func(context.Context) error { return errors.New("connection refused") }
	rr, resp := env.do(http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusServiceUnavailable || resp.Success {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "connection refused") {
		t.Fatalf("health response must not leak the cause: %s", rr.Body.String())
	}
}

func TestRequestsRequireBearerToken(t *testing.T) {
	env := newTestEnv(t, "u1")
	rr, resp := env.do(http.MethodGet, "/projects", "", nil)
	if rr.Code != http.StatusUnauthorized || resp.Success {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rec.Code)
	}
}

func TestInvitationFlow(t *testing.T) {
	env := newTestEnv(t, "leader", "bob")

	rr, resp := env.do(http.MethodPost, "/teams", "leader", map[string]string{"name": "Alpha"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create team: %d %s", rr.Code, rr.Body.String())
	}
	created := decodeData[domain.Team](t, resp)

	invitePath := "/teams/" + created.ID + "/invitations"
	rr, resp = env.do(http.MethodPost, invitePath, "leader", map[string]string{"email": " Bob@Example.com "})
	if rr.Code != http.StatusCreated {
		t.Fatalf("send invitation: %d %s", rr.Code, rr.Body.String())
	}
	sent := decodeData[invitation.Result](t, resp)
	if sent.Invitation.Invitee.UserID != "bob" {
		t.Fatalf("expected registered invitee bob, got %+v", sent.Invitation.Invitee)
	}

	rr, resp = env.do(http.MethodPost, invitePath, "leader", map[string]string{"email": "bob@example.com"})
	if rr.Code != http.StatusConflict || resp.Success {
		t.Fatalf("expected duplicate conflict, got %d", rr.Code)
	}

	rr, resp = env.do(http.MethodGet, "/invitations", "bob", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list invitations: %d", rr.Code)
	}
	if mine := decodeData[[]domain.Invitation](t, resp); len(mine) != 1 {
		t.Fatalf("expected one invitation for bob, got %d", len(mine))
	}

	acceptPath := "/invitations/" + sent.Invitation.ID + "/accept"
	rr, resp = env.do(http.MethodPost, acceptPath, "bob", nil)
	if rr.Code != http.StatusOK || resp.Message != "invitation accepted" {
		t.Fatalf("accept: %d %s", rr.Code, rr.Body.String())
	}
	rr, resp = env.do(http.MethodPost, "/invitations/"+sent.Invitation.ID+"/reject", "bob", nil)
	if rr.Code != http.StatusOK || resp.Message != "invitation already accepted" {
		t.Fatalf("expected idempotent no-op, got %d %q", rr.Code, resp.Message)
	}

	rr, resp = env.do(http.MethodGet, "/teams/"+created.ID, "bob", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get team: %d", rr.Code)
	}
	if got := decodeData[domain.Team](t, resp); len(got.Members) != 2 {
		t.Fatalf("expected two members, got %v", got.Members)
	}

	rr, resp = env.do(http.MethodGet, "/teams/"+created.ID+"/capacity", "bob", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("capacity: %d", rr.Code)
	}
	if capacity := decodeData[domain.Capacity](t, resp); capacity.Available != 2 {
		t.Fatalf("expected two seats left, got %+v", capacity)
	}
}

func TestTeamInvitationsRequireMembership(t *testing.T) {
	env := newTestEnv(t, "leader", "outsider")
	rr, resp := env.do(http.MethodPost, "/teams", "leader", map[string]string{"name": "Alpha"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create team: %d %s", rr.Code, rr.Body.String())
	}
	created := decodeData[domain.Team](t, resp)
	invitePath := "/teams/" + created.ID + "/invitations"
	if rr, _ := env.do(http.MethodPost, invitePath, "leader", map[string]string{"email": "someone@example.com"}); rr.Code != http.StatusCreated {
		t.Fatalf("send invitation: %d %s", rr.Code, rr.Body.String())
	}

	rr, resp = env.do(http.MethodGet, invitePath, "outsider", nil)
	if rr.Code != http.StatusForbidden || resp.Success {
		t.Fatalf("expected 403 for a non-member, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "someone@example.com") {
		t.Fatalf("invitee email leaked to a non-member: %s", rr.Body.String())
	}

	rr, resp = env.do(http.MethodGet, invitePath, "leader", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("leader list: %d", rr.Code)
	}
	if listed := decodeData[[]domain.Invitation](t, resp); len(listed) != 1 {
		t.Fatalf("expected one invitation, got %d", len(listed))
	}
}

func TestJoinLinkAcceptsForEmailInvitee(t *testing.T) {
	env := newTestEnv(t, "leader")
	_, resp := env.do(http.MethodPost, "/teams", "leader", map[string]string{"name": "Alpha"})
	created := decodeData[domain.Team](t, resp)
	_, resp = env.do(http.MethodPost, "/teams/"+created.ID+"/invitations", "leader", map[string]string{"email": "carol.smith@example.com"})
	sent := decodeData[invitation.Result](t, resp)
	if !strings.HasPrefix(sent.Link, testBaseURL+"/join/") {
		t.Fatalf("unexpected link %q", sent.Link)
	}
	token := strings.TrimPrefix(sent.Link, testBaseURL+"/join/")

	req := httptest.NewRequest(http.MethodGet, "/join/"+token+"?action=accept", nil)
	req.Header.Set("Authorization", "Bearer "+env.token("carol", "carol.smith@example.com"))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("join: %d %s", rr.Code, rr.Body.String())
	}
	carol, err := env.store.GetUserByID(context.Background(), "carol")
	if err != nil {
		t.Fatalf("expected provisioned account: %v", err)
	}
	if carol.TeamID != created.ID {
		t.Fatalf("expected carol on the team, got %q", carol.TeamID)
	}

	rr, _ = env.do(http.MethodGet, "/join/garbage", "leader", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a forged link, got %d", rr.Code)
	}
}

func TestOnlyLeaderChangesMembership(t *testing.T) {
	env := newTestEnv(t, "leader", "bob", "eve")
	_, resp := env.do(http.MethodPost, "/teams", "leader", map[string]string{"name": "Alpha"})
	created := decodeData[domain.Team](t, resp)

	rr, _ := env.do(http.MethodPost, "/teams/"+created.ID+"/members", "eve", map[string]string{"user_id": "eve"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-leader, got %d", rr.Code)
	}
	rr, _ = env.do(http.MethodPost, "/teams/"+created.ID+"/members", "leader", map[string]string{"user_id": "bob"})
	if rr.Code != http.StatusOK {
		t.Fatalf("leader add: %d %s", rr.Code, rr.Body.String())
	}
	rr, _ = env.do(http.MethodDelete, "/teams/"+created.ID+"/members/bob", "bob", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected members to leave on their own, got %d", rr.Code)
	}
	rr, _ = env.do(http.MethodDelete, "/teams/"+created.ID+"/members/leader", "leader", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 removing the leader, got %d", rr.Code)
	}
	rr, _ = env.do(http.MethodGet, "/teams/missing", "leader", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSelectionConsensusAndAssignment(t *testing.T) {
	members := []string{"m0", "m1", "m2", "m3"}
	env := newTestEnv(t, members...)
	ctx := context.Background()
	if err := env.store.CreateUser(ctx, &domain.User{ID: "f1", Email: "f1@uni.example", Name: "Dr One", Role: domain.RoleFaculty, Specialization: "CS", MaxTeams: 2}); err != nil {
		t.Fatalf("seed faculty: %v", err)
	}
	if err := env.store.CreateProject(ctx, &domain.Project{ID: "p1", Title: "Compilers", Specialization: "CS"}); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	_, resp := env.do(http.MethodPost, "/teams", "m0", map[string]string{"name": "Alpha"})
	created := decodeData[domain.Team](t, resp)
	for _, id := range members[1:] {
		if err := env.store.AddMember(ctx, domain.TeamMember{TeamID: created.ID, UserID: id, JoinedAt: time.Now()}, repository.Admission{MaxMembers: domain.MaxTeamSize}); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}

	rr, _ := env.do(http.MethodPost, "/teams/"+created.ID+"/assignment", "m0", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without consensus, got %d", rr.Code)
	}
	for _, id := range members {
		rr, _ := env.do(http.MethodPut, "/selection", id, map[string]string{"project_id": "p1"})
		if rr.Code != http.StatusOK {
			t.Fatalf("select for %s: %d %s", id, rr.Code, rr.Body.String())
		}
	}
	rr, resp = env.do(http.MethodGet, "/teams/"+created.ID+"/consensus", "m1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("consensus: %d", rr.Code)
	}
	if result := decodeData[consensus.Result](t, resp); !result.HasConsensus || result.ProjectID != "p1" {
		t.Fatalf("expected consensus on p1, got %+v", result)
	}

	rr, _ = env.do(http.MethodPost, "/teams/"+created.ID+"/assignment", "f1", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d", rr.Code)
	}
	rr, resp = env.do(http.MethodPost, "/teams/"+created.ID+"/assignment", "m2", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("assign: %d %s", rr.Code, rr.Body.String())
	}
	if got := decodeData[domain.Assignment](t, resp); got.GuideID != "f1" {
		t.Fatalf("expected guide f1, got %+v", got)
	}

	rr, _ = env.do(http.MethodPut, "/selection", "m0", map[string]string{"project_id": "p1"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 selecting an assigned project, got %d", rr.Code)
	}
	rr, resp = env.do(http.MethodGet, "/projects?available=true", "m0", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("projects: %d", rr.Code)
	}
	if open := decodeData[[]domain.Project](t, resp); len(open) != 0 {
		t.Fatalf("expected no open projects, got %d", len(open))
	}
}

func TestRateLimitRejects(t *testing.T) {
	env := newTestEnv(t, "u1")
	reset := time.Unix(1_950_000_000, 0)
	env.limiter.allowFn = func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit, windowEnd: reset}
	}
	rr, resp := env.do(http.MethodGet, "/projects", "u1", nil)
	if rr.Code != http.StatusTooManyRequests || resp.Success {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("unexpected remaining header %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1950000000" {
		t.Fatalf("unexpected reset header %q", got)
	}
	env.limiter.mu.Lock()
	defer env.limiter.mu.Unlock()
	if len(env.limiter.calls) != 1 || env.limiter.calls[0] != "read:u1" {
		t.Fatalf("unexpected limiter calls %v", env.limiter.calls)
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	env := newTestEnv(t)
	rr, resp := env.do(http.MethodGet, "/nope", "", nil)
	if rr.Code != http.StatusNotFound || resp.Success || resp.Message != "not found" {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
}

func TestStatusForKind(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation:             http.StatusBadRequest,
		apperr.KindDuplicate:              http.StatusConflict,
		apperr.KindCapacity:               http.StatusConflict,
		apperr.KindNotFound:               http.StatusNotFound,
		apperr.KindAlreadyResponded:       http.StatusOK,
		apperr.KindProjectAlreadyAssigned: http.StatusConflict,
		apperr.KindNoCapacity:             http.StatusConflict,
		apperr.KindUnauthorized:           http.StatusUnauthorized,
		apperr.KindInternal:               http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusForKind(kind); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestServiceErrorHidesCause(t *testing.T) {
	rr := httptest.NewRecorder()
	writeServiceError(rr, apperr.Wrap(apperr.KindInternal, "internal error", fmt.Errorf("dial tcp: refused")))
	if rr.Code != http.StatusInternalServerError || strings.Contains(rr.Body.String(), "refused") {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
}

func TestAlreadyRespondedIsReportedAsSuccess(t *testing.T) {
	rr := httptest.NewRecorder()
	writeServiceError(rr, apperr.New(apperr.KindAlreadyResponded, "invitation already accepted"))
	var resp response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rr.Code != http.StatusOK || !resp.Success || resp.Message != "invitation already accepted" {
		t.Fatalf("expected a successful no-op envelope, got %d %s", rr.Code, rr.Body.String())
	}
}
