package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"permitflow/internal/config"
	"permitflow/internal/db"
	"permitflow/internal/domain"
	"permitflow/internal/engine"
	"permitflow/internal/migrate"
	"permitflow/internal/notify"
	"permitflow/internal/repo"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		Router:   notify.New(e.Repo),
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

// asActor builds the legacy actor headers used for tests.
func asActor(id, role string) map[string]string {
	return map[string]string{
		"X-Actor-Id":   id,
		"X-Actor-Role": role,
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/applications", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("expected unauthorized, got %s", code)
	}
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestApplicationLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	officer := asActor("u-officer", domain.RolePermittingOfficer)
	chair := asActor("u-chair", domain.RoleChairperson)

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications", map[string]any{
		"applicant_name": "Mupfure Irrigation Co-op",
		"permit_type":    "irrigation",
	}, officer)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", createRes.StatusCode, string(data))
	}
	var created domain.Application
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal application: %v", err)
	}
	if created.Status != domain.StatusUnsubmitted || created.ApplicationID == "" {
		t.Fatalf("unexpected created application: %+v", created)
	}

	subRes, subBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications/"+created.ID+"/submit", nil, officer)
	if subRes.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", subRes.StatusCode, string(subBody))
	}
	var submitted domain.Application
	_ = json.Unmarshal(subBody, &submitted)
	if submitted.Status != domain.StatusSubmitted || submitted.CurrentStage != 1 {
		t.Fatalf("after submit: %+v", submitted)
	}

	// Resubmitting the same application conflicts.
	againRes, againBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications/"+created.ID+"/submit", nil, officer)
	if againRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", againRes.StatusCode, string(againBody))
	}
	if code := errorCode(t, againBody); code != "stale_state" {
		t.Fatalf("expected stale_state, got %s", code)
	}

	// The chairperson owns stage 2 and cannot act at stage 1.
	wrongRes, wrongBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications/"+created.ID+"/decision", map[string]any{
		"decision": domain.DecisionApprove,
	}, chair)
	if wrongRes.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", wrongRes.StatusCode, string(wrongBody))
	}
	if code := errorCode(t, wrongBody); code != "forbidden" {
		t.Fatalf("expected forbidden, got %s", code)
	}

	decRes, decBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications/"+created.ID+"/decision", map[string]any{
		"decision": domain.DecisionApprove,
	}, officer)
	if decRes.StatusCode != http.StatusOK {
		t.Fatalf("decision status %d: %s", decRes.StatusCode, string(decBody))
	}
	var advanced domain.Application
	_ = json.Unmarshal(decBody, &advanced)
	if advanced.CurrentStage != 2 || advanced.Status != domain.StatusUnderReview {
		t.Fatalf("after stage 1 approval: %+v", advanced)
	}

	// Rejection needs a reason.
	noReasonRes, noReasonBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications/"+created.ID+"/decision", map[string]any{
		"decision": domain.DecisionReject,
	}, chair)
	if noReasonRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", noReasonRes.StatusCode, string(noReasonBody))
	}
	if code := errorCode(t, noReasonBody); code != "validation_error" {
		t.Fatalf("expected validation_error, got %s", code)
	}

	rejRes, rejBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications/"+created.ID+"/decision", map[string]any{
		"decision": domain.DecisionReject,
		"comment":  "abstraction point outside the catchment",
	}, chair)
	if rejRes.StatusCode != http.StatusOK {
		t.Fatalf("reject status %d: %s", rejRes.StatusCode, string(rejBody))
	}
	var rejected domain.Application
	_ = json.Unmarshal(rejBody, &rejected)
	if rejected.Status != domain.StatusRejected || rejected.CurrentStage != 1 {
		t.Fatalf("after rejection: %+v", rejected)
	}
	if rejected.RejectedAt == nil {
		t.Fatalf("rejected_at not stamped")
	}

	// The rejection reason lands in the comment trail.
	cRes, cBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/applications/"+created.ID+"/comments", nil, officer)
	if cRes.StatusCode != http.StatusOK {
		t.Fatalf("comments status %d: %s", cRes.StatusCode, string(cBody))
	}
	var comments []domain.Comment
	_ = json.Unmarshal(cBody, &comments)
	if len(comments) != 1 || !comments[0].IsRejectionReason {
		t.Fatalf("rejection reason missing: %+v", comments)
	}
}

func TestGetMissingApplication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/applications/missing", nil,
		asActor("u-officer", domain.RolePermittingOfficer))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("expected not_found, got %s", code)
	}
}

func TestMessagesOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	officer := asActor("u-officer", domain.RolePermittingOfficer)
	chair := asActor("u-chair", domain.RoleChairperson)
	outsider := asActor("u-super", domain.RolePermitSupervisor)

	sendRes, sendBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/messages", map[string]any{
		"receiver_id": "u-chair",
		"subject":     "MC2024-0001",
		"content":     "please review when you can",
	}, officer)
	if sendRes.StatusCode != http.StatusCreated {
		t.Fatalf("send status %d: %s", sendRes.StatusCode, string(sendBody))
	}
	var sent domain.Message
	_ = json.Unmarshal(sendBody, &sent)
	if sent.IsPublic {
		t.Fatalf("directed message marked public")
	}

	// Omitting the receiver makes it a broadcast.
	bcRes, bcBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/messages", map[string]any{
		"content": "system maintenance on friday",
	}, officer)
	if bcRes.StatusCode != http.StatusCreated {
		t.Fatalf("broadcast status %d: %s", bcRes.StatusCode, string(bcBody))
	}
	var broadcast domain.Message
	_ = json.Unmarshal(bcBody, &broadcast)
	if !broadcast.IsPublic {
		t.Fatalf("broadcast not public: %+v", broadcast)
	}

	countRes, countBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/messages/unread-count", nil, chair)
	if countRes.StatusCode != http.StatusOK {
		t.Fatalf("unread-count status %d: %s", countRes.StatusCode, string(countBody))
	}
	var count struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(countBody, &count)
	if count.Count != 1 {
		t.Fatalf("unread count = %d, want 1 (broadcasts excluded)", count.Count)
	}

	// Only the receiver may mark a directed message read.
	denyRes, denyBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/messages/"+sent.ID+"/read", nil, outsider)
	if denyRes.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", denyRes.StatusCode, string(denyBody))
	}

	readRes, readBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/messages/"+sent.ID+"/read", nil, chair)
	if readRes.StatusCode != http.StatusOK {
		t.Fatalf("mark read status %d: %s", readRes.StatusCode, string(readBody))
	}
	var read domain.Message
	_ = json.Unmarshal(readBody, &read)
	if read.ReadAt == nil {
		t.Fatalf("read_at not stamped: %+v", read)
	}

	countRes, countBody = doJSON(t, client, http.MethodGet, srv.URL+"/v0/messages/unread-count", nil, chair)
	_ = json.Unmarshal(countBody, &count)
	if countRes.StatusCode != http.StatusOK || count.Count != 0 {
		t.Fatalf("unread after read = %d (status %d)", count.Count, countRes.StatusCode)
	}
}

func TestBatchDecisions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	officer := asActor("u-officer", domain.RolePermittingOfficer)

	var ids []string
	for i := 0; i < 2; i++ {
		_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications", map[string]any{
			"applicant_name": "Batch Applicant",
		}, officer)
		var a domain.Application
		_ = json.Unmarshal(data, &a)
		ids = append(ids, a.ID)
	}
	// Only the first is submitted; the second stays unsubmitted.
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications/"+ids[0]+"/submit", nil, officer)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications/decisions", map[string]any{
		"application_ids": append(ids, "missing"),
		"decision":        domain.DecisionApprove,
	}, officer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("batch status %d: %s", res.StatusCode, string(data))
	}
	var resp struct {
		Results []struct {
			ApplicationID string              `json:"application_id"`
			Application   *domain.Application `json:"application"`
			Error         *apiErrorBody       `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal batch: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Error != nil || resp.Results[0].Application == nil || resp.Results[0].Application.CurrentStage != 2 {
		t.Fatalf("first item should advance: %+v", resp.Results[0])
	}
	if resp.Results[1].Error == nil || resp.Results[1].Error.Code != "validation_error" {
		t.Fatalf("unsubmitted item should fail validation: %+v", resp.Results[1])
	}
	if resp.Results[2].Error == nil || resp.Results[2].Error.Code != "not_found" {
		t.Fatalf("missing item should 404: %+v", resp.Results[2])
	}
}

func TestDevLoginAndBearerAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	u := domain.User{ID: "u-ict", Username: "admin", Role: domain.RoleICT, IsActive: true}
	if err := srv.Engine.Repo.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	loginRes, loginBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"username": "admin",
	}, nil)
	if loginRes.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", loginRes.StatusCode, string(loginBody))
	}
	var login struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(loginBody, &login)
	if login.Token == "" {
		t.Fatalf("empty token")
	}

	meRes, meBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", meRes.StatusCode, string(meBody))
	}
	var me struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
		Source string `json:"source"`
	}
	_ = json.Unmarshal(meBody, &me)
	if me.UserID != u.ID || me.Role != domain.RoleICT || me.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", me)
	}

	badRes, badBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if badRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", badRes.StatusCode, string(badBody))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	u := domain.User{ID: "u-super", Username: "supervisor", Role: domain.RolePermitSupervisor, IsActive: true}
	if err := srv.Engine.Repo.InsertUser(ctx, u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	raw := "pf_live_abc123"
	if err := srv.Engine.Repo.InsertAPIKey(ctx, domain.APIKey{
		ID:      "key-1",
		ActorID: u.ID,
		Name:    "automation",
		KeyHash: repo.HashAPIKey(raw),
	}); err != nil {
		t.Fatalf("seed api key: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": raw})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key status %d: %s", res.StatusCode, string(data))
	}
	var me struct {
		UserID string `json:"user_id"`
		Source string `json:"source"`
	}
	_ = json.Unmarshal(data, &me)
	if me.UserID != u.ID || me.Source != "api_key" {
		t.Fatalf("unexpected principal: %+v", me)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad key, got %d: %s", res.StatusCode, string(data))
	}
}
