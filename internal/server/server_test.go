package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etraxis/internal/config"
	"etraxis/internal/db"
	"etraxis/internal/domain"
	"etraxis/internal/engine"
	"etraxis/internal/migrate"
)

const testSecret = "s3cret"

type testServer struct {
	URL      string
	client   *http.Client
	alice    int64
	outsider int64
	template int64
	open     domain.State
	done     domain.State
	estimate domain.Field
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	e, err := engine.New(conn, config.Default())
	require.NoError(t, err)
	r := e.Repo
	s := &testServer{client: &http.Client{}}

	s.alice, err = r.InsertUser(ctx, domain.User{Email: "alice@example.com", Fullname: "Alice"})
	require.NoError(t, err)
	s.outsider, err = r.InsertUser(ctx, domain.User{Email: "eve@example.com", Fullname: "Eve"})
	require.NoError(t, err)
	project, err := r.InsertProject(ctx, domain.Project{Name: "Support"})
	require.NoError(t, err)
	staff, err := r.InsertGroup(ctx, domain.Group{ProjectID: &project, Name: "Staff"})
	require.NoError(t, err)
	require.NoError(t, r.AddMember(ctx, staff, s.alice))

	s.template, err = r.InsertTemplate(ctx, domain.Template{ProjectID: project, Name: "Request", Prefix: "req"})
	require.NoError(t, err)
	s.open, err = e.CreateState(ctx, domain.State{TemplateID: s.template, Name: "Open", Type: domain.StateTypeInitial, Responsible: domain.ResponsibleRemove})
	require.NoError(t, err)
	s.done, err = e.CreateState(ctx, domain.State{TemplateID: s.template, Name: "Done", Type: domain.StateTypeFinal, Responsible: domain.ResponsibleRemove})
	require.NoError(t, err)
	require.NoError(t, e.SetTemplateGroupsPermission(ctx, s.template, domain.PermissionViewIssues, []int64{staff}))
	require.NoError(t, e.SetTemplateGroupsPermission(ctx, s.template, domain.PermissionCreateIssues, []int64{staff}))
	require.NoError(t, e.SetTemplateRolesPermission(ctx, s.template, domain.PermissionEditIssues, []domain.SystemRole{domain.RoleAuthor}))
	require.NoError(t, e.SetRolesTransition(ctx, s.open.ID, s.done.ID, []domain.SystemRole{domain.RoleAuthor}))

	s.estimate, err = e.CreateField(ctx, domain.Field{StateID: s.open.ID, Name: "Estimate", Type: domain.FieldTypeNumber, Required: true})
	require.NoError(t, err)
	require.NoError(t, e.SetFieldRolesPermission(ctx, s.estimate.ID, domain.FieldPermissionReadWrite, []domain.SystemRole{domain.RoleAuthor}))

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowUserHeader: true},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s.URL = srv.URL + "/api"
	return s
}

func (s *testServer) as(userID int64) map[string]string {
	return map[string]string{"X-User-Id": strconv.FormatInt(userID, 10)}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func (s *testServer) createIssue(t *testing.T, subject string, estimate int) IssueResponse {
	t.Helper()
	resp, data := doJSON(t, s.client, http.MethodPost, s.URL+"/issues", map[string]any{
		"template_id": s.template,
		"subject":     subject,
		"values":      map[string]any{strconv.FormatInt(s.estimate.ID, 10): estimate},
	}, s.as(s.alice))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var issue IssueResponse
	require.NoError(t, json.Unmarshal(data, &issue))
	return issue
}

func TestHealthSkipsAuth(t *testing.T) {
	s := newTestServer(t)
	resp, data := doJSON(t, s.client, http.MethodGet, s.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)
	issue := s.createIssue(t, "Printer is jammed", 3)
	url := fmt.Sprintf("%s/issues/%d", s.URL, issue.ID)

	resp, data := doJSON(t, s.client, http.MethodGet, url, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Error.Code)

	resp, _ = doJSON(t, s.client, http.MethodGet, url, nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: strconv.FormatInt(s.alice, 10),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	resp, data = doJSON(t, s.client, http.MethodGet, url, nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var got IssueResponse
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "Printer is jammed", got.Subject)
	assert.Equal(t, s.open.ID, got.StateID)
	assert.False(t, got.Closed)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	issue := s.createIssue(t, "Printer is jammed", 3)

	resp, data := doJSON(t, s.client, http.MethodGet, fmt.Sprintf("%s/issues/%d", s.URL, issue.ID), nil, s.as(s.outsider))
	require.Equal(t, http.StatusForbidden, resp.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "forbidden", env.Error.Code)
	assert.Equal(t, string(domain.PermissionViewIssues), env.Error.Details["permission"])

	resp, data = doJSON(t, s.client, http.MethodGet, s.URL+"/issues/9999", nil, s.as(s.alice))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, data).Error.Code)

	resp, data = doJSON(t, s.client, http.MethodPost, s.URL+"/issues", map[string]any{
		"template_id": s.template,
		"subject":     "",
	}, s.as(s.alice))
	require.Equal(t, http.StatusConflict, resp.StatusCode, string(data))
	env = decodeError(t, data)
	assert.Equal(t, "validation_failed", env.Error.Code)
	violations, ok := env.Error.Details["violations"].([]any)
	require.True(t, ok)
	var fields []string
	for _, v := range violations {
		fields = append(fields, v.(map[string]any)["field"].(string))
	}
	assert.ElementsMatch(t, []string{"subject", "Estimate"}, fields)

	resp, data = doJSON(t, s.client, http.MethodPost, fmt.Sprintf("%s/issues/%d/dependencies", s.URL, issue.ID),
		map[string]any{"dependency_id": issue.ID}, s.as(s.alice))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, string(data))

	resp, data = doJSON(t, s.client, http.MethodPatch, fmt.Sprintf("%s/issues/%d", s.URL, issue.ID),
		map[string]any{"values": map[string]any{"estimate": 1}}, s.as(s.alice))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", decodeError(t, data).Error.Code)
}

func TestIssueLifecycle(t *testing.T) {
	s := newTestServer(t)
	issue := s.createIssue(t, "Printer is jammed", 3)
	base := fmt.Sprintf("%s/issues/%d", s.URL, issue.ID)

	resp, data := doJSON(t, s.client, http.MethodPatch, base, map[string]any{
		"subject": "Printer is jammed again",
		"values":  map[string]any{strconv.FormatInt(s.estimate.ID, 10): 5},
	}, s.as(s.alice))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	resp, data = doJSON(t, s.client, http.MethodGet, base+"/values", nil, s.as(s.alice))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var values []FieldValueResponse
	require.NoError(t, json.Unmarshal(data, &values))
	require.Len(t, values, 1)
	assert.Equal(t, "Estimate", values[0].Name)
	assert.EqualValues(t, 5, values[0].Value)
	assert.False(t, values[0].ReadOnly)

	resp, data = doJSON(t, s.client, http.MethodGet, base+"/transitions", nil, s.as(s.alice))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var states []StateResponse
	require.NoError(t, json.Unmarshal(data, &states))
	require.Len(t, states, 1)
	assert.Equal(t, s.done.ID, states[0].ID)

	resp, data = doJSON(t, s.client, http.MethodPost, base+"/state", map[string]any{"state_id": s.done.ID}, s.as(s.alice))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var closed IssueResponse
	require.NoError(t, json.Unmarshal(data, &closed))
	assert.True(t, closed.Closed)
	assert.Equal(t, s.done.ID, closed.StateID)

	resp, data = doJSON(t, s.client, http.MethodGet, base+"/changes", nil, s.as(s.alice))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var changes []ChangeResponse
	require.NoError(t, json.Unmarshal(data, &changes))
	var subject, estimate bool
	for _, c := range changes {
		if c.FieldID == nil {
			subject = true
			assert.Equal(t, "Printer is jammed", c.OldValue)
			assert.Equal(t, "Printer is jammed again", c.NewValue)
		} else if *c.FieldID == s.estimate.ID {
			estimate = true
		}
	}
	assert.True(t, subject)
	assert.True(t, estimate)

	resp, data = doJSON(t, s.client, http.MethodGet, base+"/permissions", nil, s.as(s.alice))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Contains(t, string(data), string(domain.PermissionEditIssues))
}
