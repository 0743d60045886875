package suitecrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/lifecycle/internal/config"
	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/inventory"
	"github.com/agentstation/lifecycle/pkg/plan"
)

// mockServer imitates the slice of the SuiteCRM V8 API the adapter uses.
type mockServer struct {
	mu        sync.Mutex
	users     []map[string]any // JSON:API resources
	nextID    int
	authCalls int
	tokenTTL  time.Duration
}

func newMockServer() *mockServer {
	s := &mockServer{tokenTTL: time.Hour}
	s.addUser(map[string]any{
		"user_name":  "foobar",
		"first_name": "Foo",
		"last_name":  "Bar",
		"full_name":  "Foo Bar",
		"email1":     "foo.bar@example.org",
		"status":     "Active",
	})
	return s
}

func (s *mockServer) addUser(attributes map[string]any) string {
	id := fmt.Sprintf("%x", s.nextID)
	s.nextID++
	s.users = append(s.users, map[string]any{
		"type":       "User",
		"id":         id,
		"attributes": attributes,
	})
	return id
}

func (s *mockServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /Api/access_token", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.authCalls++
		ttl := s.tokenTTL
		s.mu.Unlock()

		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(ttl).Unix(),
		}).SignedString([]byte("test-secret"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": token})
	})

	mux.HandleFunc("GET /Api/V8/module/Users", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		size, _ := strconv.Atoi(r.URL.Query().Get("page[size]"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page[number]"))
		if size <= 0 {
			size = 20
		}
		if page <= 0 {
			page = 1
		}

		total := (len(s.users) + size - 1) / size
		if total == 0 {
			total = 1
		}
		start := (page - 1) * size
		end := min(start+size, len(s.users))
		var data []map[string]any
		if start < len(s.users) {
			data = s.users[start:end]
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": data,
			"meta": map[string]any{"total-pages": total},
		})
	})

	mux.HandleFunc("POST /Api/V8/module", func(w http.ResponseWriter, r *http.Request) {
		var envelope struct {
			Data struct {
				Attributes map[string]any `json:"attributes"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		id := s.addUser(envelope.Data.Attributes)
		s.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"type": "User", "id": id, "attributes": envelope.Data.Attributes},
		})
	})

	mux.HandleFunc("PATCH /Api/V8/module", func(w http.ResponseWriter, r *http.Request) {
		var envelope struct {
			Data struct {
				ID         string         `json:"id"`
				Attributes map[string]any `json:"attributes"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		for _, user := range s.users {
			if user["id"] == envelope.Data.ID {
				attributes := user["attributes"].(map[string]any)
				for key, value := range envelope.Data.Attributes {
					attributes[key] = value
				}
				_ = json.NewEncoder(w).Encode(map[string]any{"data": user})
				return
			}
		}
		http.Error(w, "no such record", http.StatusNotFound)
	})

	return mux
}

func newTestTarget(t *testing.T, serverURL string, pageSize int) *Target {
	t.Helper()
	target, err := New(config.Module{Module: "suitecrm", Settings: map[string]any{
		"url":               serverURL,
		"api_client_id":     "client",
		"api_client_secret": "secret",
		"api_username":      "admin",
		"api_password":      "hunter2",
		"api_page_size":     pageSize,
	}})
	require.NoError(t, err)
	return target
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(config.Module{Module: "suitecrm", Settings: map[string]any{
		"url": "https://crm.example.org",
	}})
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "api_client_id")
}

func TestStateFetchesAllPages(t *testing.T) {
	mock := newMockServer()
	for i := 0; i < 5; i++ {
		mock.addUser(map[string]any{
			"user_name": fmt.Sprintf("user%d", i),
			"full_name": fmt.Sprintf("User %d", i),
			"status":    "Active",
		})
	}
	server := httptest.NewServer(mock.handler())
	defer server.Close()

	target := newTestTarget(t, server.URL, 2)
	state, err := target.State(context.Background())
	require.NoError(t, err)

	assert.Len(t, state.Users, 6, "all pages are fetched")
	foobar, ok := state.Users["foobar"]
	require.True(t, ok)
	assert.Equal(t, "Foo", foobar.Forename)
	assert.Equal(t, []string{"foo.bar@example.org"}, foobar.Emails)
	assert.True(t, foobar.Enabled)
}

func TestApplyCreateUser(t *testing.T) {
	mock := newMockServer()
	server := httptest.NewServer(mock.handler())
	defer server.Close()

	target := newTestTarget(t, server.URL, 20)
	user := inventory.User{
		Username: "jsmith",
		Forename: "John",
		Surname:  "Smith",
		FullName: "John Smith",
		Emails:   []string{"john.smith@example.org"},
		Enabled:  true,
	}

	err := target.Apply(context.Background(), plan.Operation{
		Kind: plan.KindCreateUser,
		Key:  "jsmith",
		User: &user,
	})
	require.NoError(t, err)

	state, err := target.State(context.Background())
	require.NoError(t, err)
	created, ok := state.Users["jsmith"]
	require.True(t, ok)
	assert.Equal(t, "John Smith", created.FullName)
	assert.True(t, created.Enabled)
}

func TestApplyCreateInactiveUser(t *testing.T) {
	mock := newMockServer()
	server := httptest.NewServer(mock.handler())
	defer server.Close()

	target := newTestTarget(t, server.URL, 20)
	user := inventory.User{Username: "gone", FullName: "Gone Person", Enabled: false}

	err := target.Apply(context.Background(), plan.Operation{
		Kind: plan.KindCreateUser,
		Key:  "gone",
		User: &user,
	})
	require.NoError(t, err)

	state, err := target.State(context.Background())
	require.NoError(t, err)
	created, ok := state.Users["gone"]
	require.True(t, ok)
	assert.False(t, created.Enabled, "users inactive at the source are created inactive")
}

func TestApplyDisableUser(t *testing.T) {
	mock := newMockServer()
	server := httptest.NewServer(mock.handler())
	defer server.Close()

	target := newTestTarget(t, server.URL, 20)

	// State primes the identity key -> record id map.
	_, err := target.State(context.Background())
	require.NoError(t, err)

	err = target.Apply(context.Background(), plan.Operation{Kind: plan.KindDisableUser, Key: "foobar"})
	require.NoError(t, err)

	state, err := target.State(context.Background())
	require.NoError(t, err)
	assert.False(t, state.Users["foobar"].Enabled)
}

func TestApplyUpdateAttributes(t *testing.T) {
	mock := newMockServer()
	server := httptest.NewServer(mock.handler())
	defer server.Close()

	target := newTestTarget(t, server.URL, 20)
	_, err := target.State(context.Background())
	require.NoError(t, err)

	user := inventory.User{
		Username: "foobar",
		Forename: "Foo",
		Surname:  "Barrington",
		FullName: "Foo Barrington",
		Emails:   []string{"foo.barrington@example.org"},
		Enabled:  true,
	}
	err = target.Apply(context.Background(), plan.Operation{
		Kind: plan.KindUpdateUserAttributes,
		Key:  "foobar",
		User: &user,
		Changes: []plan.FieldChange{
			{Path: "surname", Old: "Bar", New: "Barrington"},
			{Path: "full_name", Old: "Foo Bar", New: "Foo Barrington"},
			{Path: "emails", Old: "foo.bar@example.org", New: "foo.barrington@example.org"},
		},
	})
	require.NoError(t, err)

	state, err := target.State(context.Background())
	require.NoError(t, err)
	updated := state.Users["foobar"]
	assert.Equal(t, "Barrington", updated.Surname)
	assert.Equal(t, []string{"foo.barrington@example.org"}, updated.Emails)
}

func TestApplyRoleOperationUnsupported(t *testing.T) {
	mock := newMockServer()
	server := httptest.NewServer(mock.handler())
	defer server.Close()

	target := newTestTarget(t, server.URL, 20)
	err := target.Apply(context.Background(), plan.Operation{
		Kind: plan.KindAddRoleMember,
		Key:  "foobar",
		Role: "eng",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupported))
}

func TestTokenIsReusedUntilExpiry(t *testing.T) {
	mock := newMockServer()
	server := httptest.NewServer(mock.handler())
	defer server.Close()

	target := newTestTarget(t, server.URL, 20)
	_, err := target.State(context.Background())
	require.NoError(t, err)
	_, err = target.State(context.Background())
	require.NoError(t, err)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.Equal(t, 1, mock.authCalls, "a long-lived token is only requested once")
}

func TestExpiringTokenIsRefreshed(t *testing.T) {
	mock := newMockServer()
	// Tokens that expire within the renewal slack are refreshed every time.
	mock.tokenTTL = 30 * time.Second
	server := httptest.NewServer(mock.handler())
	defer server.Close()

	target := newTestTarget(t, server.URL, 20)
	_, err := target.State(context.Background())
	require.NoError(t, err)
	_, err = target.State(context.Background())
	require.NoError(t, err)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.Equal(t, 2, mock.authCalls)
}
