// Package suitecrm provides a target adapter for SuiteCRM's V8 JSON:API.
// Authentication is an OAuth2 password grant; the access token's expiry is
// read from the JWT itself and the token is refreshed shortly before it runs
// out. SuiteCRM cannot manage security groups through this API, so the
// adapter declares no role management capability, and retiring users are
// deactivated rather than deleted.
package suitecrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/agentstation/lifecycle/internal/config"
	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/inventory"
	"github.com/agentstation/lifecycle/pkg/plan"
	"github.com/agentstation/lifecycle/pkg/targets"
)

const (
	defaultPageSize = 20
	requestTimeout  = 30 * time.Second

	// tokenSlack invalidates the token a minute before its real expiry.
	tokenSlack = time.Minute
)

// Target synchronizes users into a SuiteCRM instance.
type Target struct {
	url          string
	clientID     string
	clientSecret string
	username     string
	password     string
	pageSize     int

	client *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	recordIDs   map[string]string // identity key -> SuiteCRM record id
}

// New validates the config block and builds the target.
func New(m config.Module) (*Target, error) {
	t := &Target{
		client:    &http.Client{Timeout: requestTimeout},
		recordIDs: make(map[string]string),
	}

	var missing []string
	for key, dst := range map[string]*string{
		"url":               &t.url,
		"api_client_id":     &t.clientID,
		"api_client_secret": &t.clientSecret,
		"api_username":      &t.username,
		"api_password":      &t.password,
	} {
		value, err := m.String(key)
		if err != nil {
			return nil, err
		}
		if value == "" {
			missing = append(missing, key)
			continue
		}
		*dst = value
	}
	if len(missing) > 0 {
		return nil, errors.NewConfigError("targets", "suitecrm requires "+strings.Join(missing, ", "), nil)
	}

	pageSize, err := m.Int("api_page_size", defaultPageSize)
	if err != nil {
		return nil, err
	}
	t.pageSize = pageSize

	return t, nil
}

// ID returns the module identifier.
func (t *Target) ID() targets.ID {
	return targets.SuiteCRMID
}

// Capabilities declares what this adapter can do.
func (t *Target) Capabilities() targets.Capabilities {
	return targets.NewCapabilities(
		targets.CapabilityCreate,
		targets.CapabilityUpdate,
		targets.CapabilityDisable,
		targets.CapabilityEmail,
	)
}

// userRecord is a JSON:API user resource.
type userRecord struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

type recordEnvelope struct {
	Data userRecord `json:"data"`
}

type userPage struct {
	Data []userRecord `json:"data"`
	Meta struct {
		TotalPages int `json:"total-pages"`
	} `json:"meta"`
}

// State fetches all users page by page.
func (t *Target) State(ctx context.Context) (*targets.State, error) {
	records, err := t.fetchRecords(ctx)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]string, len(records))
	users := make([]inventory.User, 0, len(records))
	for _, record := range records {
		user := recordUser(record)
		if key := user.Key(); key != "" {
			ids[key] = record.ID
		}
		users = append(users, user)
	}

	t.mu.Lock()
	t.recordIDs = ids
	t.mu.Unlock()

	return targets.NewState(users, nil), nil
}

func (t *Target) fetchRecords(ctx context.Context) ([]userRecord, error) {
	var records []userRecord
	for page := 1; ; page++ {
		endpoint := fmt.Sprintf("/Api/V8/module/Users?%s", url.Values{
			"page[size]":   {strconv.Itoa(t.pageSize)},
			"page[number]": {strconv.Itoa(page)},
		}.Encode())

		body, err := t.request(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}

		var parsed userPage
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, errors.WrapParse("json", endpoint, err)
		}
		records = append(records, parsed.Data...)

		if page >= parsed.Meta.TotalPages {
			return records, nil
		}
	}
}

// recordUser converts a JSON:API user resource to the canonical model.
func recordUser(record userRecord) inventory.User {
	attr := func(name string) string {
		s, _ := record.Attributes[name].(string)
		return s
	}

	user := inventory.User{
		Username: attr("user_name"),
		Forename: attr("first_name"),
		Surname:  attr("last_name"),
		FullName: attr("full_name"),
		Enabled:  strings.EqualFold(attr("status"), "Active"),
	}
	if email := attr("email1"); email != "" {
		user.Emails = []string{email}
	}
	return user
}

// Apply executes one operation against the API.
func (t *Target) Apply(ctx context.Context, op plan.Operation) error {
	switch op.Kind {
	case plan.KindCreateUser:
		return t.createUser(ctx, op)
	case plan.KindUpdateUserAttributes:
		return t.patchUser(ctx, op.Key, changeAttributes(op))
	case plan.KindEnableUser:
		return t.patchUser(ctx, op.Key, map[string]any{"status": "Active"})
	case plan.KindDisableUser:
		return t.patchUser(ctx, op.Key, map[string]any{"status": "Inactive"})
	default:
		return errors.NewOperationError(t.ID().String(), op.String(), errors.ErrUnsupported)
	}
}

func (t *Target) createUser(ctx context.Context, op plan.Operation) error {
	user := op.User
	status := "Active"
	if !user.Enabled {
		status = "Inactive"
	}
	attributes := map[string]any{
		"user_name":          user.Username,
		"first_name":         user.Forename,
		"last_name":          user.Surname,
		"full_name":          user.FullName,
		"name":               user.FullName,
		"external_auth_only": 1,
		"status":             status,
	}
	if emails := user.SortedEmails(); len(emails) > 0 {
		attributes["email1"] = emails[0]
	}

	payload, err := json.Marshal(recordEnvelope{Data: userRecord{Type: "User", Attributes: attributes}})
	if err != nil {
		return errors.NewOperationError(t.ID().String(), op.String(), err)
	}

	body, err := t.request(ctx, http.MethodPost, "/Api/V8/module", payload)
	if err != nil {
		return errors.NewOperationError(t.ID().String(), op.String(), err)
	}

	// Remember the new record's id so a follow-up disable in the same run
	// does not need a refetch.
	var created recordEnvelope
	if err := json.Unmarshal(body, &created); err == nil && created.Data.ID != "" {
		t.mu.Lock()
		t.recordIDs[op.Key] = created.Data.ID
		t.mu.Unlock()
	}
	return nil
}

func (t *Target) patchUser(ctx context.Context, key string, attributes map[string]any) error {
	id, err := t.lookupID(ctx, key)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(recordEnvelope{Data: userRecord{Type: "User", ID: id, Attributes: attributes}})
	if err != nil {
		return errors.NewOperationError(t.ID().String(), key, err)
	}

	if _, err := t.request(ctx, http.MethodPatch, "/Api/V8/module", payload); err != nil {
		return errors.NewOperationError(t.ID().String(), key, err)
	}
	return nil
}

// changeAttributes maps canonical field paths onto SuiteCRM attributes.
func changeAttributes(op plan.Operation) map[string]any {
	attributes := make(map[string]any, len(op.Changes)+1)
	for _, change := range op.Changes {
		switch change.Path {
		case "forename":
			attributes["first_name"] = change.New
		case "surname":
			attributes["last_name"] = change.New
		case "full_name":
			attributes["full_name"] = change.New
			attributes["name"] = change.New
		case "emails":
			if emails := op.User.SortedEmails(); len(emails) > 0 {
				attributes["email1"] = emails[0]
			} else {
				attributes["email1"] = ""
			}
		}
	}
	return attributes
}

// lookupID resolves an identity key to a SuiteCRM record id, refetching the
// user list once if the key is unknown.
func (t *Target) lookupID(ctx context.Context, key string) (string, error) {
	t.mu.Lock()
	id, ok := t.recordIDs[key]
	t.mu.Unlock()
	if ok {
		return id, nil
	}

	if _, err := t.State(ctx); err != nil {
		return "", err
	}

	t.mu.Lock()
	id, ok = t.recordIDs[key]
	t.mu.Unlock()
	if !ok {
		return "", errors.NewOperationError(t.ID().String(), key, errors.ErrNotFound)
	}
	return id, nil
}

// request performs one authenticated API request with retries. 4xx responses
// are permanent failures; network errors and 5xx responses are retried with
// exponential backoff.
func (t *Target) request(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var body []byte
	operation := func() error {
		token, err := t.accessToken(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, t.url+endpoint, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/vnd.api+json")
		req.Header.Set("Accept", "application/vnd.api+json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := t.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			apiErr := &errors.APIError{
				Target:     t.ID().String(),
				Endpoint:   endpoint,
				StatusCode: resp.StatusCode,
				Message:    strings.TrimSpace(string(body)),
			}
			if resp.StatusCode < 500 {
				return backoff.Permanent(apiErr)
			}
			return apiErr
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

// accessToken returns a valid bearer token, authenticating when the cached
// one is missing or about to expire.
func (t *Target) accessToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.tokenExpiry.Add(-tokenSlack)) {
		return t.token, nil
	}

	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {t.clientID},
		"client_secret": {t.clientSecret},
		"username":      {t.username},
		"password":      {t.password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url+"/Api/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.NewTargetError(t.ID().String(), "building token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", errors.NewTargetError(t.ID().String(), "requesting access token", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewTargetError(t.ID().String(), "reading token response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &errors.APIError{
			Target:     t.ID().String(),
			Endpoint:   "/Api/access_token",
			StatusCode: resp.StatusCode,
			Message:    "authentication failed",
		}
	}

	var grant struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return "", errors.WrapParse("json", "/Api/access_token", err)
	}

	expiry, err := tokenExpiry(grant.AccessToken)
	if err != nil {
		return "", err
	}
	t.token = grant.AccessToken
	t.tokenExpiry = expiry
	return t.token, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// server signed the token for us, we only need to know when to renew it.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, errors.WrapParse("jwt", "access_token", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.WrapParse("jwt", "access_token", errors.New("token has no expiry"))
	}
	return exp.Time, nil
}
