package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// seedNamespace must match the namespace the server seeds demo data with.
var seedNamespace = uuid.MustParse("6f1c2a52-8d3e-4b7a-9c41-0e5d2f7a9b13")

// demoMembers maps each seeded actor handle to the tenant it belongs to.
var demoMembers = map[string]string{
	"north-ward-clerk": "North Ward",
	"harbor-reviewer":  "Harbor District",
}

// TestContext carries state across the steps of one scenario.
type TestContext struct {
	BaseURL    string
	HTTPClient *http.Client

	signingKey []byte
	issuer     string
	audience   string

	actor        string
	lastResponse *http.Response
	lastBody     []byte
	saved        map[string]string
}

func NewTestContext() *TestContext {
	return &TestContext{
		BaseURL:    envOr("NEXUS_E2E_URL", "http://localhost:8080"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		signingKey: []byte(os.Getenv("JWT_SIGNING_KEY")),
		issuer:     envOr("JWT_ISSUER", "nexus"),
		audience:   envOr("JWT_AUDIENCE", "nexus-api"),
		saved:      map[string]string{},
	}
}

func (tc *TestContext) Reset() {
	tc.actor = ""
	tc.lastResponse = nil
	tc.lastBody = nil
	tc.saved = map[string]string{}
}

// SignInAs switches the caller to a seeded actor.
func (tc *TestContext) SignInAs(handle string) error {
	if _, ok := demoMembers[handle]; !ok {
		return fmt.Errorf("unknown demo actor %q", handle)
	}
	tc.actor = handle
	return nil
}

func (tc *TestContext) SignOut() {
	tc.actor = ""
}

func (tc *TestContext) TenantID(name string) string {
	return uuid.NewSHA1(seedNamespace, []byte("tenant:"+strings.ToLower(strings.TrimSpace(name)))).String()
}

func (tc *TestContext) actorID(handle string) string {
	return uuid.NewSHA1(seedNamespace, []byte("actor:"+strings.ToLower(strings.TrimSpace(handle)))).String()
}

func (tc *TestContext) token() (string, error) {
	if tc.actor == "" {
		return "", nil
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"actor_id":  tc.actorID(tc.actor),
		"tenant_id": tc.TenantID(demoMembers[tc.actor]),
		"iss":       tc.issuer,
		"aud":       []string{tc.audience},
		"iat":       now.Unix(),
		"exp":       now.Add(5 * time.Minute).Unix(),
		"jti":       uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tc.signingKey)
}

func (tc *TestContext) POST(path string, body any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	return tc.do(http.MethodPost, path, reader)
}

func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, nil)
}

func (tc *TestContext) do(method, path string, body io.Reader) error {
	req, err := http.NewRequest(method, tc.BaseURL+tc.Expand(path), body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := tc.token()
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tc.lastResponse = resp
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) StatusCode() int {
	if tc.lastResponse == nil {
		return 0
	}
	return tc.lastResponse.StatusCode
}

func (tc *TestContext) Body() []byte {
	return tc.lastBody
}

// GetResponseField reads a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data map[string]any
	if err := json.Unmarshal(tc.lastBody, &data); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, tc.lastBody)
	}
	v, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response: %s", field, tc.lastBody)
	}
	return v, nil
}

// Save stores a value for later {name} substitution in paths.
func (tc *TestContext) Save(name, value string) {
	tc.saved[name] = value
}

func (tc *TestContext) Expand(s string) string {
	for k, v := range tc.saved {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
