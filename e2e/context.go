package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestContext carries one scenario's HTTP state against a running server.
type TestContext struct {
	baseURL    string
	signingKey []byte
	client     *http.Client

	token      string
	status     int
	body       map[string]any
	rawBody    []byte
	identities map[string]string
	vars       map[string]string
}

func NewTestContext(baseURL, signingKey string) *TestContext {
	return &TestContext{
		baseURL:    baseURL,
		signingKey: []byte(signingKey),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// reset clears per-scenario state. Identities get a per-scenario suffix so
// scenarios never collide on one-vault-per-owner.
func (tc *TestContext) reset() {
	tc.token = ""
	tc.status = 0
	tc.body = nil
	tc.rawBody = nil
	tc.identities = map[string]string{}
	tc.vars = map[string]string{}
}

// Identity maps a scenario-local name to a unique caller identity.
func (tc *TestContext) Identity(name string) string {
	if v, ok := tc.identities[name]; ok {
		return v
	}
	v := fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
	tc.identities[name] = v
	return v
}

// AuthenticateAs mints a short-lived token whose subject is the named identity.
func (tc *TestContext) AuthenticateAs(name string) error {
	claims := jwt.RegisteredClaims{
		Subject:   tc.Identity(name),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tc.signingKey)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	tc.token = token
	return nil
}

func (tc *TestContext) ClearAuth() {
	tc.token = ""
}

func (tc *TestContext) Set(key, value string) { tc.vars[key] = value }

func (tc *TestContext) Get(key string) string { return tc.vars[key] }

func (tc *TestContext) Do(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, tc.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tc.token != "" {
		req.Header.Set("Authorization", "Bearer "+tc.token)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.status = resp.StatusCode
	tc.rawBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.body = nil
	if len(tc.rawBody) > 0 {
		// Non-object bodies (arrays, empty) leave body nil.
		_ = json.Unmarshal(tc.rawBody, &tc.body)
	}
	return nil
}

func (tc *TestContext) Status() int { return tc.status }

// Field returns a top-level response field.
func (tc *TestContext) Field(name string) (any, error) {
	if tc.body == nil {
		return nil, fmt.Errorf("response is not a JSON object: %s", tc.rawBody)
	}
	v, ok := tc.body[name]
	if !ok {
		return nil, fmt.Errorf("response has no field %q: %s", name, tc.rawBody)
	}
	return v, nil
}

func (tc *TestContext) responseStatusShouldBe(status int) error {
	if tc.status != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, tc.status, tc.rawBody)
	}
	return nil
}

func (tc *TestContext) responseFieldShouldBe(field, want string) error {
	v, err := tc.Field(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("expected %s=%s, got %s", field, want, got)
	}
	return nil
}

func (tc *TestContext) responseErrorShouldBe(code string) error {
	return tc.responseFieldShouldBe("error", code)
}
