package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tmplhub/tmplhub/internal/assistant"
	"github.com/tmplhub/tmplhub/internal/auth"
	"github.com/tmplhub/tmplhub/internal/catalog"
	"github.com/tmplhub/tmplhub/internal/payments"
	"github.com/tmplhub/tmplhub/internal/statestore"
	"github.com/tmplhub/tmplhub/internal/storage"
)

const (
	testWebhookSecret  = "whsec_test"
	testFrontendOrigin = "https://app.example"
	testAskLimit       = 3
)

type testEnv struct {
	store    *storage.Store
	sessions *auth.Sessions
	srv      *httptest.Server
	client   *http.Client
}

// setupEnv wires the full handler against an in-memory store, a fake payment
// provider, and a fake GitHub instance.
func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout/sessions" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id":  "cs_test_1",
			"url": "https://checkout.example/pay",
		})
	}))
	t.Cleanup(provider.Close)

	github := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_test"})
		case "/user":
			json.NewEncoder(w).Encode(map[string]any{
				"id": 12345, "login": "octocat", "name": "Octo Cat",
				"email": "octo@example.com",
			})
		case "/user/emails":
			json.NewEncoder(w).Encode([]map[string]any{
				{"email": "octo@example.com", "primary": true, "verified": true},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(github.Close)

	sessions := auth.NewSessions(store)
	states := statestore.NewMemory()
	deps := Deps{
		Store:    store,
		Sessions: sessions,
		GitHub: auth.NewGitHubClientWithBaseURLs(
			"client-id", "client-secret", github.URL+"/authorize", github.URL+"/token", github.URL),
		Payments: payments.NewService(store,
			payments.NewClientWithBaseURL("sk_test", provider.URL), testFrontendOrigin),
		Resolver: assistant.NewResolver(store, nil, states, testAskLimit),
		Catalog:  catalog.NewReader(store),
		States:   states,

		WebhookSecret:  testWebhookSecret,
		FrontendOrigin: testFrontendOrigin,
		PublicURL:      "https://api.example",
	}

	srv := httptest.NewServer(NewHandler(deps))
	t.Cleanup(srv.Close)

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testEnv{store: store, sessions: sessions, srv: srv, client: client}
}

// login seeds a user and returns a valid session cookie.
func (e *testEnv) login(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	err := e.store.CreateUser(storage.User{ID: userID, Email: userID + "@example.com", Active: true})
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	sess, err := e.sessions.Issue(userID, "", "")
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}
	return &http.Cookie{Name: SessionCookie, Value: sess.ID}
}

func (e *testEnv) seedTemplate(t *testing.T, id string) {
	t.Helper()
	err := e.store.CreateTemplate(storage.Template{
		ID: id, Name: "Lead Sync", Price: 699, Currency: "usd", Public: true,
		WorkflowJSON: `{"nodes":[{"type":"n8n-nodes-base.webhook"},{"type":"n8n-nodes-base.slack"}]}`,
	})
	if err != nil {
		t.Fatalf("CreateTemplate() failed: %v", err)
	}
}

// do issues a request and decodes the JSON response body.
func (e *testEnv) do(t *testing.T, method, path string, body any, cookie *http.Cookie) (*http.Response, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	json.Unmarshal(raw, &decoded)
	return resp, decoded
}

func errType(body map[string]any) string {
	if e, ok := body["error"].(map[string]any); ok {
		t, _ := e["type"].(string)
		return t
	}
	return ""
}

func TestHealth(t *testing.T) {
	env := setupEnv(t)
	resp, body := env.do(t, http.MethodGet, "/health", nil, nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}
}

func TestAuthenticatedRoutesReject(t *testing.T) {
	env := setupEnv(t)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/auth/me"},
		{http.MethodPost, "/checkout/create-session"},
		{http.MethodPost, "/ai/ask"},
		{http.MethodGet, "/recommendations"},
		{http.MethodGet, "/templates/tmpl_1/download"},
		{http.MethodGet, "/user/purchases"},
	}
	for _, p := range paths {
		resp, body := env.do(t, p.method, p.path, nil, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s without session = %d, want 401", p.method, p.path, resp.StatusCode)
		}
		if errType(body) != "authentication_error" {
			t.Errorf("%s %s error type = %q", p.method, p.path, errType(body))
		}
	}

	// A stale cookie gets the same 401.
	resp, _ := env.do(t, http.MethodGet, "/auth/me", nil, &http.Cookie{Name: SessionCookie, Value: "stale"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("stale cookie = %d, want 401", resp.StatusCode)
	}
}

func TestOAuthFlow(t *testing.T) {
	env := setupEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/auth/github/login", nil, nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login = %d, want 302", resp.StatusCode)
	}
	authorize, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parsing authorize redirect: %v", err)
	}
	state := authorize.Query().Get("state")
	if state == "" {
		t.Fatal("no state in authorize redirect")
	}

	resp, _ = env.do(t, http.MethodGet, "/auth/github/callback?state="+state+"&code=code-1", nil, nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("callback = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != testFrontendOrigin {
		t.Fatalf("callback redirect = %q, want frontend origin", loc)
	}

	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			session = c
		}
	}
	if session == nil || session.Value == "" {
		t.Fatal("no session cookie set by callback")
	}
	if !session.HttpOnly {
		t.Error("session cookie not HttpOnly")
	}

	resp, body := env.do(t, http.MethodGet, "/auth/me", nil, session)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me = %d, want 200", resp.StatusCode)
	}
	if body["email"] != "octo@example.com" || body["id"] != "github_12345" {
		t.Errorf("me = %v", body)
	}

	// State is single-use.
	resp, _ = env.do(t, http.MethodGet, "/auth/github/callback?state="+state+"&code=code-1", nil, nil)
	if loc := resp.Header.Get("Location"); !strings.Contains(loc, "code=invalid_state") {
		t.Errorf("state replay redirect = %q, want invalid_state", loc)
	}
}

func TestCallback_OpaqueErrors(t *testing.T) {
	env := setupEnv(t)

	cases := []struct {
		path string
		want string
	}{
		{"/auth/github/callback?error=access_denied", "provider_denied"},
		{"/auth/github/callback?code=c", "invalid_request"},
		{"/auth/github/callback?state=bogus&code=c", "invalid_state"},
	}
	for _, c := range cases {
		resp, _ := env.do(t, http.MethodGet, c.path, nil, nil)
		if resp.StatusCode != http.StatusFound {
			t.Errorf("%s = %d, want 302", c.path, resp.StatusCode)
			continue
		}
		loc := resp.Header.Get("Location")
		if !strings.HasPrefix(loc, testFrontendOrigin+"/auth/error?code=") || !strings.Contains(loc, c.want) {
			t.Errorf("%s redirect = %q, want code %s", c.path, loc, c.want)
		}
	}
}

func TestLogout(t *testing.T) {
	env := setupEnv(t)
	cookie := env.login(t, "u1")

	resp, _ := env.do(t, http.MethodPost, "/auth/logout", nil, cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout = %d, want 200", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/auth/me", nil, cookie)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("me after logout = %d, want 401", resp.StatusCode)
	}
}

func TestCreateCheckout(t *testing.T) {
	env := setupEnv(t)
	cookie := env.login(t, "u1")
	env.seedTemplate(t, "tmpl_1")

	resp, body := env.do(t, http.MethodPost, "/checkout/create-session",
		map[string]string{"templateId": "tmpl_1"}, cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create-session = %d %v", resp.StatusCode, body)
	}
	if body["sessionId"] == "" || body["url"] == "" {
		t.Errorf("checkout response = %v", body)
	}

	resp, body = env.do(t, http.MethodPost, "/checkout/create-session",
		map[string]string{"templateId": "tmpl_missing"}, cookie)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing template = %d %v, want 404", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/checkout/create-session",
		map[string]string{}, cookie)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty templateId = %d, want 400", resp.StatusCode)
	}
}

func TestCreateCheckout_AlreadyOwned(t *testing.T) {
	env := setupEnv(t)
	cookie := env.login(t, "u1")
	env.seedTemplate(t, "tmpl_1")

	if _, err := env.store.ReconcileCompletedCheckout("sess_done", "u1", "tmpl_1", "", 699, "usd"); err != nil {
		t.Fatalf("seeding completed purchase: %v", err)
	}

	resp, body := env.do(t, http.MethodPost, "/checkout/create-session",
		map[string]string{"templateId": "tmpl_1"}, cookie)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("owned template = %d, want 409", resp.StatusCode)
	}
	if body["alreadyOwned"] != true {
		t.Errorf("conflict body = %v, want alreadyOwned", body)
	}
}

func signedEvent(t *testing.T, sessionID, templateID, userID, email string) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_" + sessionID,
		"type": payments.EventCheckoutCompleted,
		"data": map[string]any{
			"object": map[string]any{
				"id":             sessionID,
				"customer_email": email,
				"amount_total":   699,
				"currency":       "usd",
				"metadata":       map[string]string{"templateId": templateID, "userId": userID},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}
	return payload, payments.SignatureHeader(payload, testWebhookSecret, time.Now())
}

func (e *testEnv) postWebhook(t *testing.T, payload []byte, signature string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/payments/webhook", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("building webhook request: %v", err)
	}
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("posting webhook: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	env := setupEnv(t)
	payload, _ := signedEvent(t, "sess_1", "tmpl_1", "u1", "")

	resp, body := env.postWebhook(t, payload, "")
	if resp.StatusCode != http.StatusBadRequest || errType(body) != "signature_error" {
		t.Errorf("missing signature = %d %v, want 400 signature_error", resp.StatusCode, body)
	}

	resp, body = env.postWebhook(t, payload, payments.SignatureHeader(payload, "whsec_wrong", time.Now()))
	if resp.StatusCode != http.StatusBadRequest || errType(body) != "signature_error" {
		t.Errorf("wrong secret = %d %v, want 400 signature_error", resp.StatusCode, body)
	}
}

func TestWebhook_CompletesPurchaseIdempotently(t *testing.T) {
	env := setupEnv(t)
	cookie := env.login(t, "u1")
	env.seedTemplate(t, "tmpl_1")

	resp, body := env.do(t, http.MethodPost, "/checkout/create-session",
		map[string]string{"templateId": "tmpl_1"}, cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create-session = %d", resp.StatusCode)
	}
	sessionID, _ := body["sessionId"].(string)

	payload, signature := signedEvent(t, sessionID, "tmpl_1", "u1", "u1@example.com")
	for i := 0; i < 2; i++ {
		resp, ack := env.postWebhook(t, payload, signature)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delivery %d = %d, want 200", i+1, resp.StatusCode)
		}
		if ack["received"] != true || ack["eventId"] != "evt_"+sessionID {
			t.Errorf("delivery %d ack = %v", i+1, ack)
		}
	}

	owned, err := env.store.HasCompletedPurchase("u1", "tmpl_1")
	if err != nil {
		t.Fatalf("HasCompletedPurchase() failed: %v", err)
	}
	if !owned {
		t.Error("template not owned after webhook")
	}
}

func TestWebhook_MalformedEventStillAcked(t *testing.T) {
	env := setupEnv(t)

	// Authenticated but unprocessable: referenced template does not exist.
	payload, signature := signedEvent(t, "sess_x", "tmpl_ghost", "u_ghost", "")
	resp, ack := env.postWebhook(t, payload, signature)
	if resp.StatusCode != http.StatusOK || ack["received"] != true {
		t.Errorf("unprocessable event = %d %v, want 200 ack", resp.StatusCode, ack)
	}
}

func TestAsk(t *testing.T) {
	env := setupEnv(t)
	cookie := env.login(t, "u1")

	resp, body := env.do(t, http.MethodPost, "/ai/ask",
		map[string]any{"prompt": "where does my api key go?"}, cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ask = %d %v", resp.StatusCode, body)
	}
	if body["response"] == "" || body["source"] == "" || body["interactionId"] == "" {
		t.Errorf("ask response = %v", body)
	}
	if _, ok := body["confidence"].(float64); !ok {
		t.Errorf("confidence missing: %v", body)
	}

	resp, _ = env.do(t, http.MethodPost, "/ai/ask", map[string]any{}, cookie)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty prompt = %d, want 400", resp.StatusCode)
	}
}

func TestAsk_RateLimited(t *testing.T) {
	env := setupEnv(t)
	cookie := env.login(t, "u1")

	var last *http.Response
	var lastBody map[string]any
	for i := 0; i < testAskLimit+1; i++ {
		last, lastBody = env.do(t, http.MethodPost, "/ai/ask",
			map[string]any{"prompt": fmt.Sprintf("question %d", i)}, cookie)
	}
	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("request %d = %d, want 429", testAskLimit+1, last.StatusCode)
	}
	if errType(lastBody) != "rate_limit_error" {
		t.Errorf("error type = %q, want rate_limit_error", errType(lastBody))
	}
}

func TestFeedback(t *testing.T) {
	env := setupEnv(t)
	cookie := env.login(t, "u1")

	_, body := env.do(t, http.MethodPost, "/ai/ask",
		map[string]any{"prompt": "how do I test this?"}, cookie)
	interactionID, _ := body["interactionId"].(string)
	if interactionID == "" {
		t.Fatal("no interaction id")
	}

	resp, _ := env.do(t, http.MethodPost, "/ai/feedback",
		map[string]any{"interactionId": interactionID, "helpful": true}, cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("feedback = %d, want 200", resp.StatusCode)
	}

	i, err := env.store.GetInteraction(interactionID)
	if err != nil {
		t.Fatalf("GetInteraction() failed: %v", err)
	}
	if i.Helpful == nil || !*i.Helpful {
		t.Error("helpful flag not recorded")
	}

	resp, _ = env.do(t, http.MethodPost, "/ai/feedback",
		map[string]any{"interactionId": "unknown", "helpful": true}, cookie)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown interaction = %d, want 404", resp.StatusCode)
	}
}

func TestListTemplates_Public(t *testing.T) {
	env := setupEnv(t)
	env.seedTemplate(t, "tmpl_1")

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/templates", nil)
	resp, err := env.client.Do(req)
	if err != nil {
		t.Fatalf("GET /templates failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("templates = %d, want 200", resp.StatusCode)
	}

	var list []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("templates = %d, want 1", len(list))
	}
	entry := list[0]
	if entry["id"] != "tmpl_1" || entry["owned"] != false {
		t.Errorf("entry = %v", entry)
	}
	if entry["stepCount"] != float64(2) {
		t.Errorf("stepCount = %v, want 2", entry["stepCount"])
	}
}

func TestGetTemplate(t *testing.T) {
	env := setupEnv(t)
	env.seedTemplate(t, "tmpl_1")

	resp, body := env.do(t, http.MethodGet, "/templates/tmpl_1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get template = %d", resp.StatusCode)
	}
	if body["name"] != "Lead Sync" || body["viewCount"] != float64(1) {
		t.Errorf("template = %v", body)
	}

	resp, _ = env.do(t, http.MethodGet, "/templates/tmpl_missing", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing template = %d, want 404", resp.StatusCode)
	}
}

func TestDownload(t *testing.T) {
	env := setupEnv(t)
	cookie := env.login(t, "u1")
	env.seedTemplate(t, "tmpl_1")

	resp, body := env.do(t, http.MethodGet, "/templates/tmpl_1/download", nil, cookie)
	if resp.StatusCode != http.StatusForbidden || errType(body) != "authorization_error" {
		t.Fatalf("download without purchase = %d %v, want 403", resp.StatusCode, body)
	}

	if _, err := env.store.ReconcileCompletedCheckout("sess_1", "u1", "tmpl_1", "", 699, "usd"); err != nil {
		t.Fatalf("completing purchase: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/templates/tmpl_1/download", nil)
	req.AddCookie(cookie)
	dlResp, err := env.client.Do(req)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	defer dlResp.Body.Close()
	if dlResp.StatusCode != http.StatusOK {
		t.Fatalf("download = %d, want 200", dlResp.StatusCode)
	}
	if cd := dlResp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	raw, _ := io.ReadAll(dlResp.Body)
	if !strings.Contains(string(raw), "n8n-nodes-base.webhook") {
		t.Errorf("download body = %q, want the workflow document", raw)
	}
}

func TestRecommendations(t *testing.T) {
	env := setupEnv(t)
	cookie := env.login(t, "u1")
	env.seedTemplate(t, "tmpl_1")
	env.seedTemplate(t, "tmpl_2")

	if _, err := env.store.ReconcileCompletedCheckout("sess_1", "u1", "tmpl_1", "", 699, "usd"); err != nil {
		t.Fatalf("completing purchase: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/recommendations", nil)
	req.AddCookie(cookie)
	resp, err := env.client.Do(req)
	if err != nil {
		t.Fatalf("GET /recommendations failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recommendations = %d, want 200", resp.StatusCode)
	}
	var list []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decoding recommendations: %v", err)
	}
	if len(list) != 1 || list[0]["id"] != "tmpl_2" {
		t.Errorf("recommendations = %v, want only tmpl_2", list)
	}
}

func TestListPurchases_BothRoutes(t *testing.T) {
	env := setupEnv(t)
	cookie := env.login(t, "u1")
	env.seedTemplate(t, "tmpl_1")

	if _, err := env.store.ReconcileCompletedCheckout("sess_1", "u1", "tmpl_1", "", 699, "usd"); err != nil {
		t.Fatalf("completing purchase: %v", err)
	}

	for _, path := range []string{"/user/purchases", "/purchases"} {
		req, _ := http.NewRequest(http.MethodGet, env.srv.URL+path, nil)
		req.AddCookie(cookie)
		resp, err := env.client.Do(req)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		var list []map[string]any
		err = json.NewDecoder(resp.Body).Decode(&list)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decoding %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK || len(list) != 1 {
			t.Errorf("%s = %d with %d entries, want 200 with 1", path, resp.StatusCode, len(list))
			continue
		}
		if list[0]["templateName"] != "Lead Sync" || list[0]["status"] != "completed" {
			t.Errorf("%s entry = %v", path, list[0])
		}
	}
}
