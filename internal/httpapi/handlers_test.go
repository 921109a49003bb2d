package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanz-bot/Api/internal/accounts"
	"github.com/wanz-bot/Api/internal/config"
	"github.com/wanz-bot/Api/internal/gateway"
	"github.com/wanz-bot/Api/internal/ledger"
	"github.com/wanz-bot/Api/internal/middleware"
	"github.com/wanz-bot/Api/internal/moderation"
	"github.com/wanz-bot/Api/internal/providers"
	"github.com/wanz-bot/Api/internal/ratelimit"
	"github.com/wanz-bot/Api/internal/storage"
)

const (
	testSecret      = "s3cret"
	testAdminChatID = int64(4242)
	testClientIP    = "192.0.2.1" // httptest.NewRequest's RemoteAddr host
)

type stubProvider struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *stubProvider) Type() string { return "stub" }

func (p *stubProvider) Run(ctx context.Context, req providers.Request) (*providers.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &providers.Response{
		Body:       []byte(`{"response":"hello","model":"` + req.Model + `"}`),
		Text:       "hello",
		TokenCount: 3,
	}, nil
}

func (p *stubProvider) Close() error { return nil }

func (p *stubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type sentMessage struct {
	ChatID int64
	Text   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *recordingNotifier) Notify(ctx context.Context, text string) error {
	return n.SendMessage(ctx, testAdminChatID, text)
}

func (n *recordingNotifier) SendMessage(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (n *recordingNotifier) last(t *testing.T) sentMessage {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}

type testServer struct {
	handler  http.Handler
	deps     *Dependencies
	provider *stubProvider
	notifier *recordingNotifier
}

func newTestServer(t *testing.T, dailyLimit int) *testServer {
	t.Helper()

	cfg := &config.Config{
		Accounts: config.AccountsConfig{DefaultDailyLimit: dailyLimit},
		Gateway:  config.GatewayConfig{RequireAPIKey: true, BlocklistEnabled: true},
		Provider: config.ProviderConfig{DefaultModel: gateway.DefaultModel, RequestTimeout: time.Second},
		Admin:    config.AdminConfig{Secret: testSecret},
		Telegram: config.TelegramConfig{AdminChatID: testAdminChatID},
	}

	store := storage.NewMemoryStore()
	l := ledger.New(store, ledger.Config{RecentLogSize: 20})
	provider := &stubProvider{}
	notifier := &recordingNotifier{}

	deps := &Dependencies{
		Config:    cfg,
		Store:     store,
		Ledger:    l,
		Accounts:  accounts.NewRegistry(store, l, dailyLimit),
		Blocklist: moderation.NewBlocklist(store),
		Activity:  moderation.NewActivityLog(store),
		Provider:  provider,
		Notifier:  notifier,
		RateLimit: ratelimit.NewNoopLimiter(),
	}
	deps.Gateway = gateway.NewService(gateway.Dependencies{
		Keys:      deps.Accounts,
		Ledger:    deps.Ledger,
		Blocklist: deps.Blocklist,
		Activity:  deps.Activity,
		Provider:  provider,
	}, gateway.Config{
		RequireAPIKey:    true,
		BlocklistEnabled: true,
		DefaultModel:     cfg.Provider.DefaultModel,
		Timeout:          cfg.Provider.RequestTimeout,
	})

	return &testServer{
		handler:  NewHandler(deps),
		deps:     deps,
		provider: provider,
		notifier: notifier,
	}
}

func (s *testServer) do(t *testing.T, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, email, password string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/register", map[string]string{"email": email, "password": password}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp apiKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.APIKey)
	return resp.APIKey
}

func (s *testServer) callAI(t *testing.T, key, prompt string) *httptest.ResponseRecorder {
	t.Helper()
	headers := map[string]string{}
	if key != "" {
		headers["Authorization"] = "Bearer " + key
	}
	return s.do(t, http.MethodPost, "/ai", map[string]string{"prompt": prompt}, headers)
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func TestAliceScenario(t *testing.T) {
	s := newTestServer(t, 2)

	k1 := s.register(t, "alice@x.io", "pw")

	var ok, limited int
	for i := 0; i < 10; i++ {
		rec := s.callAI(t, k1, "hi")
		switch rec.Code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			limited++
			assert.NotEmpty(t, errorMessage(t, rec))
		default:
			t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, 8, limited)
	assert.Equal(t, 2, s.provider.Calls())

	rec := s.do(t, http.MethodPost, "/reset-key", map[string]string{"email": "alice@x.io"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var reset apiKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reset))
	k2 := reset.APIKey
	require.NotEqual(t, k1, k2)

	rec = s.callAI(t, k1, "hi")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.callAI(t, k2, "hi")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAIReturnsProviderBody(t *testing.T) {
	s := newTestServer(t, 5)
	key := s.register(t, "bob@x.io", "pw")

	rec := s.do(t, http.MethodPost, "/ai",
		map[string]string{"model": "mistral-7b", "prompt": "hello"},
		map[string]string{"Authorization": "Bearer " + key})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response":"hello","model":"mistral-7b"}`, rec.Body.String())
	assert.Equal(t, "5", rec.Header().Get("X-Quota-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-Quota-Used"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	// /api is an alias and X-API-Key is accepted
	rec = s.do(t, http.MethodPost, "/api", map[string]string{"prompt": "again"}, map[string]string{"X-API-Key": key})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), gateway.DefaultModel)
}

func TestAIValidation(t *testing.T) {
	s := newTestServer(t, 5)
	key := s.register(t, "carol@x.io", "pw")

	tests := []struct {
		name    string
		method  string
		body    any
		headers map[string]string
		want    int
	}{
		{"missing key", http.MethodPost, map[string]string{"prompt": "hi"}, nil, http.StatusBadRequest},
		{"unknown key", http.MethodPost, map[string]string{"prompt": "hi"}, map[string]string{"Authorization": "Bearer nope"}, http.StatusForbidden},
		{"missing prompt", http.MethodPost, map[string]string{}, map[string]string{"Authorization": "Bearer " + key}, http.StatusBadRequest},
		{"bad json", http.MethodPost, "{not json", map[string]string{"Authorization": "Bearer " + key}, http.StatusBadRequest},
		{"wrong method", http.MethodGet, nil, nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, "/ai", tt.body, tt.headers)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, errorMessage(t, rec))
		})
	}
	assert.Equal(t, 0, s.provider.Calls())
}

func TestAIUpstreamFailure(t *testing.T) {
	s := newTestServer(t, 1)
	key := s.register(t, "dave@x.io", "pw")

	s.provider.err = errors.New("boom")
	rec := s.callAI(t, key, "hi")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	// the failed call did not consume the single daily unit
	s.provider.err = nil
	rec = s.callAI(t, key, "hi")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBlockedIPIsRejectedBeforeKeyCheck(t *testing.T) {
	s := newTestServer(t, 5)
	key := s.register(t, "erin@x.io", "pw")

	_, err := s.deps.Blocklist.Block(context.Background(), testClientIP)
	require.NoError(t, err)

	rec := s.callAI(t, "", "hi")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.callAI(t, key, "hi")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, s.provider.Calls())

	// forwarding headers from an untrusted peer do not change the caller's IP
	for _, header := range []string{"CF-Connecting-IP", "X-Forwarded-For"} {
		rec = s.do(t, http.MethodPost, "/ai", map[string]string{"prompt": "hi"}, map[string]string{
			"Authorization": "Bearer " + key,
			header:          "203.0.113.9",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code, header)
	}
	assert.Equal(t, 0, s.provider.Calls())
}

func TestBlockedIPWithMalformedBody(t *testing.T) {
	s := newTestServer(t, 5)
	key := s.register(t, "erin@x.io", "pw")
	auth := map[string]string{"Authorization": "Bearer " + key}

	rec := s.do(t, http.MethodPost, "/ai", "{not json", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodPost, "/ai", "{not json", auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON body", errorMessage(t, rec))

	_, err := s.deps.Blocklist.Block(context.Background(), testClientIP)
	require.NoError(t, err)

	rec = s.do(t, http.MethodPost, "/ai", "{not json", auth)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "your IP is blocked", errorMessage(t, rec))
}

func TestTrustedProxyHeaders(t *testing.T) {
	s := newTestServer(t, 5)
	key := s.register(t, "ivan@x.io", "pw")

	ips, err := middleware.NewIPResolver([]string{testClientIP + "/32"})
	require.NoError(t, err)
	s.deps.IPs = ips
	s.handler = NewHandler(s.deps)

	viaProxy := map[string]string{
		"Authorization":    "Bearer " + key,
		"CF-Connecting-IP": "198.51.100.7",
	}
	rec := s.do(t, http.MethodPost, "/ai", map[string]string{"prompt": "hi"}, viaProxy)
	require.Equal(t, http.StatusOK, rec.Code)

	entries, err := s.deps.Activity.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "198.51.100.7", entries[0].IP)

	_, err = s.deps.Blocklist.Block(context.Background(), "198.51.100.7")
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/ai", map[string]string{"prompt": "hi"}, viaProxy)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRegisterLoginAndMe(t *testing.T) {
	s := newTestServer(t, 3)
	key := s.register(t, "Frank@X.io", "pw")

	rec := s.do(t, http.MethodPost, "/register", map[string]string{"email": "frank@x.io", "password": "other"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/register", map[string]string{"email": "frank2@x.io"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/login", map[string]string{"email": "frank@x.io", "password": "pw"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var login loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	assert.True(t, login.Success)
	assert.Equal(t, key, login.User.APIKey)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.do(t, http.MethodPost, "/login", map[string]string{"email": "frank@x.io", "password": "bad"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, http.MethodPost, "/login", map[string]string{"email": "nobody@x.io", "password": "pw"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, s.callAI(t, key, "hi").Code)

	rec = s.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Email": "frank@x.io"})
	require.Equal(t, http.StatusOK, rec.Code)
	var me MeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "frank@x.io", me.Email)
	assert.Equal(t, key, me.APIKey)
	assert.Equal(t, 3, me.LimitDaily)
	assert.Equal(t, 1, me.UsedToday)
	assert.Equal(t, 1, me.TotalUsed)
	require.Len(t, me.Logs, 1)
	assert.Equal(t, gateway.DefaultModel, me.Logs[0].Model)

	rec = s.do(t, http.MethodGet, "/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Email": "nobody@x.io"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetKeyUnknownEmail(t *testing.T) {
	s := newTestServer(t, 3)

	rec := s.do(t, http.MethodPost, "/reset-key", map[string]string{"email": "ghost@x.io"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPost, "/reset-key", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexAndHealth(t *testing.T) {
	s := newTestServer(t, 3)

	rec := s.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/register")

	rec = s.do(t, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestAdminSecretGate(t *testing.T) {
	s := newTestServer(t, 3)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/admin/logs", nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/admin/logs?secret=wrong", nil, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/admin/logs?secret="+testSecret, nil, nil).Code)

	s.deps.Config.Admin.Secret = ""
	disabled := NewHandler(s.deps)
	req := httptest.NewRequest(http.MethodGet, "/admin/logs?secret=", nil)
	rec := httptest.NewRecorder()
	disabled.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminLogsBlockAndReset(t *testing.T) {
	s := newTestServer(t, 5)
	key := s.register(t, "gina@x.io", "pw")
	for _, p := range []string{"first", "second", "third"} {
		require.Equal(t, http.StatusOK, s.callAI(t, key, p).Code)
	}

	rec := s.do(t, http.MethodGet, "/admin/logs?secret="+testSecret+"&limit=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs activityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Equal(t, 2, logs.Count)
	assert.Equal(t, "third", logs.Entries[0].Prompt)
	assert.Equal(t, testClientIP, logs.Entries[0].IP)

	rec = s.do(t, http.MethodGet, "/admin/logs?secret="+testSecret+"&limit=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// dashboard ?block= blocks and still lists
	rec = s.do(t, http.MethodGet, "/admin?secret="+testSecret+"&block="+testClientIP, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dash activityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	assert.Equal(t, testClientIP, dash.Blocked)
	assert.Equal(t, 3, dash.Count)
	assert.Equal(t, http.StatusForbidden, s.callAI(t, key, "blocked").Code)

	rec = s.do(t, http.MethodGet, "/admin/blocklist?secret="+testSecret, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bl blocklistResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bl))
	assert.Equal(t, []string{testClientIP}, bl.IPs)

	rec = s.do(t, http.MethodPost, "/admin/unblock?secret="+testSecret+"&ip="+testClientIP, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, s.callAI(t, key, "back").Code)

	rec = s.do(t, http.MethodPost, "/admin/block?secret="+testSecret+"&ip=not-an-ip", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/admin/block?secret="+testSecret+"&ip=10.0.0.1", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = s.do(t, http.MethodPost, "/admin/reset?secret="+testSecret, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var reset gateway.ResetResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reset))
	assert.Equal(t, 4, reset.DeletedLogs)
	assert.Equal(t, 1, reset.DeletedUsage)

	entries, err := s.deps.Activity.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func telegramUpdateBody(chatID int64, text string) string {
	data, _ := json.Marshal(map[string]any{
		"update_id": 1,
		"message": map[string]any{
			"text": text,
			"chat": map[string]any{"id": chatID},
		},
	})
	return string(data)
}

func TestTelegramCommands(t *testing.T) {
	s := newTestServer(t, 5)
	key := s.register(t, "hank@x.io", "pw")
	require.Equal(t, http.StatusOK, s.callAI(t, key, "what is the meaning of life, the universe and everything?").Code)

	send := func(chatID int64, text string) sentMessage {
		t.Helper()
		rec := s.do(t, http.MethodPost, "/telegram", telegramUpdateBody(chatID, text), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
		return s.notifier.last(t)
	}

	msg := send(1, "/lastlog")
	assert.Equal(t, int64(1), msg.ChatID)
	assert.Contains(t, msg.Text, "not authorized")

	msg = send(testAdminChatID, "/start")
	assert.Contains(t, msg.Text, "/lastlog")

	msg = send(testAdminChatID, "/lastlog")
	assert.Contains(t, msg.Text, testClientIP+" | what is the meaning of life, the univers...")

	msg = send(testAdminChatID, "/block 203.0.113.9")
	assert.Contains(t, msg.Text, "203.0.113.9")
	blocked, err := s.deps.Blocklist.IsBlocked(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, blocked)

	msg = send(testAdminChatID, "/unblock 203.0.113.9")
	assert.Contains(t, msg.Text, "Unblocked")
	blocked, err = s.deps.Blocklist.IsBlocked(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, blocked)

	msg = send(testAdminChatID, "/block")
	assert.Contains(t, msg.Text, "Usage")

	msg = send(testAdminChatID, "/dance")
	assert.Equal(t, "Unknown command.", msg.Text)

	msg = send(testAdminChatID, "/reset")
	assert.Contains(t, msg.Text, "1 logs")
	msg = send(testAdminChatID, "/lastlog")
	assert.Equal(t, "No logs yet.", msg.Text)
}

func TestTelegramIgnoresMalformedUpdates(t *testing.T) {
	s := newTestServer(t, 5)

	for _, body := range []string{"", "{bad", `{"update_id":1}`} {
		rec := s.do(t, http.MethodPost, "/telegram", body, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, s.notifier.sent)

	rec := s.do(t, http.MethodGet, "/telegram", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.True(t, strings.Contains(rec.Header().Get("Allow"), http.MethodPost))
}
