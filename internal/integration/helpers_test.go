package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"coursechat/internal/api"
	"coursechat/internal/auth"
	"coursechat/internal/chat"
	"coursechat/internal/course"
	"coursechat/internal/database"
	"coursechat/internal/notify"
	chatws "coursechat/internal/websocket"
	dbconfig "coursechat/pkg/database"
	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

var fastParams = auth.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

// switchableStore fails every append while broken is set
type switchableStore struct {
	interfaces.MessageStore
	broken atomic.Bool
}

func (s *switchableStore) Append(ctx context.Context, m *types.ChatMessage) error {
	if s.broken.Load() {
		return errors.New("disk I/O error")
	}
	return s.MessageStore.Append(ctx, m)
}

type stackOptions struct {
	enforce    bool
	revocation chat.RevocationPolicy
}

// stack is the full component graph over a real SQLite file, built by hand
// so tests can reach the store and the rooms
type stack struct {
	server *httptest.Server
	store  *switchableStore
	rooms  *chat.Rooms
}

func newStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "integration.db")
	cfg.RetryDelay = 0
	db, err := database.NewManager(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, dbconfig.NewMigrationManager(db.GetDB(), cfg.MigrationsFS()).ApplyMigrations())

	store := &switchableStore{MessageStore: db}
	authSvc := auth.NewService(db, auth.NewTokens("integration-secret", time.Hour), fastParams, nil)
	feed := notify.NewFeed(db, nil)
	registry := course.NewRegistry(db, feed, nil)
	gate := course.NewGate(registry)
	rooms := chat.NewRooms(nil)
	channel := chat.NewChannel(store, rooms, chat.DefaultConfig(), nil)
	require.NoError(t, channel.Start(context.Background()))
	registry.OnBlock(chat.NewRevoker(rooms, opts.revocation, nil))

	ws := chatws.NewHandler(authSvc, gate, channel, rooms, chatws.HandlerConfig{EnforceMembership: opts.enforce}, nil)
	srv := api.NewServer(api.Dependencies{
		Auth: authSvc, Courses: registry, Gate: gate, Feed: feed,
		History: channel, Store: store, Rooms: rooms, Chat: ws,
	}, nil)

	server := httptest.NewServer(srv)
	t.Cleanup(func() {
		server.Close()
		_ = channel.Stop()
		_ = db.Close()
	})
	return &stack{server: server, store: store, rooms: rooms}
}

// client talks to a running server over HTTP and websocket
type client struct {
	base string
}

type account struct {
	token string
	id    int64
}

func (c client) call(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(t, err)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (c client) signUp(t *testing.T, username string, role types.Role) account {
	t.Helper()
	creds := map[string]string{"username": username, "password": "integration-pw", "role": string(role)}
	code, _ := c.call(t, http.MethodPost, "/api/users", "", creds)
	require.Equal(t, http.StatusCreated, code)

	code, body := c.call(t, http.MethodPost, "/api/login", "", creds)
	require.Equal(t, http.StatusOK, code)
	user := body["user"].(map[string]interface{})
	return account{token: body["token"].(string), id: int64(user["id"].(float64))}
}

func (c client) createCourse(t *testing.T, teacher account, title string) int64 {
	t.Helper()
	code, body := c.call(t, http.MethodPost, "/api/courses", teacher.token, map[string]string{"title": title})
	require.Equal(t, http.StatusCreated, code)
	return int64(body["course"].(map[string]interface{})["id"].(float64))
}

func (c client) enroll(t *testing.T, student account, courseID int64) {
	t.Helper()
	code, _ := c.call(t, http.MethodPost, fmt.Sprintf("/api/courses/%d/enroll", courseID), student.token, nil)
	require.Equal(t, http.StatusOK, code)
}

func (c client) chatURL(courseID int64, token string) string {
	u := "ws" + strings.TrimPrefix(c.base, "http") + fmt.Sprintf("/ws/course_chat/%d/", courseID)
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (c client) connect(t *testing.T, courseID int64, who account) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(c.chatURL(courseID, who.token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"message": text}))
}

func receive(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var v map[string]interface{}
	require.NoError(t, conn.ReadJSON(&v))
	return v
}

func waitMembers(t *testing.T, rooms *chat.Rooms, courseID int64, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(rooms.Members(courseID)) == n
	}, 3*time.Second, 10*time.Millisecond)
}
