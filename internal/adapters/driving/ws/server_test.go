package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/services"
)

// mockDaemon is a hand-written driving.DaemonService double.
type mockDaemon struct {
	mu        sync.Mutex
	added     []string
	removed   []string
	addErr    error
	removeErr error
	validate  domain.ValidationResult
}

func (m *mockDaemon) ValidateFolder(_ context.Context, path string) domain.ValidationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validate
}

func (m *mockDaemon) AddFolder(_ context.Context, path, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.added = append(m.added, path)
	return nil
}

func (m *mockDaemon) RemoveFolder(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removed = append(m.removed, path)
	return nil
}

func (m *mockDaemon) Folders(context.Context) []domain.Folder { return nil }

func setupServer(t *testing.T, daemon *mockDaemon) (*services.FMDMService, string) {
	t.Helper()

	fmdm := services.NewFMDMService(
		domain.DaemonInfo{Version: "test", PID: 1, StartedAt: time.Now().UTC()},
		[]domain.ModelInfo{{ID: "nomic-embed-text", Dimension: 768}},
	)
	server := NewServer(fmdm, daemon, time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.handleUpgrade)
	httpSrv := httptest.NewServer(mux)
	t.Cleanup(httpSrv.Close)

	return fmdm, strings.TrimPrefix(httpSrv.URL, "http://")
}

func dialRaw(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	socket, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { socket.Close() })
	return socket
}

func sendEnvelope(t *testing.T, socket *websocket.Conn, id, msgType string, payload any) {
	t.Helper()
	env := Envelope{ID: id, Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		env.Payload = data
	}
	require.NoError(t, socket.WriteJSON(env))
}

// readUntil reads envelopes until one matches the predicate.
func readUntil(t *testing.T, socket *websocket.Conn, match func(Envelope) bool) Envelope {
	t.Helper()
	require.NoError(t, socket.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var env Envelope
		require.NoError(t, socket.ReadJSON(&env))
		if match(env) {
			return env
		}
	}
}

func readResponse(t *testing.T, socket *websocket.Conn, id string) Response {
	t.Helper()
	env := readUntil(t, socket, func(e Envelope) bool {
		return e.Type == TypeResponse && e.ID == id
	})
	var resp Response
	require.NoError(t, json.Unmarshal(env.Payload, &resp))
	return resp
}

func initConnection(t *testing.T, socket *websocket.Conn) {
	t.Helper()
	sendEnvelope(t, socket, "init-1", TypeConnectionInit, InitPayload{ClientType: "test"})
	resp := readResponse(t, socket, "init-1")
	require.True(t, resp.Success)
}

func TestServer_InitDeliversSnapshot(t *testing.T) {
	fmdm, addr := setupServer(t, &mockDaemon{})
	socket := dialRaw(t, addr)

	initConnection(t, socket)

	env := readUntil(t, socket, func(e Envelope) bool { return e.Type == TypeFMDMUpdate })
	var snapshot domain.FMDM
	require.NoError(t, json.Unmarshal(env.Payload, &snapshot))
	assert.Equal(t, domain.SchemaVersion, snapshot.Schema)
	require.Len(t, snapshot.Connections, 1)

	// The connection itself is part of the daemon snapshot.
	assert.Equal(t, "test", snapshot.Connections[0].ClientType)
	assert.Len(t, fmdm.Snapshot().Connections, 1)
}

func TestServer_BroadcastReachesAllClients(t *testing.T) {
	fmdm, addr := setupServer(t, &mockDaemon{})

	first := dialRaw(t, addr)
	initConnection(t, first)
	second := dialRaw(t, addr)
	initConnection(t, second)

	fmdm.SetFolders([]domain.FolderInfo{{Path: "/data/docs", Model: "nomic-embed-text", Status: domain.FolderStatusActive}})

	for _, socket := range []*websocket.Conn{first, second} {
		env := readUntil(t, socket, func(e Envelope) bool {
			if e.Type != TypeFMDMUpdate {
				return false
			}
			var snap domain.FMDM
			return json.Unmarshal(e.Payload, &snap) == nil && len(snap.Folders) == 1
		})
		var snap domain.FMDM
		require.NoError(t, json.Unmarshal(env.Payload, &snap))
		assert.Equal(t, "/data/docs", snap.Folders[0].Path)
	}
}

func TestServer_ActBeforeInitRejected(t *testing.T) {
	_, addr := setupServer(t, &mockDaemon{})
	socket := dialRaw(t, addr)

	sendEnvelope(t, socket, "1", TypeFolderAdd, FolderPayload{Path: "/data/docs"})

	resp := readResponse(t, socket, "1")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not initialised")
}

func TestServer_FolderAdd(t *testing.T) {
	daemon := &mockDaemon{}
	_, addr := setupServer(t, daemon)
	socket := dialRaw(t, addr)
	initConnection(t, socket)

	sendEnvelope(t, socket, "2", TypeFolderAdd, FolderPayload{Path: "/data/docs", Model: "nomic-embed-text"})

	resp := readResponse(t, socket, "2")
	require.True(t, resp.Success)

	daemon.mu.Lock()
	defer daemon.mu.Unlock()
	assert.Equal(t, []string{"/data/docs"}, daemon.added)
}

func TestServer_FolderAddError_ClientSafeMessage(t *testing.T) {
	daemon := &mockDaemon{addErr: fmt.Errorf("%w: /data/docs", domain.ErrFolderExists)}
	_, addr := setupServer(t, daemon)
	socket := dialRaw(t, addr)
	initConnection(t, socket)

	sendEnvelope(t, socket, "3", TypeFolderAdd, FolderPayload{Path: "/data/docs"})

	resp := readResponse(t, socket, "3")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "already configured")
}

func TestServer_InternalErrorNotLeaked(t *testing.T) {
	daemon := &mockDaemon{addErr: errors.New("sqlite: disk I/O error at /var/lib/secret.db")}
	_, addr := setupServer(t, daemon)
	socket := dialRaw(t, addr)
	initConnection(t, socket)

	sendEnvelope(t, socket, "4", TypeFolderAdd, FolderPayload{Path: "/data/docs"})

	resp := readResponse(t, socket, "4")
	assert.False(t, resp.Success)
	assert.Equal(t, "internal error", resp.Error)
	assert.NotContains(t, resp.Error, "secret")
}

func TestServer_FolderValidate(t *testing.T) {
	daemon := &mockDaemon{}
	daemon.validate.Valid = true
	daemon.validate.Warnings = []string{"replaces 2 configured subfolders"}
	_, addr := setupServer(t, daemon)
	socket := dialRaw(t, addr)
	initConnection(t, socket)

	sendEnvelope(t, socket, "5", TypeFolderValidate, FolderPayload{Path: "/data"})

	resp := readResponse(t, socket, "5")
	require.True(t, resp.Success)

	var result domain.ValidationResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.True(t, result.Valid)
	assert.Len(t, result.Warnings, 1)
}

func TestServer_PingPong(t *testing.T) {
	_, addr := setupServer(t, &mockDaemon{})
	socket := dialRaw(t, addr)

	sendEnvelope(t, socket, "p1", TypePing, nil)

	env := readUntil(t, socket, func(e Envelope) bool { return e.Type == TypePong })
	assert.Equal(t, "p1", env.ID)
}

func TestServer_UnknownType(t *testing.T) {
	_, addr := setupServer(t, &mockDaemon{})
	socket := dialRaw(t, addr)

	sendEnvelope(t, socket, "u1", "bogus.type", nil)

	resp := readResponse(t, socket, "u1")
	assert.False(t, resp.Success)
}

func TestServer_DisconnectRemovesConnection(t *testing.T) {
	fmdm, addr := setupServer(t, &mockDaemon{})
	socket := dialRaw(t, addr)
	initConnection(t, socket)

	require.Eventually(t, func() bool {
		return len(fmdm.Snapshot().Connections) == 1
	}, 2*time.Second, 10*time.Millisecond)

	socket.Close()

	require.Eventually(t, func() bool {
		return len(fmdm.Snapshot().Connections) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClient_RoundTrip(t *testing.T) {
	daemon := &mockDaemon{}
	fmdm, addr := setupServer(t, daemon)

	client, err := Dial(context.Background(), addr, "cli")
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.AddFolder("/data/docs", "nomic-embed-text"))

	fmdm.SetFolders([]domain.FolderInfo{{Path: "/data/docs", Model: "nomic-embed-text", Status: domain.FolderStatusScanning}})

	// Folder list responses interleave with pushed snapshots; the client
	// must skip the pushes.
	require.Eventually(t, func() bool {
		folders, err := client.Folders()
		return err == nil && len(folders) == 1 && folders[0].Path == "/data/docs"
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, client.RemoveFolder("/data/docs"))

	daemon.mu.Lock()
	defer daemon.mu.Unlock()
	assert.Equal(t, []string{"/data/docs"}, daemon.added)
	assert.Equal(t, []string{"/data/docs"}, daemon.removed)
}
