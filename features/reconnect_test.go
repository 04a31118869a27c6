// Package features holds end-to-end BDD scenarios driven by cucumber/godog,
// grounded on the teacher's features/sse_reconnection_test.go suite shape:
// a per-scenario test-double struct with a reset method called from
// Before/After hooks and ctx.Step regex registrations, run from
// TestReconnectFeature via godog.TestSuite.
package features

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/johnjansen/notebooksdk/frame"
	"github.com/johnjansen/notebooksdk/fs"
	"github.com/johnjansen/notebooksdk/session"
)

// fakeNotebookServer accepts one websocket connection at a time (closing
// any predecessor), replying to "ping" requests with notebook.initialized
// and acking fs.watch/fs.unwatch while counting them per connection epoch.
type fakeNotebookServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	epoch       int
	conn        *websocket.Conn
	watchCounts map[int]map[string]int
}

func newFakeNotebookServer() *fakeNotebookServer {
	s := &fakeNotebookServer{watchCounts: make(map[int]map[string]int)}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *fakeNotebookServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *fakeNotebookServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	prev := s.conn
	s.epoch++
	epoch := s.epoch
	s.watchCounts[epoch] = make(map[string]int)
	s.conn = conn
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := frame.Decode(data)
		if err != nil {
			continue
		}
		s.handleFrame(conn, epoch, f)
	}
}

func (s *fakeNotebookServer) handleFrame(conn *websocket.Conn, epoch int, f frame.Frame) {
	switch f.Action {
	case "ping":
		s.reply(conn, f.ResponseEvent, nil)
		s.push(conn, "notebook.initialized", map[string]any{
			"env":        map[string]any{},
			"previewUrl": "https://preview.test",
			"ports":      []any{},
		})
	case "fs.watch":
		path, _ := f.Data.(map[string]any)["path"].(string)
		s.mu.Lock()
		s.watchCounts[epoch][path]++
		s.mu.Unlock()
		s.reply(conn, f.ResponseEvent, map[string]any{"ok": true})
	case "fs.unwatch":
		s.reply(conn, f.ResponseEvent, map[string]any{"ok": true})
	default:
		s.reply(conn, f.ResponseEvent, map[string]any{"ok": true})
	}
}

func (s *fakeNotebookServer) reply(conn *websocket.Conn, responseEvent string, data any) {
	b, err := frame.Encode(frame.Frame{Kind: frame.KindResponse, Event: "response", ResponseEvent: responseEvent, Data: data})
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.BinaryMessage, b)
}

func (s *fakeNotebookServer) push(conn *websocket.Conn, event string, data any) {
	b, err := frame.Encode(frame.NewEvent(event, "", data))
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.BinaryMessage, b)
}

// pushFileChange sends a fs.watch.<path> event over whatever connection is
// currently active, simulating a server-side filesystem change.
func (s *fakeNotebookServer) pushFileChange(path string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	s.push(conn, fmt.Sprintf("fs.watch.%s", path), map[string]any{
		"type": "updated", "path": path, "isFile": true, "exists": true,
	})
}

// dropConnection abruptly closes the current connection without a clean
// close handshake, so the client observes an abnormal closure (1006) and
// the socket package's reconnect policy kicks in.
func (s *fakeNotebookServer) dropConnection() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *fakeNotebookServer) watchCountAt(epoch int, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchCounts[epoch][path]
}

func (s *fakeNotebookServer) epochCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (s *fakeNotebookServer) close() {
	s.server.Close()
}

// reconnectSuite holds per-scenario state for the feature in reconnect.feature.
type reconnectSuite struct {
	server *fakeNotebookServer
	sess   *session.Session

	watchPath   string
	changesMu   sync.Mutex
	changes     []fs.FileChange
	epochBefore int
}

func (r *reconnectSuite) reset() {
	if r.sess != nil {
		_ = r.sess.Dispose()
	}
	if r.server != nil {
		r.server.close()
	}
	r.server = nil
	r.sess = nil
	r.watchPath = ""
	r.changes = nil
	r.epochBefore = 0
}

func (r *reconnectSuite) aFakeNotebookServerAcceptingOneConnectionAtATime() error {
	r.server = newFakeNotebookServer()
	return nil
}

func (r *reconnectSuite) aSessionConnectedToThatServer() error {
	r.sess = session.New(session.Options{URL: r.server.wsURL(), InitTimeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.sess.Ready(ctx)
	return err
}

func (r *reconnectSuite) iAmWatchingPath(path string) error {
	r.watchPath = path
	_, err := r.sess.FS.Watch(context.Background(), path, fs.WatchOptions{Recursive: true}, func(fc fs.FileChange) {
		r.changesMu.Lock()
		r.changes = append(r.changes, fc)
		r.changesMu.Unlock()
	})
	r.epochBefore = r.server.epochCount()
	return err
}

func (r *reconnectSuite) theServerDropsMyConnection() error {
	r.server.dropConnection()
	return nil
}

func (r *reconnectSuite) theSessionReconnects() error {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if r.server.epochCount() > r.epochBefore {
			time.Sleep(100 * time.Millisecond) // let HandleReconnect's fs.watch land
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("reconnectSuite: server never observed a new connection epoch")
}

func (r *reconnectSuite) theServerShouldHaveReceivedExactlyOneForOnEachConnectionEpoch(action, path string) error {
	if action != "fs.watch" {
		return fmt.Errorf("reconnectSuite: unsupported action %q in step", action)
	}
	for epoch := 1; epoch <= r.server.epochCount(); epoch++ {
		if got := r.server.watchCountAt(epoch, path); got != 1 {
			return fmt.Errorf("reconnectSuite: epoch %d saw %d fs.watch for %q, want 1", epoch, got, path)
		}
	}
	return nil
}

func (r *reconnectSuite) aFileChangeEventForDeliveredAfterReconnectShouldStillReachMyHandler(path string) error {
	r.server.pushFileChange(path)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.changesMu.Lock()
		n := len(r.changes)
		r.changesMu.Unlock()
		if n > 0 {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("reconnectSuite: no file change delivered to watch handler after reconnect")
}

func initializeReconnectScenario(ctx *godog.ScenarioContext) {
	suite := &reconnectSuite{}

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		suite.reset()
		return c, nil
	})
	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		suite.reset()
		return c, nil
	})

	ctx.Step(`^a fake notebook server accepting one connection at a time$`, suite.aFakeNotebookServerAcceptingOneConnectionAtATime)
	ctx.Step(`^a session connected to that server$`, suite.aSessionConnectedToThatServer)
	ctx.Step(`^I am watching path "([^"]*)"$`, suite.iAmWatchingPath)
	ctx.Step(`^the server drops my connection$`, suite.theServerDropsMyConnection)
	ctx.Step(`^the session reconnects$`, suite.theSessionReconnects)
	ctx.Step(`^the server should have received exactly one "([^"]*)" for "([^"]*)" on each connection epoch$`, suite.theServerShouldHaveReceivedExactlyOneForOnEachConnectionEpoch)
	ctx.Step(`^a file change event for "([^"]*)" delivered after reconnect should still reach my handler$`, suite.aFileChangeEventForDeliveredAfterReconnectShouldStillReachMyHandler)
}

func TestReconnectFeature(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeReconnectScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"reconnect.feature"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run reconnect feature")
	}
}
