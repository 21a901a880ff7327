// Package e2e drives several devices against an in-process sync server.
package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/habitsync/internal/api"
	"github.com/hyperengineering/habitsync/internal/serverstore"
	hsync "github.com/hyperengineering/habitsync/internal/sync"
	"github.com/hyperengineering/habitsync/pkg/habitsync"
)

const testAPIKey = "e2e-key"

// testServer is a sync server whose pull endpoint can be made to stall.
type testServer struct {
	URL   string
	store *serverstore.Store

	stallPull atomic.Bool
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	st, err := serverstore.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("serverstore.Open: %v", err)
	}

	ts := &testServer{store: st}
	router := api.NewRouter(api.NewHandler(st, nil, testAPIKey, "e2e"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ts.stallPull.Load() && strings.HasPrefix(r.URL.Path, "/sync/pull") {
			// Hold the request until the client gives up.
			<-r.Context().Done()
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		st.Close()
	})

	ts.URL = srv.URL
	return ts
}

// entity returns the server mirror of a record.
func (s *testServer) entity(t *testing.T, kind habitsync.Kind, id int64) *serverstore.EntityState {
	t.Helper()
	e, err := s.store.GetEntity(context.Background(), kind, id)
	if err != nil {
		t.Fatalf("GetEntity(%s, %d): %v", kind, id, err)
	}
	return e
}

// journal returns every change on the server, oldest first.
func (s *testServer) journal(t *testing.T) []hsync.ServerChange {
	t.Helper()
	resp, err := s.store.Pull(context.Background(), hsync.PullRequest{
		DeviceID: "e2e-inspector",
		Limit:    hsync.MaxPullLimit,
	})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	return resp.Changes
}

func newDevice(t *testing.T, serverURL string) *habitsync.Client {
	t.Helper()
	c, err := habitsync.New(habitsync.Config{
		DataPath:       filepath.Join(t.TempDir(), "device.db"),
		ServerURL:      serverURL,
		APIKey:         testAPIKey,
		PingTimeout:    time.Second,
		RequestTimeout: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("habitsync.New: %v", err)
	}
	t.Cleanup(func() { c.Shutdown() })
	return c
}

func mustSync(t *testing.T, c *habitsync.Client) habitsync.SyncResult {
	t.Helper()
	res, err := c.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow(%s): %v", c.DeviceID(), err)
	}
	return res
}

func mustPut(t *testing.T, c *habitsync.Client, e habitsync.Entity) habitsync.Entity {
	t.Helper()
	saved, err := c.Put(context.Background(), e)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	return saved
}

func pending(t *testing.T, c *habitsync.Client) int64 {
	t.Helper()
	n, err := c.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	return n
}
