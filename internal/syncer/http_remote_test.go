package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	hsync "github.com/hyperengineering/habitsync/internal/sync"
)

func TestHTTPRemote_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	if err := NewHTTPRemote(srv.URL, "", nil).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestHTTPRemote_PushSendsBearerAndBody(t *testing.T) {
	var got hsync.PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Authorization: got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type: got %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(hsync.PushResponse{Accepted: len(got.Changes)})
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL+"/", "secret", nil)
	resp, err := remote.Push(context.Background(), hsync.PushRequest{
		DeviceID: "device-a",
		PushID:   "01HQ0000000000000000000000",
		Changes: []hsync.ChangeLogEntry{{
			ID: 9, TableName: "habits", RecordID: 1, Operation: hsync.OperationInsert,
			Data: json.RawMessage(`{"id":1}`), Timestamp: time.Now(),
		}},
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if resp.Accepted != 1 {
		t.Errorf("Accepted: got %d, want 1", resp.Accepted)
	}
	if got.DeviceID != "device-a" || len(got.Changes) != 1 || got.Changes[0].TableName != "habits" {
		t.Errorf("server received %+v", got)
	}
}

func TestHTTPRemote_PullQuery(t *testing.T) {
	since := time.Date(2024, 3, 1, 9, 0, 0, 500, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("deviceId") != "device-a" || q.Get("limit") != "50" {
			t.Errorf("query: %v", q)
		}
		parsed, err := time.Parse(time.RFC3339Nano, q.Get("since"))
		if err != nil || !parsed.Equal(since) {
			t.Errorf("since: %q (%v)", q.Get("since"), err)
		}
		w.Write([]byte(`{"changes":[],"serverTimestamp":"2024-03-01T10:00:00Z","hasMore":false}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPRemote(srv.URL, "", nil).Pull(context.Background(), hsync.PullRequest{Since: since, DeviceID: "device-a", Limit: 50})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if resp.ServerTimestamp.IsZero() || resp.HasMore {
		t.Errorf("response: %+v", resp)
	}
}

func TestHTTPRemote_PullOmitsZeroSince(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("since") {
			t.Errorf("since should be omitted, got %q", r.URL.Query().Get("since"))
		}
		w.Write([]byte(`{"changes":[],"hasMore":false}`))
	}))
	defer srv.Close()

	if _, err := NewHTTPRemote(srv.URL, "", nil).Pull(context.Background(), hsync.PullRequest{DeviceID: "d"}); err != nil {
		t.Fatal(err)
	}
}

func TestHTTPRemote_ProblemBecomesServerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"type":"x","title":"Validation Error","status":422,"detail":"changes[0].tableName: unknown table"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPRemote(srv.URL, "", nil).Push(context.Background(), hsync.PushRequest{DeviceID: "d"})

	var re *ServerRejectedError
	if !errors.As(err, &re) {
		t.Fatalf("got %v, want ServerRejectedError", err)
	}
	if re.StatusCode != 422 || re.Detail != "changes[0].tableName: unknown table" {
		t.Errorf("unexpected error: %+v", re)
	}
	if IsOffline(err) {
		t.Error("rejection is not a connectivity failure")
	}
}

func TestHTTPRemote_PlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPRemote(srv.URL, "", nil).Ping(context.Background())
	var re *ServerRejectedError
	if !errors.As(err, &re) || re.StatusCode != 502 || re.Detail != "bad gateway" {
		t.Errorf("got %#v", err)
	}
}

func TestHTTPRemote_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPRemote(url, "", nil).Ping(context.Background())
	if !IsOffline(err) {
		t.Errorf("got %v, want ConnectivityError", err)
	}
}

func TestHTTPRemote_NoURL(t *testing.T) {
	err := NewHTTPRemote("", "", nil).Ping(context.Background())
	if !IsOffline(err) {
		t.Errorf("got %v, want ConnectivityError", err)
	}
}
