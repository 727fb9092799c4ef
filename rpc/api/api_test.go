package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/replication"
	"github.com/cockroachdb/errors"
)

type staticSessions []replication.SessionInfo

func (s staticSessions) Sessions() []replication.SessionInfo { return s }

func newTestServer(t *testing.T) (*Client, db.KVDB, *db.ManualClock) {
	t.Helper()
	clock := db.NewManualClock(1000)
	store := maple.NewMapleDB(&maple.DBOptions{Identifier: 1, Clock: clock, NumShards: 2})
	sessions := staticSessions{{Peer: 2, RemoteAddr: "peer-2", Encoder: "Idle", Decoder: "Idle"}}

	server := httptest.NewServer(NewHandler(store, sessions, nil, true))
	t.Cleanup(func() {
		server.Close()
		_ = store.Close()
	})

	client, err := NewClient(common.ClientConfig{Endpoint: server.URL, TimeoutSecond: 5, RetryCount: 2})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, store, clock
}

func TestKeyValueEndpoints(t *testing.T) {
	client, store, clock := newTestServer(t)
	ctx := context.Background()

	steps := []struct {
		name    string
		op      func() (Result, error)
		applied bool
		value   string
		live    string // expected live value afterwards, "" = none
	}{
		{"put", func() (Result, error) { return client.Put(ctx, "a/b", []byte("v1")) }, true, "", "v1"},
		{"put if absent on live key", func() (Result, error) { return client.PutIfAbsent(ctx, "a/b", []byte("x")) }, false, "v1", "v1"},
		{"replace", func() (Result, error) { return client.Replace(ctx, "a/b", []byte("v2")) }, true, "v1", "v2"},
		{"replace if with wrong value", func() (Result, error) { return client.ReplaceIf(ctx, "a/b", []byte("v1"), []byte("v3")) }, false, "", "v2"},
		{"replace if", func() (Result, error) { return client.ReplaceIf(ctx, "a/b", []byte("v2"), []byte("v3")) }, true, "", "v3"},
		{"remove if with wrong value", func() (Result, error) { return client.RemoveIf(ctx, "a/b", []byte("v2")) }, false, "", "v3"},
		{"remove", func() (Result, error) { return client.Remove(ctx, "a/b") }, true, "v3", ""},
		{"replace missing key", func() (Result, error) { return client.Replace(ctx, "a/b", []byte("v4")) }, false, "", ""},
		{"put if absent", func() (Result, error) { return client.PutIfAbsent(ctx, "a/b", []byte("v5")) }, true, "", "v5"},
		{"remove if", func() (Result, error) { return client.RemoveIf(ctx, "a/b", []byte("v5")) }, true, "", ""},
	}

	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			clock.Advance(1)
			res, err := step.op()
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if res.Applied != step.applied || string(res.Value) != step.value {
				t.Errorf("expected applied=%v value=%q, got %+v", step.applied, step.value, res)
			}

			got, err := client.Get(ctx, "a/b")
			if step.live == "" {
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("expected ErrNotFound, got %q, %v", got, err)
				}
			} else if err != nil || string(got) != step.live {
				t.Errorf("expected live value %q, got %q, %v", step.live, got, err)
			}

			has, err := client.Has(ctx, "a/b")
			if err != nil || has != (step.live != "") {
				t.Errorf("Has returned %v, %v", has, err)
			}
			if has != store.Has("a/b") {
				t.Errorf("Has disagrees with the store")
			}
		})
	}
}

func TestLateWriteIsReported(t *testing.T) {
	client, _, clock := newTestServer(t)
	ctx := context.Background()

	if _, err := client.Put(ctx, "key", []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	clock.Set(995)
	res, err := client.Put(ctx, "key", []byte("v2"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if res.Applied {
		t.Error("late write reported as applied")
	}
	if got, _ := client.Get(ctx, "key"); string(got) != "v1" {
		t.Errorf("expected v1, got %q", got)
	}
}

func TestInfoEndpoint(t *testing.T) {
	client, store, _ := newTestServer(t)
	store.Put("a", []byte("1"))
	store.Put("b", []byte("2"))
	store.Remove("b")

	info, err := client.Info(context.Background())
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Database.Identifier != 1 || info.Database.Entries != 1 || info.Database.Tombstones != 1 {
		t.Errorf("unexpected database info: %+v", info.Database)
	}
	if len(info.Sessions) != 1 || info.Sessions[0].Peer != 2 {
		t.Errorf("unexpected sessions: %+v", info.Sessions)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	store := maple.NewMapleDB(&maple.DBOptions{Identifier: 1, NumShards: 1})
	defer store.Close()
	handler := NewHandler(store, nil, nil, false)

	tests := []struct {
		path        string
		contentType string
	}{
		{"/metrics", ""},
		{"/debug/metrics", "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if tt.contentType != "" && !strings.HasPrefix(rec.Header().Get("Content-Type"), tt.contentType) {
				t.Errorf("expected content type %s, got %s", tt.contentType, rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestInvalidCondition(t *testing.T) {
	store := maple.NewMapleDB(&maple.DBOptions{Identifier: 1, NumShards: 1})
	defer store.Close()

	rec := httptest.NewRecorder()
	NewHandler(store, nil, nil, false).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPut, "/kv/key?if=maybe", strings.NewReader("v")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if store.Has("key") {
		t.Error("rejected request changed the store")
	}
}
