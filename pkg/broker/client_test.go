package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/novacare/clinic-intake/pkg/common/middleware"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 200*time.Millisecond)
}

func TestSearchFound(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != searchPath || r.URL.Query().Get("cin") != "AB 123" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		if r.Header.Get(middleware.RequestIDHeader) != "req-1" {
			t.Errorf("expected request id to be propagated")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":17,"cin":"AB 123","firstName":"Amina"}`))
	})

	ctx := middleware.WithRequestID(context.Background(), "req-1")
	res := c.Search(ctx, "AB 123")
	if res.Status != Found {
		t.Fatalf("expected Found, got %s (%v)", res.Status, res.Err)
	}
	if res.Record["firstName"] != "Amina" || res.Record["id"] != json.Number("17") {
		t.Fatalf("unexpected record %v", res.Record)
	}
}

func TestSearchOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    SearchStatus
		code    int
	}{
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			want:    NotFound,
			code:    http.StatusNotFound,
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusInternalServerError) },
			want:    Unexpected,
			code:    http.StatusInternalServerError,
		},
		{
			name:    "undecodable body",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>")) },
			want:    Unexpected,
			code:    http.StatusOK,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(time.Second):
				case <-r.Context().Done():
				}
			},
			want: Unreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, tt.handler)
			res := c.Search(context.Background(), "AB123456")
			if res.Status != tt.want {
				t.Fatalf("expected %s, got %s (%v)", tt.want, res.Status, res.Err)
			}
			if res.StatusCode != tt.code {
				t.Fatalf("expected status code %d, got %d", tt.code, res.StatusCode)
			}
		})
	}
}

func TestSearchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	res := New(addr, 200*time.Millisecond).Search(context.Background(), "AB123456")
	if res.Status != Unreachable {
		t.Fatalf("expected Unreachable, got %s", res.Status)
	}
	if res.Err == nil {
		t.Fatal("expected transport error to be kept")
	}
}

func TestSyncToCentral(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		synced    bool
		centralID string
	}{
		{
			name: "created with string id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"centralId":"C-9"}`))
			},
			synced:    true,
			centralID: "C-9",
		},
		{
			name: "created with numeric id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"centralId":1024}`))
			},
			synced:    true,
			centralID: "1024",
		},
		{
			name: "already exists without id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"alreadyExists":true}`))
			},
			synced: true,
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "down", http.StatusInternalServerError) },
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(time.Second):
				case <-r.Context().Done():
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, tt.handler)
			res := c.SyncToCentral(context.Background(), map[string]interface{}{"cin": "AB123456"})
			if res.Synced != tt.synced {
				t.Fatalf("expected synced=%v, got %+v", tt.synced, res)
			}
			if res.CentralID != tt.centralID {
				t.Fatalf("expected central id %q, got %q", tt.centralID, res.CentralID)
			}
			if !res.Synced && res.Reason == "" {
				t.Fatal("expected a diagnostic reason on failure")
			}
		})
	}
}

func TestSyncToCentralSendsExchangeRecord(t *testing.T) {
	var got map[string]interface{}
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != syncPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	})

	res := c.SyncToCentral(context.Background(), map[string]interface{}{"cin": "AB123456", "firstName": "Amina"})
	if !res.Synced || res.CentralID != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got["firstName"] != "Amina" {
		t.Fatalf("broker received %v", got)
	}
}
