package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"phonewatch/app/internal/auth"
	"phonewatch/app/internal/database"
	"phonewatch/app/internal/ingest"
	"phonewatch/app/internal/intervals"
)

func newTestServer(t *testing.T, guard *auth.Guard) (*Server, *database.Store) {
	t.Helper()
	store, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	pipeline := ingest.NewPipeline(store, intervals.New(store, nil))
	return NewServer(pipeline, guard), store
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, h)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/feed"
}

// --------------- auth ---------------

func TestHandler_RejectsMissingToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := newTestServer(t, auth.NewGuard(hash, false))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil); err == nil {
		t.Fatal("dial without token should fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %+v, want 401", resp)
	}

	// With the token the upgrade succeeds.
	conn := dial(t, wsURL(ts), "secret")
	conn.Close()
}

// --------------- batches ---------------

func TestReadLoop_AppliesBatchAndAcks(t *testing.T) {
	srv, store := newTestServer(t, auth.NewGuard(nil, true))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dial(t, wsURL(ts), "")
	batch := `[
		{"endpoint_id":"ep1","raw_status":"unavailable","timestamp":"2026-01-01T10:00:00Z"},
		{"endpoint_id":"ep1","raw_status":"unavailable","timestamp":"2026-01-01T10:00:00Z"},
		{"endpoint_id":"ep1","raw_status":"online","timestamp":"2026-01-01T09:00:00Z"},
		{"endpoint_id":"","raw_status":"online","timestamp":"2026-01-01T10:05:00Z"}
	]`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(batch)); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got ack
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	// One applied, one duplicate skipped, one stale and one malformed
	// rejected.
	if got.Applied != 1 || got.Skipped != 1 || got.Rejected != 2 {
		t.Errorf("ack = %+v, want {1 1 2}", got)
	}

	iv, err := store.OpenInterval("ep1")
	if err != nil {
		t.Fatal(err)
	}
	if iv == nil {
		t.Error("batch should have opened an offline interval")
	}
}

func TestReadLoop_UndecodableBatchIsRejected(t *testing.T) {
	srv, _ := newTestServer(t, auth.NewGuard(nil, true))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dial(t, wsURL(ts), "")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"not":"an array"}`)); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got ack
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Rejected != 1 || got.Applied != 0 {
		t.Errorf("ack = %+v, want {0 0 1}", got)
	}
}

func TestProcessBatch_CountsPerObservation(t *testing.T) {
	srv, _ := newTestServer(t, auth.NewGuard(nil, true))

	got := srv.processBatch([]byte(`[
		{"endpoint_id":"ep1","raw_status":"online","timestamp":"2026-01-01T10:00:00Z"},
		{"endpoint_id":"ep1","raw_status":"active","timestamp":"2026-01-01T10:01:00Z"}
	]`), "test")
	// The second observation normalizes to the same state: a no-op.
	if got.Applied != 1 || got.Skipped != 1 || got.Rejected != 0 {
		t.Errorf("ack = %+v, want {1 1 0}", got)
	}
}
