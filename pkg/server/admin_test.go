package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/gotalk/pkg/events"
)

func newAdminTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(testConfig(t), Dependencies{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.adminHandler())
	t.Cleanup(func() {
		_ = srv.Shutdown()
		ts.Close()
	})
	return srv, ts
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test server URL
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestAdminMetrics(t *testing.T) {
	srv, ts := newAdminTestServer(t)
	srv.Metrics().RefusedConnections.Add(3)

	code, body := httpGet(t, ts.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	for _, want := range []string{
		"# TYPE gotalk_connections_refused_total counter",
		"gotalk_connections_refused_total 3",
		"gotalk_sessions_active 0",
		"gotalk_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestAdminHealthAndUsers(t *testing.T) {
	srv, ts := newAdminTestServer(t)

	if code, body := httpGet(t, ts.URL+"/healthz"); code != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz = %d %q", code, body)
	}

	activeSession(t, srv.Registry(), "bob", 4)
	activeSession(t, srv.Registry(), "alice", 4)
	code, body := httpGet(t, ts.URL+"/api/users")
	if code != http.StatusOK {
		t.Fatalf("users status = %d", code)
	}
	if diff := cmp.Diff(`["alice","bob"]`+"\n", body); diff != "" {
		t.Fatalf("users body (-want +got):\n%s", diff)
	}

	if code, body := httpGet(t, ts.URL+"/api/files"); code != http.StatusOK || body != "[]\n" {
		t.Fatalf("files = %d %q", code, body)
	}
}

func TestAdminEventsFeed(t *testing.T) {
	srv, ts := newAdminTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	waitFor(t, "events subscriber", func() bool { return srv.Events().Subscribers() == 1 })

	srv.Events().Chat("alice: hi")
	srv.Events().Log("bob connected")

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got []events.Outbound
	for range 2 {
		var ev events.Outbound
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		got = append(got, ev)
	}

	if got[0].Kind != events.KindChat || got[0].Text != "alice: hi" {
		t.Fatalf("first event = %+v", got[0])
	}
	if got[1].Kind != events.KindLog || got[1].Text != "bob connected" {
		t.Fatalf("second event = %+v", got[1])
	}

	_ = conn.Close()
	waitFor(t, "subscriber removed", func() bool { return srv.Events().Subscribers() == 0 })
}
