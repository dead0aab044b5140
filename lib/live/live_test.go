package live

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skgsergio/visalog/lib/acquire"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readResponse(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d clients (have %d)", n, h.Clients())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub(log.New(io.Discard, "", 0))
	h.SetInfo(Info{Resource: "SIM::psu::INSTR", Identity: "BK PRECISION,9141,123456,1.02"})

	srv := httptest.NewServer(h)
	defer srv.Close()

	a, b := dial(t, srv), dial(t, srv)
	for _, c := range []*websocket.Conn{a, b} {
		if resp := readResponse(t, c); resp["command"] != "info" {
			t.Fatalf("first message = %v, want info", resp)
		}
	}
	waitClients(t, h, 2)

	ts := time.Date(2024, 3, 1, 14, 3, 22, 0, time.Local)
	if err := h.WriteSample(acquire.Sample{Time: ts, Value: 3.3}); err != nil {
		t.Fatal(err)
	}

	for _, c := range []*websocket.Conn{a, b} {
		resp := readResponse(t, c)
		if resp["command"] != "sample" || resp["success"] != true {
			t.Fatalf("unexpected message %v", resp)
		}
		data := resp["data"].(map[string]any)
		if data["value"] != 3.3 || data["timestamp"] != "14:03:22" {
			t.Errorf("unexpected sample %v", data)
		}
	}

	h.ReportError(io.ErrUnexpectedEOF)
	if resp := readResponse(t, a); resp["success"] != false || resp["error"] != io.ErrUnexpectedEOF.Error() {
		t.Errorf("unexpected error message %v", resp)
	}
}

func TestHubCommands(t *testing.T) {
	h := NewHub(log.New(io.Discard, "", 0))
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := dial(t, srv)
	waitClients(t, h, 1)

	c.WriteJSON(WSMessage{Command: "info"})
	if resp := readResponse(t, c); resp["success"] != false {
		t.Errorf("info before start = %v", resp)
	}

	c.WriteJSON(WSMessage{Command: "bogus"})
	if resp := readResponse(t, c); resp["error"] != "unknown command: bogus" {
		t.Errorf("bogus = %v", resp)
	}

	c.WriteJSON(WSMessage{Command: "close"})
	if resp := readResponse(t, c); resp["command"] != "close" {
		t.Errorf("close = %v", resp)
	}
	waitClients(t, h, 0)
}

func TestHubClose(t *testing.T) {
	h := NewHub(log.New(io.Discard, "", 0))
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := dial(t, srv)
	waitClients(t, h, 1)

	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if resp := readResponse(t, c); resp["command"] != "stopped" {
		t.Errorf("unexpected message %v", resp)
	}
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := c.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestHubMetrics(t *testing.T) {
	h := NewHub(log.New(io.Discard, "", 0))
	srv := httptest.NewServer(h.MetricsHandler())
	defer srv.Close()

	scrape := func() string {
		t.Helper()
		resp, err := http.Get(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		return string(body)
	}

	if body := scrape(); strings.Contains(body, "visalog_samples_total") {
		t.Errorf("samples reported before the run started:\n%s", body)
	}

	h.SetInfo(Info{Resource: "SIM::psu::INSTR"})
	h.WriteSample(acquire.Sample{Time: time.Unix(1700000000, 0), Value: 3.3})
	h.WriteSample(acquire.Sample{Time: time.Unix(1700000001, 0), Value: 3.4})
	h.ReportError(io.ErrUnexpectedEOF)

	body := scrape()
	for _, want := range []string{
		`visalog_samples_total{resource="SIM::psu::INSTR"} 2`,
		`visalog_malformed_total{resource="SIM::psu::INSTR"} 1`,
		`visalog_measurement{resource="SIM::psu::INSTR"} 3.4`,
		`visalog_live_clients 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q:\n%s", want, body)
		}
	}
}
