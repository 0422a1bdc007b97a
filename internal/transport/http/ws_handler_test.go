package http

import (
	"archive/tar"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"experiment-test-service/internal/app"
	"experiment-test-service/internal/domain"
	"experiment-test-service/internal/infra/memory"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
)

type stubRandom struct{}

func (stubRandom) Float64() float64 { return 0.25 }

func (stubRandom) Shuffle(int, func(i, j int)) {}

type testServer struct {
	*httptest.Server
	attempts *memory.AttemptStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	snapshots := memory.NewSnapshotRepository(memory.NewStaticSnapshotLoader(sampleSnapshot()), time.Minute)
	attempts := memory.NewAttemptStore()
	events := memory.NewBroadcaster(32)
	results := app.NewResultsService(snapshots, app.NewSnapshotAnswerKeys(snapshots), attempts, nil)
	service := app.NewAttemptService(app.AttemptDeps{
		Snapshots: snapshots,
		Attempts:  attempts,
		Sessions:  memory.NewSessionStore(),
		Publisher: events,
		Results:   results,
		Random:    stubRandom{},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/session", NewWSHandler(service, nil).ServeWS)
	mux.HandleFunc("/ws/monitor", NewMonitorHandler(events, snapshots, nil).ServeWS)
	NewResultsHandler(results, snapshots, nil).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testServer{Server: server, attempts: attempts}
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + s.URL[len("http"):] + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func TestWebSocketAttemptFlow(t *testing.T) {
	server := newTestServer(t)
	conn := server.dial(t, "/ws/session?userId=u1")

	send(t, conn, "next", map[string]any{"timestamp": 1})
	_, payload := readNext(conn, t, "error")
	if payload["code"] != "invalid" {
		t.Fatalf("expected invalid before begin, got %v", payload)
	}

	send(t, conn, "begin", nil)
	_, payload = readNext(conn, t, "assigned")
	if payload["greeting"] != "Welcome" {
		t.Fatalf("expected greeting, got %v", payload["greeting"])
	}
	question := payload["question"].(map[string]any)
	if question["id"] != "q1" {
		t.Fatalf("expected first question q1, got %v", question["id"])
	}
	for _, o := range question["options"].([]any) {
		if _, leaked := o.(map[string]any)["correct"]; leaked {
			t.Fatalf("correctness leaked to participant: %v", o)
		}
	}

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC).UnixMilli()
	send(t, conn, "enter", map[string]any{"questionId": "q1", "timestamp": start})
	_, payload = readNext(conn, t, "ack")
	if payload["seq"] != float64(1) {
		t.Fatalf("expected seq 1, got %v", payload["seq"])
	}

	send(t, conn, "option", map[string]any{"questionId": "q1", "optionId": "o2", "kind": "poke", "timestamp": start + 500})
	_, payload = readNext(conn, t, "error")
	if !strings.Contains(payload["message"].(string), "Kind failed oneof") {
		t.Fatalf("expected kind validation failure, got %v", payload["message"])
	}

	send(t, conn, "option", map[string]any{"questionId": "q1", "optionId": "o2", "kind": "select", "timestamp": start + 1000})
	_, payload = readNext(conn, t, "ack")
	if payload["seq"] != float64(2) {
		t.Fatalf("expected rejected event to leave seq alone, got %v", payload["seq"])
	}

	send(t, conn, "exit", map[string]any{"questionId": "q1", "timestamp": start + 2000})
	readNext(conn, t, "ack")

	send(t, conn, "next", map[string]any{"timestamp": start + 2000})
	_, payload = readNext(conn, t, "position")
	if payload["question"].(map[string]any)["id"] != "q2" {
		t.Fatalf("expected q2, got %v", payload["question"])
	}

	send(t, conn, "previous", map[string]any{"timestamp": start + 2500})
	_, payload = readNext(conn, t, "error")
	if payload["code"] != "navigation" {
		t.Fatalf("expected navigation error, got %v", payload)
	}

	send(t, conn, "next", map[string]any{"timestamp": start + 3000})
	_, payload = readNext(conn, t, "completed")
	if payload["status"] != string(domain.AttemptCompleted) {
		t.Fatalf("expected completed status, got %v", payload["status"])
	}

	send(t, conn, "form", map[string]any{"formType": "post", "answers": []map[string]any{{"questionId": "mood", "value": 4}}})
	readNext(conn, t, "ack")

	resp, err := http.Get(server.URL + "/results/users/u1")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var results []app.AttemptResults
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 1 || results[0].Summary.CorrectQuestions != 1 || results[0].Summary.TimeTakenMs != 2000 {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestDisconnectKeepsAttemptResumable(t *testing.T) {
	server := newTestServer(t)
	conn := server.dial(t, "/ws/session?userId=u1")
	send(t, conn, "begin", nil)
	_, first := readNext(conn, t, "assigned")
	send(t, conn, "next", map[string]any{"timestamp": 1000})
	readNext(conn, t, "position")
	conn.Close()

	again := server.dial(t, "/ws/session?userId=u1")
	send(t, again, "begin", nil)
	_, payload := readNext(again, t, "error")
	if payload["code"] != "attempt_in_progress" {
		t.Fatalf("expected attempt_in_progress, got %v", payload)
	}
	send(t, again, "resume", nil)
	_, resumed := readNext(again, t, "assigned")
	if resumed["attemptId"] != first["attemptId"] {
		t.Fatalf("resumed a different attempt: %v vs %v", resumed["attemptId"], first["attemptId"])
	}
	if resumed["question"].(map[string]any)["id"] != "q2" {
		t.Fatalf("expected to resume at q2, got %v", resumed["question"])
	}
}

func TestMonitorStreamsAcceptedEvents(t *testing.T) {
	server := newTestServer(t)
	monitor := server.dial(t, "/ws/monitor")
	_, payload := readNext(monitor, t, "subscribed")
	if payload["configVersion"] != float64(1) {
		t.Fatalf("expected latest version 1, got %v", payload)
	}

	conn := server.dial(t, "/ws/session?userId=u7")
	send(t, conn, "begin", nil)
	readNext(conn, t, "assigned")
	send(t, conn, "enter", map[string]any{"questionId": "q1", "timestamp": 1000})
	readNext(conn, t, "ack")

	_, payload = readNext(monitor, t, "event")
	if payload["userId"] != "u7" || payload["type"] != string(domain.EventEnter) || payload["questionId"] != "q1" {
		t.Fatalf("unexpected monitored event %v", payload)
	}
}

func TestExportEndpointServesArchive(t *testing.T) {
	server := newTestServer(t)
	conn := server.dial(t, "/ws/session?userId=u1")
	send(t, conn, "begin", nil)
	readNext(conn, t, "assigned")

	resp, err := http.Get(server.URL + "/results/export?format=json")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "application/gzip" {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("tar: %v", err)
	}
	if hdr.Name != "u1.json" {
		t.Fatalf("unexpected entry %s", hdr.Name)
	}
	if _, err := tr.Next(); err != io.EOF {
		t.Fatalf("expected a single entry, got %v", err)
	}

	bad, err := http.Get(server.URL + "/results/export?format=xml")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", bad.StatusCode)
	}

	missing, err := http.Get(server.URL + "/results/groups/nope")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown group, got %d", missing.StatusCode)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}

func sampleSnapshot() domain.ConfigSnapshot {
	question := func(id string, order int) domain.Question {
		return domain.Question{
			ID:    id,
			Order: order,
			Text:  "What is 2 + 2?",
			Options: []domain.Option{
				{ID: "o1", Order: 0, Text: "3"},
				{ID: "o2", Order: 1, Text: "4", Correct: true},
				{ID: "o3", Order: 2, Text: "5"},
			},
		}
	}
	q2 := question("q2", 1)
	for i := range q2.Options {
		q2.Options[i].ID = "q2-" + q2.Options[i].ID
	}
	return domain.ConfigSnapshot{
		Version: 1,
		Groups: []domain.Group{{
			ID: "g1", Label: "Group 1", Weight: 100, Greeting: "Welcome",
			Protocol: domain.Protocol{
				ID:     "p1",
				Phases: []domain.Phase{{ID: "ph1", Questions: []domain.Question{question("q1", 0), q2}}},
			},
		}},
		Forms: []domain.Form{{ID: "post", Type: domain.FormPost, Questions: []domain.FormQuestion{
			{ID: "mood", Type: domain.FormSlider, Required: true, Slider: &domain.SliderConfig{Min: 1, Max: 5, Step: 1}},
		}}},
	}
}
