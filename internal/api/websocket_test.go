package api

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"robot-core/internal/events"
)

func TestWebsocketStreamsEvents(t *testing.T) {
	ts, server, _, cleanup := newTestAPIEnv(t, &fakeGateway{}, nil)
	defer cleanup()

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	// Give the handler a moment to register its subscription.
	time.Sleep(200 * time.Millisecond)
	server.Bus.Publish(events.EventRobotStarted, events.RobotEvent{
		UserID: "user-1", RobotID: "robot-1", Action: "start",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Topic   string `json:"topic"`
		Payload struct {
			RobotID string `json:"robot_id"`
		} `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Topic != string(events.EventRobotStarted) {
		t.Fatalf("topic=%s", msg.Topic)
	}
	if msg.Payload.RobotID != "robot-1" {
		t.Fatalf("payload=%+v", msg.Payload)
	}
}
