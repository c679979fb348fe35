// Package main provides eyes-watch, a terminal observer for the eyes event stream.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Event is the subset of a pipeline event the watcher prints.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Stage     string          `json:"stage,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Sequence  int64           `json:"sequence"`
	Timestamp int64           `json:"timestamp"`
}

const (
	typePing = "ping"
	typePong = "pong"
)

// Client represents a stream connection.
type Client struct {
	conn *websocket.Conn
	out  io.Writer
	raw  bool
	last int64
}

// streamURL builds the stream address from the flags.
func streamURL(addr, sessionID string, since int64) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse addr: %w", err)
	}
	q := u.Query()
	if sessionID != "" {
		q.Set("sessionId", sessionID)
	}
	if since >= 0 {
		q.Set("since", strconv.FormatInt(since, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NewClient dials the stream.
func NewClient(addr string, out io.Writer, raw bool) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Client{conn: conn, out: out, raw: raw}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// Run prints events until the server closes the stream. Pings are answered
// with pongs and never printed.
func (c *Client) Run() error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("Unmarshal error: %v", err)
			continue
		}

		if ev.Type == typePing {
			if err := c.conn.WriteJSON(map[string]any{"type": typePong, "timestamp": time.Now().UnixMilli()}); err != nil {
				return fmt.Errorf("write pong: %w", err)
			}
			continue
		}

		if ev.Sequence > c.last {
			c.last = ev.Sequence
		}
		if c.raw {
			fmt.Fprintln(c.out, string(data))
			continue
		}
		fmt.Fprintln(c.out, format(ev))
	}
}

// LastSequence is the highest sequence seen, usable as the next -since.
func (c *Client) LastSequence() int64 {
	return c.last
}

// format renders one event as a single line.
func format(ev Event) string {
	var b strings.Builder
	ts := time.UnixMilli(ev.Timestamp).Format("15:04:05.000")
	fmt.Fprintf(&b, "%s #%d %-22s %s", ts, ev.Sequence, ev.Type, ev.SessionID)
	if ev.Stage != "" {
		fmt.Fprintf(&b, " stage=%s", ev.Stage)
	}

	var payload struct {
		Status   string `json:"status"`
		Reason   string `json:"reason"`
		Provider string `json:"provider"`
		Fallback bool   `json:"fallback"`
		Latency  int64  `json:"latency_ms"`
		Envelope *struct {
			OK         bool   `json:"ok"`
			Code       string `json:"code"`
			Message    string `json:"message"`
			NextAction string `json:"next_action"`
		} `json:"envelope"`
		Since  int64 `json:"since"`
		Oldest int64 `json:"oldest"`
	}
	if len(ev.Payload) > 0 && json.Unmarshal(ev.Payload, &payload) == nil {
		if payload.Status != "" {
			fmt.Fprintf(&b, " status=%s", payload.Status)
		}
		if payload.Reason != "" {
			fmt.Fprintf(&b, " reason=%q", payload.Reason)
		}
		if env := payload.Envelope; env != nil {
			fmt.Fprintf(&b, " code=%s", env.Code)
			if env.NextAction != "" {
				fmt.Fprintf(&b, " next=%s", env.NextAction)
			}
			if payload.Provider != "" {
				fmt.Fprintf(&b, " provider=%s", payload.Provider)
			}
			if payload.Fallback {
				b.WriteString(" (fallback)")
			}
			fmt.Fprintf(&b, " %dms", payload.Latency)
			if !env.OK && env.Message != "" {
				fmt.Fprintf(&b, " %q", env.Message)
			}
		}
		if payload.Oldest > 0 {
			fmt.Fprintf(&b, " missed %d..%d", payload.Since+1, payload.Oldest-1)
		}
	}
	return b.String()
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "Event stream address")
	sessionID := flag.String("session", "", "Session to watch (empty watches session announcements)")
	since := flag.Int64("since", -1, "Replay buffered events after this sequence")
	raw := flag.Bool("raw", false, "Print raw JSON frames")
	flag.Parse()

	log.SetFlags(log.Ltime)

	target, err := streamURL(*addr, *sessionID, *since)
	if err != nil {
		log.Fatalf("Invalid address: %v", err)
	}

	fmt.Fprintf(os.Stderr, "Connecting to %s...\n", target)
	client, err := NewClient(target, os.Stdout, *raw)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan error, 1)
	go func() { done <- client.Run() }()

	select {
	case <-interrupt:
		_ = client.Close()
		<-done
		fmt.Fprintln(os.Stderr, "\nInterrupted")
	case err := <-done:
		_ = client.Close()
		if err != nil {
			log.Printf("Stream ended: %v", err)
		}
	}
	if *sessionID != "" && client.LastSequence() > 0 {
		fmt.Fprintf(os.Stderr, "Resume with -since %d\n", client.LastSequence())
	}
}
