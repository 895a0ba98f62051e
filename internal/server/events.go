package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"
)

// SSE keepalive interval
const keepaliveInterval = 10 * time.Second

// fileEventMessage is sent when an HTML file changes on disk
type fileEventMessage struct {
	Type string `json:"type"` // "tree_changed" or "file_modified"
	Path string `json:"path,omitempty"`
}

// connectionStatusMessage is used for SSE notifications about connection status
type connectionStatusMessage struct {
	Type  string `json:"type"`  // "connection_status"
	Count int    `json:"count"` // Number of active connections
}

func treeChangedMessage() fileEventMessage {
	return fileEventMessage{Type: "tree_changed"}
}

func fileModifiedMessage(rel string) fileEventMessage {
	return fileEventMessage{Type: "file_modified", Path: rel}
}

// replayEvent is a broadcast kept for clients reconnecting with
// Last-Event-ID.
type replayEvent struct {
	id   uint64
	data string
}

// frame renders the event as an SSE frame without the terminating blank line.
func (e replayEvent) frame() string {
	return fmt.Sprintf("id: %d\ndata: %s", e.id, e.data)
}

// replayLog keeps the most recent events with contiguous IDs. eventHub
// serializes access to it.
type replayLog struct {
	events []replayEvent
	lastID uint64
	limit  int
}

func newReplayLog(limit int) *replayLog {
	return &replayLog{events: make([]replayEvent, 0, limit), limit: limit}
}

func (l *replayLog) append(data string) replayEvent {
	l.lastID++
	ev := replayEvent{id: l.lastID, data: data}
	if l.limit <= 0 {
		return ev
	}
	if len(l.events) == l.limit {
		copy(l.events, l.events[1:])
		l.events = l.events[:l.limit-1]
	}
	l.events = append(l.events, ev)
	return ev
}

// since returns the events after lastID. Unknown IDs, and IDs whose
// successor has already been evicted, yield nothing.
func (l *replayLog) since(lastID string) []replayEvent {
	id, err := strconv.ParseUint(lastID, 10, 64)
	if err != nil || len(l.events) == 0 {
		return nil
	}
	first := l.events[0].id
	if id+1 < first || id > l.lastID {
		return nil
	}
	return slices.Clone(l.events[id+1-first:])
}

// eventHub fans messages out to every connected SSE client.
type eventHub struct {
	mu      sync.Mutex
	clients map[chan string]bool
	replay  *replayLog
}

func newEventHub(bufferSize int) *eventHub {
	return &eventHub{
		clients: make(map[chan string]bool),
		replay:  newReplayLog(bufferSize),
	}
}

// publish marshals v and broadcasts it.
func (h *eventHub) publish(v any) {
	msgBytes, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}
	h.broadcast(string(msgBytes))
}

// broadcast buffers message for replay and hands it to every client. Slow
// clients drop the message instead of blocking the sender.
func (h *eventHub) broadcast(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	formattedMsg := h.replay.append(message).frame()

	for clientChan := range h.clients {
		select {
		case clientChan <- formattedMsg:
		default:
		}
	}
}

// subscribe registers a client and returns the buffered events it missed
// since lastID. Both happen under one lock so nothing is delivered twice.
func (h *eventHub) subscribe(lastID string) (chan string, []replayEvent, int) {
	clientChan := make(chan string, 10) // Buffer 10 events to handle bursts

	h.mu.Lock()
	defer h.mu.Unlock()

	var missed []replayEvent
	if lastID != "" {
		missed = h.replay.since(lastID)
	}
	h.clients[clientChan] = true
	return clientChan, missed, len(h.clients)
}

func (h *eventHub) unsubscribe(clientChan chan string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, clientChan)
	close(clientChan)
	return len(h.clients)
}

func (h *eventHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *eventHub) broadcastConnectionStatus(count int) {
	h.publish(connectionStatusMessage{Type: "connection_status", Count: count})
}

func (h *eventHub) serveSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable proxy buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Printf("SSE error: ResponseWriter doesn't support flushing")
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastEventID := r.Header.Get("Last-Event-ID")
	clientChan, missedEvents, clientCount := h.subscribe(lastEventID)
	defer func() {
		h.broadcastConnectionStatus(h.unsubscribe(clientChan))
	}()

	fmt.Fprintf(w, ": connected\n\n")
	if len(missedEvents) > 0 {
		log.Printf("Replaying %d missed events after ID %s", len(missedEvents), lastEventID)
		for _, evt := range missedEvents {
			fmt.Fprintf(w, "%s\n\n", evt.frame())
		}
	}
	flusher.Flush()

	h.broadcastConnectionStatus(clientCount)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case message := <-clientChan:
			if _, err := fmt.Fprintf(w, "%s\n\n", message); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
