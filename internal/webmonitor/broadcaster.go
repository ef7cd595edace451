package webmonitor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/flaresense/detection-server/internal/logger"
)

// FrameBroadcaster manages fanout of JPEG frames to multiple clients.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	latest  []byte

	// OnClientsChanged is called with the new subscriber count.
	OnClientsChanged func(n int)
}

// NewFrameBroadcaster creates an empty broadcaster. Frames are pushed with Publish.
func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	fb.clients[id] = ch
	n := len(fb.clients)
	fb.mu.Unlock()

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, n)
	fb.clientsChanged(n)
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	ch, ok := fb.clients[id]
	if !ok {
		fb.mu.Unlock()
		return
	}
	close(ch)
	delete(fb.clients, id)
	n := len(fb.clients)
	fb.mu.Unlock()

	logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, n)
	fb.clientsChanged(n)
}

// ClientCount returns the number of subscribed clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Latest returns the most recently published frame, or nil.
func (fb *FrameBroadcaster) Latest() []byte {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.latest
}

// Publish fans an encoded frame out to every client. Slow clients skip the frame.
func (fb *FrameBroadcaster) Publish(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.latest = data
	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

func (fb *FrameBroadcaster) clientsChanged(n int) {
	if fb.OnClientsChanged != nil {
		fb.OnClientsChanged(n)
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // structpb encoding, base64 for SSE
}

func serializeStatus(p StatusPayload) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	st, err := structpb.NewStruct(p.fields())
	if err != nil {
		return nil, fmt.Errorf("structpb: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// StatusBroadcaster polls the monitor and fans status changes out to SSE clients.
type StatusBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan *SerializedEvent
	nextID   int
	monitor  *Monitor
	current  *SerializedEvent
	stop     chan struct{}
	stopped  bool
	interval time.Duration
}

// NewStatusBroadcaster creates a broadcaster for status events.
func NewStatusBroadcaster(monitor *Monitor, interval time.Duration) *StatusBroadcaster {
	return &StatusBroadcaster{
		clients:  make(map[int]chan *SerializedEvent),
		monitor:  monitor,
		stop:     make(chan struct{}),
		interval: interval,
	}
}

// Subscribe adds a new client. It returns the current status to send first
// and a channel of later changes.
func (sb *StatusBroadcaster) Subscribe() (int, *SerializedEvent, <-chan *SerializedEvent) {
	sb.refresh()

	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 2)
	sb.clients[id] = ch

	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, sb.current, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// Start begins the status polling loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the broadcaster and disconnects every client.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.stopped {
		return
	}
	close(sb.stop)
	sb.stopped = true
	for id, ch := range sb.clients {
		close(ch)
		delete(sb.clients, id)
	}
}

func (sb *StatusBroadcaster) run() {
	logger.Info("StatusBroadcaster", "Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
			if event := sb.refresh(); event != nil {
				sb.broadcast(event)
			}
		}
	}
}

// refresh serializes the current status and returns it when it differs from
// the last one seen, nil otherwise.
func (sb *StatusBroadcaster) refresh() *SerializedEvent {
	event, err := serializeStatus(sb.monitor.Snapshot())
	if err != nil {
		logger.Error("StatusBroadcaster", "Serialize error: %v", err)
		return nil
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.current != nil && bytes.Equal(sb.current.JSONData, event.JSONData) {
		return nil
	}
	sb.current = event
	return event
}

func (sb *StatusBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
		}
	}
}
