package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/flaresense/detection-server/internal/logger"
	"github.com/flaresense/detection-server/internal/notify"
)

// AlertsLabel is the data channel label browsers open to receive alerts.
const AlertsLabel = "alerts"

// ErrTooManyClients is returned by HandleOffer when the peer limit is reached.
var ErrTooManyClients = errors.New("webrtc: maximum clients reached")

// Client represents a connected WebRTC peer
type Client struct {
	id       string
	peerConn *webrtc.PeerConnection

	mu      sync.Mutex
	channel *webrtc.DataChannel // nil until the alerts channel opens
	sent    uint64
	failed  uint64
}

// Server manages WebRTC peers and pushes alerts over their data channels.
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API

	// OnClientsChanged is called with the new peer count, e.g. for metrics.
	OnClientsChanged func(n int)
}

// NewServer creates a new WebRTC server
func NewServer(stunServers []string, maxClients int) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	// Data channels only, no media codecs needed.
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
	}
}

// HandleOffer handles a WebRTC offer and returns the answer with gathered
// ICE candidates. The browser is expected to create the "alerts" channel.
func (s *Server) HandleOffer(ctx context.Context, offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.SDP == "" {
		return nil, fmt.Errorf("failed to parse offer: empty sdp")
	}

	if s.GetClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:       "client-" + uuid.NewString()[:8],
		peerConn: peerConn,
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != AlertsLabel {
			logger.Debug("WebRTC", "Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			client.mu.Lock()
			client.channel = dc
			client.mu.Unlock()
			logger.Info("WebRTC", "Client %s alerts channel open", client.id)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		peerConn.Close()
		return nil, ctx.Err()
	}
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	s.clientsMu.Lock()
	s.clients[client.id] = client
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.clientsChanged(n)

	logger.Info("WebRTC", "Client %s connected", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// Broadcast sends msg on every open alerts channel and returns how many
// peers received it.
func (s *Server) Broadcast(msg []byte) int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	delivered := 0
	for _, client := range s.clients {
		client.mu.Lock()
		dc := client.channel
		if dc == nil {
			client.mu.Unlock()
			continue
		}
		if err := dc.Send(msg); err != nil {
			client.failed++
			logger.Warn("WebRTC", "Error sending alert to client %s: %v", client.id, err)
		} else {
			client.sent++
			delivered++
		}
		client.mu.Unlock()
	}
	return delivered
}

// alertMessage is the JSON shape pushed to browsers.
type alertMessage struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Count      int     `json:"count"`
	Zone       string  `json:"zone"`
	MapURL     string  `json:"map_url"`
	Timestamp  float64 `json:"timestamp"`
}

func encodeAlert(a notify.Alert) ([]byte, error) {
	return json.Marshal(alertMessage{
		Type:       "fire_alert",
		ID:         a.ID,
		Severity:   a.Severity.String(),
		Confidence: a.Confidence,
		Count:      a.Count,
		Zone:       a.Zone,
		MapURL:     a.MapURL,
		Timestamp:  float64(a.FiredAt.UnixMilli()) / 1000,
	})
}

// Name implements notify.Channel.
func (s *Server) Name() string { return "webrtc" }

// Enabled implements notify.Channel.
func (s *Server) Enabled() bool { return s.maxClients > 0 }

// Send implements notify.Channel. No connected peers is not an error.
func (s *Server) Send(_ context.Context, a notify.Alert) error {
	msg, err := encodeAlert(a)
	if err != nil {
		return err
	}
	n := s.Broadcast(msg)
	logger.Debug("WebRTC", "Alert %s delivered to %d peer(s)", a.ID, n)
	return nil
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, clientID)
	n := len(s.clients)
	s.clientsMu.Unlock()

	client.peerConn.Close()
	s.clientsChanged(n)

	client.mu.Lock()
	logger.Info("WebRTC", "Client %s disconnected (sent: %d, failed: %d)", clientID, client.sent, client.failed)
	client.mu.Unlock()
}

func (s *Server) clientsChanged(n int) {
	if s.OnClientsChanged != nil {
		s.OnClientsChanged(n)
	}
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
