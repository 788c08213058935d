package websocket

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrSessionFull rejects a connection when the session's connection cap
// is reached. Callers must not start the pumps for a rejected client.
var ErrSessionFull = errors.New("session connection limit reached")

type ClientMessage struct {
	Client  *Client
	Message []byte
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

// Manager is the connection hub. Clients are indexed by the session they
// subscribe to; committed operations, roster changes, and settings
// events fan out to a session's clients, excluding the originating
// device so an actor does not echo its own actions back to itself.
type Manager struct {
	clients           map[string]*Client
	sessionIndex      map[string]map[string]bool
	clientsMutex      sync.RWMutex
	Unregister        chan *Client
	HandleMessage     chan *ClientMessage
	maxConnPerSession int
	writeWait         time.Duration
	pongWait          time.Duration
	pingPeriod        time.Duration
	messageHandler    MessageHandler
	disconnectHandler func(*Client)
}

func NewManager(maxConnPerSession int, writeWait, pongWait, pingPeriod time.Duration) *Manager {
	return &Manager{
		clients:           make(map[string]*Client),
		sessionIndex:      make(map[string]map[string]bool),
		Unregister:        make(chan *Client),
		HandleMessage:     make(chan *ClientMessage),
		maxConnPerSession: maxConnPerSession,
		writeWait:         writeWait,
		pongWait:          pongWait,
		pingPeriod:        pingPeriod,
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// SetDisconnectHandler installs a callback invoked when a client drops.
// The session layer uses it to mark the participant offline on
// connection loss.
func (m *Manager) SetDisconnectHandler(handler func(*Client)) {
	m.disconnectHandler = handler
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

// RegisterClient admits the client into the session's fan-out, or
// returns ErrSessionFull at the connection cap. Registration is
// synchronous so the caller learns of a rejection before starting the
// read and write pumps.
func (m *Manager) RegisterClient(client *Client) error {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.sessionIndex[client.SessionID] == nil {
		m.sessionIndex[client.SessionID] = make(map[string]bool)
	}

	if len(m.sessionIndex[client.SessionID]) >= m.maxConnPerSession {
		return ErrSessionFull
	}

	m.clients[client.ID] = client
	m.sessionIndex[client.SessionID][client.ID] = true

	log.Printf("client registered: %s (session: %s, actor: %s, device: %s)", client.ID, client.SessionID, client.ActorID, client.DeviceID)

	return nil
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()

	_, ok := m.clients[client.ID]
	if ok {
		delete(m.clients, client.ID)
		delete(m.sessionIndex[client.SessionID], client.ID)

		if len(m.sessionIndex[client.SessionID]) == 0 {
			delete(m.sessionIndex, client.SessionID)
		}

		close(client.Send)
		log.Printf("client unregistered: %s", client.ID)
	}

	m.clientsMutex.Unlock()

	if ok && m.disconnectHandler != nil {
		m.disconnectHandler(client)
	}
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		log.Printf("error unmarshaling message: %v", err)
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			log.Printf("error handling message: %v", err)
		}
	}
}

// BroadcastToSession sends the message to every client subscribed to the
// session except those on the excluded device.
func (m *Manager) BroadcastToSession(sessionID string, message *Message, excludeDeviceID string) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	clientIDs, exists := m.sessionIndex[sessionID]
	if !exists {
		return nil
	}

	for clientID := range clientIDs {
		client := m.clients[clientID]
		if excludeDeviceID != "" && client.DeviceID == excludeDeviceID {
			continue
		}
		select {
		case client.Send <- messageBytes:
		default:
			log.Printf("client %s send buffer full, closing connection", clientID)
			go func(c *Client) { m.Unregister <- c }(client)
		}
	}

	return nil
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.Send <- messageBytes:
	default:
		log.Printf("client %s send buffer full", clientID)
	}

	return nil
}

func (m *Manager) SessionConnections(sessionID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.sessionIndex[sessionID]; exists {
		return len(clients)
	}
	return 0
}
