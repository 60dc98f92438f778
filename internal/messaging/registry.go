package messaging

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// AppConnection is the single app socket for one experience (spec §3: "at
// most one per experience").
type AppConnection struct {
	ID     string
	Socket *websocket.Conn

	queue *queue
}

func newAppConnection(id string, socket *websocket.Conn) *AppConnection {
	return &AppConnection{ID: id, Socket: socket, queue: newQueue()}
}

// Enqueue schedules a message for delivery on this app's send loop.
func (c *AppConnection) Enqueue(m Message) { c.queue.push(m) }

// ClientConnection is one phone/browser connected to an experience's app.
// Accepted gates whether anything but a connect request may reach the app
// (spec §3, §4.4).
type ClientConnection struct {
	ExperienceID string
	ClientID     string
	Socket       *websocket.Conn

	queue    *queue
	accepted atomic.Bool
}

func newClientConnection(experienceID, clientID string, socket *websocket.Conn) *ClientConnection {
	return &ClientConnection{ExperienceID: experienceID, ClientID: clientID, Socket: socket, queue: newQueue()}
}

// Enqueue schedules a message for delivery on this client's send loop.
func (c *ClientConnection) Enqueue(m Message) { c.queue.push(m) }

// Accepted reports whether the app has admitted this client.
func (c *ClientConnection) Accepted() bool { return c.accepted.Load() }

// Registry is the ConnectionRegistry of spec §3/§4.4: experience-id → app
// socket, and experience-id → set of client sockets. All mutation happens
// from the single cooperative set of socket goroutines driven by Router, so
// a plain mutex (rather than sync.Map) keeps add/remove/lookup atomic with
// respect to each other without extra bookkeeping.
type Registry struct {
	mu      sync.Mutex
	apps    map[string]*AppConnection
	clients map[string]map[string]*ClientConnection
}

// NewRegistry returns an empty ConnectionRegistry.
func NewRegistry() *Registry {
	return &Registry{
		apps:    map[string]*AppConnection{},
		clients: map[string]map[string]*ClientConnection{},
	}
}

func (r *Registry) addApp(c *AppConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[c.ID] = c
}

// removeApp drops the app connection if it's still the one registered
// (a slower-to-teardown stale connection must not clobber a reconnect).
func (r *Registry) removeApp(c *AppConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.apps[c.ID]; ok && cur == c {
		delete(r.apps, c.ID)
	}
}

// App looks up the app connection for an experience.
func (r *Registry) App(experienceID string) (*AppConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.apps[experienceID]
	return c, ok
}

// AppConnected reports whether an app socket is live for this experience.
func (r *Registry) AppConnected(experienceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.apps[experienceID]
	return ok
}

// Apps returns a snapshot of every currently-connected app, for the
// heartbeat sweep.
func (r *Registry) Apps() []*AppConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*AppConnection, 0, len(r.apps))
	for _, c := range r.apps {
		out = append(out, c)
	}
	return out
}

func (r *Registry) addClient(c *ClientConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byClient, ok := r.clients[c.ExperienceID]
	if !ok {
		byClient = map[string]*ClientConnection{}
		r.clients[c.ExperienceID] = byClient
	}
	byClient[c.ClientID] = c
}

func (r *Registry) removeClient(c *ClientConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byClient, ok := r.clients[c.ExperienceID]
	if !ok {
		return
	}
	if cur, ok := byClient[c.ClientID]; !ok || cur != c {
		return
	}
	delete(byClient, c.ClientID)
	if len(byClient) == 0 {
		delete(r.clients, c.ExperienceID)
	}
}

// Client looks up one client connection by experience and client id.
func (r *Registry) Client(experienceID, clientID string) (*ClientConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byClient, ok := r.clients[experienceID]
	if !ok {
		return nil, false
	}
	c, ok := byClient[clientID]
	return c, ok
}

// ClientIDs lists every client currently connected to an experience, for the
// periodic roster heartbeat sent to that experience's app.
func (r *Registry) ClientIDs(experienceID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	byClient := r.clients[experienceID]
	ids := make([]string, 0, len(byClient))
	for id := range byClient {
		ids = append(ids, id)
	}
	return ids
}

// Clients returns a snapshot of every connected client, across every
// experience, for the per-client app-liveness heartbeat.
func (r *Registry) Clients() []*ClientConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ClientConnection
	for _, byClient := range r.clients {
		for _, c := range byClient {
			out = append(out, c)
		}
	}
	return out
}
