package messaging

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/footron/controller/internal/types"
)

// ControllerHook is the subset of the Controller the Router forwards app
// settings updates to. "dse" and "lcy" side-effects are never stored in the
// router itself (spec §4.4).
type ControllerHook interface {
	UpdateEndTime(experienceID string, endTime *time.Time) error
	UpdateLock(experienceID string, status types.LockStatus) error
	NotifyLifecycle(experienceID string, paused bool)
}

// Router is the MessagingRouter of spec §4.4: two WebSocket endpoints,
// `/messaging/in/{id}` for clients and `/messaging/out/{id}` for apps,
// brokering typed frames through a ConnectionRegistry. Adapted from the
// teacher's gptscript runner (api/pkg/gptscript/runner.go), which pairs one
// websocket read loop with a conc/pool-bounded worker set; here each
// connection gets its own receive/send pair instead of one shared reader.
type Router struct {
	registry   *Registry
	controller ControllerHook
	upgrader   websocket.Upgrader
}

// NewRouter builds a Router. controller may be nil in tests that only
// exercise client/app routing, since dse/lcy forwarding is best-effort.
func NewRouter(registry *Registry, controller ControllerHook) *Router {
	return &Router{
		registry:   registry,
		controller: controller,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the two endpoints on a gorilla/mux router.
func (r *Router) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/messaging/in/{id}", r.handleClient)
	router.HandleFunc("/messaging/out/{id}", r.handleApp)
}

// Run starts the 500ms heartbeat sweep (spec §4.4) and blocks until ctx is
// canceled.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sendHeartbeats()
		}
	}
}

func (r *Router) sendHeartbeats() {
	for _, app := range r.registry.Apps() {
		app.Enqueue(ClientHeartbeatMessage{
			Version: ProtocolVersion,
			Type:    TypeClientHeartbeat,
			Up:      true,
			Clients: r.registry.ClientIDs(app.ID),
		})
	}
	for _, client := range r.registry.Clients() {
		client.Enqueue(AppHeartbeatMessage{
			Version: ProtocolVersion,
			Type:    TypeAppHeartbeat,
			Up:      r.registry.AppConnected(client.ExperienceID),
		})
	}
}

func (r *Router) handleClient(w http.ResponseWriter, req *http.Request) {
	experienceID := mux.Vars(req)["id"]
	socket, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warn().Err(err).Str("experience_id", experienceID).Msg("messaging: client upgrade failed")
		return
	}

	conn := newClientConnection(experienceID, uuid.NewString(), socket)
	r.registry.addClient(conn)
	log.Info().Str("experience_id", experienceID).Str("client_id", conn.ClientID).Msg("messaging: client connected")

	r.serveClient(req.Context(), conn)

	r.registry.removeClient(conn)
	_ = socket.Close()
	log.Info().Str("experience_id", experienceID).Str("client_id", conn.ClientID).Msg("messaging: client disconnected")
}

func (r *Router) handleApp(w http.ResponseWriter, req *http.Request) {
	experienceID := mux.Vars(req)["id"]
	socket, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warn().Err(err).Str("experience_id", experienceID).Msg("messaging: app upgrade failed")
		return
	}

	conn := newAppConnection(experienceID, socket)
	r.registry.addApp(conn)
	log.Info().Str("experience_id", experienceID).Msg("messaging: app connected")

	r.serveApp(req.Context(), conn)

	r.registry.removeApp(conn)
	_ = socket.Close()
	log.Info().Str("experience_id", experienceID).Msg("messaging: app disconnected")
}

// serveClient runs the receive and send loops for one client connection as
// a task group: whichever returns first cancels the other (spec §9,
// redesigning the original's `run_until_first_complete`). A watcher
// goroutine reacts to cancellation by closing the queue and socket so the
// still-running loop unblocks instead of leaking.
func (r *Router) serveClient(ctx context.Context, conn *ClientConnection) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		conn.queue.close()
		_ = conn.Socket.Close()
	}()

	p := pool.New().WithMaxGoroutines(2)
	p.Go(func() { r.clientReceiveLoop(ctx, conn); cancel() })
	p.Go(func() { r.clientSendLoop(ctx, conn); cancel() })
	p.Wait()
}

func (r *Router) serveApp(ctx context.Context, conn *AppConnection) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		conn.queue.close()
		_ = conn.Socket.Close()
	}()

	p := pool.New().WithMaxGoroutines(2)
	p.Go(func() { r.appReceiveLoop(ctx, conn); cancel() })
	p.Go(func() { r.appSendLoop(ctx, conn); cancel() })
	p.Wait()
}

func (r *Router) clientReceiveLoop(ctx context.Context, conn *ClientConnection) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := conn.Socket.ReadMessage()
		if err != nil {
			return
		}
		msg, err := Decode(raw)
		if err != nil {
			log.Warn().Err(err).Str("client_id", conn.ClientID).Msg("messaging: dropping malformed client frame")
			continue
		}
		r.handleClientMessage(conn, msg)
	}
}

// handleClientMessage enforces the acceptance gate (spec §3, §4.4): a
// client may always send "con", but "cap" requires Accepted first. Anything
// else dropped and logged as a protocol violation rather than closing the
// socket (spec §7).
func (r *Router) handleClientMessage(conn *ClientConnection, msg Message) {
	switch msg.(type) {
	case ConnectMessage:
		r.forwardToApp(conn, msg)
	case CapabilityMessage:
		if !conn.Accepted() {
			log.Warn().Str("client_id", conn.ClientID).Msg("messaging: rejecting cap from unaccepted client")
			return
		}
		r.forwardToApp(conn, msg)
	default:
		log.Warn().Str("client_id", conn.ClientID).Str("type", string(msg.Kind())).Msg("messaging: unexpected message type from client")
	}
}

func (r *Router) forwardToApp(conn *ClientConnection, msg Message) {
	app, ok := r.registry.App(conn.ExperienceID)
	if !ok {
		return
	}
	app.Enqueue(withClient(msg, conn.ClientID))
}

// clientSendLoop drains the client's outbound queue. Sending a refusal
// ("acc" with accepted=false) ends the loop immediately afterward, per
// spec §4.4 ("After sending acc with accepted=false, the client's send loop
// terminates").
func (r *Router) clientSendLoop(ctx context.Context, conn *ClientConnection) {
	for {
		msg, ok := conn.queue.pop()
		if !ok {
			return
		}

		if err := conn.Socket.WriteJSON(forClientSocket(msg)); err != nil {
			log.Warn().Err(err).Str("client_id", conn.ClientID).Msg("messaging: client write failed")
			return
		}

		if access, isAccess := msg.(AccessMessage); isAccess {
			// spec.md:159: "when accepted, the client's accepted flag is
			// set to true after send" — the write above must succeed
			// first.
			conn.accepted.Store(access.Accepted)
			if !access.Accepted {
				return
			}
		}
	}
}

func (r *Router) appReceiveLoop(ctx context.Context, conn *AppConnection) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := conn.Socket.ReadMessage()
		if err != nil {
			return
		}
		msg, err := Decode(raw)
		if err != nil {
			log.Warn().Err(err).Str("experience_id", conn.ID).Msg("messaging: dropping malformed app frame")
			continue
		}
		r.handleAppMessage(conn, msg)
	}
}

func (r *Router) handleAppMessage(conn *AppConnection, msg Message) {
	switch m := msg.(type) {
	case AccessMessage:
		r.routeToClient(conn, m.Client, m)
	case ApplicationMessage:
		r.routeToClient(conn, m.Client, m)
	case DisplaySettingsMessage:
		r.applyDisplaySettings(conn.ID, m.Settings)
	case LifecycleMessage:
		if r.controller != nil {
			r.controller.NotifyLifecycle(conn.ID, m.Paused)
		}
	default:
		log.Warn().Str("experience_id", conn.ID).Str("type", string(msg.Kind())).Msg("messaging: unexpected message type from app")
	}
}

// routeToClient looks up the named client; an absent client elicits a
// single synthetic "client down" heartbeat back to the app and the message
// is dropped (spec §4.4).
func (r *Router) routeToClient(app *AppConnection, clientID string, msg Message) {
	if clientID == "" {
		log.Warn().Str("experience_id", app.ID).Msg("messaging: app sent client-bound message with no client id")
		return
	}
	client, ok := r.registry.Client(app.ID, clientID)
	if !ok {
		app.Enqueue(ClientHeartbeatMessage{
			Version: ProtocolVersion,
			Type:    TypeClientHeartbeat,
			Up:      false,
			Clients: []string{clientID},
		})
		return
	}
	client.Enqueue(msg)
}

func (r *Router) applyDisplaySettings(experienceID string, settings DisplaySettings) {
	if r.controller == nil {
		return
	}
	if settings.EndTime != nil {
		endTime := time.UnixMilli(*settings.EndTime)
		if err := r.controller.UpdateEndTime(experienceID, &endTime); err != nil {
			log.Warn().Err(err).Str("experience_id", experienceID).Msg("messaging: failed to apply end_time")
		}
	}
	if settings.Lock != nil {
		if err := r.controller.UpdateLock(experienceID, settings.Lock.Status()); err != nil {
			log.Warn().Err(err).Str("experience_id", experienceID).Msg("messaging: failed to apply lock")
		}
	}
}

func (r *Router) appSendLoop(ctx context.Context, conn *AppConnection) {
	for {
		msg, ok := conn.queue.pop()
		if !ok {
			return
		}
		if err := conn.Socket.WriteJSON(msg); err != nil {
			log.Warn().Err(err).Str("experience_id", conn.ID).Msg("messaging: app write failed")
			return
		}
	}
}
