// internal/realtime/gateway.go

package realtime

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
)

// Upgrader for WebSocket connections
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Gateway relays conversation channels between websocket clients. A client
// authenticates with a JWT and may only join channels naming its own user id.
type Gateway struct {
	hub       *Hub
	jwtSecret string
	rateLimit int
	log       *logrus.Entry
}

// NewGateway creates a gateway. rateLimit is the number of inbound frames
// per second allowed on one connection.
func NewGateway(jwtSecret string, rateLimit int, log *logrus.Entry) *Gateway {
	return &Gateway{
		hub:       NewHub(log),
		jwtSecret: jwtSecret,
		rateLimit: rateLimit,
		log:       log,
	}
}

// Run starts the hub loop; it returns after Shutdown
func (g *Gateway) Run() {
	g.hub.Run()
}

// Shutdown disconnects every client and stops the hub
func (g *Gateway) Shutdown() {
	g.hub.Shutdown()
}

// Hub exposes connection state for health reporting
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// RegisterRoutes registers the gateway endpoints
func (g *Gateway) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", g.HandleWebSocket).Methods("GET")
	router.HandleFunc("/health", g.HealthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// HandleWebSocket authenticates and upgrades a connection
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)
	if token == "" {
		utils.ErrorResponse(w, "Missing or invalid authorization header", http.StatusUnauthorized)
		return
	}

	claims, err := utils.ValidateJWT(token, g.jwtSecret)
	if err != nil {
		utils.ErrorResponse(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	limiter := rate.NewLimiter(rate.Limit(g.rateLimit), g.rateLimit*2)
	client := NewClient(g.hub, conn, claims.UserID, limiter)

	select {
	case g.hub.register <- client:
	case <-g.hub.ctx.Done():
		conn.Close()
		return
	}
	client.Start()
}

// HealthCheck reports the number of connected clients
func (g *Gateway) HealthCheck(w http.ResponseWriter, r *http.Request) {
	utils.SuccessResponse(w, map[string]interface{}{
		"status":      "healthy",
		"connections": g.hub.GetActiveConnections(),
	}, http.StatusOK)
}

// extractToken reads a bearer token from the Authorization header, falling
// back to the token query parameter for browser websocket clients
func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
