package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/locfix/internal/location"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is sent by the client.
type WSMessage struct {
	Action  string           `json:"action"` // get, cancel
	Options location.Options `json:"options"`
}

// WSResponse is sent to the client: a location or an error.
type WSResponse struct {
	Type     string        `json:"type"` // location, error
	Location *location.Fix `json:"location,omitempty"`
	Code     location.Kind `json:"code,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// wsSession serializes writes to one connection.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(resp WSResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(resp)
}

func (s *wsSession) sendError(err error) error {
	e := newErrorResponse(err)
	return s.send(WSResponse{Type: "error", Code: e.Code, Message: e.Message})
}

// handleWS runs "get" requests for the lifetime of the connection. Closing
// the connection cancels a request it started.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade error")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	session := &wsSession{conn: conn}
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.WithError(err).Debug("websocket closed")
			return
		}

		switch msg.Action {
		case "get":
			req, err := msg.Options.Request()
			if err != nil {
				session.sendError(err) //nolint:errcheck // read loop notices a dead conn
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				fix, err := s.locator.Get(ctx, req)
				if err != nil {
					session.sendError(err) //nolint:errcheck
					return
				}
				session.send(WSResponse{Type: "location", Location: &fix}) //nolint:errcheck
			}()

		case "cancel":
			s.locator.Cancel()

		default:
			session.send(WSResponse{Type: "error", Code: location.KindError, Message: "unknown action: " + msg.Action}) //nolint:errcheck
		}
	}
}
