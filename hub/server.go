package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
)

// Server exposes a hub over websockets and optionally serves the client's
// static files.
type Server struct {
	hub      *Hub
	static   string
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

func NewServer(h *Hub, static string, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		hub:    h,
		static: static,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// clients are served from anywhere
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (srv *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", srv.serveWS)
	if srv.static != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(srv.static)))
	}
	return r
}

func (srv *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	s, err := srv.hub.Connect(func() { conn.Close() })
	if err != nil {
		conn.Close()
		return
	}
	go srv.writeLoop(conn, s)
	srv.readLoop(conn, s)
}

// readLoop hands frames to the hub in the order they arrive.
func (srv *Server) readLoop(conn *websocket.Conn, s *Session) {
	defer func() {
		srv.hub.Disconnect(s)
		conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				srv.log.WithError(err).WithField("session", s.ID).Debug("read failed")
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		if !srv.hub.Receive(s, data) {
			return
		}
	}
}

func (srv *Server) writeLoop(conn *websocket.Conn, s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	write := func(msg []byte) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, msg)
	}
	for {
		select {
		case <-s.Ready():
			if err := s.Flush(write); err != nil {
				srv.log.WithError(err).WithField("session", s.ID).Debug("write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done():
			s.Flush(write)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
