// Ride the Bus coordination server
//
// Clients open one websocket each and join named rooms, where the
// server keeps everyone synchronized on a shared round of the card
// guessing game: red or black, higher or lower, inside or outside,
// then the exact suit.
//
// Features:
// - One websocket endpoint: /ws?room=ID&name=NAME
// - Connections without parameters are directory listeners and
//   receive the room list on demand and on a fixed interval
// - One active session per (room, name); a duplicate join is rejected
//   and the existing session wins, while stale sessions are evicted
// - Rooms are created lazily on first join and deleted when empty
// - Scores persist across rounds for the lifetime of the room
// - Idle rooms are reaped after a configurable timeout
// - Random 8-char room IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share a room URL, backed by go-qrcode

package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket session. Outbound frames go through the
// buffered send channel and a single writer goroutine; the channel is
// never closed, so senders only ever race against a full buffer.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	roomID     string
	playerName string
	directory  bool

	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string
}

func newClient(conn *websocket.Conn, roomID, playerName string) *Client {
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan []byte, 16),
		roomID:     roomID,
		playerName: playerName,
		directory:  roomID == "" && playerName == "",
		done:       make(chan struct{}),
	}
}

// isOpen reports whether the session has not yet begun closing.
func (c *Client) isOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// closeWithCode marks the session closed with the given close code.
// The first caller wins; the writer goroutine flushes queued frames
// and then delivers the close frame.
func (c *Client) closeWithCode(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

// trySend queues a pre-serialized frame without blocking.
func (c *Client) trySend(data []byte) bool {
	if !c.isOpen() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) sendJSON(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *Client) writePump(cfg *Config) {
	ticker := time.NewTicker(cfg.heartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// Flush whatever is already queued so frames like
			// roomClosed land before the close frame.
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText))
					return
				}
			}
		}
	}
}

func (c *Client) readPump(cfg *Config, gm *GameManager) {
	defer func() {
		if rec := recover(); rec != nil {
			logf(cfg, "GAMES: Panic in session %s: %v", c.id, rec)
			c.closeWithCode(CloseInternalError, "internal error")
		} else {
			c.closeWithCode(websocket.CloseNormalClosure, "")
		}
		gm.Disconnect(c)
	}()

	readWait := cfg.heartbeatInterval * 2

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendJSON(ErrorMessage{
				Type:    "error",
				Code:    ErrMessageParseError,
				Message: "malformed message",
			})
			continue
		}

		c.dispatch(cfg, gm, msg)
	}
}

func (c *Client) dispatch(cfg *Config, gm *GameManager, msg ClientMessage) {
	switch msg.Type {
	case "ping":
		if !c.directory {
			if room, ok := gm.GetRoom(c.roomID); ok {
				room.Touch()
			}
		}
		c.sendJSON(PongMessage{Type: "pong"})

	case "getRooms":
		if !c.directory {
			return
		}
		c.sendJSON(RoomsListMessage{
			Type:  "roomsList",
			Rooms: gm.RoomsSnapshot(),
		})

	case "startGame":
		if c.directory {
			return
		}
		room, ok := gm.GetRoom(c.roomID)
		if !ok {
			c.sendRoomNotFound()
			return
		}
		room.StartGame(cfg)

	case "guess":
		if c.directory {
			return
		}
		room, ok := gm.GetRoom(c.roomID)
		if !ok {
			c.sendRoomNotFound()
			return
		}
		room.ApplyGuess(cfg, c, msg.Guess)

	case "getState":
		if c.directory {
			return
		}
		room, ok := gm.GetRoom(c.roomID)
		if !ok {
			c.sendRoomNotFound()
			return
		}
		room.SendState(c)

	default:
		// ignore unknown types
	}
}

func (c *Client) sendRoomNotFound() {
	c.sendJSON(ErrorMessage{
		Type:    "error",
		Code:    ErrRoomNotFound,
		Message: "room " + c.roomID + " no longer exists",
	})
}

// directoryLoop pushes the room list to a directory listener on a
// fixed interval until the connection closes.
func (c *Client) directoryLoop(cfg *Config, gm *GameManager) {
	ticker := time.NewTicker(cfg.directoryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sendJSON(RoomsListMessage{
				Type:  "roomsList",
				Rooms: gm.RoomsSnapshot(),
			})
		case <-c.done:
			return
		}
	}
}

// serveWS upgrades and classifies a connection: directory listener
// (neither query param), reject (exactly one), or room participant.
func serveWS(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := r.URL.Query().Get("room")
		playerName := r.URL.Query().Get("name")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "GAMES: Upgrade error from %s: %v", realIP(r), err)
			return
		}

		c := newClient(conn, roomID, playerName)
		go c.writePump(cfg)

		if (roomID == "") != (playerName == "") {
			logf(cfg, "GAMES: Rejected session %s from %s: missing parameters", c.id, realIP(r))
			c.closeWithCode(CloseMissingParameters, "both room and name are required")
			return
		}

		if c.directory {
			go c.directoryLoop(cfg, gm)
			c.readPump(cfg, gm)
			return
		}

		if _, err := gm.Admit(c); err != nil {
			logf(cfg, "GAMES: Rejected session %s for %q in %s: %v", c.id, playerName, roomID, err)
			c.closeWithCode(CloseDuplicateConnection, err.Error())
			return
		}

		c.readPump(cfg, gm)
	}
}

// redirectNewRoom handles GET /bus by generating a new random room ID
// (with server-side collision detection) and redirecting to /bus/:roomid.
func redirectNewRoom(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := gm.newRoomID()
		logf(cfg, "GAMES: Minted room URL /bus/%s", roomID)
		http.Redirect(w, r, cfg.prefix+"/bus/"+roomID, http.StatusTemporaryRedirect)
	}
}

// serveRoomPage is a minimal landing page for a shared room URL; the
// actual client is external and connects via /ws.
func serveRoomPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte(newPage("Ride the Bus", "Room "+roomID+" — connect a client to /ws?room="+roomID+"&name=YOURNAME")))
	}
}

// qrHandler generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /bus/:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerBusGame sets up routes so that:
//   - $prefix/bus             → redirects to a new random room
//   - $prefix/bus/:roomid     → landing page for a shared room URL
//   - $prefix/bus/:roomid/qr  → PNG QR code for that room URL
//   - $prefix/ws              → game websocket (room= and name= params)
func registerBusGame(cfg *Config, gm *GameManager, mux *httprouter.Router) {
	mux.GET(cfg.prefix+"/bus", redirectNewRoom(cfg, gm))
	mux.GET(cfg.prefix+"/bus/:roomid", serveRoomPage(cfg))
	mux.GET(cfg.prefix+"/bus/:roomid/qr", qrHandler)
	mux.GET(cfg.prefix+"/ws", serveWS(cfg, gm))
}
