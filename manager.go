package main

import (
	"crypto/rand"
	"errors"
	"sort"
	"sync"
	"time"
)

var errDuplicateConnection = errors.New("an open session already exists for this room and name")

// GameManager owns the room store and the connection registry. The two
// are kept in agreement under a single mutex: registry writes and the
// matching roster mutation happen in one critical section, so a join
// can never interleave with the last member's disconnect deleting the
// room out from under it. The mutex is held only briefly and never
// across a network write; roster broadcasts are non-blocking sends.
type GameManager struct {
	cfg *Config

	mu       sync.Mutex
	rooms    map[string]*Room   // roomID -> room
	registry map[string]*Client // roomID:playerName -> active session

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newGameManager(cfg *Config) *GameManager {
	gm := &GameManager{
		cfg:      cfg,
		rooms:    make(map[string]*Room),
		registry: make(map[string]*Client),
		stopCh:   make(chan struct{}),
	}
	if cfg.sweepInterval > 0 {
		go gm.sweepLoop()
	}
	return gm
}

func registryKey(roomID, playerName string) string {
	return roomID + ":" + playerName
}

// Admit arbitrates a new room-bound session. An existing open session
// under the same key wins and the new connection is rejected; a stale
// entry is evicted before the new one registers. On success the room
// is fetched or lazily created and the player joins its roster.
func (gm *GameManager) Admit(c *Client) (*Room, error) {
	key := registryKey(c.roomID, c.playerName)

	gm.mu.Lock()

	if existing, ok := gm.registry[key]; ok {
		if existing.isOpen() {
			gm.mu.Unlock()
			return nil, errDuplicateConnection
		}
		// Stale mapping: the roster entry is replaced inside AddPlayer.
		delete(gm.registry, key)
		logf(gm.cfg, "GAMES: Evicted stale session %s for %q in %s", existing.id, c.playerName, c.roomID)
	}

	room, ok := gm.rooms[c.roomID]
	if !ok {
		room = newRoom(c.roomID, c.playerName)
		gm.rooms[c.roomID] = room
		logf(gm.cfg, "GAMES: Created room %s (creator %q)", c.roomID, c.playerName)
	} else {
		room.Touch()
	}

	gm.registry[key] = c
	room.AddPlayer(gm.cfg, c)
	gm.mu.Unlock()

	return room, nil
}

// Disconnect reverses Admit: the session leaves the registry and the
// roster, playerLeft is broadcast, and an emptied room is deleted, all
// in one critical section. Registry entries are matched by session id,
// so a session already superseded by a newer one under the same key
// cannot evict its replacement.
func (gm *GameManager) Disconnect(c *Client) {
	if c.directory {
		return
	}

	key := registryKey(c.roomID, c.playerName)

	gm.mu.Lock()

	existing, ok := gm.registry[key]
	if !ok || existing.id != c.id {
		gm.mu.Unlock()
		return
	}
	delete(gm.registry, key)

	room := gm.rooms[c.roomID]
	if room == nil {
		gm.mu.Unlock()
		return
	}

	removed, empty := room.RemovePlayer(gm.cfg, c.playerName)
	if empty {
		delete(gm.rooms, c.roomID)
		logf(gm.cfg, "GAMES: Deleted empty room %s", c.roomID)
	}

	gm.mu.Unlock()

	if removed {
		logf(gm.cfg, "GAMES: Player %q left %s", c.playerName, c.roomID)
	}
}

// GetRoom looks up a room by ID.
func (gm *GameManager) GetRoom(roomID string) (*Room, bool) {
	gm.mu.Lock()
	room, ok := gm.rooms[roomID]
	gm.mu.Unlock()
	return room, ok
}

// RoomsSnapshot returns the directory projection of every room, in
// stable order.
func (gm *GameManager) RoomsSnapshot() []RoomInfo {
	gm.mu.Lock()
	rooms := make([]*Room, 0, len(gm.rooms))
	for _, room := range gm.rooms {
		rooms = append(rooms, room)
	}
	gm.mu.Unlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, room.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})

	return infos
}

// newRoomID generates a crypto-random room ID and ensures it doesn't
// collide with existing rooms.
func (gm *GameManager) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.rooms[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// sweepLoop periodically reclaims rooms idle longer than the configured
// threshold.
func (gm *GameManager) sweepLoop() {
	ticker := time.NewTicker(gm.cfg.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gm.Sweep()
		case <-gm.stopCh:
			return
		}
	}
}

// Sweep force-closes every room whose last activity predates the idle
// threshold: members receive roomClosed, then their connections are
// closed with the InvalidRoom code, and all bookkeeping is dropped.
func (gm *GameManager) Sweep() {
	cutoff := time.Now().Add(-gm.cfg.idleTimeout)

	gm.mu.Lock()
	var expired []*Room
	for id, room := range gm.rooms {
		if room.IdleSince().Before(cutoff) {
			expired = append(expired, room)
			delete(gm.rooms, id)
			for key, c := range gm.registry {
				if c.roomID == id {
					delete(gm.registry, key)
				}
			}
		}
	}
	gm.mu.Unlock()

	for _, room := range expired {
		clients := room.Close(gm.cfg, "room closed due to inactivity")
		for _, c := range clients {
			c.closeWithCode(CloseInvalidRoom, "room closed due to inactivity")
		}
		logf(gm.cfg, "GAMES: Reaped idle room %s", room.ID)
	}
}

// Stop halts the sweep loop.
func (gm *GameManager) Stop() {
	gm.stopOnce.Do(func() {
		close(gm.stopCh)
	})
}
