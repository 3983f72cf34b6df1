package main

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *GameManager {
	t.Helper()

	cfg := newTestConfig() // sweepInterval zero: no background loop
	gm := newGameManager(cfg)
	t.Cleanup(gm.Stop)

	return gm
}

func TestAdmitCreatesRoom(t *testing.T) {
	gm := newTestManager(t)

	alice := newClient(nil, "ABC123", "Alice")
	room, err := gm.Admit(alice)
	require.NoError(t, err)
	require.NotNil(t, room)

	got, ok := gm.GetRoom("ABC123")
	require.True(t, ok)
	assert.Same(t, room, got)

	info := room.Info()
	assert.Equal(t, "Alice", info.Creator)
	assert.Equal(t, 1, info.PlayerCount)
	assert.False(t, info.IsGameStarted)
}

func TestAdmitJoinsExistingRoom(t *testing.T) {
	gm := newTestManager(t)

	alice := newClient(nil, "ABC123", "Alice")
	bob := newClient(nil, "ABC123", "Bob")

	first, err := gm.Admit(alice)
	require.NoError(t, err)
	second, err := gm.Admit(bob)
	require.NoError(t, err)
	assert.Same(t, first, second)

	info := first.Info()
	assert.Equal(t, "Alice", info.Creator)
	assert.Equal(t, []PlayerInfo{{Name: "Alice"}, {Name: "Bob"}}, info.Players)
}

func TestDuplicateConnectionRejected(t *testing.T) {
	gm := newTestManager(t)

	first := newClient(nil, "ABC123", "Alice")
	_, err := gm.Admit(first)
	require.NoError(t, err)

	second := newClient(nil, "ABC123", "Alice")
	_, err = gm.Admit(second)
	assert.ErrorIs(t, err, errDuplicateConnection)

	// The existing session is unaffected.
	room, ok := gm.GetRoom("ABC123")
	require.True(t, ok)
	assert.Equal(t, 1, room.Info().PlayerCount)

	gm.mu.Lock()
	assert.Same(t, first, gm.registry[registryKey("ABC123", "Alice")])
	gm.mu.Unlock()
}

func TestStaleSessionEvicted(t *testing.T) {
	gm := newTestManager(t)

	first := newClient(nil, "ABC123", "Alice")
	_, err := gm.Admit(first)
	require.NoError(t, err)

	// The old session went away without its disconnect cleanup running yet.
	first.closeWithCode(websocket.CloseNormalClosure, "")

	second := newClient(nil, "ABC123", "Alice")
	require.NotEqual(t, first.id, second.id)
	room, err := gm.Admit(second)
	require.NoError(t, err)
	assert.Equal(t, 1, room.Info().PlayerCount)

	gm.mu.Lock()
	assert.Same(t, second, gm.registry[registryKey("ABC123", "Alice")])
	gm.mu.Unlock()

	// The superseded session's cleanup must not tear down the new one.
	gm.Disconnect(first)
	assert.Equal(t, 1, room.Info().PlayerCount)

	gm.mu.Lock()
	assert.Same(t, second, gm.registry[registryKey("ABC123", "Alice")])
	gm.mu.Unlock()
}

func TestDisconnectDeletesEmptyRoom(t *testing.T) {
	gm := newTestManager(t)

	alice := newClient(nil, "ABC123", "Alice")
	bob := newClient(nil, "ABC123", "Bob")
	_, err := gm.Admit(alice)
	require.NoError(t, err)
	room, err := gm.Admit(bob)
	require.NoError(t, err)

	gm.Disconnect(alice)

	// Bob saw the departure and the room survives.
	msg := recvType(t, bob, "playerLeft")
	assert.Equal(t, "Alice", msg["playerName"])
	_, ok := gm.GetRoom("ABC123")
	assert.True(t, ok)
	assert.Equal(t, 1, room.Info().PlayerCount)

	gm.Disconnect(bob)
	_, ok = gm.GetRoom("ABC123")
	assert.False(t, ok)

	gm.mu.Lock()
	assert.Empty(t, gm.registry)
	gm.mu.Unlock()
}

func TestRegistryAndRosterAgree(t *testing.T) {
	gm := newTestManager(t)

	clients := []*Client{
		newClient(nil, "ABC123", "Alice"),
		newClient(nil, "ABC123", "Bob"),
		newClient(nil, "XYZ789", "Carol"),
	}
	for _, c := range clients {
		_, err := gm.Admit(c)
		require.NoError(t, err)
	}

	assertAgreement := func() {
		gm.mu.Lock()
		defer gm.mu.Unlock()

		total := 0
		for id, room := range gm.rooms {
			for _, p := range room.Info().Players {
				c, ok := gm.registry[registryKey(id, p.Name)]
				require.True(t, ok, "roster entry %s/%s missing from registry", id, p.Name)
				assert.Equal(t, id, c.roomID)
				total++
			}
		}
		assert.Equal(t, len(gm.registry), total)
	}

	assertAgreement()
	gm.Disconnect(clients[1])
	assertAgreement()
	gm.Disconnect(clients[2])
	assertAgreement()
}

// TestConcurrentJoinLeave churns one room through many join/leave
// cycles while a checker watches for a registry entry pointing at a
// room missing from the store, or at a roster that lost the player.
// The roster often empties mid-churn, so the last-disconnect room
// delete races against fresh joins the whole time.
func TestConcurrentJoinLeave(t *testing.T) {
	gm := newTestManager(t)

	stop := make(chan struct{})
	var checker sync.WaitGroup
	checker.Add(1)
	go func() {
		defer checker.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}

			gm.mu.Lock()
			for key, c := range gm.registry {
				room, ok := gm.rooms[c.roomID]
				if !ok {
					gm.mu.Unlock()
					t.Errorf("registry entry %s maps to a room missing from the store", key)
					return
				}

				found := false
				for _, p := range room.Info().Players {
					if p.Name == c.playerName {
						found = true
						break
					}
				}
				if !found {
					gm.mu.Unlock()
					t.Errorf("registry entry %s has no matching roster entry", key)
					return
				}
			}
			gm.mu.Unlock()
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			name := fmt.Sprintf("player%d", n)
			for j := 0; j < 100; j++ {
				c := newClient(nil, "ABC123", name)
				if _, err := gm.Admit(c); err != nil {
					continue
				}
				gm.Disconnect(c)
			}
		}(i)
	}
	wg.Wait()
	close(stop)
	checker.Wait()

	// Everyone left, so both collections must be empty.
	_, ok := gm.GetRoom("ABC123")
	assert.False(t, ok)

	gm.mu.Lock()
	assert.Empty(t, gm.registry)
	gm.mu.Unlock()
}

func TestSweepReapsIdleRooms(t *testing.T) {
	gm := newTestManager(t)

	alice := newClient(nil, "ABC123", "Alice")
	room, err := gm.Admit(alice)
	require.NoError(t, err)

	fresh := newClient(nil, "XYZ789", "Bob")
	_, err = gm.Admit(fresh)
	require.NoError(t, err)

	drain(alice)

	room.mu.Lock()
	room.lastActivity = time.Now().Add(-time.Hour)
	room.mu.Unlock()

	gm.Sweep()

	// The idle room is gone, members got roomClosed, and their
	// connections carry the InvalidRoom close code.
	_, ok := gm.GetRoom("ABC123")
	assert.False(t, ok)

	msg := recvType(t, alice, "roomClosed")
	assert.Equal(t, "room closed due to inactivity", msg["reason"])
	assert.False(t, alice.isOpen())
	assert.Equal(t, CloseInvalidRoom, alice.closeCode)

	gm.mu.Lock()
	_, registered := gm.registry[registryKey("ABC123", "Alice")]
	gm.mu.Unlock()
	assert.False(t, registered)

	// The active room is untouched.
	_, ok = gm.GetRoom("XYZ789")
	assert.True(t, ok)
	assert.True(t, fresh.isOpen())
}

func TestRoomsSnapshot(t *testing.T) {
	gm := newTestManager(t)

	for _, c := range []*Client{
		newClient(nil, "BBB", "Bob"),
		newClient(nil, "AAA", "Alice"),
		newClient(nil, "AAA", "Carol"),
	} {
		_, err := gm.Admit(c)
		require.NoError(t, err)
	}

	infos := gm.RoomsSnapshot()
	require.Len(t, infos, 2)

	assert.Equal(t, "AAA", infos[0].ID)
	assert.Equal(t, "Alice", infos[0].Creator)
	assert.Equal(t, 2, infos[0].PlayerCount)
	assert.Equal(t, "BBB", infos[1].ID)
	assert.Equal(t, 1, infos[1].PlayerCount)
}

func TestNewRoomID(t *testing.T) {
	gm := newTestManager(t)

	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		id := gm.newRoomID()
		assert.Len(t, id, 8)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
