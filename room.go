package main

import (
	"encoding/json"
	"sync"
	"time"
)

// Player holds the data we store server-side for one room member.
type Player struct {
	Name     string
	Score    int
	RoomID   string
	JoinedAt time.Time

	client *Client
}

// Room is an isolated game session: its own deck, roster, and stage.
// All mutation happens under mu; outbound sends are non-blocking, so
// the lock is never held across network I/O.
type Room struct {
	ID string

	mu            sync.Mutex
	players       []*Player // insertion order = join order
	creator       string
	deck          *Deck
	currentCard   *Card
	stage         Stage
	isGameStarted bool
	createdAt     time.Time
	lastActivity  time.Time
}

func newRoom(id, creator string) *Room {
	now := time.Now()
	return &Room{
		ID:           id,
		creator:      creator,
		deck:         NewDeck(),
		stage:        StageNone,
		createdAt:    now,
		lastActivity: now,
	}
}

// Touch bumps the room's activity timestamp.
func (r *Room) Touch() {
	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()
}

// AddPlayer appends a player to the roster and broadcasts the updated
// list. Any existing entry with the same name is dropped first, which
// guards against a registry/roster desync. If a round is already
// running, the joiner alone receives a gameStarted snapshot.
func (r *Room) AddPlayer(cfg *Config, c *Client) {
	r.mu.Lock()

	r.removePlayerLocked(c.playerName)
	r.players = append(r.players, &Player{
		Name:     c.playerName,
		RoomID:   r.ID,
		JoinedAt: time.Now(),
		client:   c,
	})
	r.lastActivity = time.Now()

	r.broadcastLocked(cfg, PlayerJoinedMessage{
		Type:       "playerJoined",
		PlayerName: c.playerName,
		Players:    r.playerInfosLocked(),
	})

	if r.isGameStarted {
		c.sendJSON(GameStartedMessage{
			Type:        "gameStarted",
			Stage:       r.stage,
			CurrentCard: r.currentCard,
			Players:     r.playerInfosLocked(),
		})
	}

	r.mu.Unlock()

	logf(cfg, "GAMES: Player %q joined %s", c.playerName, r.ID)
}

// RemovePlayer drops a player from the roster and broadcasts the
// updated list. It reports whether the player was present, and whether
// the roster is now empty.
func (r *Room) RemovePlayer(cfg *Config, name string) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.removePlayerLocked(name) {
		return false, len(r.players) == 0
	}

	r.lastActivity = time.Now()
	r.broadcastLocked(cfg, PlayerLeftMessage{
		Type:       "playerLeft",
		PlayerName: name,
		Players:    r.playerInfosLocked(),
	})

	return true, len(r.players) == 0
}

func (r *Room) removePlayerLocked(name string) bool {
	for i, p := range r.players {
		if p.Name == name {
			r.players = append(r.players[:i], r.players[i+1:]...)
			return true
		}
	}
	return false
}

// StartGame begins a round: fresh shuffled deck, first stage, one card
// drawn. A no-op if a round is already running.
func (r *Room) StartGame(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isGameStarted {
		return
	}

	r.deck.Reset()
	card, _ := r.deck.Draw()
	r.currentCard = &card
	r.stage = StageRedBlack
	r.isGameStarted = true
	r.lastActivity = time.Now()

	r.broadcastLocked(cfg, GameStartedMessage{
		Type:        "gameStarted",
		Stage:       r.stage,
		CurrentCard: r.currentCard,
		Players:     r.playerInfosLocked(),
	})

	logf(cfg, "GAMES: Game started in %s", r.ID)
}

// ApplyGuess evaluates one guess from c against the current card. An
// exhausted deck ends the round rather than erroring, and advancing
// past the final stage runs game-over in the same locked step, so no
// message can land between the terminal transition and the gameOver
// broadcast.
func (r *Room) ApplyGuess(cfg *Config, c *Client, guess string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActivity = time.Now()

	if !r.isGameStarted || r.currentCard == nil {
		c.sendJSON(ErrorMessage{
			Type:    "error",
			Code:    ErrGameNotActive,
			Message: "no game is currently running",
		})
		return
	}

	next, ok := r.deck.Draw()
	if !ok {
		r.gameOverLocked(cfg)
		return
	}

	prev := *r.currentCard
	correct := evaluateGuess(r.stage, guess, prev, next)

	score := 0
	for _, p := range r.players {
		if p.Name == c.playerName {
			if correct {
				p.Score++
			}
			score = p.Score
			break
		}
	}

	nextStage, more := r.stage.Next()
	r.stage = nextStage
	r.currentCard = &next

	r.broadcastLocked(cfg, GuessResultMessage{
		Type:        "guessResult",
		PlayerName:  c.playerName,
		Score:       score,
		IsCorrect:   correct,
		NextStage:   nextStage,
		CurrentCard: r.currentCard,
	})

	if !more {
		r.gameOverLocked(cfg)
	}
}

// evaluateGuess applies the stage's rule to (prev, next). Guess tokens
// are case-sensitive; unknown tokens are simply incorrect.
func evaluateGuess(stage Stage, guess string, prev, next Card) bool {
	switch stage {
	case StageRedBlack:
		if next.Suit.IsRed() {
			return guess == "red"
		}
		return guess == "black"
	case StageHigherLower:
		// Equal ranks count as correct regardless of guess.
		if next.Rank == prev.Rank {
			return guess == "higher" || guess == "lower"
		}
		if next.Rank > prev.Rank {
			return guess == "higher"
		}
		return guess == "lower"
	case StageInsideOutside:
		// Differences of three or less fold into "inside", ties included.
		diff := next.Rank - prev.Rank
		if diff < 0 {
			diff = -diff
		}
		if diff <= 3 {
			return guess == "inside"
		}
		return guess == "outside"
	case StageSuit:
		return guess == string(next.Suit)
	}
	return false
}

// gameOverLocked ends the round: winners are everyone tied at the top
// score, and the room returns to waiting with scores preserved.
func (r *Room) gameOverLocked(cfg *Config) {
	maxScore := 0
	for _, p := range r.players {
		if p.Score > maxScore {
			maxScore = p.Score
		}
	}

	winners := make([]string, 0, len(r.players))
	for _, p := range r.players {
		if p.Score == maxScore {
			winners = append(winners, p.Name)
		}
	}

	r.broadcastLocked(cfg, GameOverMessage{
		Type:    "gameOver",
		Winners: winners,
		Scores:  r.playerInfosLocked(),
	})

	r.isGameStarted = false
	r.stage = StageNone
	r.currentCard = nil

	logf(cfg, "GAMES: Game over in %s, winners %v", r.ID, winners)
}

// SendState replies to a single client with a full snapshot.
func (r *Room) SendState(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActivity = time.Now()

	if r.isGameStarted {
		c.sendJSON(GameStartedMessage{
			Type:        "gameStarted",
			Stage:       r.stage,
			CurrentCard: r.currentCard,
			Players:     r.playerInfosLocked(),
		})
		return
	}

	c.sendJSON(WaitingToStartMessage{
		Type:          "waitingToStart",
		Stage:         r.stage,
		CurrentCard:   r.currentCard,
		Players:       r.playerInfosLocked(),
		IsGameStarted: false,
	})
}

// Close broadcasts roomClosed and disconnects every member with the
// InvalidRoom close code (used by the idle reaper).
func (r *Room) Close(cfg *Config, reason string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.broadcastLocked(cfg, RoomClosedMessage{
		Type:   "roomClosed",
		Reason: reason,
	})

	clients := make([]*Client, 0, len(r.players))
	for _, p := range r.players {
		if p.client != nil {
			clients = append(clients, p.client)
		}
	}
	r.players = nil

	return clients
}

// Info returns the directory projection of this room.
func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RoomInfo{
		ID:            r.ID,
		Players:       r.playerInfosLocked(),
		IsGameStarted: r.isGameStarted,
		PlayerCount:   len(r.players),
		Creator:       r.creator,
	}
}

// IsEmpty reports whether the roster is empty.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players) == 0
}

// IdleSince returns the last activity timestamp.
func (r *Room) IdleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

func (r *Room) playerInfosLocked() []PlayerInfo {
	infos := make([]PlayerInfo, 0, len(r.players))
	for _, p := range r.players {
		infos = append(infos, PlayerInfo{Name: p.Name, Score: p.Score})
	}
	return infos
}

// broadcastLocked serializes msg once and hands it to every member's
// send queue. A full queue means a slow or dead peer; the frame is
// dropped for that peer and delivery to the rest continues.
func (r *Room) broadcastLocked(cfg *Config, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		logf(cfg, "GAMES: marshal error in %s: %v", r.ID, err)
		return
	}

	for _, p := range r.players {
		if p.client == nil {
			continue
		}
		if !p.client.trySend(data) {
			logf(cfg, "GAMES: Dropped frame to %q in %s", p.Name, r.ID)
		}
	}
}
