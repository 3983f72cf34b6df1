package main

// Stage is the current round type within an active game. Stages are
// totally ordered; StageNone is both the pre-game and post-round value.
type Stage string

const (
	StageNone          Stage = "none"
	StageRedBlack      Stage = "red_black"
	StageHigherLower   Stage = "higher_lower"
	StageInsideOutside Stage = "inside_outside"
	StageSuit          Stage = "suit"
)

// Next returns the stage that follows s. The second return value is
// false when s is the final stage, i.e. advancing past it ends the round.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageRedBlack:
		return StageHigherLower, true
	case StageHigherLower:
		return StageInsideOutside, true
	case StageInsideOutside:
		return StageSuit, true
	default:
		return StageNone, false
	}
}

// Websocket close codes, in the application-defined 4000 range.
// Normal closes use websocket.CloseNormalClosure and are never treated
// as failures.
const (
	CloseMissingParameters   = 4000
	CloseDuplicateConnection = 4001
	CloseInvalidRoom         = 4002
	CloseInternalError       = 4003
)

// Recoverable error codes, reported via ErrorMessage without closing
// the connection.
const (
	ErrRoomNotFound      = "RoomNotFound"
	ErrGameNotActive     = "GameNotActive"
	ErrMessageParseError = "MessageParseError"
)

// Messages coming from clients
type ClientMessage struct {
	Type  string `json:"type"`            // "getRooms", "ping", "startGame", "guess", "getState"
	Guess string `json:"guess,omitempty"` // guess
}

// PlayerInfo is the name+score projection of a player. Connection
// handles are never serialized.
type PlayerInfo struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// RoomInfo is a single entry in the room directory.
type RoomInfo struct {
	ID            string       `json:"id"`
	Players       []PlayerInfo `json:"players"`
	IsGameStarted bool         `json:"isGameStarted"`
	PlayerCount   int          `json:"playerCount"`
	Creator       string       `json:"creator"`
}

// RoomsListMessage is sent to directory listeners.
type RoomsListMessage struct {
	Type  string     `json:"type"` // "roomsList"
	Rooms []RoomInfo `json:"rooms"`
}

type PlayerJoinedMessage struct {
	Type       string       `json:"type"` // "playerJoined"
	PlayerName string       `json:"playerName"`
	Players    []PlayerInfo `json:"players"`
}

type PlayerLeftMessage struct {
	Type       string       `json:"type"` // "playerLeft"
	PlayerName string       `json:"playerName"`
	Players    []PlayerInfo `json:"players"`
}

// GameStartedMessage is broadcast on startGame, and also sent to a
// single late joiner or a getState caller while a round is running.
type GameStartedMessage struct {
	Type        string       `json:"type"` // "gameStarted"
	Stage       Stage        `json:"stage"`
	CurrentCard *Card        `json:"currentCard"`
	Players     []PlayerInfo `json:"players"`
}

// WaitingToStartMessage answers getState while no round is running.
type WaitingToStartMessage struct {
	Type          string       `json:"type"` // "waitingToStart"
	Stage         Stage        `json:"stage"`
	CurrentCard   *Card        `json:"currentCard"`
	Players       []PlayerInfo `json:"players"`
	IsGameStarted bool         `json:"isGameStarted"`
}

// GuessResultMessage informs the room about a guess outcome.
type GuessResultMessage struct {
	Type        string `json:"type"` // "guessResult"
	PlayerName  string `json:"playerName"`
	Score       int    `json:"score"`
	IsCorrect   bool   `json:"isCorrect"`
	NextStage   Stage  `json:"nextStage"`
	CurrentCard *Card  `json:"currentCard"`
}

type GameOverMessage struct {
	Type    string       `json:"type"` // "gameOver"
	Winners []string     `json:"winners"`
	Scores  []PlayerInfo `json:"scores"`
}

type RoomClosedMessage struct {
	Type   string `json:"type"` // "roomClosed"
	Reason string `json:"reason"`
}

type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"` // "pong"
}
