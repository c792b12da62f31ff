package model

// GameEventType identifies what happened during a game
type GameEventType string

const (
	GameEventGoal         GameEventType = "goal"
	GameEventOpponentGoal GameEventType = "opponentGoal"
	GameEventSubstitution GameEventType = "substitution"
	GameEventPeriodEnd    GameEventType = "periodEnd"
	GameEventGameEnd      GameEventType = "gameEnd"
	GameEventFairPlayCard GameEventType = "fairPlayCard"
)

// GameEvent is one logged moment of a game; Time is seconds since kickoff
type GameEvent struct {
	ID         string        `json:"id" validate:"required"`
	Type       GameEventType `json:"type" validate:"required,oneof=goal opponentGoal substitution periodEnd gameEnd fairPlayCard"`
	Time       int           `json:"time" validate:"gte=0"`
	ScorerID   string        `json:"scorerId,omitempty"`
	AssisterID string        `json:"assisterId,omitempty"`
}

// GameStatus is the lifecycle state of a saved game
type GameStatus string

const (
	GameStatusNotStarted GameStatus = "notStarted"
	GameStatusInProgress GameStatus = "inProgress"
	GameStatusPeriodEnd  GameStatus = "periodEnd"
	GameStatusGameEnd    GameStatus = "gameEnd"
)

// SavedGame is the full state of one recorded game
type SavedGame struct {
	ID                    string      `json:"id" validate:"required"`
	TeamName              string      `json:"teamName" validate:"required,max=100"`
	OpponentName          string      `json:"opponentName" validate:"required,max=100"`
	GameDate              string      `json:"gameDate" validate:"omitempty,datetime=2006-01-02"`
	HomeOrAway            string      `json:"homeOrAway" validate:"omitempty,oneof=home away"`
	HomeScore             int         `json:"homeScore" validate:"gte=0"`
	AwayScore             int         `json:"awayScore" validate:"gte=0"`
	SeasonID              string      `json:"seasonId,omitempty"`
	TournamentID          string      `json:"tournamentId,omitempty"`
	SelectedPlayerIDs     []string    `json:"selectedPlayerIds,omitempty"`
	GameEvents            []GameEvent `json:"gameEvents,omitempty" validate:"dive"`
	NumberOfPeriods       int         `json:"numberOfPeriods" validate:"omitempty,min=1,max=4"`
	PeriodDurationMinutes int         `json:"periodDurationMinutes" validate:"omitempty,min=1,max=120"`
	CurrentPeriod         int         `json:"currentPeriod" validate:"gte=0"`
	GameStatus            GameStatus  `json:"gameStatus,omitempty" validate:"omitempty,oneof=notStarted inProgress periodEnd gameEnd"`
	IsPlayed              bool        `json:"isPlayed"`
	Notes                 string      `json:"notes,omitempty" validate:"max=5000"`
}
