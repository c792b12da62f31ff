package model

// Player is a roster member
type Player struct {
	ID                   string `json:"id" validate:"required"`
	Name                 string `json:"name" validate:"required,max=100"`
	Nickname             string `json:"nickname,omitempty" validate:"max=50"`
	JerseyNumber         string `json:"jerseyNumber,omitempty" validate:"max=3"`
	IsGoalie             bool   `json:"isGoalie"`
	ReceivedFairPlayCard bool   `json:"receivedFairPlayCard"`
	Notes                string `json:"notes,omitempty" validate:"max=2000"`
	Color                string `json:"color,omitempty"`
}
