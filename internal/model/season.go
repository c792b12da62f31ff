package model

// Season groups games played over a date range
type Season struct {
	ID               string   `json:"id" validate:"required"`
	Name             string   `json:"name" validate:"required,max=100"`
	Location         string   `json:"location,omitempty"`
	StartDate        string   `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate          string   `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Archived         bool     `json:"archived"`
	DefaultRosterIDs []string `json:"defaultRosterIds,omitempty"`
}

// Tournament groups games played at one event
type Tournament struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required,max=100"`
	Level     string `json:"level,omitempty"`
	Location  string `json:"location,omitempty"`
	StartDate string `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Archived  bool   `json:"archived"`
}
