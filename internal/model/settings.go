package model

// AppSettings is the per-user settings singleton
type AppSettings struct {
	CurrentGameID           string `json:"currentGameId,omitempty"`
	LastHomeTeamName        string `json:"lastHomeTeamName,omitempty"`
	Language                string `json:"language,omitempty" validate:"omitempty,oneof=en fi"`
	HasSeenAppGuide         bool   `json:"hasSeenAppGuide"`
	AutoBackupEnabled       bool   `json:"autoBackupEnabled"`
	AutoBackupIntervalHours int    `json:"autoBackupIntervalHours,omitempty" validate:"omitempty,min=1,max=168"`
}

// DefaultAppSettings returns the settings used before the user saves any
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Language:                "en",
		AutoBackupIntervalHours: 24,
	}
}
