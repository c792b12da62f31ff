package model

// Collection names one entity kind. Collections are keyspaces in both
// providers, so a record is addressed by (Collection, ID) everywhere.
type Collection string

const (
	CollectionPlayers     Collection = "players"
	CollectionSeasons     Collection = "seasons"
	CollectionTournaments Collection = "tournaments"
	CollectionSavedGames  Collection = "saved_games"
	CollectionAppSettings Collection = "app_settings"
)

// AppSettingsID is the fixed identifier of the settings singleton
const AppSettingsID = "app-settings"

// Collections returns every known collection in a stable order
func Collections() []Collection {
	return []Collection{
		CollectionPlayers,
		CollectionSeasons,
		CollectionTournaments,
		CollectionSavedGames,
		CollectionAppSettings,
	}
}

// Valid reports whether c is a known collection
func (c Collection) Valid() bool {
	switch c {
	case CollectionPlayers, CollectionSeasons, CollectionTournaments,
		CollectionSavedGames, CollectionAppSettings:
		return true
	}
	return false
}

// EntityKey identifies a single entity across collections
type EntityKey struct {
	Collection Collection
	ID         string
}

// String returns "collection/id"
func (k EntityKey) String() string {
	return string(k.Collection) + "/" + k.ID
}
