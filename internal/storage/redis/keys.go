package redis

import (
	"fmt"

	"github.com/mcoot/sideline/internal/model"
)

// Every key lives under the owning user's namespace, so two identities
// never read or write each other's data.

// recordKey returns the Redis key for one record
func recordKey(prefix, userID string, collection model.Collection, id string) string {
	return fmt.Sprintf("%s:user:%s:rec:%s:%s", prefix, userID, collection, id)
}

// collectionIndexKey returns the Redis key for the SET of ids in a collection
func collectionIndexKey(prefix, userID string, collection model.Collection) string {
	return fmt.Sprintf("%s:user:%s:idx:%s", prefix, userID, collection)
}
