package badger

import (
	"fmt"

	"github.com/mcoot/sideline/internal/model"
)

// Key prefixes partition the single database into the record store,
// the pending queue (plus its entry-id index) and the dead-letter list
const (
	recordPrefix     = "rec:"
	queuePrefix      = "queue:"
	queueIndexPrefix = "qidx:"
	deadPrefix       = "dead:"
)

// recordKey returns the key for one record
func recordKey(collection model.Collection, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", recordPrefix, collection, id))
}

// collectionPrefix returns the prefix shared by every record of a collection
func collectionPrefix(collection model.Collection) []byte {
	return []byte(fmt.Sprintf("%s%s:", recordPrefix, collection))
}

// queueKey sorts lexically in Seq order
func queueKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", queuePrefix, seq))
}

// queueIndexKey maps an entry id to its queue key
func queueIndexKey(entryID string) []byte {
	return []byte(queueIndexPrefix + entryID)
}

// deadKey returns the key for a dead letter
func deadKey(entryID string) []byte {
	return []byte(deadPrefix + entryID)
}
