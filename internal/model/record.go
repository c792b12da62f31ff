package model

import (
	"encoding/json"
	"time"
)

// Provenance records which backend last wrote a record
type Provenance string

const (
	ProvenanceLocal  Provenance = "local"
	ProvenanceRemote Provenance = "remote"
)

// Record is the storage envelope around one entity payload.
// Revision is the remote revision the record was last reconciled with;
// zero means the remote has never acknowledged it.
type Record struct {
	Collection Collection      `json:"collection"`
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	Revision   int64           `json:"revision"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Provenance Provenance      `json:"provenance"`
}

// Key returns the entity key of the record
func (r *Record) Key() EntityKey {
	return EntityKey{Collection: r.Collection, ID: r.ID}
}

// Clone returns a deep copy so callers never share payload bytes
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return &c
}
