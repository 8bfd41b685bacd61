package kvstore

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// entry is the envelope persisted for every value. Created and Expiry are
// milliseconds; a nil Expiry never expires.
type entry struct {
	Data    json.RawMessage `json:"data"`
	Created int64           `json:"created"`
	Expiry  *int64          `json:"expiry"`
}

func newEntry(value any, now time.Time, expiry *time.Duration) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", eris.Wrap(err, "kvstore: marshal value")
	}
	e := entry{Data: data, Created: now.UnixMilli()}
	if expiry != nil {
		ms := expiry.Milliseconds()
		e.Expiry = &ms
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", eris.Wrap(err, "kvstore: marshal entry")
	}
	return string(b), nil
}

func parseEntry(raw string) (*entry, error) {
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, eris.Wrap(err, "kvstore: unmarshal entry")
	}
	if e.Data == nil {
		return nil, eris.New("kvstore: entry has no data")
	}
	return &e, nil
}

func (e *entry) expired(now time.Time) bool {
	if e.Expiry == nil {
		return false
	}
	return now.UnixMilli() >= e.Created+*e.Expiry
}
