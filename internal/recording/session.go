package recording

import (
	"time"

	"github.com/google/uuid"
)

// Session identifies one recording run. Every container of the run shares
// it, so files that belong together sort together.
type Session struct {
	ID      string
	Started time.Time
}

// NewSession starts a session at now.
func NewSession(now time.Time) Session {
	return Session{ID: uuid.NewString(), Started: now}
}

// Stamp is the file name component: HH-MM-SS plus a short id.
func (s Session) Stamp() string {
	id := s.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return s.Started.Format("15-04-05") + "_" + id
}
