// Package channel maps physical digitiser channels to dense write-queue
// indices.
//
// The mapping is derived once from the recording configuration: every
// section named ch<N> with enabled: true receives the next index, in the
// order the sections appear in the file. Enabling ch0, ch3 and ch5 (in that
// order) yields {0:0, 3:1, 5:2}.
package channel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/loader"
)

// keyPrefix marks channel sections in the recording configuration.
const keyPrefix = "ch"

// Mapping is an immutable channel -> dense index table.
// It is safe for concurrent use.
type Mapping struct {
	index    map[uint32]int
	channels []uint32 // physical id by dense index
}

// New builds a mapping from channels in index order.
// Duplicate channels are rejected.
func New(channels ...uint32) (Mapping, error) {
	m := Mapping{index: make(map[uint32]int, len(channels))}
	for _, ch := range channels {
		if _, dup := m.index[ch]; dup {
			return Mapping{}, errors.NewInvalidValue("channel", ch, "enabled twice")
		}
		m.index[ch] = len(m.channels)
		m.channels = append(m.channels, ch)
	}
	return m, nil
}

// FromConfig derives the mapping from the recording configuration.
func FromConfig(rec loader.Dict) (Mapping, error) {
	var enabled []uint32
	v := errors.NewValidationErrors()

	for _, key := range rec.Keys() {
		ch, ok, err := ParseKey(key)
		if err != nil {
			v.Add(err)
			continue
		}
		if !ok {
			continue
		}

		section, isSection := rec.Section(key)
		if !isSection {
			v.AddInvalid(key, "<scalar>", "channel entries must be a section with an enabled flag")
			continue
		}

		on, err := section.Bool("enabled")
		if err != nil {
			v.Add(errors.Wrapf(err, "section %s", key))
			continue
		}
		if on {
			enabled = append(enabled, ch)
		}
	}

	if err := v.Err(); err != nil {
		return Mapping{}, errors.Wrap(err, "channel mapping")
	}
	return New(enabled...)
}

// ParseKey reports whether key names a channel section and which one.
// Keys that do not start with "ch" are not channel keys. Keys that do but
// have no valid number (e.g. "chX") are configuration errors.
func ParseKey(key string) (uint32, bool, error) {
	rest, found := strings.CutPrefix(key, keyPrefix)
	if !found {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false, errors.NewInvalidValue("channel key", key, "expected ch<number>")
	}
	return uint32(n), true, nil
}

// Index returns the dense index of a physical channel.
func (m Mapping) Index(ch uint32) (int, bool) {
	i, ok := m.index[ch]
	return i, ok
}

// Channels returns the physical channels in index order.
func (m Mapping) Channels() []uint32 {
	out := make([]uint32, len(m.channels))
	copy(out, m.channels)
	return out
}

// Channel returns the physical channel at a dense index.
func (m Mapping) Channel(index int) uint32 {
	return m.channels[index]
}

// Len returns the number of mapped channels.
func (m Mapping) Len() int {
	return len(m.channels)
}

// Last returns the highest enabled channel. Observing it completes an event
// group for the global event counter.
func (m Mapping) Last() (uint32, bool) {
	if len(m.channels) == 0 {
		return 0, false
	}
	last := m.channels[0]
	for _, ch := range m.channels[1:] {
		if ch > last {
			last = ch
		}
	}
	return last, true
}

// String returns e.g. "{0:0, 3:1, 5:2}".
func (m Mapping) String() string {
	parts := make([]string, len(m.channels))
	for i, ch := range m.channels {
		parts[i] = fmt.Sprintf("%d:%d", ch, i)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
