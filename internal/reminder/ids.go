package reminder

import (
	"math/rand/v2"
	"strconv"
	"sync/atomic"
)

// IDGenerator produces reminder identifiers.
type IDGenerator interface {
	Next() string
}

const (
	randomIDMin = 10000
	randomIDMax = 99999
)

// RandomIDs yields 5-digit decimal ids in [10000, 99999].
//
// Uniqueness is probabilistic. The engine checks each candidate against the
// owning user's reminders and retries on collision, so ids only need to be
// unique per user.
type RandomIDs struct{}

func (RandomIDs) Next() string {
	return strconv.Itoa(randomIDMin + rand.IntN(randomIDMax-randomIDMin+1))
}

// SequenceIDs yields 10000, 10001, ... and is safe for concurrent use.
type SequenceIDs struct {
	n atomic.Int64
}

func (s *SequenceIDs) Next() string {
	return strconv.FormatInt(randomIDMin+s.n.Add(1)-1, 10)
}
