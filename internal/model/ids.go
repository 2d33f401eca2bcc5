package model

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a ULID. IDs minted by one process sort in creation order.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

// ChunkID derives the index identifier for the seq-th chunk of a message.
func ChunkID(messageID string, seq int) string {
	return fmt.Sprintf("%s-%04d", messageID, seq)
}
