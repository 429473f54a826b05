package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out utterance identities such as "mic-seg-1". The counter
// is shared by every source, so two sources never receive the same identity.
type Generator struct {
	counter atomic.Uint64
}

// NewGenerator returns a generator whose first identity ends in "-seg-1".
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns the next identity for source. It is safe for concurrent use.
func (g *Generator) Next(source string) string {
	return fmt.Sprintf("%s-seg-%d", source, g.counter.Add(1))
}
