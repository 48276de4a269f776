package invoke

import "go.uber.org/atomic"

// IDGenerator hands out the 32-bit unsigned monotonic request ids unique
// per connection-originator required by the wire protocol.
type IDGenerator struct {
	counter atomic.Uint32
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Next returns the next id. Wraps at 2^32 back to 1, skipping 0 which is
// reserved as "no id" in a few internal bookkeeping paths.
func (g *IDGenerator) Next() uint32 {
	for {
		id := g.counter.Inc()
		if id != 0 {
			return id
		}
	}
}
