// Package snowflake generates 63-bit time-ordered ids: 41 bits of millisecond
// timestamp, 10 bits of node, 12 bits of per-millisecond sequence. Within one
// node ids are strictly monotone, which is what gives a room's message log its
// insertion order.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits  = 10
	seqBits   = 12
	nodeMax   = -1 ^ (-1 << nodeBits)
	seqMask   = -1 ^ (-1 << seqBits)
	timeShift = nodeBits + seqBits
	nodeShift = seqBits

	// Custom epoch: 2025-01-01 00:00:00 UTC.
	epoch int64 = 1735689600000
)

type Generator struct {
	mu   sync.Mutex
	last int64
	node int64
	seq  int64
}

func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("snowflake: node must be in [0, 1023]")
	}
	return &Generator{node: node}, nil
}

// NextID returns the next id. Safe for concurrent use.
func (g *Generator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < g.last {
		// Clock went backwards; hold the line at the last timestamp.
		now = g.last
	}

	if now == g.last {
		g.seq = (g.seq + 1) & seqMask
		if g.seq == 0 {
			for now <= g.last {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.seq = 0
	}
	g.last = now

	return ((now - epoch) << timeShift) | (g.node << nodeShift) | g.seq
}

// SourceTime recovers the millisecond timestamp embedded in an id.
func SourceTime(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}
