package footprint

// ring keeps the most recent finalized candles of one timeframe, oldest evicted first.
type ring struct {
	buf   []*Candle
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{buf: make([]*Candle, capacity)}
}

func (r *ring) push(c *Candle) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = c
		r.size++
		return
	}
	r.buf[r.start] = c
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int { return r.size }

func (r *ring) cap() int { return len(r.buf) }

// items returns the candles oldest first.
func (r *ring) items() []*Candle {
	out := make([]*Candle, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
