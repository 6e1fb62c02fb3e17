package tracer

// Clock is the microsecond clock of one replay. It never goes backward and
// every advance moves it by at least one microsecond.
type Clock struct {
	now         int64
	initialized bool
}

func NewClock(epoch int64) *Clock {
	c := &Clock{}
	c.Initialize(epoch)
	return c
}

// Initialize sets the epoch. Later calls may only move the clock forward.
func (c *Clock) Initialize(epoch int64) {
	if c.initialized && epoch < c.now {
		return
	}
	c.now = epoch
	c.initialized = true
}

// Advance adds delta, or exactly 1 when delta < 1, and returns the new value.
func (c *Clock) Advance(delta int64) int64 {
	if delta < 1 {
		delta = 1
	}
	c.now += delta
	return c.now
}

func (c *Clock) Now() int64 {
	return c.now
}

// ClockSet 为每个 ChainIdentifier 维护独立的时钟，用于 per_chain 策略
type ClockSet struct {
	epoch  int64
	clocks map[string]*Clock
}

func NewClockSet(epoch int64) *ClockSet {
	return &ClockSet{
		epoch:  epoch,
		clocks: make(map[string]*Clock),
	}
}

// Get returns the clock of a chain, starting it at the set's epoch on first use.
func (s *ClockSet) Get(id string) *Clock {
	c, ok := s.clocks[id]
	if !ok {
		c = NewClock(s.epoch)
		s.clocks[id] = c
	}
	return c
}

// Max returns the latest value among all clocks, or the epoch when empty.
func (s *ClockSet) Max() int64 {
	max := s.epoch
	for _, c := range s.clocks {
		if c.Now() > max {
			max = c.Now()
		}
	}
	return max
}
