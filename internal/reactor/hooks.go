package reactor

// Prepare runs its callback immediately before the poll phase.
type Prepare struct {
	h    *Handle
	loop *Loop
	cb   func()
}

// NewPrepare registers a stopped prepare handle.
func (l *Loop) NewPrepare() *Prepare {
	p := &Prepare{h: l.NewHandle(), loop: l}
	l.mu.Lock()
	l.prepares = append(l.prepares, p)
	l.mu.Unlock()
	return p
}

func (p *Prepare) Start(cb func()) {
	p.cb = cb
	p.h.Start()
}

func (p *Prepare) Stop()           { p.h.Stop() }
func (p *Prepare) Ref()            { p.h.Ref() }
func (p *Prepare) Unref()          { p.h.Unref() }
func (p *Prepare) HasRef() bool    { return p.h.HasRef() }
func (p *Prepare) Close(cb func()) { p.h.Close(cb); p.loop.removePrepare(p) }

// Check runs its callback after the poll phase and queued tasks.
type Check struct {
	h    *Handle
	loop *Loop
	cb   func()
}

// NewCheck registers a stopped check handle.
func (l *Loop) NewCheck() *Check {
	c := &Check{h: l.NewHandle(), loop: l}
	l.mu.Lock()
	l.checks = append(l.checks, c)
	l.mu.Unlock()
	return c
}

func (c *Check) Start(cb func()) {
	c.cb = cb
	c.h.Start()
}

func (c *Check) Stop()           { c.h.Stop() }
func (c *Check) Ref()            { c.h.Ref() }
func (c *Check) Unref()          { c.h.Unref() }
func (c *Check) HasRef() bool    { return c.h.HasRef() }
func (c *Check) Close(cb func()) { c.h.Close(cb); c.loop.removeCheck(c) }

// Idle, while active, forces the poll phase to not block. The runtime
// starts its idle handle when engine jobs are pending so they run on the
// next iteration instead of stalling behind I/O.
type Idle struct {
	h    *Handle
	loop *Loop
	cb   func()
}

// NewIdle registers a stopped idle handle.
func (l *Loop) NewIdle() *Idle {
	i := &Idle{h: l.NewHandle(), loop: l}
	l.mu.Lock()
	l.idles = append(l.idles, i)
	l.mu.Unlock()
	return i
}

func (i *Idle) Start(cb func()) {
	i.cb = cb
	i.h.Start()
}

func (i *Idle) Stop()           { i.h.Stop() }
func (i *Idle) Active() bool    { return i.h.Active() }
func (i *Idle) Ref()            { i.h.Ref() }
func (i *Idle) Unref()          { i.h.Unref() }
func (i *Idle) HasRef() bool    { return i.h.HasRef() }
func (i *Idle) Close(cb func()) { i.h.Close(cb); i.loop.removeIdle(i) }

func (l *Loop) removePrepare(p *Prepare) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for n, it := range l.prepares {
		if it == p {
			l.prepares = append(l.prepares[:n], l.prepares[n+1:]...)
			return
		}
	}
}

func (l *Loop) removeCheck(c *Check) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for n, it := range l.checks {
		if it == c {
			l.checks = append(l.checks[:n], l.checks[n+1:]...)
			return
		}
	}
}

func (l *Loop) removeIdle(i *Idle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for n, it := range l.idles {
		if it == i {
			l.idles = append(l.idles[:n], l.idles[n+1:]...)
			return
		}
	}
}
