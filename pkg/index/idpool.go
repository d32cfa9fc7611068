package index

// idPool hands out recycled ids before fresh ones. Recycled ids live only as
// long as the open index.
type idPool struct {
	free []uint32
	next func() (uint32, error)
}

func newIDPool(next func() (uint32, error)) *idPool {
	return &idPool{next: next}
}

func (p *idPool) get() (uint32, error) {
	if n := len(p.free); n > 0 {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		return id, nil
	}
	return p.next()
}

func (p *idPool) put(id uint32) {
	p.free = append(p.free, id)
}

func (p *idPool) len() int { return len(p.free) }
