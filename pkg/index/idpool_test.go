package index

import "testing"

func TestIDPoolReusesLastFreed(t *testing.T) {
	fresh := uint32(10)
	p := newIDPool(func() (uint32, error) {
		fresh++
		return fresh, nil
	})

	a, _ := p.get()
	b, _ := p.get()
	if a != 11 || b != 12 {
		t.Fatalf("fresh ids = %d, %d; want 11, 12", a, b)
	}

	p.put(a)
	p.put(b)
	if p.len() != 2 {
		t.Fatalf("len = %d, want 2", p.len())
	}
	if id, _ := p.get(); id != b {
		t.Fatalf("got %d, want last freed %d", id, b)
	}
	if id, _ := p.get(); id != a {
		t.Fatalf("got %d, want %d", id, a)
	}
	if id, _ := p.get(); id != 13 {
		t.Fatalf("got %d, want fresh 13", id)
	}
}
