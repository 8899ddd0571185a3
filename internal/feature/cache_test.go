package feature

import "testing"

func TestFeatureCache_GetSet(t *testing.T) {
	c := NewFeatureCache(2)
	a, b, d := KeyOf([]byte("a")), KeyOf([]byte("b")), KeyOf([]byte("c"))
	if v, ok := c.Get(a); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set(a, []float32{1, 2, 3})
	v, ok := c.Get(a)
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set(b, []float32{4, 5})
	_, _ = c.Get(a)
	c.Set(d, []float32{6}) // evicts b, the least recently used
	if _, ok := c.Get(b); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get(a); !ok {
		t.Error("expected a to remain")
	}
	if c.Len() != 2 {
		t.Errorf("Len=%d", c.Len())
	}
}

func TestFeatureCache_CopiesValues(t *testing.T) {
	c := NewFeatureCache(1)
	k := KeyOf([]byte("img"))
	src := []float32{1, 2}
	c.Set(k, src)
	src[0] = 9
	got, _ := c.Get(k)
	got[1] = 9
	again, _ := c.Get(k)
	if again[0] != 1 || again[1] != 2 {
		t.Errorf("cache aliased caller slices: %v", again)
	}
}

func TestFeatureCache_Disabled(t *testing.T) {
	c := NewFeatureCache(0)
	c.Set(KeyOf(nil), []float32{1})
	if _, ok := c.Get(KeyOf(nil)); ok {
		t.Error("disabled cache returned a hit")
	}
	if c.Len() != 0 {
		t.Errorf("Len=%d", c.Len())
	}
	c.Purge()
}
