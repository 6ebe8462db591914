package native

import "testing"

func TestHeapAllocatorDistinctBases(t *testing.T) {
	var h HeapAllocator
	c1, err := h.Exec(16)
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	c2, err := h.Exec(16)
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	d1, err := h.Data(16)
	if err != nil {
		t.Fatalf("Data failed: %v", err)
	}
	if c1.Base == c2.Base {
		t.Error("two code allocations share a synthetic base")
	}
	if c1.Base == d1.Base {
		t.Error("code and data allocations share a synthetic base")
	}
}

func TestHeapAllocatorRejectsNegativeSize(t *testing.T) {
	var h HeapAllocator
	if _, err := h.Exec(-1); err == nil {
		t.Error("Exec(-1) succeeded")
	}
	if _, err := h.Data(-1); err == nil {
		t.Error("Data(-1) succeeded")
	}
}
