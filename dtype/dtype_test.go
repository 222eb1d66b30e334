package dtype

import "testing"

func TestSizeAndValid(t *testing.T) {
	cases := []struct {
		d     DType
		size  uint64
		valid bool
	}{
		{U8, 1, true},
		{U32, 4, true},
		{F32, 4, true},
		{DType(99), 0, false},
	}
	for _, c := range cases {
		if got := c.d.Size(); got != c.size {
			t.Errorf("%v.Size() = %d, want %d", c.d, got, c.size)
		}
		if got := c.d.Valid(); got != c.valid {
			t.Errorf("%v.Valid() = %v, want %v", c.d, got, c.valid)
		}
	}
}

func TestStringUnknown(t *testing.T) {
	if DType(7).String() == "" {
		t.Fatal("expected non-empty string for unknown dtype")
	}
}
