package fee

import "testing"

func TestVsizeTable(t *testing.T) {
	e := New()
	cases := []struct {
		ins, outs int
		want      int
		tolerance int
	}{
		{1, 1, 110, 2},
		{2, 2, 208, 2},
		{1, 2, 141, 2},
		{5, 1, 380, 2},
	}
	for _, c := range cases {
		got := e.Vsize(c.ins, c.outs)
		diff := got - c.want
		if diff < 0 {
			diff = -diff
		}
		if diff > c.tolerance {
			t.Errorf("Vsize(%d,%d) = %d, want %d +/-%d", c.ins, c.outs, got, c.want, c.tolerance)
		}
	}
}

func TestFeeWindows(t *testing.T) {
	e := New()

	hi := e.Fee(1, 2, 20)
	if hi.AsSats() < 2600 || hi.AsSats() > 2900 {
		t.Errorf("fee at 20 sat/vB = %d, want in [2600,2900]", hi.AsSats())
	}

	lo := e.Fee(1, 2, 0.1)
	if lo.AsSats() < 13 || lo.AsSats() > 15 {
		t.Errorf("fee at 0.1 sat/vB = %d, want in [13,15]", lo.AsSats())
	}
}

func TestFeeMonotonic(t *testing.T) {
	e := New()
	for n := 1; n < 10; n++ {
		a := e.Fee(n, 2, 15)
		b := e.Fee(n+1, 2, 15)
		if b.AsSats() <= a.AsSats() {
			t.Errorf("fee not monotonic at n=%d: fee(n)=%d fee(n+1)=%d", n, a.AsSats(), b.AsSats())
		}
	}
}
