package sensor

import "testing"

const (
	testDry = 2850
	testWet = 1350
)

func newTestScale(t *testing.T) Scale {
	t.Helper()
	s, err := NewScale(testDry, testWet)
	if err != nil {
		t.Fatalf("NewScale failed: %v", err)
	}
	return s
}

func TestNewScaleRejectsBadCalibration(t *testing.T) {
	if _, err := NewScale(1350, 1350); err == nil {
		t.Error("Expected error when dry == wet")
	}
	if _, err := NewScale(1350, 2850); err == nil {
		t.Error("Expected error when dry < wet")
	}
}

func TestPercentEndpoints(t *testing.T) {
	s := newTestScale(t)

	if got := s.Percent(testDry); got != 0 {
		t.Errorf("Dry reading should map to 0%%, got %v", got)
	}
	if got := s.Percent(testWet); got != 100 {
		t.Errorf("Wet reading should map to 100%%, got %v", got)
	}
	if got := s.Percent((testDry + testWet) / 2); got != 50 {
		t.Errorf("Midpoint should map to 50%%, got %v", got)
	}
}

func TestPercentClamps(t *testing.T) {
	s := newTestScale(t)

	// Readings past the wet calibration point clamp to 100.
	for _, raw := range []int{testWet - 1, 500, 0, -100} {
		if got := s.Percent(raw); got != 100 {
			t.Errorf("Percent(%d) = %v, expected clamp to 100", raw, got)
		}
	}

	// Readings past the dry calibration point clamp to 0.
	for _, raw := range []int{testDry + 1, 4095, 100000} {
		if got := s.Percent(raw); got != 0 {
			t.Errorf("Percent(%d) = %v, expected clamp to 0", raw, got)
		}
	}
}

func TestPercentMonotonicAndBounded(t *testing.T) {
	s := newTestScale(t)

	prev := s.Percent(testWet)
	for raw := testWet; raw <= testDry; raw++ {
		got := s.Percent(raw)
		if got < 0 || got > 100 {
			t.Fatalf("Percent(%d) = %v, out of [0,100]", raw, got)
		}
		if got > prev {
			t.Fatalf("Percent not non-increasing at raw=%d: %v > %v", raw, got, prev)
		}
		prev = got
	}
}

func TestPercentDeterministic(t *testing.T) {
	s := newTestScale(t)

	for _, raw := range []int{testWet, 1800, 2100, testDry} {
		if s.Percent(raw) != s.Percent(raw) {
			t.Errorf("Percent(%d) not deterministic", raw)
		}
	}
}
