package certmodel

import "testing"

func TestHealthStateString(t *testing.T) {
	cases := map[HealthState]string{
		Healthy:         "healthy",
		Degraded:        "degraded",
		Open:            "open",
		HealthState(99): "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("HealthState(%d).String() = %q, want %q", s, got, want)
		}
	}
}
