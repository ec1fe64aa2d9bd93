package swarm

import "testing"

func TestDiversityMultiplierScalesScoreLinearlyAndClamps(t *testing.T) {
	cases := []struct {
		entropy float64
		want    float64
	}{
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{-1, 0},
		{2, 1},
	}
	for _, c := range cases {
		if got := diversityMultiplier(c.entropy); got != c.want {
			t.Errorf("diversityMultiplier(%v) = %v, want %v", c.entropy, got, c.want)
		}
	}
}
