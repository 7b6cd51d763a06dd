package ppr

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func randomSample(r *rand.Rand) Sample {
	var s Sample
	s.Timestamp = 1700000000000 + r.Int63n(1_000_000)
	for i := range s.Pose {
		s.Pose[i] = round3(r.Float64()*800 - 400)
	}
	for i := range s.Joints {
		s.Joints[i] = round3(r.Float64()*360 - 180)
	}
	s.Gripper = Gripper{
		Position: round3(r.Float64() * 70),
		Effort:   round3(r.Float64() * 5),
		Code:     r.Intn(4),
	}
	return s
}

func TestFormatParseRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		s := randomSample(r)
		got, ok := ParseLine(FormatLine(s))
		require.True(t, ok, "line %q did not parse", FormatLine(s))
		if diff := cmp.Diff(s, got, cmpopts.EquateApprox(0, 0.0005)); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestFormatLine(t *testing.T) {
	s := Sample{
		Timestamp: 1712345678901,
		Pose:      Pose{1, -2.5, 3.25, 0, 90, -179.999},
		Joints:    Joints{10, 20, 30, 40, 50, 60},
		Gripper:   Gripper{Position: 12.3456, Effort: 0.5, Code: 1},
	}
	assert.Equal(t,
		"t1712345678901 x1.000 y-2.500 z3.250 a0.000 b90.000 c-179.999 J6[10.000,20.000,30.000,40.000,50.000,60.000] Grp[12.346,0.500,1]",
		FormatLine(s))
}

func TestParseLineSkipsInvalid(t *testing.T) {
	cases := map[string]string{
		"blank":           "   ",
		"header":          "; Version: 1.0",
		"missing t":       "x1 y2 z3 a0 b0 c0 J6[1,2,3,4,5,6] Grp[0,0,1]",
		"missing joints":  "t100 x1 y2 z3 a0 b0 c0 Grp[0,0,1]",
		"missing gripper": "t100 x1 y2 z3 a0 b0 c0 J6[1,2,3,4,5,6]",
		"short gripper":   "t100 J6[1,2,3,4,5,6] Grp[0,0]",
		"garbage":         "hello world",
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := ParseLine(line)
			assert.False(t, ok)
		})
	}
}

func TestParseLineDefaults(t *testing.T) {
	s, ok := ParseLine("t42 x5.5 J6[1.5,2.5] Grp[3.000,0.250,1]")
	require.True(t, ok)
	assert.Equal(t, int64(42), s.Timestamp)
	assert.Equal(t, Pose{5.5, 0, 0, 0, 0, 0}, s.Pose)
	assert.Equal(t, Joints{1.5, 2.5, 0, 0, 0, 0}, s.Joints)
	assert.Equal(t, Gripper{Position: 3, Effort: 0.25, Code: 1}, s.Gripper)
}
