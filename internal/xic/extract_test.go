package xic

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/thanadol-git/deep-mrm-KTH/internal/mzml"
	"github.com/thanadol-git/deep-mrm-KTH/internal/transition"
)

func pair(id string, q1, q3, dq float64) transition.Pair {
	return transition.Pair{
		Light: transition.Transition{PeptideID: id, PrecursorMz: q1, ProductMz: q3, RefRT: math.NaN()},
		Heavy: transition.Transition{PeptideID: id, PrecursorMz: q1 + dq, ProductMz: q3 + 2*dq, Heavy: true, RefRT: math.NaN()},
	}
}

func points(times ...float64) []mzml.TimePoint {
	p := make([]mzml.TimePoint, len(times))
	for i, t := range times {
		p[i] = mzml.TimePoint{Time: t, Intens: 100 * t}
	}
	return p
}

func TestExtractMRM(t *testing.T) {
	run := mzml.New("mrm")
	require.NoError(t, run.AddChromatogram("l1", 500.25, 600.3, points(1, 2, 3)))
	require.NoError(t, run.AddChromatogram("h1", 504.25, 608.3, points(1, 2, 4)))
	// Same transition, 2 ppm off: must not be picked over the exact one
	require.NoError(t, run.AddChromatogram("l1b", 500.251, 600.3, points(7)))
	require.NoError(t, run.AddChromatogram("other", 700, 800, points(5)))

	tab := transition.Table{Peptides: []transition.Peptide{
		{ID: "A", RefRT: math.NaN(), Pairs: []transition.Pair{pair("A", 500.25, 600.3, 4)}},
		{ID: "B", RefRT: math.NaN(), Pairs: []transition.Pair{pair("B", 900, 950, 4)}},
	}}
	logger, hook := test.NewNullLogger()
	peps, err := Extract(context.Background(), &run, run.Classify(), tab,
		DefaultTolerance, Options{Workers: 2, Log: logger})
	require.NoError(t, err)
	require.Len(t, peps, 1)
	require.Equal(t, "A", peps[0].ID)
	if diff := cmp.Diff(points(1, 2, 3), peps[0].Light[0]); diff != "" {
		t.Errorf("light trace mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(points(1, 2, 4), peps[0].Heavy[0]); diff != "" {
		t.Errorf("heavy trace mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, hook.Entries, 1)
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	require.Equal(t, "B", hook.LastEntry().Data["peptide"])
}

func TestExtractRTWindow(t *testing.T) {
	run := mzml.New("mrm")
	require.NoError(t, run.AddChromatogram("l", 500, 600, points(10, 20, 30, 40, 50)))
	require.NoError(t, run.AddChromatogram("h", 504, 608, points(10, 20, 30, 40, 50)))
	p := pair("A", 500, 600, 4)
	tab := transition.Table{Peptides: []transition.Peptide{{ID: "A", RefRT: 30, Pairs: []transition.Pair{p}}}}

	peps, err := Extract(context.Background(), &run, mzml.MRM, tab, DefaultTolerance,
		Options{RTWindow: 10})
	require.NoError(t, err)
	require.Equal(t, points(20, 30, 40), peps[0].Light[0])

	peps, err = Extract(context.Background(), &run, mzml.MRM, tab, DefaultTolerance,
		Options{RTRange: RTRange{Min: 35}})
	require.NoError(t, err)
	require.Equal(t, points(40, 50), peps[0].Heavy[0])
}

func TestExtractPRM(t *testing.T) {
	run := mzml.New("prm")
	require.NoError(t, run.AddSpectrum("s1", 1, 1, 0, []mzml.Peak{{Mz: 600.3, Intens: 9999}}))
	require.NoError(t, run.AddSpectrum("s2", 2, 2, 500.25, []mzml.Peak{{Mz: 600.3, Intens: 10}, {Mz: 600.301, Intens: 12}, {Mz: 650, Intens: 5}}))
	require.NoError(t, run.AddSpectrum("s3", 2, 2.5, 504.25, []mzml.Peak{{Mz: 608.3, Intens: 40}}))
	require.NoError(t, run.AddSpectrum("s4", 2, 3, 500.25, []mzml.Peak{{Mz: 650, Intens: 5}}))
	require.NoError(t, run.AddSpectrum("s5", 2, 4, 500.25, []mzml.Peak{{Mz: 600.3, Intens: 30}}))
	require.Equal(t, mzml.PRM, run.Classify())

	tab := transition.Table{Peptides: []transition.Peptide{
		{ID: "A", RefRT: math.NaN(), Pairs: []transition.Pair{pair("A", 500.25, 600.3, 4)}},
	}}
	peps, err := Extract(context.Background(), &run, mzml.PRM, tab, DefaultTolerance, Options{})
	require.NoError(t, err)
	require.Len(t, peps, 1)
	want := []mzml.TimePoint{{Time: 2, Intens: 12}, {Time: 3, Intens: 0}, {Time: 4, Intens: 30}}
	if diff := cmp.Diff(want, peps[0].Light[0]); diff != "" {
		t.Errorf("light trace mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []mzml.TimePoint{{Time: 2.5, Intens: 40}}, peps[0].Heavy[0])
}

func TestExtractNoData(t *testing.T) {
	run := mzml.New("mrm")
	require.NoError(t, run.AddChromatogram("l", 500, 600, points(1)))
	tab := transition.Table{Peptides: []transition.Peptide{
		{ID: "X", RefRT: math.NaN(), Pairs: []transition.Pair{pair("X", 100, 200, 4)}},
	}}
	logger, _ := test.NewNullLogger()
	_, err := Extract(context.Background(), &run, mzml.MRM, tab, DefaultTolerance, Options{Log: logger})
	require.True(t, errors.Is(err, ErrNoData))
}

func TestExtractCanceled(t *testing.T) {
	run := mzml.New("mrm")
	require.NoError(t, run.AddChromatogram("l", 500, 600, points(1)))
	tab := transition.Table{Peptides: []transition.Peptide{
		{ID: "A", RefRT: math.NaN(), Pairs: []transition.Pair{pair("A", 500, 600, 4)}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Extract(ctx, &run, mzml.MRM, tab, DefaultTolerance, Options{})
	require.True(t, errors.Is(err, context.Canceled))
}

func TestParseTolerance(t *testing.T) {
	tests := []struct {
		in   string
		want Tolerance
		err  bool
	}{
		{"10", Tolerance{10, PPM}, false},
		{"10ppm", Tolerance{10, PPM}, false},
		{"0.5 Da", Tolerance{0.5, Da}, false},
		{"0.02da", Tolerance{0.02, Da}, false},
		{"-1", Tolerance{}, true},
		{"ten", Tolerance{}, true},
		{"5 furlongs", Tolerance{}, true},
	}
	for _, test := range tests {
		got, err := ParseTolerance(test.in)
		if test.err {
			if !errors.Is(err, ErrTolerance) {
				t.Errorf("ParseTolerance(%q): error %v, should be ErrTolerance", test.in, err)
			}
			continue
		}
		if err != nil || got != test.want {
			t.Errorf("ParseTolerance(%q): %v error %v, should be %v", test.in, got, err, test.want)
		}
	}

	tol := Tolerance{Value: 10, Unit: PPM}
	if !tol.Match(1000, 1000.01) || tol.Match(1000, 1000.011) {
		t.Errorf("Match: 10 ppm window around 1000 should be +/- 0.01")
	}
	if d := (Tolerance{Value: 0.5, Unit: Da}).Delta(1234); d != 0.5 {
		t.Errorf("Delta: %f, should be 0.5", d)
	}
	if s := tol.String(); s != "10ppm" {
		t.Errorf("String: %s, should be 10ppm", s)
	}
}
