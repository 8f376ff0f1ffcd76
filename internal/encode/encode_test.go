package encode

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/thanadol-git/deep-mrm-KTH/internal/mzml"
)

func trace(times, intens []float64) []mzml.TimePoint {
	p := make([]mzml.TimePoint, len(times))
	for i := range times {
		p[i] = mzml.TimePoint{Time: times[i], Intens: intens[i]}
	}
	return p
}

func TestEncodeSharedAxis(t *testing.T) {
	times := []float64{0, 1, 2, 3}
	light := [][]mzml.TimePoint{trace(times, []float64{0, 2, 4, 0})}
	heavy := [][]mzml.TimePoint{trace(times, []float64{1, 5, 10, 5})}

	s, err := Encoder{}.Encode("A", light, heavy)
	require.NoError(t, err)
	require.False(t, s.Resampled)
	require.Equal(t, times, s.Time)
	require.Equal(t, []float64{0, 2, 4, 0}, s.XIC[Light][0])
	require.Equal(t, []float64{1, 5, 10, 5}, s.XIC[Heavy][0])

	r, c := s.Features.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, 4, c)
	require.Equal(t, []float64{0, 0.5, 1, 0}, s.Features.RawRowView(0))
	require.Equal(t, []float64{0.1, 0.5, 1, 0.5}, s.Features.RawRowView(1))
}

func TestEncodeResample(t *testing.T) {
	light := [][]mzml.TimePoint{
		trace([]float64{0, 1, 2.5, 4}, []float64{0, 10, 25, 40}),
		nil,
	}
	heavy := [][]mzml.TimePoint{
		trace([]float64{1, 2, 3, 4, 5}, []float64{1, 2, 3, 4, 5}),
		trace([]float64{0.5, 3.5}, []float64{7, 7}),
	}
	s, err := Encoder{Length: 7, UseRT: true}.Encode("B", light, heavy)
	require.NoError(t, err)
	require.True(t, s.Resampled)
	require.Equal(t, 7, s.Len())
	require.Equal(t, 2, s.NumTransitions())

	approx := cmpopts.EquateApprox(0, 1e-9)
	// Overlap of all usable traces is 1..3.5
	wantTime := []float64{1, 1.41666666666666667, 1.8333333333333333, 2.25, 2.6666666666666667, 3.0833333333333333, 3.5}
	if diff := cmp.Diff(wantTime, s.Time, approx); diff != "" {
		t.Errorf("Time mismatch (-want +got):\n%s", diff)
	}
	// Light trace 0 is linear: intensity = 10 * time
	for i, x := range s.Time {
		if math.Abs(s.XIC[Light][0][i]-10*x) > 1e-9 {
			t.Errorf("XIC light 0 at %f: %f, should be %f", x, s.XIC[Light][0][i], 10*x)
		}
	}
	require.Equal(t, make([]float64, 7), s.XIC[Light][1])
	if diff := cmp.Diff([]float64{7, 7, 7, 7, 7, 7, 7}, s.XIC[Heavy][1], approx); diff != "" {
		t.Errorf("XIC heavy 1 mismatch (-want +got):\n%s", diff)
	}

	r, _ := s.Features.Dims()
	require.Equal(t, 5, r)
	rt := s.Features.RawRowView(4)
	require.InDelta(t, 0, rt[0], 1e-12)
	require.InDelta(t, 1, rt[6], 1e-12)
	require.InDelta(t, 1, s.Features.At(0, 6), 1e-12)
}

func TestEncodeForceResampling(t *testing.T) {
	times := []float64{0, 1, 2, 3}
	light := [][]mzml.TimePoint{trace(times, []float64{0, 1, 2, 3})}
	heavy := [][]mzml.TimePoint{trace(times, []float64{3, 2, 1, 0})}
	s, err := Encoder{ForceResampling: true, Length: 13}.Encode("C", light, heavy)
	require.NoError(t, err)
	require.True(t, s.Resampled)
	require.Equal(t, 13, s.Len())
	require.InDelta(t, 0.25, s.Time[1], 1e-12)
	require.InDelta(t, 0.25, s.XIC[Light][0][1], 1e-12)
	require.InDelta(t, 2.75, s.XIC[Heavy][0][1], 1e-12)

	// Non-uniform axis is resampled even without ForceResampling
	irregular := []float64{0, 1, 3, 4}
	s, err = Encoder{}.Encode("D",
		[][]mzml.TimePoint{trace(irregular, []float64{1, 1, 1, 1})},
		[][]mzml.TimePoint{trace(irregular, []float64{2, 2, 2, 2})})
	require.NoError(t, err)
	require.True(t, s.Resampled)
	require.Equal(t, 4, s.Len())
}

func TestEncodeErrors(t *testing.T) {
	_, err := Encoder{}.Encode("E",
		[][]mzml.TimePoint{trace([]float64{0, 2, 1}, []float64{1, 1, 1})},
		[][]mzml.TimePoint{nil})
	require.True(t, errors.Is(err, ErrNotIncreasing))

	_, err = Encoder{}.Encode("F",
		[][]mzml.TimePoint{trace([]float64{1}, []float64{1})},
		[][]mzml.TimePoint{nil})
	require.True(t, errors.Is(err, ErrTooFewPoints))

	_, err = Encoder{}.Encode("G",
		[][]mzml.TimePoint{trace([]float64{0, 1}, []float64{1, 1})},
		[][]mzml.TimePoint{trace([]float64{2, 3}, []float64{1, 1})})
	require.True(t, errors.Is(err, ErrTooFewPoints))

	_, err = Encoder{}.Encode("H", [][]mzml.TimePoint{nil}, nil)
	require.True(t, errors.Is(err, ErrShape))
}
