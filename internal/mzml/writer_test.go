package mzml

import (
	"bytes"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteChromatograms(t *testing.T) {
	f := New("synthetic")
	light := []TimePoint{{Time: 0.5, Intens: 1}, {Time: 1.5, Intens: 1000}, {Time: 2.5, Intens: 3}}
	heavy := []TimePoint{{Time: 0.6, Intens: 2}, {Time: 1.6, Intens: 2000}}
	if err := f.AddChromatogram("light", 500.25, 600.3, light); err != nil {
		t.Fatalf("AddChromatogram: error return %v", err)
	}
	if err := f.AddChromatogram("heavy", 504.26, 608.31, heavy); err != nil {
		t.Fatalf("AddChromatogram: error return %v", err)
	}
	f.AppendSoftwareInfo("DeepMRM", "test")

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("Write: error return %v", err)
	}
	g, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: error return %v", err)
	}
	if g.Classify() != MRM {
		t.Errorf("Classify: %v, should be MRM", g.Classify())
	}
	if g.NumChromatograms() != 2 {
		t.Fatalf("NumChromatograms: %d, should be 2", g.NumChromatograms())
	}

	got, err := g.ReadChromatogram(0)
	if err != nil {
		t.Fatalf("ReadChromatogram: error return %v", err)
	}
	if diff := cmp.Diff(light, got); diff != "" {
		t.Errorf("ReadChromatogram mismatch (-want +got):\n%s", diff)
	}
	got, err = g.ReadChromatogram(1)
	if err != nil {
		t.Fatalf("ReadChromatogram: error return %v", err)
	}
	if diff := cmp.Diff(heavy, got); diff != "" {
		t.Errorf("ReadChromatogram mismatch (-want +got):\n%s", diff)
	}

	q1, q3, ok, err := g.ChromatogramTransition(1)
	if err != nil || !ok {
		t.Fatalf("ChromatogramTransition: ok %v error %v", ok, err)
	}
	if math.Abs(q1-504.26) > 1e-6 || math.Abs(q3-608.31) > 1e-6 {
		t.Errorf("ChromatogramTransition: q1 %f q3 %f", q1, q3)
	}
}

func TestWriteSpectra(t *testing.T) {
	f := New("prm")
	if err := f.AddSpectrum("scan=1", 1, 10, 0, []Peak{{Mz: 400, Intens: 5}}); err != nil {
		t.Fatalf("AddSpectrum: error return %v", err)
	}
	if err := f.AddSpectrum("scan=2", 2, 12.5, 500.25, []Peak{{Mz: 600.3, Intens: 77}, {Mz: 700.1, Intens: 8}}); err != nil {
		t.Fatalf("AddSpectrum: error return %v", err)
	}
	if err := f.AddSpectrum("scan=2", 2, 13, 500.25, nil); err == nil {
		t.Errorf("AddSpectrum: expected error for duplicate id")
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("Write: error return %v", err)
	}
	g, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: error return %v", err)
	}
	if g.Classify() != PRM {
		t.Errorf("Classify: %v, should be PRM", g.Classify())
	}
	if n := g.NumSpecs(); n != 2 {
		t.Fatalf("NumSpecs: %d, should be 2", n)
	}
	msLevel, err := g.MSLevel(1)
	if err != nil || msLevel != 2 {
		t.Errorf("MSLevel: %d error %v, should be 2", msLevel, err)
	}
	rt, err := g.RetentionTime(1)
	if err != nil || rt != 12.5 {
		t.Errorf("RetentionTime: %f error %v, should be 12.5", rt, err)
	}
	mz, ok, err := g.PrecursorMz(1)
	if err != nil || !ok || math.Abs(mz-500.25) > 1e-6 {
		t.Errorf("PrecursorMz: %f ok %v error %v", mz, ok, err)
	}
	_, ok, err = g.PrecursorMz(0)
	if err != nil || ok {
		t.Errorf("PrecursorMz: MS1 spectrum should have no precursor (ok %v error %v)", ok, err)
	}
	peaks, err := g.ReadScan(1)
	if err != nil {
		t.Fatalf("ReadScan: error return %v", err)
	}
	if diff := cmp.Diff([]Peak{{Mz: 600.3, Intens: 77}, {Mz: 700.1, Intens: 8}}, peaks); diff != "" {
		t.Errorf("ReadScan mismatch (-want +got):\n%s", diff)
	}
	centroid, err := g.Centroid(1)
	if err != nil || !centroid {
		t.Errorf("Centroid: %v error %v, should be true", centroid, err)
	}
	index, err := g.ScanIndex("scan=2")
	if err != nil || index != 1 {
		t.Errorf("ScanIndex: %d error %v, should be 1", index, err)
	}
	if _, err := g.ScanIndex("scan=3"); err != ErrInvalidScanID {
		t.Errorf("ScanIndex: error return %v, should be ErrInvalidScanID", err)
	}
	id, err := g.ScanID(0)
	if err != nil || id != "scan=1" {
		t.Errorf("ScanID: %s error %v", id, err)
	}
}
