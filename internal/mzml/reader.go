package mzml

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"

	"golang.org/x/net/html/charset"
)

// Read reads mzML file from an io.Reader
func Read(reader io.Reader) (MzML, error) {
	var mzML MzML

	d := xml.NewDecoder(reader)
	d.CharsetReader = charset.NewReaderLabel

	// We are only interested in mzML content, so skip over indexedmzML
	// and everything else
	for {
		t, tokenErr := d.Token()
		if tokenErr != nil {
			if tokenErr == io.EOF {
				break
			}
			return mzML, tokenErr
		}
		switch t := t.(type) {
		case xml.StartElement:
			if t.Name.Local == "mzML" {
				if err := d.DecodeElement(&mzML.content, &t); err != nil {
					return mzML, err
				}
			}
		}
	}

	err := mzML.traverseScan()
	return mzML, err
}

// arrayInfo holds the decoded CV terms of a mzML binarydata section
type arrayInfo struct {
	zlib      bool
	bits64    bool
	mz        bool
	intensity bool
	time      bool
	minutes   bool // time array unit is minutes
}

// binaryDataPars decodes the CV terms in a mzML binarydata section
//
// CV Terms for binary data compression
// MS:1000574 zlib compression
// MS:1000576 No Compression
// MS:1002312 MS-Numpress linear prediction compression
// MS:1002313 MS-Numpress positive integer compression
// MS:1002314 MS-Numpress short logged float compression
// MS:1002746 MS-Numpress linear prediction compression followed by zlib compression
// MS:1002747 MS-Numpress positive integer compression followed by zlib compression
// MS:1002748 MS-Numpress short logged float compression followed by zlib compression
//
// CV Terms for binary data array types
// MS:1000514 m/z array
// MS:1000515 intensity array
// MS:1000595 time array
//
// CV Terms for binary-data-type
// MS:1000521 32-bit float
// MS:1000523 64-bit float
func binaryDataPars(binaryDataArray *binaryDataArray) (arrayInfo, error) {
	var info arrayInfo // Default: no compression, 32 bits
	for _, cvParam := range binaryDataArray.CvPar {
		switch cvParam.Accession {
		case cvZlibCompression:
			info.zlib = true
		case cvMzArray:
			info.mz = true
		case cvIntensityArray:
			info.intensity = true
		case cvTimeArray:
			info.time = true
			info.minutes = cvParam.UnitAccession == unitMinute ||
				cvParam.UnitAccession == unitMinuteDeprecated
		case cvFloat64:
			info.bits64 = true
		case `MS:1002312`, `MS:1002313`, `MS:1002314`,
			`MS:1002746`, `MS:1002747`, `MS:1002748`:
			// MS-Numpress compression types
			return info, fmt.Errorf("%w (CV term %s)", ErrUnsupportedCompression, cvParam.Accession)
		}
	}
	return info, nil
}

// decodeBinary returns the values of a binary data array
func decodeBinary(binaryDataArray *binaryDataArray, info arrayInfo) ([]float64, error) {
	data, err := base64.StdEncoding.DecodeString(binaryDataArray.Binary)
	if err != nil {
		return nil, err
	}
	if info.zlib {
		z, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer z.Close()
		d, err := io.ReadAll(z)
		if err != nil {
			return nil, err
		}
		data = d
	}
	var values []float64
	if info.bits64 {
		cnt := len(data) / 8
		values = make([]float64, cnt)
		for i := 0; i < cnt; i++ {
			bits := binary.LittleEndian.Uint64(data[i*8:])
			values[i] = math.Float64frombits(bits)
		}
	} else {
		cnt := len(data) / 4
		values = make([]float64, cnt)
		for i := 0; i < cnt; i++ {
			bits := binary.LittleEndian.Uint32(data[i*4:])
			values[i] = float64(math.Float32frombits(bits))
		}
	}
	return values, nil
}

func fillScan(p []Peak, binaryDataArray *binaryDataArray) ([]Peak, error) {
	info, err := binaryDataPars(binaryDataArray)
	if err != nil {
		return nil, err
	}
	// We are only interrested in mz and intensity
	if !info.mz && !info.intensity {
		return p, nil
	}
	values, err := decodeBinary(binaryDataArray, info)
	if err != nil {
		return nil, err
	}
	if len(values) > len(p) {
		// defaultArrayLength was wrong, trust the data
		p = append(p, make([]Peak, len(values)-len(p))...)
	}
	for i, v := range values {
		if info.mz {
			p[i].Mz = v
		} else {
			p[i].Intens = v
		}
	}
	return p, nil
}

// NumSpecs returns the number of spectra
func (f *MzML) NumSpecs() int {
	return len(f.content.Run.SpectrumList.Spectrum)
}

// NumChromatograms returns the number of chromatograms
func (f *MzML) NumChromatograms() int {
	return len(f.content.Run.ChromatogramList.Chromatogram)
}

// Classify determines the experiment type: files without spectra but
// with chromatograms hold MRM data, everything else is treated as PRM.
func (f *MzML) Classify() ExperimentType {
	if f.NumSpecs() < 1 && f.NumChromatograms() > 0 {
		return MRM
	}
	return PRM
}

// RetentionTime returns the retention time of a spectrum in seconds
func (f *MzML) RetentionTime(scanIndex int) (float64, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return 0.0, ErrInvalidScanIndex
	}
	for _, scan := range f.content.Run.SpectrumList.Spectrum[scanIndex].ScanList.Scan {
		for _, cvParam := range scan.CvPar {
			if cvParam.Accession == cvScanStartTime {
				retentionTime, err := strconv.ParseFloat(cvParam.Value, 64)
				// Check if the retention time is in minutes, otherwise assume it's seconds
				if cvParam.UnitAccession == unitMinute ||
					cvParam.UnitAccession == unitMinuteDeprecated {
					retentionTime *= 60
				}

				return retentionTime, err
			}
		}
	}
	return -1.0, nil
}

// ReadScan reads a single scan
// n is the sequence number of the scan in the mzML file,
// This is not the same as the scan number that is specified
// in the mzML file! To read a scan using the mzML number,
// use ReadScan(f, ScanIndex(f, scanNum))
func (f *MzML) ReadScan(scanIndex int) ([]Peak, error) {

	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return nil, ErrInvalidScanIndex
	}
	p := make([]Peak, f.content.Run.SpectrumList.Spectrum[scanIndex].DefaultArrayLength)
	var err error
	for _, b := range f.content.Run.SpectrumList.Spectrum[scanIndex].BinaryDataArrayList.BinaryDataArray {
		p, err = fillScan(p, &b)
		if err != nil {
			return p, err

		}
	}
	return p, nil
}

// Centroid returns true is the spectrum contains centroid peaks
func (f *MzML) Centroid(scanIndex int) (bool, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return false, ErrInvalidScanIndex
	}

	for _, cvParam := range f.content.Run.SpectrumList.Spectrum[scanIndex].CvPar {
		if cvParam.Accession == cvCentroidSpectrum {
			return true, nil
		}
	}
	return false, nil
}

// MSLevel returns the MS level of a scan
func (f *MzML) MSLevel(scanIndex int) (int, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return 0, ErrInvalidScanIndex
	}

	for _, cvParam := range f.content.Run.SpectrumList.Spectrum[scanIndex].CvPar {
		if cvParam.Accession == cvMSLevel {
			msLevel, err := strconv.ParseInt(cvParam.Value, 10, 64)
			return int(msLevel), err
		}
	}
	return 1, nil // If nothing else, guess it's MS1
}

// traverseScan traverses all scans,
// collects info of all scans and
// and fills the arrays f.index2id and f.id2Index to make scans accessible
func (f *MzML) traverseScan() error {

	f.index2id = make([]string, f.NumSpecs())
	f.id2Index = make(map[string]int, f.NumSpecs())

	for i := range f.content.Run.SpectrumList.Spectrum {
		if err := f.addSpecToIndex(i); err != nil {
			return err
		}
	}
	for i, c := range f.content.Run.ChromatogramList.Chromatogram {
		if i != c.Index {
			return ErrInvalidChromatogramIndex
		}
	}
	return nil
}

func (f *MzML) addSpecToIndex(i int) error {

	if i != f.content.Run.SpectrumList.Spectrum[i].Index {
		return ErrInvalidScanIndex
	}
	f.index2id[i] = f.content.Run.SpectrumList.Spectrum[i].ID
	f.id2Index[f.content.Run.SpectrumList.Spectrum[i].ID] = i
	return nil
}

// ScanIndex converts a scan identifier (the string used in the mzML file)
// into an index that is used to access the scans
func (f *MzML) ScanIndex(scanID string) (int, error) {
	if index, ok := f.id2Index[scanID]; ok {
		return index, nil
	}
	return 0, ErrInvalidScanID
}

// ScanID converts a scan index (used to access the scan data) into a scan id
// (used in the mzML file)
func (f *MzML) ScanID(scanIndex int) (string, error) {
	if scanIndex >= 0 && scanIndex < f.NumSpecs() {
		return f.index2id[scanIndex], nil
	}
	return "", ErrInvalidScanIndex
}

// GetPrecursors returns the mzML precursus struct for a given scanIndex
func (f *MzML) GetPrecursors(scanIndex int) ([]XMLprecursor, error) {
	if scanIndex >= 0 && scanIndex < f.NumSpecs() {
		var p []XMLprecursor
		if f.content.Run.SpectrumList.Spectrum[scanIndex].PrecursorList != nil {
			p = f.content.Run.SpectrumList.Spectrum[scanIndex].PrecursorList[0].Precursor
		}
		return p, nil
	}
	return nil, ErrInvalidScanIndex
}

// PrecursorMz returns the m/z of the first precursor of a spectrum.
// The selected ion m/z is preferred over the isolation window target.
// The boolean is false if the spectrum has no precursor.
func (f *MzML) PrecursorMz(scanIndex int) (float64, bool, error) {
	precursors, err := f.GetPrecursors(scanIndex)
	if err != nil || len(precursors) == 0 {
		return 0, false, err
	}
	return precursorMz(&precursors[0])
}

func precursorMz(p *XMLprecursor) (float64, bool, error) {
	if p.SelectedIonList != nil {
		for _, ion := range p.SelectedIonList.SelectedIon {
			if mz, ok, err := cvFloat(ion.CvPar, cvSelectedIonMz); ok || err != nil {
				return mz, ok, err
			}
		}
	}
	return cvFloat(p.IsolationWindow.CvPar, cvIsolationWindowMz)
}

// cvFloat returns the value of CV term accession as float
func cvFloat(cvPar []CVParam, accession string) (float64, bool, error) {
	for _, cvParam := range cvPar {
		if cvParam.Accession == accession {
			v, err := strconv.ParseFloat(cvParam.Value, 64)
			if err != nil {
				return 0, false, err
			}
			return v, true, nil
		}
	}
	return 0, false, nil
}

// ChromatogramID returns the id string of a chromatogram
func (f *MzML) ChromatogramID(chromIndex int) (string, error) {
	if chromIndex < 0 || chromIndex >= f.NumChromatograms() {
		return "", ErrInvalidChromatogramIndex
	}
	return f.content.Run.ChromatogramList.Chromatogram[chromIndex].ID, nil
}

// ChromatogramTransition returns the precursor (Q1) and product (Q3) m/z
// of an SRM chromatogram. The boolean is false for chromatograms that are
// not associated with a transition, e.g. the TIC.
func (f *MzML) ChromatogramTransition(chromIndex int) (float64, float64, bool, error) {
	if chromIndex < 0 || chromIndex >= f.NumChromatograms() {
		return 0, 0, false, ErrInvalidChromatogramIndex
	}
	c := &f.content.Run.ChromatogramList.Chromatogram[chromIndex]
	if c.Precursor == nil || c.Product == nil {
		return 0, 0, false, nil
	}
	q1, ok1, err := precursorMz(c.Precursor)
	if err != nil {
		return 0, 0, false, err
	}
	q3, ok3, err := cvFloat(c.Product.IsolationWindow.CvPar, cvIsolationWindowMz)
	if err != nil {
		return 0, 0, false, err
	}
	return q1, q3, ok1 && ok3, nil
}

// ReadChromatogram reads the time/intensity pairs of a chromatogram.
// Time is always returned in seconds.
func (f *MzML) ReadChromatogram(chromIndex int) ([]TimePoint, error) {
	if chromIndex < 0 || chromIndex >= f.NumChromatograms() {
		return nil, ErrInvalidChromatogramIndex
	}
	var times, intens []float64
	c := &f.content.Run.ChromatogramList.Chromatogram[chromIndex]
	for i := range c.BinaryDataArrayList.BinaryDataArray {
		b := &c.BinaryDataArrayList.BinaryDataArray[i]
		info, err := binaryDataPars(b)
		if err != nil {
			return nil, err
		}
		if !info.time && !info.intensity {
			continue
		}
		values, err := decodeBinary(b, info)
		if err != nil {
			return nil, err
		}
		if info.time {
			if info.minutes {
				for j := range values {
					values[j] *= 60
				}
			}
			times = values
		} else {
			intens = values
		}
	}
	if len(times) != len(intens) {
		return nil, fmt.Errorf("chromatogram %d: %w (%d times, %d intensities)",
			chromIndex, ErrLengthMismatch, len(times), len(intens))
	}
	points := make([]TimePoint, len(times))
	for i := range times {
		points[i] = TimePoint{Time: times[i], Intens: intens[i]}
	}
	return points, nil
}
