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
)

// New returns an empty mzML run that can be filled with
// AddSpectrum and AddChromatogram and then written.
func New(runID string) MzML {
	var f MzML
	f.content.XMLName = xml.Name{Space: "http://psi.hupo.org/ms/mzml", Local: "mzML"}
	f.content.SoftwareList = &softwareList{}
	f.content.DataProcessingList = &dataProcessingList{}
	f.content.Run.ID = runID
	f.id2Index = make(map[string]int)
	return f
}

func (f *MzML) Write(writer io.Writer) error {
	if _, err := writer.Write(([]byte)(
		`<?xml version="1.0" encoding="utf-8"?>
`)); err != nil {
		return err
	}
	enc := xml.NewEncoder(writer)
	// FIXME: We want readable XML, with XML tags starting on a new line.
	// GO's Encode doesn't always insert newlines, and using
	// Indent only works if the indent string is not empty,
	// resuling in a single space indent.
	enc.Indent(` `, `  `)
	var content mzMLContentWrite

	content.XMLName = f.content.XMLName
	content.Sl1 = "http://psi.hupo.org/ms/mzml http://psidev.info/files/ms/mzML/xsd/mzML1.1.0.xsd"
	content.Version = "1.1.0"
	content.Sl2 = "http://www.w3.org/2001/XMLSchema-instance"
	content.CvList = f.content.CvList
	content.FileDescription = f.content.FileDescription
	content.ReferenceableParamGroupList = f.content.ReferenceableParamGroupList
	content.SoftwareList = f.content.SoftwareList
	content.InstrumentConfigurationList = f.content.InstrumentConfigurationList
	content.DataProcessingList = f.content.DataProcessingList
	content.Run = f.content.Run

	return enc.Encode(&content)
}

// AppendSoftwareInfo adds info to the SoftwareList tag of the mzML file
func (f *MzML) AppendSoftwareInfo(id string, version string) {
	if f.content.SoftwareList == nil {
		f.content.SoftwareList = &softwareList{}
	}
	f.content.SoftwareList.Count++
	f.content.SoftwareList.Software = append(f.content.SoftwareList.Software,
		software{ID: id, Version: version})
}

// AppendDataProcessing adds info to the DataProcessing tag of the mzML file
func (f *MzML) AppendDataProcessing(proc DataProcessing) {
	if f.content.DataProcessingList == nil {
		f.content.DataProcessingList = &dataProcessingList{}
	}
	f.content.DataProcessingList.Count++
	f.content.DataProcessingList.DataProcessingd = append(f.content.DataProcessingList.DataProcessingd, proc)
}

// AddChromatogram appends an SRM chromatogram for transition q1/q3.
// Times are in seconds.
func (f *MzML) AddChromatogram(id string, q1, q3 float64, points []TimePoint) error {
	times := make([]float64, len(points))
	intens := make([]float64, len(points))
	for i, p := range points {
		times[i] = p.Time
		intens[i] = p.Intens
	}
	timeArr, err := newBinaryDataArray(times, CVParam{
		Accession:     cvTimeArray,
		Name:          "time array",
		UnitCvRef:     "UO",
		UnitAccession: unitSecond,
		UnitName:      "second",
	})
	if err != nil {
		return err
	}
	intensArr, err := newBinaryDataArray(intens, CVParam{
		Accession: cvIntensityArray,
		Name:      "intensity array",
	})
	if err != nil {
		return err
	}

	list := &f.content.Run.ChromatogramList
	list.Chromatogram = append(list.Chromatogram, chromatogram{
		Index:              len(list.Chromatogram),
		ID:                 id,
		DefaultArrayLength: int64(len(points)),
		CvPar:              []CVParam{{Accession: cvSRMChromatogram, Name: "selected reaction monitoring chromatogram"}},
		Precursor: &XMLprecursor{
			IsolationWindow: isolationWindow{CvPar: []CVParam{mzParam(cvIsolationWindowMz, "isolation window target m/z", q1)}},
		},
		Product: &chromProduct{
			IsolationWindow: isolationWindow{CvPar: []CVParam{mzParam(cvIsolationWindowMz, "isolation window target m/z", q3)}},
		},
		BinaryDataArrayList: binaryDataArrayList{
			Count:           2,
			BinaryDataArray: []binaryDataArray{timeArr, intensArr},
		},
	})
	list.Count = len(list.Chromatogram)
	return nil
}

// AddSpectrum appends a centroided spectrum. precursorMz is ignored for
// MS1 spectra. Retention time is in seconds.
func (f *MzML) AddSpectrum(id string, msLevel int, retentionTime float64,
	precursorMz float64, peaks []Peak) error {
	mz := make([]float64, len(peaks))
	intens := make([]float64, len(peaks))
	for i, p := range peaks {
		mz[i] = p.Mz
		intens[i] = p.Intens
	}
	mzArr, err := newBinaryDataArray(mz, CVParam{Accession: cvMzArray, Name: "m/z array"})
	if err != nil {
		return err
	}
	intensArr, err := newBinaryDataArray(intens, CVParam{Accession: cvIntensityArray, Name: "intensity array"})
	if err != nil {
		return err
	}

	list := &f.content.Run.SpectrumList
	spec := spectrum{
		Index:              len(list.Spectrum),
		ID:                 id,
		DefaultArrayLength: int64(len(peaks)),
		CvPar: []CVParam{
			{Accession: cvMSLevel, Name: "ms level", Value: strconv.Itoa(msLevel)},
			{Accession: cvCentroidSpectrum, Name: "centroid spectrum"},
		},
		ScanList: scanList{
			Count: 1,
			Scan: []scan{{CvPar: []CVParam{{
				Accession:     cvScanStartTime,
				Name:          "scan start time",
				Value:         strconv.FormatFloat(retentionTime, 'f', -1, 64),
				UnitCvRef:     "UO",
				UnitAccession: unitSecond,
				UnitName:      "second",
			}}}},
		},
		BinaryDataArrayList: binaryDataArrayList{
			Count:           2,
			BinaryDataArray: []binaryDataArray{mzArr, intensArr},
		},
	}
	if msLevel > 1 {
		spec.PrecursorList = []precursorList{{
			Count: 1,
			Precursor: []XMLprecursor{{
				IsolationWindow: isolationWindow{CvPar: []CVParam{mzParam(cvIsolationWindowMz, "isolation window target m/z", precursorMz)}},
				SelectedIonList: &selectedIonList{
					Count:       1,
					SelectedIon: []selectedIon{{CvPar: []CVParam{mzParam(cvSelectedIonMz, "selected ion m/z", precursorMz)}}},
				},
			}},
		}}
	}
	if _, dup := f.id2Index[id]; dup {
		return fmt.Errorf("duplicate spectrum id %q", id)
	}
	list.Spectrum = append(list.Spectrum, spec)
	list.Count = len(list.Spectrum)
	f.index2id = append(f.index2id, id)
	f.id2Index[id] = spec.Index
	return nil
}

func mzParam(accession, name string, mz float64) CVParam {
	return CVParam{
		Accession:     accession,
		Name:          name,
		Value:         strconv.FormatFloat(mz, 'f', 8, 64),
		UnitCvRef:     "MS",
		UnitAccession: "MS:1000040",
		UnitName:      "m/z",
	}
}

// newBinaryDataArray encodes values as zlib compressed 64-bit floats
func newBinaryDataArray(values []float64, kind CVParam) (binaryDataArray, error) {
	b64, err := encodeBinary(values, true, true)
	if err != nil {
		return binaryDataArray{}, err
	}
	return binaryDataArray{
		EncodedLength: len(b64),
		ArrayLength:   len(values),
		CvPar: []CVParam{
			{Accession: cvFloat64, Name: "64-bit float"},
			{Accession: cvZlibCompression, Name: "zlib compression"},
			kind,
		},
		Binary: b64,
	}, nil
}

func encodeBinary(values []float64, zlibCompression bool, bits64 bool) (
	string, error) {

	var data []byte
	var rawUncompressed []byte

	if bits64 {
		// Allocate room for uncompressed binary data
		rawUncompressed = make([]byte, len(values)*8)
		for i, v := range values {
			binary.LittleEndian.PutUint64(rawUncompressed[(8*i):], math.Float64bits(v))
		}
	} else {
		rawUncompressed = make([]byte, len(values)*4)
		for i, v := range values {
			binary.LittleEndian.PutUint32(rawUncompressed[(4*i):], math.Float32bits(float32(v)))
		}
	}
	if zlibCompression {
		var b bytes.Buffer
		z := zlib.NewWriter(&b)
		if _, err := z.Write(rawUncompressed); err != nil {
			return "", err
		}
		// zlib writer must explicitly be closed here, otherwise result is invalid
		if err := z.Close(); err != nil {
			return "", err
		}
		data = b.Bytes()
	} else {
		data = rawUncompressed
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
