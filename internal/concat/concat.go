// Package concat merges the per-file DeepMRM result tables of a directory
// into one top-1 table and one candidate table.
package concat

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Output file names and the provenance column
const (
	Top1File       = "top1.csv"
	AllFile        = "all.csv"
	FileNameColumn = "File_Name"
)

// ErrNoFiles is returned by Concat for an empty file list
var ErrNoFiles = errors.New("no files to concatenate")

// Group lists the DeepMRM csv files of dir, sorted by name, and splits them
// into top-1 and candidate tables. An unreadable directory is logged and
// gives two empty groups.
func Group(dir string, log logrus.FieldLogger) (top1, all []string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Errorf("The directory '%s' does not exist.", dir)
		case errors.Is(err, os.ErrPermission):
			log.Errorf("Permission denied to access the directory '%s'.", dir)
		default:
			log.Errorf("Cannot read directory '%s': %v", dir, err)
		}
		return nil, nil
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") || !strings.Contains(name, "DeepMRM") {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	for _, f := range files {
		if strings.Contains(f, "top1") {
			top1 = append(top1, f)
		} else {
			all = append(all, f)
		}
	}
	return top1, all
}

type table struct {
	header []string
	rows   []map[string]string
}

func readTable(path string) (table, error) {
	var t table
	f, err := os.Open(path)
	if err != nil {
		return t, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	t.header, err = r.Read()
	if err == io.EOF {
		return t, nil
	}
	if err != nil {
		return t, err
	}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return t, err
		}
		row := make(map[string]string, len(t.header))
		for i, h := range t.header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// Concat writes the rows of all files (names relative to inDir) into
// outDir/name with an extra File_Name column naming the source file. The
// columns are the union of all headers in order of first appearance; cells
// a file does not have are left empty. outDir is created if needed.
func Concat(files []string, inDir, outDir, name string) (string, error) {
	if len(files) == 0 {
		return "", ErrNoFiles
	}
	var header []string
	seen := make(map[string]bool)
	tables := make([]table, len(files))
	for i, file := range files {
		t, err := readTable(filepath.Join(inDir, file))
		if err != nil {
			return "", fmt.Errorf("%s: %w", file, err)
		}
		tables[i] = t
		for _, h := range t.header {
			if !seen[h] && h != FileNameColumn {
				seen[h] = true
				header = append(header, h)
			}
		}
	}
	header = append(header, FileNameColumn)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	outPath := filepath.Join(outDir, name)
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		out.Close()
		return "", err
	}
	for i, t := range tables {
		for _, row := range t.rows {
			rec := make([]string, len(header))
			for j, h := range header[:len(header)-1] {
				rec[j] = row[h]
			}
			rec[len(header)-1] = files[i]
			if err := w.Write(rec); err != nil {
				out.Close()
				return "", err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		out.Close()
		return "", err
	}
	return outPath, out.Close()
}

// Run groups the result files of inDir and writes top1.csv and all.csv to
// outDir. Missing groups are logged and skipped.
func Run(inDir, outDir string, log logrus.FieldLogger) error {
	top1, all := Group(inDir, log)
	groups := []struct {
		files []string
		name  string
		label string
	}{
		{top1, Top1File, "top1"},
		{all, AllFile, "all"},
	}
	for _, g := range groups {
		if len(g.files) == 0 {
			log.Infof("No '%s' files found to concatenate.", g.label)
			continue
		}
		path, err := Concat(g.files, inDir, outDir, g.name)
		if err != nil {
			return err
		}
		log.WithField("files", len(g.files)).Infof("Concatenated '%s' CSV file saved to %s", g.label, path)
	}
	return nil
}
