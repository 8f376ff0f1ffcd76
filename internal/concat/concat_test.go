package concat

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func TestGroup(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"DeepMRM_b_top1.csv": "x\n",
		"DeepMRM_a_top1.csv": "x\n",
		"DeepMRM_c.csv":      "x\n",
		"other.csv":          "x\n",
		"DeepMRM_d.tsv":      "x\n",
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "DeepMRM_dir.csv"), 0o755))

	logger, _ := test.NewNullLogger()
	top1, all := Group(dir, logger)
	require.Equal(t, []string{"DeepMRM_a_top1.csv", "DeepMRM_b_top1.csv"}, top1)
	require.Equal(t, []string{"DeepMRM_c.csv"}, all)
}

func TestGroupMissingDir(t *testing.T) {
	logger, hook := test.NewNullLogger()
	top1, all := Group(filepath.Join(t.TempDir(), "missing"), logger)
	require.Empty(t, top1)
	require.Empty(t, all)
	require.Len(t, hook.Entries, 1)
	require.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	require.Contains(t, hook.LastEntry().Message, "does not exist")
}

func TestRun(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "merged")
	writeFiles(t, in, map[string]string{
		"DeepMRM_a_top1.csv": "peptide_id,light_area\nPEP1,10\nPEP2,\n",
		"DeepMRM_b_top1.csv": "peptide_id,light_area,heavy_area\nPEP3,30,31\n",
		"DeepMRM_c.csv":      "peptide_id,rank\nPEP1,0\nPEP1,1\n",
	})
	logger, _ := test.NewNullLogger()
	require.NoError(t, Run(in, out, logger))

	b, err := os.ReadFile(filepath.Join(out, Top1File))
	require.NoError(t, err)
	require.Equal(t,
		"peptide_id,light_area,heavy_area,File_Name\n"+
			"PEP1,10,,DeepMRM_a_top1.csv\n"+
			"PEP2,,,DeepMRM_a_top1.csv\n"+
			"PEP3,30,31,DeepMRM_b_top1.csv\n",
		string(b))

	b, err = os.ReadFile(filepath.Join(out, AllFile))
	require.NoError(t, err)
	require.Equal(t,
		"peptide_id,rank,File_Name\n"+
			"PEP1,0,DeepMRM_c.csv\n"+
			"PEP1,1,DeepMRM_c.csv\n",
		string(b))
}

func TestRunEmpty(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "merged")
	logger, hook := test.NewNullLogger()
	require.NoError(t, Run(in, out, logger))
	require.Len(t, hook.Entries, 2)
	_, err := os.Stat(filepath.Join(out, Top1File))
	require.True(t, errors.Is(err, os.ErrNotExist))

	_, err = Concat(nil, in, out, AllFile)
	require.ErrorIs(t, err, ErrNoFiles)
}
