package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDataset(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	all := append([]string{"dataset_description.json"}, files...)
	for _, f := range all {
		p := filepath.Join(dir, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestRoot_Generate(t *testing.T) {
	src := writeDataset(t,
		"sub-01/anat/sub-01_T1w.nii.gz",
		"sub-01/func/sub-01_task-rest_bold.nii.gz",
	)
	dst := filepath.Join(t.TempDir(), "out")

	out, err := execute(t, "--source", src, "--destination", dst)
	require.NoError(t, err)
	assert.Contains(t, out, "JSON files: "+filepath.Join(dst, "prepared_jsons"))
	assert.Contains(t, out, "YAML files: "+filepath.Join(dst, "prepared_yamls"))

	assert.FileExists(t, filepath.Join(dst, "prepared_jsons", "image03_inputs.anat.T1w.json"))
	assert.FileExists(t, filepath.Join(dst, "prepared_yamls", "image03_inputs.anat.T1w.yaml"))
	assert.FileExists(t, filepath.Join(dst, "prepared_yamls", "image03_inputs.func.task-rest_bold.yaml"))

	yml, err := os.ReadFile(filepath.Join(dst, "prepared_yamls", "image03_inputs.anat.T1w.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(yml), "scan_type: MR structural (T1)")
	assert.Contains(t, string(yml), "image_modality: MRI")

	out, err = execute(t, "check", dst)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
}

func TestRoot_ShortFlags(t *testing.T) {
	src := writeDataset(t, "sub-01/anat/sub-01_T2w.nii.gz")
	dst := t.TempDir()

	_, err := execute(t, "-s", src, "-d", dst)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dst, "prepared_jsons", "image03_inputs.anat.T2w.json"))
}

func TestRoot_ManifestPerVariant(t *testing.T) {
	src := writeDataset(t,
		"sub-01/anat/sub-01_T1w.nii.gz",
		"sub-01/anat/sub-01_acq-hires_T2w.nii.gz",
	)
	manifest := func(dst string) string {
		data, err := os.ReadFile(filepath.Join(dst, "prepared_jsons", "image03_inputs.anat.T1w.json"))
		require.NoError(t, err)
		return string(data)
	}

	dst := t.TempDir()
	_, err := execute(t, "-s", src, "-d", dst)
	require.NoError(t, err)
	assert.Contains(t, manifest(dst), "acq-hires_T2w")

	dst = t.TempDir()
	_, err = execute(t, "-s", src, "-d", dst, "--manifest-per-variant")
	require.NoError(t, err)
	assert.NotContains(t, manifest(dst), "acq-hires_T2w")
	assert.Contains(t, manifest(dst), "sub-{SUBJECT}_T1w.nii.gz")
}

func TestRoot_RequiredFlags(t *testing.T) {
	_, err := execute(t, "--source", t.TempDir())
	assert.Error(t, err)
}

func TestRoot_NotADataset(t *testing.T) {
	src := t.TempDir()
	_, err := execute(t, "-s", src, "-d", t.TempDir())
	assert.Error(t, err)

	_, err = execute(t, "-s", src, "-d", t.TempDir(), "--validate=false")
	assert.NoError(t, err)
}

func TestRoot_UnknownDatatype(t *testing.T) {
	src := writeDataset(t, "sub-01/beh/sub-01_task-stroop_events.tsv")

	_, err := execute(t, "-s", src, "-d", t.TempDir())
	assert.Error(t, err)

	_, err = execute(t, "-s", src, "-d", t.TempDir(), "--skip-unknown-datatypes")
	assert.NoError(t, err)
}

func TestRoot_Tables(t *testing.T) {
	src := writeDataset(t, "sub-01/anat/sub-01_FLAIR.nii.gz")
	dst := t.TempDir()
	tables := filepath.Join(t.TempDir(), "tables.hcl")
	require.NoError(t, os.WriteFile(tables, []byte(`
prefix = "image03"
scan_type "anat" {
  labels = { flair = "MR structural (FLAIR)" }
}
`), 0o644))

	_, err := execute(t, "-s", src, "-d", dst, "--tables", tables)
	require.NoError(t, err)

	yml, err := os.ReadFile(filepath.Join(dst, "prepared_yamls", "image03_inputs.anat.FLAIR.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(yml), "MR structural (FLAIR)")
}

func TestIndexAndDatabasePath(t *testing.T) {
	src := writeDataset(t, "sub-01/anat/sub-01_T1w.nii.gz")
	db := filepath.Join(t.TempDir(), "layout.db")

	out, err := execute(t, "index", "-s", src, db)
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 2 files")
	assert.FileExists(t, db)

	// A file added after indexing is invisible until the index is reset.
	extra := filepath.Join(src, "sub-01", "anat", "sub-01_T2w.nii.gz")
	require.NoError(t, os.WriteFile(extra, nil, 0o644))

	dst := t.TempDir()
	_, err = execute(t, "-s", src, "-d", dst, "--database-path", db)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dst, "prepared_yamls", "image03_inputs.anat.T2w.yaml"))

	_, err = execute(t, "-s", src, "-d", dst, "--database-path", db, "--reset-database")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dst, "prepared_yamls", "image03_inputs.anat.T2w.yaml"))
}

func TestCheck_Problems(t *testing.T) {
	dst := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dst, "prepared_jsons"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "prepared_jsons", "image03_inputs.anat.T1w.json"), []byte(`{"a":"a"}`), 0o644))

	out, err := execute(t, "check", dst)
	assert.Error(t, err)
	assert.Contains(t, out, "no matching descriptor")
}
