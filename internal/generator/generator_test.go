package generator

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"testing"

	"github.com/agentic-research/bids2nda/api"
	"github.com/agentic-research/bids2nda/internal/bids"
	"github.com/agentic-research/bids2nda/internal/config"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func scanDataset(t *testing.T, files ...string) *bids.Layout {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/"+bids.DescriptionFile, []byte(`{"Name":"test"}`), 0o644))
	for _, f := range files {
		require.NoError(t, util.WriteFile(fs, "/"+f, nil, 0o644))
	}
	layout, err := bids.Scan(fs, "/data/ds", bids.Options{Derivatives: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return layout
}

func run(t *testing.T, layout *bids.Layout) (billy.Filesystem, Summary) {
	t.Helper()
	out := memfs.New()
	g, err := New(Config{Tables: config.Default(), Layout: layout, Output: out, Logger: zerolog.Nop()})
	require.NoError(t, err)
	summary, err := g.Run(context.Background())
	require.NoError(t, err)
	return out, summary
}

func listDir(t *testing.T, fs billy.Filesystem, dir string) []string {
	t.Helper()
	infos, err := fs.ReadDir("/" + dir)
	require.NoError(t, err)
	var names []string
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names
}

func readDescriptor(t *testing.T, fs billy.Filesystem, name string) api.Descriptor {
	t.Helper()
	data, err := util.ReadFile(fs, "/"+path.Join(YAMLDir, name))
	require.NoError(t, err)
	var d api.Descriptor
	require.NoError(t, yaml.Unmarshal(data, &d))
	return d
}

func readManifest(t *testing.T, fs billy.Filesystem, name string) api.Manifest {
	t.Helper()
	data, err := util.ReadFile(fs, "/"+path.Join(JSONDir, name))
	require.NoError(t, err)
	var m api.Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestRun_SingleT1w(t *testing.T) {
	layout := scanDataset(t, "sub-01/anat/sub-01_T1w.nii.gz")
	out, summary := run(t, layout)

	require.Len(t, summary.Names, 1)
	assert.Equal(t, "image03_inputs.anat.T1w", summary.Names[0].Stem())

	assert.Equal(t, []string{"image03_inputs.anat.T1w.json"}, listDir(t, out, JSONDir))
	assert.Equal(t, []string{"image03_inputs.anat.T1w.yaml"}, listDir(t, out, YAMLDir))

	d := readDescriptor(t, out, "image03_inputs.anat.T1w.yaml")
	assert.Equal(t, api.Descriptor{
		ImageFileFormat:         "NIFTI",
		ImageModality:           "MRI",
		ScanObject:              "Live",
		ScanType:                "MR structural (T1)",
		TransformationPerformed: "No",
	}, d)

	m := readManifest(t, out, "image03_inputs.anat.T1w.json")
	assert.Equal(t, api.Manifest{
		"sub-{SUBJECT}/anat/sub-{SUBJECT}_T1w.nii.gz": "sub-{SUBJECT}/anat/sub-{SUBJECT}_T1w.nii.gz",
	}, m)
}

func TestRun_PairsMatchObservedCombinations(t *testing.T) {
	layout := scanDataset(t,
		"sub-01/ses-01/anat/sub-01_ses-01_T1w.nii.gz",
		"sub-01/ses-01/anat/sub-01_ses-01_T1w.json",
		"sub-01/ses-01/anat/sub-01_ses-01_acq-hires_T2w.nii.gz",
		"sub-01/ses-01/func/sub-01_ses-01_task-rest_bold.nii.gz",
		"sub-01/ses-01/dwi/sub-01_ses-01_dwi.nii.gz",
		"sub-01/ses-01/fmap/sub-01_ses-01_dir-AP_epi.nii.gz",
		"sub-01/ses-01/pet/sub-01_ses-01_trc-FDG_pet.nii.gz",
		"derivatives/fmriprep/dataset_description.json",
		"derivatives/fmriprep/sub-01/ses-01/anat/sub-01_ses-01_space-MNI_desc-preproc_T1w.nii.gz",
	)
	out, summary := run(t, layout)

	var stems []string
	for _, n := range summary.Names {
		stems = append(stems, n.Stem())
	}
	assert.Equal(t, []string{
		"image03_inputs.anat.T1w",
		"image03_inputs.anat.acquisition-hires_T2w",
		"image03_inputs.fmap.direction-AP_epi",
		"image03_inputs.fmap.fmap-epi_epi",
		"image03_inputs.func.task-rest_bold",
		"image03_inputs.pet.tracer-FDG",
		"image03_derivatives.anat.MNI_T1w",
	}, stems, "dwi contributes nothing: its suffix equals its datatype")

	jsons := listDir(t, out, JSONDir)
	yamls := listDir(t, out, YAMLDir)
	assert.Len(t, jsons, len(summary.Names))
	assert.Len(t, yamls, len(summary.Names))

	tables := config.Default()
	for _, n := range summary.Names {
		d := readDescriptor(t, out, n.YAML())
		want, err := tables.Modality(n.Datatype)
		require.NoError(t, err)
		assert.Equal(t, want, d.ImageModality, n.Stem())
	}

	assert.Equal(t, "PET", readDescriptor(t, out, "image03_inputs.pet.tracer-FDG.yaml").ScanType)
	assert.Equal(t, "", readDescriptor(t, out, "image03_inputs.func.task-rest_bold.yaml").ScanType)

	anat := []string{
		"sub-{SUBJECT}/ses-{SESSION}/anat/sub-{SUBJECT}_ses-{SESSION}_T1w.json",
		"sub-{SUBJECT}/ses-{SESSION}/anat/sub-{SUBJECT}_ses-{SESSION}_T1w.nii.gz",
		"sub-{SUBJECT}/ses-{SESSION}/anat/sub-{SUBJECT}_ses-{SESSION}_acq-hires_T2w.nii.gz",
	}
	assert.Equal(t, anat, sortedKeys(readManifest(t, out, "image03_inputs.anat.T1w.json")))
	assert.Equal(t, anat, sortedKeys(readManifest(t, out, "image03_inputs.anat.acquisition-hires_T2w.json")))

	m := readManifest(t, out, "image03_inputs.func.task-rest_bold.json")
	assert.Equal(t, []string{
		"sub-{SUBJECT}/ses-{SESSION}/func/sub-{SUBJECT}_ses-{SESSION}_task-rest_bold.nii.gz",
	}, sortedKeys(m))

	m = readManifest(t, out, "image03_derivatives.anat.MNI_T1w.json")
	assert.Equal(t, []string{
		"derivatives/fmriprep/sub-{SUBJECT}/ses-{SESSION}/anat/sub-{SUBJECT}_ses-{SESSION}_space-MNI_desc-preproc_T1w.nii.gz",
	}, sortedKeys(m))
}

func TestRun_ManifestListsWholeGroup(t *testing.T) {
	layout := scanDataset(t,
		"sub-01/anat/sub-01_T1w.nii.gz",
		"sub-01/anat/sub-01_acq-hires_T2w.nii.gz",
	)
	t1 := "sub-{SUBJECT}/anat/sub-{SUBJECT}_T1w.nii.gz"
	t2 := "sub-{SUBJECT}/anat/sub-{SUBJECT}_acq-hires_T2w.nii.gz"

	t.Run("default", func(t *testing.T) {
		out, summary := run(t, layout)
		require.Len(t, summary.Names, 2)
		for _, n := range summary.Names {
			assert.Equal(t, api.Manifest{t1: t1, t2: t2}, readManifest(t, out, n.JSON()), n.Stem())
		}
	})

	t.Run("per variant", func(t *testing.T) {
		out := memfs.New()
		g, err := New(Config{Tables: config.Default(), Layout: layout, Output: out, ManifestPerVariant: true, Logger: zerolog.Nop()})
		require.NoError(t, err)
		_, err = g.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, api.Manifest{t1: t1}, readManifest(t, out, "image03_inputs.anat.T1w.json"))
		assert.Equal(t, api.Manifest{t2: t2}, readManifest(t, out, "image03_inputs.anat.acquisition-hires_T2w.json"))
	})
}

func TestRun_DerivativeEntityNames(t *testing.T) {
	layout := scanDataset(t,
		"sub-01/anat/sub-01_inv-1_mt-on_MP2RAGE.nii.gz",
		"derivatives/smriprep/dataset_description.json",
		"derivatives/smriprep/sub-01/anat/sub-01_res-2_T1w.nii.gz",
		"derivatives/smriprep/sub-01/anat/sub-01_proc-norm_T1w.nii.gz",
		"derivatives/smriprep/sub-01/anat/sub-01_hemi-L_T1w.nii.gz",
	)
	_, summary := run(t, layout)

	var stems []string
	for _, n := range summary.Names {
		stems = append(stems, n.Stem())
	}
	assert.Equal(t, []string{
		"image03_inputs.anat.inv-1_MP2RAGE",
		"image03_inputs.anat.mt-on_MP2RAGE",
		"image03_derivatives.anat.hemi-L_T1w",
		"image03_derivatives.anat.proc-norm_T1w",
		"image03_derivatives.anat.res-2_T1w",
	}, stems)
}

func TestRun_Idempotent(t *testing.T) {
	layout := scanDataset(t,
		"sub-01/anat/sub-01_T1w.nii.gz",
		"sub-02/anat/sub-02_T1w.nii.gz",
		"sub-01/func/sub-01_task-nback_run-1_bold.nii.gz",
		"sub-01/func/sub-01_task-nback_run-2_bold.nii.gz",
	)
	first, _ := run(t, layout)
	second, _ := run(t, layout)

	for _, dir := range []string{JSONDir, YAMLDir} {
		names := listDir(t, first, dir)
		require.Equal(t, names, listDir(t, second, dir))
		for _, name := range names {
			a, err := util.ReadFile(first, "/"+path.Join(dir, name))
			require.NoError(t, err)
			b, err := util.ReadFile(second, "/"+path.Join(dir, name))
			require.NoError(t, err)
			assert.Equal(t, a, b, name)
		}
	}

	// Overwriting in place gives the same bytes too.
	g, err := New(Config{Tables: config.Default(), Layout: layout, Output: first, Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, err = g.Run(context.Background())
	require.NoError(t, err)
	a, err := util.ReadFile(first, "/"+path.Join(JSONDir, "image03_inputs.func.run-1_bold.json"))
	require.NoError(t, err)
	b, err := util.ReadFile(second, "/"+path.Join(JSONDir, "image03_inputs.func.run-1_bold.json"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRun_UnknownDatatype(t *testing.T) {
	layout := scanDataset(t,
		"sub-01/anat/sub-01_T1w.nii.gz",
		"sub-01/beh/sub-01_task-stroop_events.tsv",
	)

	out := memfs.New()
	g, err := New(Config{Tables: config.Default(), Layout: layout, Output: out, Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, err = g.Run(context.Background())
	assert.ErrorIs(t, err, config.ErrUnknownDatatype)

	g, err = New(Config{Tables: config.Default(), Layout: layout, Output: memfs.New(), SkipUnknownDatatypes: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	summary, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Names, 1)
	assert.Equal(t, "anat", summary.Names[0].Datatype)
}

func TestRun_Canceled(t *testing.T) {
	layout := scanDataset(t, "sub-01/anat/sub-01_T1w.nii.gz")
	g, err := New(Config{Tables: config.Default(), Layout: layout, Output: memfs.New()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Output: memfs.New()})
	assert.Error(t, err)
	_, err = New(Config{Layout: bids.NewLayout("ds")})
	assert.Error(t, err)
}

func TestMarshalManifest(t *testing.T) {
	data, err := MarshalManifest(api.Manifest{"b/<x>": "b/<x>", "a": "a"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": \"a\",\n  \"b/<x>\": \"b/<x>\"\n}", string(data))

	data, err = MarshalManifest(api.Manifest{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
