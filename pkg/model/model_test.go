package model

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labarlab/func-archival/pkg/runner"
)

func TestModelCmdRunner_Run(t *testing.T) {
	fake := &runner.FakeCommandRunner{}
	m := NewModelCmdRunner(fake, "func_model", []string{"FSLDIR=/opt/fsl"})

	_, err := m.Run(context.Background(), Request{
		Subject:     "sub-08326",
		Session:     "ses-BAS1",
		ModelName:   "rest",
		ModelLevel:  "first",
		PreprocType: "smoothed",
		ProjRaw:     "/proj/rawdata",
		ProjDeriv:   "/proj/derivatives",
		WorkDir:     "/work",
		LogDir:      "/work/logs",
	})
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"func_model",
		"--subject", "sub-08326",
		"--session", "ses-BAS1",
		"--model-name", "rest",
		"--model-level", "first",
		"--preproc-type", "smoothed",
		"--proj-raw", "/proj/rawdata",
		"--proj-deriv", "/proj/derivatives",
		"--work-dir", "/work",
		"--log-dir", "/work/logs",
	}, calls[0].Args)
	assert.Equal(t, []string{"FSLDIR=/opt/fsl"}, calls[0].Env)
}

func TestInspectOutputs(t *testing.T) {
	dir := t.TempDir()

	out, err := InspectOutputs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{ConfoundsFiles, ConfoundsProportions, DesignFiles, "*.feat"}, out.Missing())

	for _, d := range []string{ConfoundsFiles, ConfoundsProportions, DesignFiles, "run-01_level-first_name-rest.feat"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, d), 0o755))
	}
	// a stray file with a .feat suffix is not a feat directory
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.feat"), nil, 0o600))

	out, err = InspectOutputs(dir)
	require.NoError(t, err)
	assert.Empty(t, out.Missing())
	assert.Equal(t, []string{"run-01_level-first_name-rest.feat"}, out.Feat)
}

func TestInspectOutputs_LiteralPaths(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proj[1", "func")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "run-01.feat"), 0o755))

	out, err := InspectOutputs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-01.feat"}, out.Feat)
}
