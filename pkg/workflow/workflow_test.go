package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/labarlab/func-archival/pkg/clients"
	"github.com/labarlab/func-archival/pkg/model"
	"github.com/labarlab/func-archival/pkg/preprocess"
	"github.com/labarlab/func-archival/pkg/slurm"
)

type MockPreprocessor struct {
	mock.Mock
}

func (m *MockPreprocessor) Run(ctx context.Context, req preprocess.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type MockModeler struct {
	mock.Mock
}

func (m *MockModeler) Run(ctx context.Context, req model.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type MockSbatch struct {
	mock.Mock
}

func (m *MockSbatch) Submit(ctx context.Context, scriptPath string) (string, error) {
	args := m.Called(ctx, scriptPath)
	return args.String(0), args.Error(1)
}

func newMocks() (*MockPreprocessor, *MockModeler, *MockSbatch, *clients.Clients) {
	pp, md, sb := &MockPreprocessor{}, &MockModeler{}, &MockSbatch{}
	return pp, md, sb, &clients.Clients{Preprocess: pp, Model: md, Sbatch: sb}
}

func testPaths(t *testing.T) Paths {
	t.Helper()
	proj := t.TempDir()
	return NewPaths(proj, "/work/u/EmoRep", "/work/u/EmoRep/logs/x", "/mnt/keoki")
}

func TestPreprocModel_RunsBothSteps(t *testing.T) {
	pp, md, _, c := newMocks()
	paths := testPaths(t)
	opts := DefaultOptions()
	opts.Subjects = []string{"sub-08326"}
	opts.IgnoreFmaps = true

	pp.On("Run", mock.Anything, preprocess.Request{
		Subject:     "sub-08326",
		Session:     "ses-BAS1",
		ProjRaw:     filepath.Join(paths.ProjDir, "rawdata"),
		ProjPP:      filepath.Join(paths.ProjDir, "derivatives", "pre_processing"),
		WorkDir:     "/work/u/EmoRep",
		LogDir:      "/work/u/EmoRep/logs/x",
		FDThresh:    0.5,
		IgnoreFmaps: true,
		KeokiPath:   "/mnt/keoki",
	}).Return("", nil).Once()
	md.On("Run", mock.Anything, model.Request{
		Subject:     "sub-08326",
		Session:     "ses-BAS1",
		ModelName:   "rest",
		ModelLevel:  "first",
		PreprocType: "scaled",
		ProjRaw:     filepath.Join(paths.ProjDir, "rawdata"),
		ProjDeriv:   filepath.Join(paths.ProjDir, "derivatives"),
		WorkDir:     "/work/u/EmoRep",
		LogDir:      "/work/u/EmoRep/logs/x",
		KeokiPath:   "/mnt/keoki",
	}).Return("", nil).Once()

	require.NoError(t, PreprocModel(context.Background(), c, "sub-08326", "ses-BAS1", paths, opts))
	pp.AssertExpectations(t)
	md.AssertExpectations(t)
}

func TestPreprocModel_SkipsExistingPreprocessing(t *testing.T) {
	pp, md, _, c := newMocks()
	paths := testPaths(t)
	opts := DefaultOptions()

	funcDir := paths.PreprocessedFuncDir("sub-1", "ses-BAS1")
	require.NoError(t, os.MkdirAll(funcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(funcDir, "sub-1_ses-BAS1_task-rest_run-01_desc-scaled_bold.nii.gz"), nil, 0o600))

	md.On("Run", mock.Anything, mock.AnythingOfType("model.Request")).Return("", nil).Once()

	require.NoError(t, PreprocModel(context.Background(), c, "sub-1", "ses-BAS1", paths, opts))
	pp.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	md.AssertExpectations(t)
}

func TestPreprocModel_PreprocessFailureStopsModeling(t *testing.T) {
	pp, md, _, c := newMocks()
	paths := testPaths(t)
	opts := DefaultOptions()

	pp.On("Run", mock.Anything, mock.Anything).Return("line1\nfmriprep: out of memory\n", errors.New("exit status 1"))

	err := PreprocModel(context.Background(), c, "sub-1", "ses-BAS1", paths, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preprocessing sub-1 ses-BAS1: exit status 1")
	assert.Contains(t, err.Error(), "fmriprep: out of memory")
	md.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestPreprocModel_ModelFailurePropagates(t *testing.T) {
	pp, md, _, c := newMocks()
	paths := testPaths(t)
	modelErr := errors.New("feat failed")

	pp.On("Run", mock.Anything, mock.Anything).Return("", nil)
	md.On("Run", mock.Anything, mock.Anything).Return("", modelErr)

	err := PreprocModel(context.Background(), c, "sub-1", "ses-BAS1", paths, DefaultOptions())
	require.ErrorIs(t, err, modelErr)
	assert.Equal(t, "modeling sub-1 ses-BAS1: feat failed", err.Error())
}

func TestPreprocModel_SmoothedReachesModel(t *testing.T) {
	pp, md, _, c := newMocks()
	paths := testPaths(t)
	opts := DefaultOptions()
	opts.PreprocType = PreprocSmoothed

	pp.On("Run", mock.Anything, mock.Anything).Return("", nil)
	md.On("Run", mock.Anything, mock.MatchedBy(func(req model.Request) bool {
		return req.PreprocType == "smoothed"
	})).Return("", nil).Once()

	require.NoError(t, PreprocModel(context.Background(), c, "sub-1", "ses-BAS1", paths, opts))
	md.AssertExpectations(t)
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	pp, md, _, c := newMocks()
	paths := testPaths(t)
	opts := DefaultOptions()
	opts.Subjects = []string{"sub-1", "sub-2", "sub-3"}

	pp.On("Run", mock.Anything, mock.Anything).Return("", nil)
	md.On("Run", mock.Anything, mock.MatchedBy(func(req model.Request) bool { return req.Subject == "sub-1" })).Return("", nil)
	md.On("Run", mock.Anything, mock.MatchedBy(func(req model.Request) bool { return req.Subject == "sub-2" })).Return("", errors.New("boom"))

	err := Run(context.Background(), c, opts, paths)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sub-2")
	pp.AssertNumberOfCalls(t, "Run", 2)
	md.AssertNumberOfCalls(t, "Run", 2)
}

func TestRun_CancelledContext(t *testing.T) {
	_, _, _, c := newMocks()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := DefaultOptions()
	opts.Subjects = []string{"sub-1"}

	require.ErrorIs(t, Run(ctx, c, opts, testPaths(t)), context.Canceled)
}

func TestSubmit_OneJobPerSubject(t *testing.T) {
	_, _, sb, c := newMocks()
	logDir := t.TempDir()
	opts := DefaultOptions()
	opts.Subjects = []string{"sub-1", "sub-2"}

	sb.On("Submit", mock.Anything, filepath.Join(logDir, "run_omnibus_sub-1_ses-BAS1.sh")).Return("Submitted batch job 11\n", nil).Once()
	sb.On("Submit", mock.Anything, filepath.Join(logDir, "run_omnibus_sub-2_ses-BAS1.sh")).Return("Submitted batch job 12\n", nil).Once()

	var rendered []string
	command := func(subject, session string) []string {
		rendered = append(rendered, subject+"/"+session)
		return []string{"func-archival", "--subj-list", subject, "--sessions", session}
	}

	err := Submit(context.Background(), c, opts, logDir, slurm.Resources{Time: "30:00:00", MemMB: 4000}, time.Millisecond, command)
	require.NoError(t, err)
	sb.AssertExpectations(t)
	assert.Equal(t, []string{"sub-1/ses-BAS1", "sub-2/ses-BAS1"}, rendered)

	data, err := os.ReadFile(filepath.Join(logDir, "run_omnibus_sub-2_ses-BAS1.sh"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "func-archival --subj-list sub-2 --sessions ses-BAS1\n"))
}

func TestSubmit_SbatchFailure(t *testing.T) {
	_, _, sb, c := newMocks()
	opts := DefaultOptions()
	opts.Subjects = []string{"sub-1", "sub-2"}

	sb.On("Submit", mock.Anything, mock.Anything).Return("sbatch: error", errors.New("exit status 1")).Once()

	err := Submit(context.Background(), c, opts, t.TempDir(), slurm.Resources{}, 0, func(s, e string) []string { return []string{"x"} })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sub-1 ses-BAS1")
	sb.AssertNumberOfCalls(t, "Submit", 1)
}

func TestTailLines(t *testing.T) {
	assert.Equal(t, "", tailLines("", 3))
	assert.Equal(t, "c\nd", tailLines("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a\nb", tailLines("a\nb\n", 5))
}
