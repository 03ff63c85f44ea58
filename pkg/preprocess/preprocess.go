package preprocess

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/labarlab/func-archival/pkg/runner"
)

// Request carries the parameters of one preprocessing call for a single
// subject and session.
type Request struct {
	Subject      string
	Session      string
	ProjRaw      string
	ProjPP       string
	WorkDir      string
	LogDir       string
	FDThresh     float64
	IgnoreFmaps  bool
	NoFreesurfer bool
	KeokiPath    string
}

// Args renders the request as entry point arguments.
func (r Request) Args() []string {
	args := []string{
		"--subject", r.Subject,
		"--session", r.Session,
		"--proj-raw", r.ProjRaw,
		"--proj-pp", r.ProjPP,
		"--work-dir", r.WorkDir,
		"--log-dir", r.LogDir,
		"--fd-thresh", strconv.FormatFloat(r.FDThresh, 'f', -1, 64),
	}
	if r.IgnoreFmaps {
		args = append(args, "--ignore-fmaps")
	}
	if r.NoFreesurfer {
		args = append(args, "--no-freesurfer")
	}
	if r.KeokiPath != "" {
		args = append(args, "--keoki-path", r.KeokiPath)
	}
	return args
}

type Preprocessor interface {
	Run(ctx context.Context, req Request) (string, error)
}

// PreprocessCmdRunner invokes the external preprocessing entry point.
type PreprocessCmdRunner struct {
	runner runner.CommandRunner
	bin    string
	env    []string
}

var _ Preprocessor = &PreprocessCmdRunner{}

func NewPreprocessCmdRunner(runner runner.CommandRunner, bin string, env []string) Preprocessor {
	return &PreprocessCmdRunner{
		runner: runner,
		bin:    bin,
		env:    env,
	}
}

func (p *PreprocessCmdRunner) Run(ctx context.Context, req Request) (string, error) {
	return p.runner.RunCommandEnv(ctx, p.env, append([]string{p.bin}, req.Args()...)...)
}

// Done reports whether funcDir already holds preprocessed BOLD runs of the
// given type, e.g. sub-X_ses-Y_task-rest_run-01_desc-scaled_bold.nii.gz.
// A missing funcDir means nothing has been preprocessed yet.
func Done(funcDir, preprocType string) (bool, error) {
	entries, err := os.ReadDir(funcDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s for %s output: %w", funcDir, preprocType, err)
	}
	suffix := preprocType + "_bold.nii.gz"
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			return true, nil
		}
	}
	return false, nil
}
