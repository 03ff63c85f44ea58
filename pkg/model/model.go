package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/labarlab/func-archival/pkg/runner"
)

// Request carries the parameters of one first-level modeling call.
type Request struct {
	Subject     string
	Session     string
	ModelName   string
	ModelLevel  string
	PreprocType string
	ProjRaw     string
	ProjDeriv   string
	WorkDir     string
	LogDir      string
	KeokiPath   string
}

func (r Request) Args() []string {
	args := []string{
		"--subject", r.Subject,
		"--session", r.Session,
		"--model-name", r.ModelName,
		"--model-level", r.ModelLevel,
		"--preproc-type", r.PreprocType,
		"--proj-raw", r.ProjRaw,
		"--proj-deriv", r.ProjDeriv,
		"--work-dir", r.WorkDir,
		"--log-dir", r.LogDir,
	}
	if r.KeokiPath != "" {
		args = append(args, "--keoki-path", r.KeokiPath)
	}
	return args
}

type Modeler interface {
	Run(ctx context.Context, req Request) (string, error)
}

// ModelCmdRunner invokes the external modeling entry point, which builds
// confounds and design files and runs feat.
type ModelCmdRunner struct {
	runner runner.CommandRunner
	bin    string
	env    []string
}

var _ Modeler = &ModelCmdRunner{}

func NewModelCmdRunner(runner runner.CommandRunner, bin string, env []string) Modeler {
	return &ModelCmdRunner{
		runner: runner,
		bin:    bin,
		env:    env,
	}
}

func (m *ModelCmdRunner) Run(ctx context.Context, req Request) (string, error) {
	return m.runner.RunCommandEnv(ctx, m.env, append([]string{m.bin}, req.Args()...)...)
}

// Output directory names the modeling package produces per subject/session.
const (
	ConfoundsFiles       = "confounds_files"
	ConfoundsProportions = "confounds_proportions"
	DesignFiles          = "design_files"
)

// Outputs describes what the modeling package left in a model_fsl func dir.
type Outputs struct {
	ConfoundsFiles       bool
	ConfoundsProportions bool
	DesignFiles          bool
	Feat                 []string
}

// Missing names the expected outputs that were not found.
func (o Outputs) Missing() []string {
	var missing []string
	if !o.ConfoundsFiles {
		missing = append(missing, ConfoundsFiles)
	}
	if !o.ConfoundsProportions {
		missing = append(missing, ConfoundsProportions)
	}
	if !o.DesignFiles {
		missing = append(missing, DesignFiles)
	}
	if len(o.Feat) == 0 {
		missing = append(missing, "*.feat")
	}
	return missing
}

// InspectOutputs looks for the modeling package's output contract under funcDir.
func InspectOutputs(funcDir string) (Outputs, error) {
	var out Outputs
	var err error
	if out.ConfoundsFiles, err = isDir(filepath.Join(funcDir, ConfoundsFiles)); err != nil {
		return out, err
	}
	if out.ConfoundsProportions, err = isDir(filepath.Join(funcDir, ConfoundsProportions)); err != nil {
		return out, err
	}
	if out.DesignFiles, err = isDir(filepath.Join(funcDir, DesignFiles)); err != nil {
		return out, err
	}
	entries, err := os.ReadDir(funcDir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return out, fmt.Errorf("listing feat directories: %w", err)
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".feat") {
			continue
		}
		if ok, _ := isDir(filepath.Join(funcDir, e.Name())); ok {
			out.Feat = append(out.Feat, e.Name())
		}
	}
	return out, nil
}

func isDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}
