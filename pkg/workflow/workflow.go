// Package workflow sequences the external preprocessing and modeling entry
// points for each subject and session, either in-process or as one SLURM job
// per pair.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/labarlab/func-archival/pkg/clients"
	"github.com/labarlab/func-archival/pkg/logger"
	"github.com/labarlab/func-archival/pkg/model"
	"github.com/labarlab/func-archival/pkg/preprocess"
	"github.com/labarlab/func-archival/pkg/slurm"
)

// outputTailLines bounds how much child output is carried in an error.
const outputTailLines = 20

// Run calls PreprocModel for every subject and session in order and stops at
// the first failure.
func Run(ctx context.Context, c *clients.Clients, opts Options, paths Paths) error {
	for _, subject := range opts.Subjects {
		for _, session := range opts.Sessions {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := PreprocModel(ctx, c, subject, session, paths, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

// PreprocModel moves one subject's archival anat and rest EPI data through
// preprocessing, then models the resting-state data with FSL. Preprocessing is
// skipped when its output for opts.PreprocType already exists.
func PreprocModel(ctx context.Context, c *clients.Clients, subject, session string, paths Paths, opts Options) error {
	funcDir := paths.PreprocessedFuncDir(subject, session)
	done, err := preprocess.Done(funcDir, opts.PreprocType)
	if err != nil {
		return err
	}

	if done {
		logger.Infof("Found %s output in %s, skipping preprocessing for %s %s", opts.PreprocType, funcDir, subject, session)
	} else {
		logger.Infof("Preprocessing %s %s", subject, session)
		out, err := c.Preprocess.Run(ctx, preprocess.Request{
			Subject:      subject,
			Session:      session,
			ProjRaw:      paths.Raw,
			ProjPP:       paths.PreProc,
			WorkDir:      paths.WorkDir,
			LogDir:       paths.LogDir,
			FDThresh:     opts.FDThresh,
			IgnoreFmaps:  opts.IgnoreFmaps,
			NoFreesurfer: opts.NoFreesurfer,
			KeokiPath:    paths.KeokiPath,
		})
		if err != nil {
			return stepError("preprocessing", subject, session, out, err)
		}
	}

	logger.Infof("Modeling %s %s (model %s, %s)", subject, session, opts.ModelName, opts.PreprocType)
	out, err := c.Model.Run(ctx, model.Request{
		Subject:     subject,
		Session:     session,
		ModelName:   opts.ModelName,
		ModelLevel:  ModelLevel,
		PreprocType: opts.PreprocType,
		ProjRaw:     paths.Raw,
		ProjDeriv:   paths.Deriv,
		WorkDir:     paths.WorkDir,
		LogDir:      paths.LogDir,
		KeokiPath:   paths.KeokiPath,
	})
	if err != nil {
		return stepError("modeling", subject, session, out, err)
	}

	outputs, err := model.InspectOutputs(paths.ModelFuncDir(subject, session))
	if err != nil {
		logger.Warnf("Could not inspect model output for %s %s: %v", subject, session, err)
		return nil
	}
	if missing := outputs.Missing(); len(missing) > 0 {
		logger.Warnf("Model output for %s %s is missing %s", subject, session, strings.Join(missing, ", "))
	} else {
		logger.Infof("Finished %s %s: %s", subject, session, strings.Join(outputs.Feat, ", "))
	}
	return nil
}

// CommandFunc renders the command a batch job runs for one subject and session.
type CommandFunc func(subject, session string) []string

// Submit writes and submits one batch job per subject and session, pausing
// between submissions so the scheduler is not flooded.
func Submit(ctx context.Context, c *clients.Clients, opts Options, logDir string, resources slurm.Resources, pause time.Duration, command CommandFunc) error {
	first := true
	for _, subject := range opts.Subjects {
		for _, session := range opts.Sessions {
			if !first && pause > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(pause):
				}
			}
			first = false

			sw := slurm.NewScheduleWorkflow(subject, session, logDir, resources)
			if err := sw.Omnibus(command(subject, session)); err != nil {
				return fmt.Errorf("%s %s: %w", subject, session, err)
			}
			jobID, err := sw.Submit(ctx, c.Sbatch)
			if err != nil {
				return fmt.Errorf("%s %s: %w", subject, session, err)
			}
			logger.Infof("Submitted batch job %s for %s, %s", jobID, subject, session)
		}
	}
	return nil
}

func stepError(step, subject, session, out string, err error) error {
	if tail := tailLines(out, outputTailLines); tail != "" {
		return fmt.Errorf("%s %s %s: %w\n%s", step, subject, session, err, tail)
	}
	return fmt.Errorf("%s %s %s: %w", step, subject, session, err)
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
