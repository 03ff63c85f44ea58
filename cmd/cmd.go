package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/labarlab/func-archival/pkg/config"
	"github.com/labarlab/func-archival/pkg/logger"
	"github.com/labarlab/func-archival/pkg/slurm"
	"github.com/labarlab/func-archival/pkg/workflow"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const longHelp = `Run the preprocessing and modeling workflows on archival resting-state data.

For every subject and session, preprocess anat and rest EPI data through
fMRIPrep and FSL (skipped when preprocessed output already exists), then
model the resting-state data with FSL's feat. All work is delegated to the
func_preprocess and func_model entry points.

The external packages need SING_FMRIPREP, SING_AFNI, FS_LICENSE,
SINGULARITYENV_TEMPLATEFLOW_HOME and FSLDIR, read from the environment or
from --env-file. Intermediates go to /work/$USER/EmoRep.`

const examples = `  func-archival -s sub-08326
  func-archival -s sub-08326 sub-08399 --fd-thresh 0.2 --ignore-fmaps
  func-archival -s sub-08326 --preproc-type smoothed --sbatch`

type rootFlags struct {
	subjects     []string
	sessions     []string
	fdThresh     float64
	preprocType  *enumValue
	modelName    *enumValue
	ignoreFmaps  bool
	noFreesurfer bool
	projDir      string
	sbatch       bool
	envFile      string
	configFile   string
	logLevel     string
}

// NewRootCmd builds the func-archival command around app's dependencies.
func NewRootCmd(app *App) *cobra.Command {
	defaults := workflow.DefaultOptions()
	f := &rootFlags{
		preprocType: newEnumValue(defaults.PreprocType, workflow.ValidPreprocTypes),
		modelName:   newEnumValue(defaults.ModelName, workflow.ValidModelNames),
	}
	var opts workflow.Options

	rootCmd := &cobra.Command{
		Use:     "func-archival -s SUBJ [SUBJ ...]",
		Short:   "Preprocess and model archival EmoRep resting-state data",
		Long:    longHelp,
		Example: examples,
		Version: Version,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError(fmt.Errorf("unrecognized arguments: %s", strings.Join(args, " ")))
			}
			return nil
		},
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			opts, err = f.options(cmd)
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Inputs are valid from here on; failures are no longer usage problems.
			cmd.SilenceUsage = true
			return run(cmd.Context(), app, f, opts)
		},
	}
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	flags := rootCmd.Flags()
	flags.StringSliceVarP(&f.subjects, "subj-list", "s", nil, "List of subject IDs to process (required), e.g. sub-08326")
	flags.StringSliceVar(&f.sessions, "sessions", defaults.Sessions, "BIDS session identifiers, any of "+strings.Join(workflow.ValidSessions, ", "))
	flags.Float64Var(&f.fdThresh, "fd-thresh", defaults.FDThresh, "Framewise displacement threshold")
	flags.Var(f.preprocType, "preproc-type", "Preprocessed EPI variant to model")
	flags.Var(f.modelName, "model-name", "FSL model name, for triggering different workflows")
	flags.BoolVar(&f.ignoreFmaps, "ignore-fmaps", false, "Have fMRIPrep ignore field maps")
	flags.BoolVar(&f.noFreesurfer, "no-freesurfer", false, "Use fMRIPrep's --fs-no-reconall option")
	flags.StringVar(&f.projDir, "proj-dir", defaults.ProjDir, "Path to BIDS-formatted project directory")
	flags.BoolVar(&f.sbatch, "sbatch", false, "Submit one SLURM job per subject and session instead of running here")
	flags.StringVar(&f.envFile, "env-file", "", "Environment file to load (default .env when present)")
	flags.StringVar(&f.configFile, "config", "", "Site configuration YAML file")
	flags.StringVar(&f.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	return rootCmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := executeArgs(ctx, NewRootCmd(DefaultApp()), os.Args[1:])
	stop()
	os.Exit(ExitCode(err))
}

func executeArgs(ctx context.Context, root *cobra.Command, args []string) error {
	root.SetArgs(groupSubjects(args))
	return root.ExecuteContext(ctx)
}

// groupSubjects lets "-s sub-1 sub-2" name several subjects: bare words that
// directly follow a subject list become further --subj-list values. Any other
// bare word stays positional and is rejected.
func groupSubjects(args []string) []string {
	out := make([]string, 0, len(args))
	inList := false
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			return append(out, args[i:]...)
		case a == "-s" || a == "--subj-list":
			// pflag takes the next word as the value whatever it looks like
			out = append(out, a)
			if i+1 < len(args) {
				i++
				out = append(out, args[i])
			}
			inList = true
		case strings.HasPrefix(a, "--subj-list=") || (strings.HasPrefix(a, "-s") && !strings.HasPrefix(a, "--")):
			out = append(out, a)
			inList = true
		case inList && !strings.HasPrefix(a, "-"):
			out = append(out, "--subj-list", a)
		default:
			out = append(out, a)
			inList = false
		}
	}
	return out
}

// options turns parsed flags into validated workflow options.
func (f *rootFlags) options(cmd *cobra.Command) (workflow.Options, error) {
	if !cmd.Flags().Changed("subj-list") {
		return workflow.Options{}, usageError(errors.New(`required flag "-s, --subj-list" not set`))
	}
	if _, err := logger.ParseLevel(f.logLevel); err != nil {
		return workflow.Options{}, usageError(err)
	}

	opts := workflow.Options{
		Subjects:     f.subjects,
		Sessions:     f.sessions,
		FDThresh:     f.fdThresh,
		PreprocType:  f.preprocType.String(),
		ModelName:    f.modelName.String(),
		IgnoreFmaps:  f.ignoreFmaps,
		NoFreesurfer: f.noFreesurfer,
		ProjDir:      f.projDir,
	}
	if err := opts.Validate(); err != nil {
		return opts, usageError(err)
	}
	return opts, nil
}

func run(ctx context.Context, app *App, f *rootFlags, opts workflow.Options) error {
	if err := logger.SetLevel(f.logLevel); err != nil {
		return err
	}
	runID := uuid.NewString()
	logger.WithRunID(runID)

	cfg, err := config.Load(f.envFile, f.configFile)
	if err != nil {
		return err
	}

	if info, err := app.Stat(opts.ProjDir); err != nil || !info.IsDir() {
		return fmt.Errorf("expected to find directory: %s", opts.ProjDir)
	}

	logDir := cfg.LogDir(app.Now())
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	logger.Debugf("Logs for this run go to %s", logDir)

	c := app.initClients(cfg)
	if f.sbatch {
		exe, err := app.Executable()
		if err != nil {
			return fmt.Errorf("locating func-archival executable: %w", err)
		}
		resources := slurm.Resources{
			Time:    cfg.Site.Sbatch.Time,
			MemMB:   cfg.Site.Sbatch.MemMB,
			Comment: runID,
		}
		return workflow.Submit(ctx, c, opts, logDir, resources, cfg.Site.Sbatch.Pause, f.batchCommand(exe, opts))
	}

	paths := workflow.NewPaths(opts.ProjDir, cfg.WorkDir(), logDir, cfg.Site.KeokiPath)
	return workflow.Run(ctx, c, opts, paths)
}

// batchCommand re-invokes func-archival in-process for one subject and session.
func (f *rootFlags) batchCommand(exe string, opts workflow.Options) workflow.CommandFunc {
	return func(subject, session string) []string {
		args := []string{
			exe,
			"--subj-list", subject,
			"--sessions", session,
			"--fd-thresh", strconv.FormatFloat(opts.FDThresh, 'f', -1, 64),
			"--preproc-type", opts.PreprocType,
			"--model-name", opts.ModelName,
			"--proj-dir", opts.ProjDir,
			"--log-level", f.logLevel,
		}
		if opts.IgnoreFmaps {
			args = append(args, "--ignore-fmaps")
		}
		if opts.NoFreesurfer {
			args = append(args, "--no-freesurfer")
		}
		if f.envFile != "" {
			args = append(args, "--env-file", absPath(f.envFile))
		}
		if f.configFile != "" {
			args = append(args, "--config", absPath(f.configFile))
		}
		return args
	}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
