package clients

import (
	"github.com/labarlab/func-archival/pkg/config"
	"github.com/labarlab/func-archival/pkg/model"
	"github.com/labarlab/func-archival/pkg/preprocess"
	"github.com/labarlab/func-archival/pkg/runner"
	"github.com/labarlab/func-archival/pkg/slurm"
)

type Clients struct {
	Preprocess preprocess.Preprocessor
	Model      model.Modeler
	Sbatch     slurm.SbatchRunner
}

// New wires every client onto one command runner using the entry points and
// child environment from cfg.
func New(cmdRunner runner.CommandRunner, cfg *config.Config) *Clients {
	env := cfg.ChildEnv()
	return &Clients{
		Preprocess: preprocess.NewPreprocessCmdRunner(cmdRunner, cfg.Site.EntryPoints.Preprocess, env),
		Model:      model.NewModelCmdRunner(cmdRunner, cfg.Site.EntryPoints.Model, env),
		Sbatch:     slurm.NewSbatchCmdRunner(cmdRunner),
	}
}
