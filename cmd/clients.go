package cmd

import (
	"os"
	"time"

	"github.com/labarlab/func-archival/pkg/clients"
	"github.com/labarlab/func-archival/pkg/config"
	"github.com/labarlab/func-archival/pkg/runner"
)

// App holds the process-level dependencies of the root command so tests can
// replace them.
type App struct {
	Runner     runner.CommandRunner
	Now        func() time.Time
	Stat       func(name string) (os.FileInfo, error)
	Executable func() (string, error)
}

func DefaultApp() *App {
	return &App{
		Runner:     &runner.DefaultCommandRunner{},
		Now:        time.Now,
		Stat:       os.Stat,
		Executable: os.Executable,
	}
}

func (a *App) initClients(cfg *config.Config) *clients.Clients {
	return clients.New(a.Runner, cfg)
}
