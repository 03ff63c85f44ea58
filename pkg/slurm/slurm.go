// Package slurm writes per-subject batch scripts and hands them to sbatch.
// Each script re-invokes func-archival for a single subject and session, so
// the cluster scheduler, not this tool, decides what runs in parallel.
package slurm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/alessio/shellescape"

	"github.com/labarlab/func-archival/pkg/logger"
	"github.com/labarlab/func-archival/pkg/runner"
)

var ErrNoScript = errors.New("generate the workflow script before submitting")

// Resources are the sbatch directives shared by every job of one invocation.
type Resources struct {
	Time    string
	MemMB   int
	Comment string
}

type SbatchRunner interface {
	Submit(ctx context.Context, scriptPath string) (string, error)
}

type SbatchCmdRunner struct {
	runner runner.CommandRunner
}

var _ SbatchRunner = &SbatchCmdRunner{}

func NewSbatchCmdRunner(runner runner.CommandRunner) SbatchRunner {
	return &SbatchCmdRunner{
		runner: runner,
	}
}

func (s *SbatchCmdRunner) Submit(ctx context.Context, scriptPath string) (string, error) {
	return s.runner.RunCommand(ctx, "sbatch", scriptPath)
}

var scriptTemplate = template.Must(template.New("sbatch").Parse(`#!/bin/bash
#SBATCH --job-name={{.JobName}}
#SBATCH --output={{.Output}}
#SBATCH --time={{.Time}}
#SBATCH --mem={{.MemMB}}
{{- if .Comment}}
#SBATCH --comment={{.Comment}}
{{- end}}

{{.Command}}
`))

// ScheduleWorkflow writes and submits the batch job of one subject and session.
type ScheduleWorkflow struct {
	subject   string
	session   string
	logDir    string
	resources Resources

	// ScriptPath is set once Omnibus has written the script.
	ScriptPath string
}

func NewScheduleWorkflow(subject, session, logDir string, resources Resources) *ScheduleWorkflow {
	return &ScheduleWorkflow{
		subject:   subject,
		session:   session,
		logDir:    logDir,
		resources: resources,
	}
}

// JobName is "p" plus the subject id without its "sub-" prefix.
func (s *ScheduleWorkflow) JobName() string {
	return "p" + subjectID(s.subject)
}

// Omnibus writes <logDir>/run_omnibus_<subj>_<sess>.sh running command.
func (s *ScheduleWorkflow) Omnibus(command []string) error {
	if len(command) == 0 {
		return errors.New("empty workflow command")
	}
	var buf bytes.Buffer
	err := scriptTemplate.Execute(&buf, map[string]interface{}{
		"JobName": s.JobName(),
		"Output":  filepath.Join(s.logDir, "par"+subjectID(s.subject)+".txt"),
		"Time":    s.resources.Time,
		"MemMB":   s.resources.MemMB,
		"Comment": s.resources.Comment,
		"Command": shellescape.QuoteCommand(command),
	})
	if err != nil {
		return fmt.Errorf("rendering sbatch script: %w", err)
	}

	path := filepath.Join(s.logDir, fmt.Sprintf("run_omnibus_%s_%s.sh", s.subject, s.session))
	if err := os.WriteFile(path, buf.Bytes(), 0o755); err != nil {
		return fmt.Errorf("writing sbatch script: %w", err)
	}
	s.ScriptPath = path
	return nil
}

// Submit hands the written script to sbatch and returns the job id.
func (s *ScheduleWorkflow) Submit(ctx context.Context, sbatch SbatchRunner) (string, error) {
	if s.ScriptPath == "" {
		return "", ErrNoScript
	}
	out, err := sbatch.Submit(ctx, s.ScriptPath)
	if err != nil {
		return "", fmt.Errorf("sbatch %s: %s: %w", s.ScriptPath, strings.TrimSpace(out), err)
	}
	return ParseJobID(out)
}

var jobIDPattern = regexp.MustCompile(`Submitted batch job (\d+)`)

// ParseJobID extracts the id from sbatch output such as "Submitted batch job 4242".
func ParseJobID(out string) (string, error) {
	m := jobIDPattern.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unexpected sbatch output: %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

func subjectID(subject string) string {
	return strings.TrimPrefix(subject, "sub-")
}

// Job is a one-off batch job wrapping a bash command line. Zero values take
// the defaults of one hour, one CPU and 4 GB per CPU.
type Job struct {
	Command     string
	Name        string
	LogDir      string
	Hours       int
	CPUs        int
	MemGBPerCPU int
}

// Args renders job as an sbatch command line that blocks until the job ends.
func (j Job) Args() []string {
	hours, cpus, mem := j.Hours, j.CPUs, j.MemGBPerCPU
	if hours <= 0 {
		hours = 1
	}
	if cpus <= 0 {
		cpus = 1
	}
	if mem <= 0 {
		mem = 4
	}
	return []string{
		"sbatch",
		"-J", j.Name,
		"-t", fmt.Sprintf("%d:00:00", hours),
		fmt.Sprintf("--cpus-per-task=%d", cpus),
		fmt.Sprintf("--mem-per-cpu=%d", mem*1000),
		"-o", filepath.Join(j.LogDir, "out_"+j.Name+".log"),
		"-e", filepath.Join(j.LogDir, "err_"+j.Name+".log"),
		"--wait",
		"--wrap=" + j.Command,
	}
}

// ScheduleSubprocess submits job and waits for it, returning sbatch's output.
func ScheduleSubprocess(ctx context.Context, r runner.CommandRunner, job Job) (string, error) {
	if strings.TrimSpace(job.Command) == "" || job.Name == "" {
		return "", errors.New("job needs a command and a name")
	}
	logger.Infof("Submitting SBATCH job %s: %s", job.Name, job.Command)
	out, err := r.RunCommand(ctx, job.Args()...)
	if err != nil {
		return out, fmt.Errorf("sbatch job %s: %w", job.Name, err)
	}
	return out, nil
}
