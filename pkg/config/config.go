// Package config resolves the environment the external pipeline packages need
// (container images, licenses, FSL) and the site settings of the wrapper
// itself. Values come from, in increasing priority: defaults, a .env file, the
// process environment, and an optional site YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SING_FMRIPREP        = "SING_FMRIPREP"
	SING_AFNI            = "SING_AFNI"
	FS_LICENSE           = "FS_LICENSE"
	TEMPLATEFLOW_HOME    = "SINGULARITYENV_TEMPLATEFLOW_HOME"
	FSLDIR               = "FSLDIR"
	USER                 = "USER"
	WORK_ROOT            = "FUNC_ARCHIVAL_WORK_ROOT"
	KEOKI_PATH           = "FUNC_ARCHIVAL_KEOKI_PATH"
	PREPROCESS_BIN       = "FUNC_ARCHIVAL_PREPROCESS_BIN"
	MODEL_BIN            = "FUNC_ARCHIVAL_MODEL_BIN"
	SBATCH_TIME          = "FUNC_ARCHIVAL_SBATCH_TIME"
	SBATCH_MEM_MB        = "FUNC_ARCHIVAL_SBATCH_MEM_MB"
	SBATCH_PAUSE         = "FUNC_ARCHIVAL_SBATCH_PAUSE"
	DefaultEnvFile       = ".env"
	DefaultProjectName   = "EmoRep"
	DefaultKeokiPath     = "/mnt/keoki/experiments2/EmoRep/Exp3_Classify_Archival/data_mri_BIDS"
	DefaultPreprocessBin = "func_preprocess"
	DefaultModelBin      = "func_model"
)

// Config holds everything the wrapper resolves before delegating.
type Config struct {
	// Container images, licenses and tool locations forwarded to the
	// external packages.
	SingFmriprep    string
	SingAfni        string
	FSLicense       string
	TemplateflowDir string
	FSLDir          string

	User string

	Site Site
}

// Site models the optional site YAML file.
type Site struct {
	WorkRoot    string      `yaml:"work_root"`
	KeokiPath   string      `yaml:"keoki_path"`
	EntryPoints EntryPoints `yaml:"entry_points"`
	Sbatch      Sbatch      `yaml:"sbatch"`
}

type EntryPoints struct {
	Preprocess string `yaml:"preprocess"`
	Model      string `yaml:"model"`
}

type Sbatch struct {
	Time  string        `yaml:"time"`
	MemMB int           `yaml:"mem_mb"`
	Pause time.Duration `yaml:"pause"`
}

func DefaultConfig() *Config {
	return &Config{
		Site: Site{
			WorkRoot:  "/work",
			KeokiPath: DefaultKeokiPath,
			EntryPoints: EntryPoints{
				Preprocess: DefaultPreprocessBin,
				Model:      DefaultModelBin,
			},
			Sbatch: Sbatch{
				Time:  "30:00:00",
				MemMB: 4000,
				Pause: 3 * time.Second,
			},
		},
	}
}

// Load builds a Config. An empty envFile means ".env" in the working directory;
// a missing env file is not an error. An empty siteFile skips the YAML layer.
func Load(envFile, siteFile string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := envFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}
	fileVars, err := godotenv.Read(envFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || explicit {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		fileVars = map[string]string{}
	}

	if err := loadFromEnv(cfg, func(key string) string {
		return getFirstNonEmpty(os.Getenv(key), fileVars[key])
	}); err != nil {
		return nil, err
	}

	if siteFile != "" {
		if err := loadSiteFile(cfg, siteFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config, getenv func(string) string) error {
	cfg.SingFmriprep = getenv(SING_FMRIPREP)
	cfg.SingAfni = getenv(SING_AFNI)
	cfg.FSLicense = getenv(FS_LICENSE)
	cfg.TemplateflowDir = getenv(TEMPLATEFLOW_HOME)
	cfg.FSLDir = getenv(FSLDIR)
	cfg.User = getenv(USER)

	if v := getenv(WORK_ROOT); v != "" {
		cfg.Site.WorkRoot = v
	}
	if v := getenv(KEOKI_PATH); v != "" {
		cfg.Site.KeokiPath = v
	}
	if v := getenv(PREPROCESS_BIN); v != "" {
		cfg.Site.EntryPoints.Preprocess = v
	}
	if v := getenv(MODEL_BIN); v != "" {
		cfg.Site.EntryPoints.Model = v
	}
	if v := getenv(SBATCH_TIME); v != "" {
		cfg.Site.Sbatch.Time = v
	}
	if v := getenv(SBATCH_MEM_MB); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", SBATCH_MEM_MB, err)
		}
		cfg.Site.Sbatch.MemMB = n
	}
	if v := getenv(SBATCH_PAUSE); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", SBATCH_PAUSE, err)
		}
		cfg.Site.Sbatch.Pause = d
	}
	return nil
}

// loadSiteFile overlays the non-zero fields of the YAML file onto cfg.Site.
func loadSiteFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read site config: %w", err)
	}
	var site Site
	if err := yaml.Unmarshal(data, &site); err != nil {
		return fmt.Errorf("failed to parse site config %s: %w", path, err)
	}

	s := &cfg.Site
	s.WorkRoot = getFirstNonEmpty(site.WorkRoot, s.WorkRoot)
	s.KeokiPath = getFirstNonEmpty(site.KeokiPath, s.KeokiPath)
	s.EntryPoints.Preprocess = getFirstNonEmpty(site.EntryPoints.Preprocess, s.EntryPoints.Preprocess)
	s.EntryPoints.Model = getFirstNonEmpty(site.EntryPoints.Model, s.EntryPoints.Model)
	s.Sbatch.Time = getFirstNonEmpty(site.Sbatch.Time, s.Sbatch.Time)
	if site.Sbatch.MemMB != 0 {
		s.Sbatch.MemMB = site.Sbatch.MemMB
	}
	if site.Sbatch.Pause != 0 {
		s.Sbatch.Pause = site.Sbatch.Pause
	}
	return nil
}

// Validate reports every missing required variable at once.
func (c *Config) Validate() error {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{SING_AFNI, c.SingAfni},
		{SING_FMRIPREP, c.SingFmriprep},
		{FS_LICENSE, c.FSLicense},
		{TEMPLATEFLOW_HOME, c.TemplateflowDir},
		{USER, c.User},
		{FSLDIR, c.FSLDir},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Site.WorkRoot == "" {
		return errors.New("work_root is required")
	}
	if c.Site.EntryPoints.Preprocess == "" || c.Site.EntryPoints.Model == "" {
		return errors.New("entry_points.preprocess and entry_points.model are required")
	}
	if c.Site.Sbatch.MemMB <= 0 {
		return errors.New("sbatch.mem_mb must be positive")
	}
	if c.Site.Sbatch.Pause < 0 {
		return errors.New("sbatch.pause must not be negative")
	}
	return nil
}

// WorkDir is the per-user scratch location for intermediates, <work_root>/<user>/EmoRep.
func (c *Config) WorkDir() string {
	return filepath.Join(c.Site.WorkRoot, c.User, DefaultProjectName)
}

// LogDir is a timestamped directory under WorkDir for captured stdout/err.
func (c *Config) LogDir(now time.Time) string {
	return filepath.Join(c.WorkDir(), "logs", "func_archival_"+now.Format("06-01-02_15:04"))
}

// ChildEnv is the environment handed to the external entry points.
func (c *Config) ChildEnv() []string {
	return []string{
		SING_FMRIPREP + "=" + c.SingFmriprep,
		SING_AFNI + "=" + c.SingAfni,
		FS_LICENSE + "=" + c.FSLicense,
		TEMPLATEFLOW_HOME + "=" + c.TemplateflowDir,
		FSLDIR + "=" + c.FSLDir,
	}
}

func getFirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
