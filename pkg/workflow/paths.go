package workflow

import "path/filepath"

// Paths locates the BIDS tree and the scratch locations for one invocation.
// The derivatives subtrees are created by the external packages, not here.
type Paths struct {
	ProjDir   string
	Raw       string
	Deriv     string
	PreProc   string
	ModelFSL  string
	WorkDir   string
	LogDir    string
	KeokiPath string
}

func NewPaths(projDir, workDir, logDir, keokiPath string) Paths {
	deriv := filepath.Join(projDir, "derivatives")
	return Paths{
		ProjDir:   projDir,
		Raw:       filepath.Join(projDir, "rawdata"),
		Deriv:     deriv,
		PreProc:   filepath.Join(deriv, "pre_processing"),
		ModelFSL:  filepath.Join(deriv, "model_fsl"),
		WorkDir:   workDir,
		LogDir:    logDir,
		KeokiPath: keokiPath,
	}
}

// PreprocessedFuncDir is where the preprocessing package leaves denoised EPI
// data for one subject and session.
func (p Paths) PreprocessedFuncDir(subject, session string) string {
	return filepath.Join(p.PreProc, "fsl_denoise", subject, session, "func")
}

// ModelFuncDir is where the modeling package writes first-level output.
func (p Paths) ModelFuncDir(subject, session string) string {
	return filepath.Join(p.ModelFSL, subject, session, "func")
}
