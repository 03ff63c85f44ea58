package workflow

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

const (
	DefaultSession     = "ses-BAS1"
	DefaultFDThresh    = 0.5
	DefaultPreprocType = PreprocScaled
	DefaultModelName   = "rest"
	DefaultProjDir     = "/hpc/group/labarlab/EmoRep/Exp3_Classify_Archival/data_mri_BIDS"

	PreprocScaled   = "scaled"
	PreprocSmoothed = "smoothed"

	// ModelLevel is the only FSL model level run on archival data.
	ModelLevel = "first"
)

var (
	// ValidSessions lists the sessions present in the archival dataset.
	ValidSessions = []string{"ses-BAS1"}
	// ValidPreprocTypes lists the preprocessed EPI variants the modeling package accepts.
	ValidPreprocTypes = []string{PreprocScaled, PreprocSmoothed}
	ValidModelNames   = []string{"rest"}

	ErrInvalidOptions = errors.New("invalid options")
)

// Options are the validated inputs of one invocation. Values are passed
// through unchanged to the external packages.
type Options struct {
	Subjects     []string
	Sessions     []string
	FDThresh     float64
	PreprocType  string
	ModelName    string
	IgnoreFmaps  bool
	NoFreesurfer bool
	ProjDir      string
}

// DefaultOptions returns the values used when a flag is omitted.
func DefaultOptions() Options {
	return Options{
		Sessions:    []string{DefaultSession},
		FDThresh:    DefaultFDThresh,
		PreprocType: DefaultPreprocType,
		ModelName:   DefaultModelName,
		ProjDir:     DefaultProjDir,
	}
}

// Validate checks every field and wraps failures in ErrInvalidOptions.
func (o Options) Validate() error {
	if len(o.Subjects) == 0 {
		return invalid("at least one subject is required")
	}
	for _, s := range o.Subjects {
		if strings.TrimSpace(s) == "" {
			return invalid("empty subject identifier")
		}
	}
	if len(o.Sessions) == 0 {
		return invalid("at least one session is required")
	}
	for _, s := range o.Sessions {
		if !slices.Contains(ValidSessions, s) {
			return invalid("unknown session %q, expected one of %s", s, strings.Join(ValidSessions, ", "))
		}
	}
	if math.IsNaN(o.FDThresh) || math.IsInf(o.FDThresh, 0) || o.FDThresh < 0 {
		return invalid("fd threshold must be a non-negative number, got %v", o.FDThresh)
	}
	if !slices.Contains(ValidPreprocTypes, o.PreprocType) {
		return invalid("unknown preprocessing type %q, expected one of %s", o.PreprocType, strings.Join(ValidPreprocTypes, ", "))
	}
	if !slices.Contains(ValidModelNames, o.ModelName) {
		return invalid("unknown model name %q, expected one of %s", o.ModelName, strings.Join(ValidModelNames, ", "))
	}
	if strings.TrimSpace(o.ProjDir) == "" {
		return invalid("project directory is required")
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidOptions, fmt.Sprintf(format, args...))
}
