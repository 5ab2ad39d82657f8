// Package secrets scans staged changes for credentials with the Gitleaks detector
// before a workflow commit is created.
package secrets

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// ErrSecretsDetected is returned when staged content holds likely credentials.
var ErrSecretsDetected = errors.New("secrets detected in staged changes")

// File is content to scan, typically a staged blob.
type File struct {
	Path    string
	Content []byte
}

// Finding locates a likely secret. The secret itself is never kept; Preview
// holds at most its first four characters.
type Finding struct {
	Path     string `json:"path"`
	RuleID   string `json:"ruleId"`
	RuleDesc string `json:"description"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Length   int    `json:"length"`
	Preview  string `json:"preview"`
}

// Report is the result of a scan.
type Report struct {
	Scanned  int       `json:"scanned"`
	Findings []Finding `json:"findings"`
}

// Err returns ErrSecretsDetected describing the findings, or nil.
func (r Report) Err() error {
	if len(r.Findings) == 0 {
		return nil
	}
	locs := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		locs = append(locs, fmt.Sprintf("%s:%d (%s)", f.Path, f.Line, f.RuleID))
	}
	return fmt.Errorf("%w: %s", ErrSecretsDetected, strings.Join(locs, ", "))
}

// Detector wraps a Gitleaks detector with the default rule set and an allowlist.
type Detector struct {
	gl *detect.Detector
}

// NewDetector builds a detector. allowlist may be nil.
func NewDetector(allowlist *Allowlist) (*Detector, error) {
	gl, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if allowlist != nil {
		if err := allowlist.validate(); err != nil {
			return nil, err
		}
		gl.Config.Allowlists = append(gl.Config.Allowlists, toGitleaks(allowlist))
	}
	return &Detector{gl: gl}, nil
}

func toGitleaks(a *Allowlist) *gitleaksconfig.Allowlist {
	out := &gitleaksconfig.Allowlist{Description: "autopilot project allowlist"}
	for _, p := range a.Paths {
		out.Paths = append(out.Paths, (*gitleaksregexp.Regexp)(regexp.MustCompile(p)))
	}
	for _, p := range a.Regexes {
		out.Regexes = append(out.Regexes, (*gitleaksregexp.Regexp)(regexp.MustCompile(p)))
	}
	return out
}

// Scan checks every file and returns findings ordered by path and line.
func (d *Detector) Scan(files []File) Report {
	report := Report{Scanned: len(files)}
	for _, f := range files {
		for _, gf := range d.gl.Detect(detect.Fragment{Raw: string(f.Content), FilePath: f.Path}) {
			report.Findings = append(report.Findings, Finding{
				Path:     f.Path,
				RuleID:   gf.RuleID,
				RuleDesc: gf.Description,
				Line:     gf.StartLine,
				Column:   gf.StartColumn,
				Length:   len(gf.Secret),
				Preview:  preview(gf.Secret),
			})
		}
	}
	sort.SliceStable(report.Findings, func(i, j int) bool {
		a, b := report.Findings[i], report.Findings[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Line < b.Line
	})
	return report
}

func preview(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[:4]
}
