package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist loading fails with one of these.
var (
	ErrAllowlistFile    = errors.New("unreadable allowlist file")
	ErrAllowlistPattern = errors.New("allowlist pattern does not compile")
)

// Allowlist holds path and content patterns that never count as findings.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlists merges the [allowlist] tables of the given Gitleaks-style TOML
// files. Missing files and empty paths are skipped.
func LoadAllowlists(paths ...string) (*Allowlist, error) {
	merged := &Allowlist{}
	for _, path := range paths {
		if path == "" {
			continue
		}
		a, err := loadTOML(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		merged.Paths = append(merged.Paths, a.Paths...)
		merged.Regexes = append(merged.Regexes, a.Regexes...)
	}
	return merged, nil
}

func loadTOML(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist struct {
			Paths   []string `toml:"paths"`
			Regexes []string `toml:"regexes"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrAllowlistFile, path, err)
	}

	a := &Allowlist{Paths: doc.Allowlist.Paths, Regexes: doc.Allowlist.Regexes}
	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

func (a *Allowlist) validate() error {
	for _, group := range [][]string{a.Paths, a.Regexes} {
		for _, p := range group {
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("%w: %q: %v", ErrAllowlistPattern, p, err)
			}
		}
	}
	return nil
}
