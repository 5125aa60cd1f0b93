package acquirer

import (
	"path"
	"strings"

	"docharvest/pkg/config"
)

// Guidance biases acquisition. It comes from an external advisory source
// and is taken as plain data.
type Guidance struct {
	IncludeDirs      []string `json:"include_directories,omitempty" yaml:"include_directories,omitempty"`
	ExcludeDirs      []string `json:"exclude_directories,omitempty" yaml:"exclude_directories,omitempty"`
	IncludePatterns  []string `json:"file_patterns,omitempty" yaml:"file_patterns,omitempty"`
	ExcludePatterns  []string `json:"exclude_patterns,omitempty" yaml:"exclude_patterns,omitempty"`
	MaxFiles         int      `json:"max_files,omitempty" yaml:"max_files,omitempty"`
	PriorityKeywords []string `json:"priority_content,omitempty" yaml:"priority_content,omitempty"`
}

// IsZero reports whether g carries no guidance at all.
func (g *Guidance) IsZero() bool {
	return g == nil || (len(g.IncludeDirs) == 0 && len(g.ExcludeDirs) == 0 &&
		len(g.IncludePatterns) == 0 && len(g.ExcludePatterns) == 0 &&
		g.MaxFiles == 0 && len(g.PriorityKeywords) == 0)
}

// Filter decides which directories are walked and which files are kept.
type Filter struct {
	RelevantFolders []string
	IgnoredDirs     []string
	TextExtensions  []string
	MaxFileSize     int64
	MaxDepth        int
	Guidance        *Guidance
}

// NewFilter builds a Filter from acquisition settings.
func NewFilter(cfg config.AcquisitionConfig) Filter {
	return Filter{
		RelevantFolders: cfg.RelevantFolders,
		IgnoredDirs:     cfg.IgnoredDirs,
		TextExtensions:  cfg.TextExtensions,
		MaxFileSize:     cfg.MaxFileSize(),
		MaxDepth:        cfg.MaxDepth,
	}
}

// DefaultFilter uses the default acquisition settings.
func DefaultFilter() Filter {
	return NewFilter(config.DefaultConfig().Acquisition)
}

// WithGuidance returns a copy of f using g.
func (f Filter) WithGuidance(g *Guidance) Filter {
	f.Guidance = g
	return f
}

// IsIgnoredDir reports whether a directory is never walked.
func (f Filter) IsIgnoredDir(name string) bool {
	for _, d := range f.IgnoredDirs {
		if d == name {
			return true
		}
	}
	return false
}

func (f Filter) isExcludedDir(name string) bool {
	lower := strings.ToLower(name)
	for _, d := range f.IgnoredDirs {
		if strings.ToLower(d) == lower {
			return true
		}
	}
	if f.Guidance != nil && containsFold(f.Guidance.ExcludeDirs, name) {
		return true
	}
	return false
}

// IsRelevantDir applies exclude > include > allow-list to one directory name.
func (f Filter) IsRelevantDir(name string) bool {
	if name == "" || f.isExcludedDir(name) {
		return false
	}
	if f.Guidance != nil && containsFold(f.Guidance.IncludeDirs, name) {
		return true
	}
	lower := strings.ToLower(name)
	for _, r := range f.RelevantFolders {
		if strings.Contains(lower, strings.ToLower(r)) {
			return true
		}
	}
	return false
}

// IsRelevantPath reports whether a slash-separated directory path holds
// content: at least one component is relevant and none is excluded.
func (f Filter) IsRelevantPath(p string) bool {
	if p == "" {
		return false
	}
	relevant := false
	for _, part := range strings.Split(p, "/") {
		if f.isExcludedDir(part) {
			return false
		}
		if f.IsRelevantDir(part) {
			relevant = true
		}
	}
	return relevant
}

// IsEligibleFile applies exclude glob > include glob > extension allow-list,
// then the size cap.
func (f Filter) IsEligibleFile(name string, size int64) bool {
	if f.MaxFileSize > 0 && size > f.MaxFileSize {
		return false
	}
	lower := strings.ToLower(name)
	if f.Guidance != nil {
		if matchAny(f.Guidance.ExcludePatterns, lower) {
			return false
		}
		if len(f.Guidance.IncludePatterns) > 0 {
			return matchAny(f.Guidance.IncludePatterns, lower)
		}
	}
	for _, ext := range f.TextExtensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func (f Filter) maxDepth() int {
	if f.MaxDepth <= 0 {
		return 10
	}
	return f.MaxDepth
}

// Score sums len(keywords)-i for every keyword i found in the lowercased
// path, so earlier keywords weigh more.
func Score(p string, keywords []string) int {
	lower := strings.ToLower(p)
	score := 0
	for i, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			score += len(keywords) - i
		}
	}
	return score
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(strings.ToLower(p), name); err == nil && ok {
			return true
		}
	}
	return false
}
