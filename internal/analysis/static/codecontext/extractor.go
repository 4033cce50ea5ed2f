// internal/analysis/static/codecontext/extractor.go
package codecontext

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
)

// Signal names, also used as trace suffixes ("signal:<name>").
const (
	SignalReentrancyGuard   = "reentrancy_guard"
	SignalChecksEffects     = "checks_effects"
	SignalAccessControl     = "access_control"
	SignalCheckedArithmetic = "checked_arithmetic"
	SignalSafeMath          = "safe_math"
	SignalCheckedCall       = "checked_call"
	SignalTestPath          = "test_path"
)

// Signal is one protective pattern that was found, with its discount weight.
type Signal struct {
	Name   string
	Weight float64
}

// Features is the extractor output for one cluster. Only present signals are
// listed; a signal that could not be evaluated is absent.
type Features struct {
	Signals         []Signal
	TestPath        bool
	SourceAvailable bool
}

// Names returns the present signal names in detection order.
func (f Features) Names() []string {
	names := make([]string, len(f.Signals))
	for i, s := range f.Signals {
		names[i] = s.Name
	}
	return names
}

// Source is the text a detector run sees. File is the whole file when it
// could be read; Window is the text near the finding. WholeFile is set when
// no function or line window could be built and Window spans the file.
type Source struct {
	File      string
	Window    string
	WholeFile bool
}

// Empty reports whether no text at all is available.
func (s Source) Empty() bool {
	return strings.TrimSpace(s.File) == "" && strings.TrimSpace(s.Window) == ""
}

// Detect runs the detectors relevant to category over src. It is pure; the
// test path signal is handled by the Extractor since it depends on the path,
// not on text.
func Detect(category schemas.CanonicalType, src Source, w config.SignalWeights) []Signal {
	if src.Empty() {
		return nil
	}
	fileText := src.File
	if fileText == "" {
		fileText = src.Window
	}

	var signals []Signal
	add := func(present bool, name string, weight float64) {
		if present {
			signals = append(signals, Signal{Name: name, Weight: weight})
		}
	}

	switch category {
	case schemas.TypeReentrancy:
		add(HasReentrancyGuard(src.Window) || (src.WholeFile && hasGuardInheritance(fileText)), SignalReentrancyGuard, w.ReentrancyGuard)
		add(FollowsChecksEffectsInteractions(src.Window), SignalChecksEffects, w.ChecksEffects)
	case schemas.TypeAccessControl:
		add(HasAccessControl(src.Window), SignalAccessControl, w.AccessControl)
	case schemas.TypeArithmetic:
		add(HasCheckedArithmetic(fileText, src.Window), SignalCheckedArithmetic, w.CheckedArithmetic)
		add(UsesSafeMath(fileText), SignalSafeMath, w.SafeMath)
	case schemas.TypeUncheckedLowLevelCalls:
		add(HasCheckedCall(src.Window), SignalCheckedCall, w.CheckedCall)
	}
	return signals
}

var (
	guardInheritance = regexp.MustCompile(`\bcontract\s+\w+\s+is\s+[^{]*\bReentrancyGuard(Upgradeable)?\b`)
	funcDeclExpr     = regexp.MustCompile(`\bfunction\s+(\w+)\s*\(`)
)

// hasGuardInheritance only counts the guard base contract when something in
// the file actually applies the modifier. It says nothing about which
// function does, so it is only consulted when the window is the whole file.
func hasGuardInheritance(file string) bool {
	return guardInheritance.MatchString(file) && strings.Contains(file, "nonReentrant")
}

// Extractor scans source for protective patterns relevant to a cluster's
// category. Reading is best effort: the extractor never fails and never
// blocks the pipeline beyond a single bounded file read.
type Extractor struct {
	cfg    config.FeaturesConfig
	fs     afero.Fs
	logger *zap.Logger
}

// NewExtractor creates an Extractor after validating cfg. A nil fs reads the
// OS file system.
func NewExtractor(cfg config.FeaturesConfig, fs afero.Fs, logger *zap.Logger) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature extractor configuration: %w", err)
	}
	if fs == nil {
		fs = afero.NewReadOnlyFs(afero.NewOsFs())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, fs: fs, logger: logger.Named("codecontext")}, nil
}

// Session scopes a file cache to one correlation pass.
type Session struct {
	extractor *Extractor
	reader    *SourceReader
}

// NewSession starts a pass. Sessions are not safe for concurrent use.
func (e *Extractor) NewSession() *Session {
	return &Session{
		extractor: e,
		reader:    NewSourceReader(e.fs, e.cfg.SourceRoot, e.cfg.MaxFileBytes, e.logger),
	}
}

// Extract computes features for a cluster of the given category at loc.
func (s *Session) Extract(category schemas.CanonicalType, loc schemas.Location) Features {
	cfg := s.extractor.cfg
	out := Features{TestPath: IsTestPath(loc.File)}
	if !cfg.Enabled {
		return out
	}

	file, ok := s.reader.Read(loc.File)
	src := Source{}
	if ok {
		src.File = file
		src.Window, src.WholeFile = windowAround(file, loc, cfg.ContextLines)
	}
	if snippet := strings.TrimSpace(loc.Snippet); snippet != "" {
		src.Window = joinNonEmpty(snippet, src.Window)
	}
	out.SourceAvailable = !src.Empty()

	out.Signals = Detect(category, src, cfg.Weights)
	if out.TestPath {
		out.Signals = append(out.Signals, Signal{Name: SignalTestPath, Weight: cfg.Weights.TestPath})
	}
	return out
}

// windowAround returns the text near loc: the named function and the lines
// after it when the function is known, a band of context lines around the
// line when only the line is known, otherwise the whole file. The flag
// reports the last case.
func windowAround(file string, loc schemas.Location, context int) (string, bool) {
	lines := strings.Split(file, "\n")

	if name := functionName(strings.TrimSpace(loc.Function)); name != "" {
		for i, l := range lines {
			if declaresFunction(l, name) {
				return strings.Join(lines[i:min(len(lines), i+2*context+1)], "\n"), false
			}
		}
	}
	if loc.HasLine() && loc.Line <= len(lines) {
		start := max(0, loc.Line-1-context)
		end := min(len(lines), loc.Line+context)
		return strings.Join(lines[start:end], "\n"), false
	}
	return file, true
}

func declaresFunction(line, name string) bool {
	for _, m := range funcDeclExpr.FindAllStringSubmatch(line, -1) {
		if m[1] == name {
			return true
		}
	}
	return false
}

// functionName strips contract qualifiers and parameter lists that tools
// attach, e.g. "Bank.withdraw(uint256)" becomes "withdraw".
func functionName(fn string) string {
	if i := strings.IndexByte(fn, '('); i >= 0 {
		fn = fn[:i]
	}
	if i := strings.LastIndexAny(fn, ".:"); i >= 0 {
		fn = fn[i+1:]
	}
	return strings.TrimSpace(fn)
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}
