// internal/analysis/static/codecontext/detectors.go
package codecontext

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

// Detectors are pure functions over immutable text. Each answers one question
// about protective code near a finding and holds no state.

var (
	reentrancyGuardPattern = regexp.MustCompile(
		`\bnonReentrant\b|\bReentrancyGuard(Upgradeable)?\b|\bnoReentrancy\b|\bnoReentrant\b|\b_?reentrancyLock\b|\b(locked|_locked|mutex)\s*=\s*true\b`)

	accessControlPattern = regexp.MustCompile(
		`\bonly(Owner|Admin|Role|Governance|Operator|Authorized|Minter|Controller)\b|` +
			`\bonlyRole\s*\(|` +
			`\brequire\s*\(\s*(msg\.sender|_msgSender\(\))\s*==|` +
			`\brequire\s*\(\s*\w+\s*==\s*(msg\.sender|_msgSender\(\))|` +
			`\bif\s*\(\s*(msg\.sender|_msgSender\(\))\s*!=|` +
			`\bhasRole\s*\(|\b_checkOwner\s*\(|\b_checkRole\s*\(|\bauth\b\s*(\{|returns|public|external)`)

	pragmaPattern    = regexp.MustCompile(`pragma\s+solidity\s+([^;]+);`)
	versionPattern   = regexp.MustCompile(`(\^|~|>=|>|<=|<|=)?\s*v?(\d+)\.(\d+)(?:\.(\d+))?`)
	uncheckedBlock   = regexp.MustCompile(`\bunchecked\s*\{`)
	safeMathPattern  = regexp.MustCompile(`\busing\s+Safe(Math|Cast)\w*\s+for\b|\bSafeMath\.\w+\s*\(`)
	externalCallExpr = regexp.MustCompile(`\.(call|delegatecall|send|transfer)\s*(\{[^}]*\})?\s*(\.value\s*\([^)]*\))?\s*\(`)
	stateWriteExpr   = regexp.MustCompile(`\b\w+\s*\[[^\]]+\]\s*(=|\+=|-=)[^=]|\b(balance|balances|_balances|amount|deposits)\s*(=|\+=|-=)[^=]`)
	requireCallExpr  = regexp.MustCompile(`\b(require|assert)\s*\([^;]*\.(call|send|delegatecall)\s*[({.]`)
	boolCaptureExpr  = regexp.MustCompile(`\(\s*bool\s+(\w+)[^)]*\)\s*=\s*[^;]*\.(call|delegatecall|send)\b`)
	sendCaptureExpr  = regexp.MustCompile(`\bbool\s+(\w+)\s*=\s*[^;]*\.(call|delegatecall|send)\b`)
	boolCheckExpr    = regexp.MustCompile(`\b(?:require|assert)\s*\(\s*(\w+)\b|\bif\s*\(\s*!\s*(\w+)\b|\bif\s*\(\s*(\w+)\s*==\s*false`)

	testDirPattern  = regexp.MustCompile(`(?i)(^|/)(test|tests|testing|mock|mocks|__tests__|interfaces?|fixtures?)(/|$)`)
	testFilePattern = regexp.MustCompile(`\.t\.sol$|(?i:^(test|mock)[\w-]*\.sol$)|(Test|Tests|Mock|Mocks)\.sol$|(?i:[_-](test|mock)s?\.sol$)`)
	interfaceFile   = regexp.MustCompile(`^I[A-Z]\w*\.sol$`)
)

// HasReentrancyGuard reports whether text carries a reentrancy guard modifier,
// the guard base contract, or a hand rolled mutex.
func HasReentrancyGuard(text string) bool {
	return reentrancyGuardPattern.MatchString(text)
}

// FollowsChecksEffectsInteractions reports whether the first external call in
// text happens after a state write and no state write follows it.
func FollowsChecksEffectsInteractions(text string) bool {
	call := externalCallExpr.FindStringIndex(text)
	if call == nil {
		return false
	}
	before := stateWriteExpr.FindStringIndex(text[:call[0]])
	after := stateWriteExpr.FindStringIndex(text[call[1]:])
	return before != nil && after == nil
}

// HasAccessControl reports whether text carries an owner or role check.
func HasAccessControl(text string) bool {
	return accessControlPattern.MatchString(text)
}

// HasCheckedArithmetic reports whether the file pins a compiler that checks
// overflow (0.8 or later) and window does not opt out with an unchecked block.
func HasCheckedArithmetic(file, window string) bool {
	if uncheckedBlock.MatchString(window) {
		return false
	}
	major, minor, ok := MinimumCompilerVersion(file)
	if !ok {
		return false
	}
	return major > 0 || minor >= 8
}

// UsesSafeMath reports whether text uses a safe arithmetic library.
func UsesSafeMath(text string) bool {
	return safeMathPattern.MatchString(text)
}

// HasCheckedCall reports whether the result of a low level call in text is
// inspected, either inline in a require/assert or through a captured bool.
func HasCheckedCall(text string) bool {
	if requireCallExpr.MatchString(text) {
		return true
	}
	checked := make(map[string]bool)
	for _, m := range boolCheckExpr.FindAllStringSubmatch(text, -1) {
		for _, name := range m[1:] {
			if name != "" {
				checked[name] = true
			}
		}
	}
	if len(checked) == 0 {
		return false
	}
	for _, expr := range []*regexp.Regexp{boolCaptureExpr, sendCaptureExpr} {
		for _, m := range expr.FindAllStringSubmatch(text, -1) {
			if checked[m[1]] {
				return true
			}
		}
	}
	return false
}

// MinimumCompilerVersion returns the lowest compiler version admitted by the
// first pragma in text. Upper bounds ("<0.9.0") are ignored.
func MinimumCompilerVersion(text string) (major, minor int, ok bool) {
	m := pragmaPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	found := false
	for _, v := range versionPattern.FindAllStringSubmatch(m[1], -1) {
		if v[1] == "<" || v[1] == "<=" {
			continue
		}
		maj, err1 := strconv.Atoi(v[2])
		mnr, err2 := strconv.Atoi(v[3])
		if err1 != nil || err2 != nil {
			continue
		}
		if !found || maj < major || (maj == major && mnr < minor) {
			major, minor, found = maj, mnr, true
		}
	}
	return major, minor, found
}

// IsTestPath reports whether p follows test, mock or interface naming
// conventions. Such code is not deployed.
func IsTestPath(p string) bool {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return false
	}
	if testDirPattern.MatchString(path.Dir(p) + "/") {
		return true
	}
	base := path.Base(p)
	return testFilePattern.MatchString(base) || interfaceFile.MatchString(base)
}
