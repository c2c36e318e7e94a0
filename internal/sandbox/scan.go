package sandbox

import (
	"regexp"

	"github.com/codecollab/editor-backend/internal/domain"
)

// BannedPattern is one lexical rule checked against submitted source before
// a container is ever started.
type BannedPattern struct {
	Name     string
	Regexp   *regexp.Regexp
	Severity domain.BannedPatternSeverity
}

// bannedPatterns is intentionally coarse: this is a pre-flight lexical
// trip-wire, not a sandbox replacement. The run-phase container
// restrictions (no network, dropped capabilities, read-only root) are what
// actually contain a determined attacker; this catches casual or
// accidental misuse before burning a container on it.
var bannedPatterns = map[domain.Language][]BannedPattern{
	domain.LanguagePython: {
		{"process-spawn", regexp.MustCompile(`\bos\.(system|popen|fork)\b|\bsubprocess\.`), domain.SeverityCritical},
		{"network-socket", regexp.MustCompile(`\bsocket\.socket\b|\burllib\.request\b`), domain.SeverityHigh},
		{"reflection-eval", regexp.MustCompile(`\beval\(|\bexec\(|\b__import__\(`), domain.SeverityHigh},
	},
	domain.LanguageJavaScript: {
		{"process-spawn", regexp.MustCompile(`require\(['"]child_process['"]\)`), domain.SeverityCritical},
		{"network-socket", regexp.MustCompile(`require\(['"]net['"]\)|require\(['"]dgram['"]\)`), domain.SeverityHigh},
		{"reflection-eval", regexp.MustCompile(`\beval\(|new Function\(`), domain.SeverityHigh},
	},
	domain.LanguageJava: {
		{"process-spawn", regexp.MustCompile(`Runtime\.getRuntime\(\)\.exec|ProcessBuilder`), domain.SeverityCritical},
		{"network-socket", regexp.MustCompile(`java\.net\.Socket|ServerSocket`), domain.SeverityHigh},
		{"reflection", regexp.MustCompile(`Class\.forName|java\.lang\.reflect`), domain.SeverityHigh},
	},
	domain.LanguageCPP: {
		{"process-spawn", regexp.MustCompile(`\bsystem\(|\bfork\(|\bexecve?\(`), domain.SeverityCritical},
		{"raw-syscall", regexp.MustCompile(`\bsyscall\(`), domain.SeverityHigh},
	},
	domain.LanguageC: {
		{"process-spawn", regexp.MustCompile(`\bsystem\(|\bfork\(|\bexecve?\(`), domain.SeverityCritical},
		{"raw-syscall", regexp.MustCompile(`\bsyscall\(`), domain.SeverityHigh},
	},
	domain.LanguageGo: {
		{"process-spawn", regexp.MustCompile(`os/exec`), domain.SeverityCritical},
		{"raw-syscall", regexp.MustCompile(`\bsyscall\.`), domain.SeverityHigh},
	},
	domain.LanguageRust: {
		{"process-spawn", regexp.MustCompile(`std::process::Command`), domain.SeverityCritical},
		{"raw-syscall", regexp.MustCompile(`\blibc::`), domain.SeverityHigh},
	},
	domain.LanguagePHP: {
		{"process-spawn", regexp.MustCompile(`\bshell_exec\(|\bexec\(|\bproc_open\(|\bpassthru\(`), domain.SeverityCritical},
		{"filesystem-open", regexp.MustCompile(`\bfopen\(|\bfile_get_contents\(`), domain.SeverityHigh},
	},
}

// ScanResult records every banned pattern that matched, for diagnostics.
type ScanResult struct {
	Blocked  bool
	Findings []string
}

// Scan performs the pre-flight lexical security check. Any critical match,
// or three or more high-severity matches, blocks execution.
func Scan(language domain.Language, code string) ScanResult {
	var findings []string
	critical := false
	highCount := 0

	for _, pattern := range bannedPatterns[language] {
		if pattern.Regexp.MatchString(code) {
			findings = append(findings, pattern.Name)
			switch pattern.Severity {
			case domain.SeverityCritical:
				critical = true
			case domain.SeverityHigh:
				highCount++
			}
		}
	}

	return ScanResult{
		Blocked:  critical || highCount >= 3,
		Findings: findings,
	}
}
