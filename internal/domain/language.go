package domain

import "time"

// LanguageSpec describes how to compile (optionally) and run source code for
// one supported language inside the sandbox.
type LanguageSpec struct {
	Image          string
	FileName       string // may be overridden per-execution (Java class name)
	Extension      string
	CompileCommand []string // empty if the language has no compile phase
	RunCommand     []string
	DefaultTimeout time.Duration
	DefaultMemory  int64 // bytes
}

// LanguageSpecs is the per-language configuration table from the execution
// surface. Compile/run commands use "{file}" and "{class}" placeholders that
// the sandbox substitutes per job.
var LanguageSpecs = map[Language]LanguageSpec{
	LanguageJavaScript: {
		Image:          "node:18-alpine",
		FileName:       "main",
		Extension:      "js",
		RunCommand:     []string{"node", "main.js"},
		DefaultTimeout: 30 * time.Second,
		DefaultMemory:  256 * 1024 * 1024,
	},
	LanguagePython: {
		Image:          "python:3.11-alpine",
		FileName:       "main",
		Extension:      "py",
		RunCommand:     []string{"python", "main.py"},
		DefaultTimeout: 30 * time.Second,
		DefaultMemory:  256 * 1024 * 1024,
	},
	LanguageJava: {
		Image:          "eclipse-temurin:17-jdk",
		FileName:       "Main",
		Extension:      "java",
		CompileCommand: []string{"javac", "{file}"},
		RunCommand:     []string{"java", "{class}"},
		DefaultTimeout: 30 * time.Second,
		DefaultMemory:  512 * 1024 * 1024,
	},
	LanguageCPP: {
		Image:          "gcc:11-alpine",
		FileName:       "main",
		Extension:      "cpp",
		CompileCommand: []string{"g++", "-std=c++17", "-O2", "-o", "main", "main.cpp"},
		RunCommand:     []string{"./main"},
		DefaultTimeout: 45 * time.Second,
		DefaultMemory:  256 * 1024 * 1024,
	},
	LanguageC: {
		Image:          "gcc:11-alpine",
		FileName:       "main",
		Extension:      "c",
		CompileCommand: []string{"gcc", "-O2", "-o", "main", "main.c"},
		RunCommand:     []string{"./main"},
		DefaultTimeout: 45 * time.Second,
		DefaultMemory:  256 * 1024 * 1024,
	},
	LanguageGo: {
		Image:          "golang:1.23-alpine",
		FileName:       "main",
		Extension:      "go",
		CompileCommand: []string{"go", "build", "-o", "main", "main.go"},
		RunCommand:     []string{"./main"},
		DefaultTimeout: 45 * time.Second,
		DefaultMemory:  256 * 1024 * 1024,
	},
	LanguageRust: {
		Image:          "rust:1.77-alpine",
		FileName:       "main",
		Extension:      "rs",
		CompileCommand: []string{"rustc", "-O", "-o", "main", "main.rs"},
		RunCommand:     []string{"./main"},
		DefaultTimeout: 45 * time.Second,
		DefaultMemory:  256 * 1024 * 1024,
	},
	LanguagePHP: {
		Image:          "php:8-alpine",
		FileName:       "main",
		Extension:      "php",
		RunCommand:     []string{"php", "main.php"},
		DefaultTimeout: 30 * time.Second,
		DefaultMemory:  128 * 1024 * 1024,
	},
}

// BannedPatternSeverity classifies how dangerous a matched lexical pattern is.
type BannedPatternSeverity string

const (
	SeverityCritical BannedPatternSeverity = "critical"
	SeverityHigh     BannedPatternSeverity = "high"
)
