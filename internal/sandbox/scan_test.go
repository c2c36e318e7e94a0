package sandbox

import (
	"testing"

	"github.com/codecollab/editor-backend/internal/domain"
)

func TestScan_CriticalPatternBlocks(t *testing.T) {
	result := Scan(domain.LanguagePython, "import subprocess\nsubprocess.run(['ls'])")
	if !result.Blocked {
		t.Fatal("expected subprocess usage to block execution")
	}
}

func TestScan_SingleHighSeverityDoesNotBlock(t *testing.T) {
	result := Scan(domain.LanguagePython, "import socket\ns = socket.socket()")
	if result.Blocked {
		t.Fatal("a single high-severity match should not block on its own")
	}
}

func TestScan_ThreeHighSeverityMatchesBlock(t *testing.T) {
	code := "eval('1')\nexec('2')\n__import__('os')"
	result := Scan(domain.LanguagePython, code)
	if !result.Blocked {
		t.Fatal("three high-severity matches should block")
	}
}

func TestScan_CleanCodeIsNotBlocked(t *testing.T) {
	result := Scan(domain.LanguagePython, "print('hello world')")
	if result.Blocked {
		t.Fatal("plain print statement should never be blocked")
	}
	if len(result.Findings) != 0 {
		t.Fatalf("expected no findings, got %v", result.Findings)
	}
}

func TestScan_UnknownLanguageNeverBlocks(t *testing.T) {
	result := Scan(domain.Language("brainfuck"), "os.system('rm -rf /')")
	if result.Blocked {
		t.Fatal("languages with no registered patterns should not block")
	}
}
