package filetree

import (
	"bufio"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-project file listing extra name patterns to skip.
const IgnoreFileName = ".peekhtmlignore"

const (
	maxIgnoreWarnings = 3
	maxPatternLength  = 256
)

// LoadIgnoreFile reads IgnoreFileName from rootDir. A missing or unreadable
// file yields no patterns. Invalid lines are dropped with a warning.
func LoadIgnoreFile(rootDir string) []string {
	file, err := os.Open(filepath.Join(rootDir, IgnoreFileName))
	if err != nil {
		return nil
	}
	defer file.Close()

	var patterns []string
	var invalidCount int
	warn := func(format string, args ...any) {
		invalidCount++
		if invalidCount <= maxIgnoreWarnings {
			log.Printf(format, args...)
		}
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if len(line) > maxPatternLength {
			warn("Warning: %s pattern too long (max %d chars, ignored): %s...", IgnoreFileName, maxPatternLength, line[:50])
			continue
		}

		// Patterns match single entry names, never paths.
		if strings.ContainsAny(line, `/\`) {
			warn("Warning: %s pattern contains path separator (ignored): %s", IgnoreFileName, line)
			continue
		}

		if _, err := filepath.Match(line, "test"); err != nil {
			warn("Warning: Invalid %s pattern '%s': %v", IgnoreFileName, line, err)
			continue
		}

		patterns = append(patterns, line)
	}

	if invalidCount > maxIgnoreWarnings {
		log.Printf("Warning: Suppressed %d additional invalid %s patterns", invalidCount-maxIgnoreWarnings, IgnoreFileName)
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Warning: Error reading %s: %v", IgnoreFileName, err)
		return nil
	}

	return patterns
}
