package fuzztests

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

const (
	maxSeedBytes = 64 << 10
	maxFuzzInput = 16 << 10
)

// seedDirs are the repository directories holding scenario files.
var seedDirs = []string{
	filepath.Join("..", "scenario", "testdata"),
	filepath.Join("..", "..", "cmd", "weft", "testdata"),
	filepath.Join("..", "..", "examples"),
}

func addCorpusSeeds(f *testing.F) {
	for _, root := range seedDirs {
		addDirSeeds(f, root)
	}
	f.Add([]byte{})
	f.Add([]byte("[[thread]]\nname = \"a\"\nsteps = [\"yield\"]\n"))
}

func addDirSeeds(f *testing.F, root string) {
	if _, err := os.Stat(root); err != nil {
		return
	}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() || filepath.Ext(path) != ".toml" {
			return nil
		}
		// #nosec G304 -- path comes from a repository directory walk
		src, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		f.Add(clampSeed(src))
		return nil
	})
}

func clampSeed(src []byte) []byte {
	if len(src) <= maxSeedBytes {
		return append([]byte(nil), src...)
	}
	return append([]byte(nil), src[:maxSeedBytes]...)
}

// truncateForLog truncates input for failure messages.
func truncateForLog(input []byte, maxLen int) []byte {
	if len(input) <= maxLen {
		return input
	}
	return append(input[:maxLen:maxLen], []byte("...")...)
}
