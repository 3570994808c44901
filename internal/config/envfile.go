package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

func envDirs() []string {
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		if dir := filepath.Dir(exe); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// loadEnvFiles loads .env.local then .env from each dir. Variables that are
// already set are never overridden, so earlier files win.
func loadEnvFiles(dirs ...string) {
	for _, dir := range dirs {
		for _, name := range []string{".env.local", ".env"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			_ = godotenv.Load(path)
		}
	}
}
