package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/joho/godotenv"
)

var (
	rootOnce sync.Once
	rootDir  string
)

// projectRoot walks up from this file to the directory holding go.mod.
func projectRoot() string {
	rootOnce.Do(func() {
		_, filename, _, _ := runtime.Caller(0)
		dir := filepath.Dir(filename)
		for {
			if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
				rootDir = dir
				return
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				panic("could not find project root (go.mod not found)")
			}
			dir = parent
		}
	})
	return rootDir
}

// GetEnv reads key after loading the project .env file, if there is one.
func GetEnv(key string) string {
	envFile := filepath.Join(projectRoot(), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			panic("Error loading .env file: " + err.Error())
		}
	}

	return os.Getenv(key)
}
