package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file into the process environment. Missing files are
// ignored and variables that are already set win.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
