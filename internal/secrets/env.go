package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Env resolves secrets from the process environment. Values loaded from a
// .env file never override variables already set in the environment.
type Env struct {
	lookup func(string) (string, bool)
}

// LoadEnv merges the given dotenv files (".env" when none are named) into
// the process environment. A missing default file is not an error.
func LoadEnv(files ...string) (*Env, error) {
	explicit := len(files) > 0
	if err := godotenv.Load(files...); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load dotenv: %w", err)
		}
	}
	return NewEnv(os.LookupEnv), nil
}

// NewEnv returns an Env backed by lookup; tests pass a map-backed func.
func NewEnv(lookup func(string) (string, bool)) *Env {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Env{lookup: lookup}
}

// Lookup returns the trimmed value of key and whether it was set to
// something other than whitespace.
func (e *Env) Lookup(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *Env) Get(key string) string {
	v, _ := e.Lookup(key)
	return v
}

// Override sets *dst to the value of key when key is set.
func (e *Env) Override(dst *string, key string) bool {
	if v, ok := e.Lookup(key); ok {
		*dst = v
		return true
	}
	return false
}
