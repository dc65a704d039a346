package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/semconnect/errors"
)

// Limits applied to configuration input.
const (
	maxConfigSize = 10 << 20 // bytes per file
	maxDepth      = 32       // nesting of decoded sections
	maxEnvVarLen  = 10000
	maxPathLen    = 4096
)

func rejected(method, format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
		"Config", method, "input check")
}

// checkConfigPath accepts JSON and YAML files. Relative paths must stay below
// the working directory and absolute paths must be clean.
func checkConfigPath(path string) error {
	if path == "" {
		return rejected("checkConfigPath", "empty config path")
	}
	if len(path) > maxPathLen {
		return rejected("checkConfigPath", "path too long: %d > %d", len(path), maxPathLen)
	}

	if filepath.IsAbs(path) {
		if filepath.Clean(path) != path && strings.Contains(filepath.ToSlash(path), "..") {
			return rejected("checkConfigPath", "path traversal in %s", path)
		}
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return errors.WrapFatal(err, "Config", "checkConfigPath", "get working directory")
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return rejected("checkConfigPath", "cannot resolve %s", path)
		}
		rel, err := filepath.Rel(cwd, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return rejected("checkConfigPath", "%s resolves outside the working directory", path)
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return nil
	default:
		return rejected("checkConfigPath", "only JSON or YAML config files are supported: %s", path)
	}
}

func readConfigFile(path string) ([]byte, error) {
	if err := checkConfigPath(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrNotFound, err), "Config", "readConfigFile", "stat "+path)
	}
	if !info.Mode().IsRegular() {
		return nil, rejected("readConfigFile", "not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, rejected("readConfigFile", "%s has %d bytes, limit is %d", path, info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "Config", "readConfigFile", "read "+path)
	}
	return data, nil
}

// writeConfigFile writes with owner-only permissions.
func writeConfigFile(path string, data []byte) error {
	if err := checkConfigPath(path); err != nil {
		return err
	}
	if len(data) > maxConfigSize {
		return rejected("writeConfigFile", "%d bytes exceed the limit of %d", len(data), maxConfigSize)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.WrapTransient(err, "Config", "writeConfigFile", "write "+path)
	}
	return nil
}

func checkEnvValue(key, value string) error {
	if len(value) > maxEnvVarLen {
		return rejected("checkEnvValue", "%s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return rejected("checkEnvValue", "null byte in %s", key)
	}
	return nil
}

// checkDepth limits the nesting of a decoded layer.
func checkDepth(v any, depth int) error {
	if depth > maxDepth {
		return rejected("checkDepth", "nesting deeper than %d", maxDepth)
	}
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			if err := checkDepth(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := checkDepth(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
