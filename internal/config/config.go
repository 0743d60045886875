// Package config loads the lifecycle configuration from a YAML file or a
// directory of YAML files. Directories are merged in sorted filename order
// with later files overriding earlier top-level keys, and `${VAR}` references
// are substituted from the environment before parsing. A raw mode skips
// substitution so operators can inspect config without the secrets present.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/agentstation/lifecycle/pkg/errors"
)

// Module is one source or target block: the module name selecting the
// adapter, plus the adapter-specific settings.
type Module struct {
	Module   string
	Settings map[string]any
}

// Config is the parsed configuration tree.
type Config struct {
	GroupsPatterns []string
	Source         Module
	Targets        []Module

	raw map[string]any
}

// Option configures loading.
type Option func(*loader)

type loader struct {
	raw bool
}

// WithRaw skips environment variable substitution. Raw configs are for
// inspection only; adapters still see `${VAR}` placeholders.
func WithRaw() Option {
	return func(l *loader) {
		l.raw = true
	}
}

// Load reads the given file, or every *.yml file in the given directory in
// sorted order, and parses the merged result.
func Load(path string, opts ...Option) (*Config, error) {
	l := &loader{}
	for _, opt := range opts {
		opt(l)
	}

	// A .env file beside the working directory supplies substitution
	// variables without exporting them; absence is fine.
	_ = godotenv.Load()

	files, err := configFiles(path)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.NewConfigError(file, "reading config file", err)
		}
		if !l.raw {
			if data, err = substituteEnv(data); err != nil {
				return nil, errors.NewConfigError(file, "substituting environment variables", err)
			}
		}

		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.WrapParse("yaml", file, err)
		}
		for key, value := range doc {
			merged[key] = value
		}
	}

	cfg := &Config{raw: merged}
	if err := cfg.parse(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configFiles resolves the path to the ordered list of files to merge.
func configFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewConfigError(path, "config file or directory not found", err)
	}

	if !info.IsDir() {
		return []string{path}, nil
	}

	files, err := filepath.Glob(filepath.Join(path, "*.yml"))
	if err != nil {
		return nil, errors.NewConfigError(path, "listing config directory", err)
	}
	if len(files) == 0 {
		return nil, errors.NewConfigError(path, "no *.yml files in config directory", nil)
	}
	sort.Strings(files)
	return files, nil
}

// envPattern matches $$ (escaped dollar), ${NAME}, and $NAME.
var envPattern = regexp.MustCompile(`\$\$|\$\{(\w+)\}|\$(\w+)`)

// substituteEnv replaces environment variable references in the config text.
// A reference to an unset variable is an error, never an empty string: a
// silently blank password is worse than a failed run.
func substituteEnv(data []byte) ([]byte, error) {
	var missing []string
	out := envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		if string(match) == "$$" {
			return []byte("$")
		}
		name := strings.TrimLeft(strings.Trim(string(match), "${}"), "$")
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return []byte(value)
	})
	if len(missing) > 0 {
		return nil, errors.NewConfigError("environment", "missing environment variables: "+strings.Join(missing, ", "), nil)
	}
	return out, nil
}

// parse extracts the typed sections from the merged tree.
func (c *Config) parse() error {
	if patterns, ok := c.raw["groups_patterns"]; ok {
		list, err := toStringSlice(patterns)
		if err != nil {
			return errors.NewConfigError("groups_patterns", "must be a list of strings", err)
		}
		c.GroupsPatterns = list
	}

	source, ok := c.raw["source"]
	if !ok {
		return errors.NewConfigError("source", "source config missing", nil)
	}
	module, err := parseModule(source)
	if err != nil {
		return errors.NewConfigError("source", "invalid source block", err)
	}
	c.Source = module

	if targetsAny, ok := c.raw["targets"]; ok {
		list, ok := targetsAny.([]any)
		if !ok {
			return errors.NewConfigError("targets", "targets must be a list", nil)
		}
		for _, entry := range list {
			module, err := parseModule(entry)
			if err != nil {
				return errors.NewConfigError("targets", "invalid target block", err)
			}
			c.Targets = append(c.Targets, module)
		}
	}

	return nil
}

// parseModule splits a source/target block into its module name and settings.
func parseModule(v any) (Module, error) {
	block, ok := v.(map[string]any)
	if !ok {
		return Module{}, errors.New("block is not a mapping")
	}

	name, ok := block["module"].(string)
	if !ok || name == "" {
		return Module{}, errors.New("module name missing or not a string")
	}

	settings := make(map[string]any, len(block))
	for key, value := range block {
		if key == "module" {
			continue
		}
		settings[key] = value
	}
	return Module{Module: name, Settings: settings}, nil
}

// Dump renders the parsed configuration back as YAML, for config checks.
func (c *Config) Dump() (string, error) {
	out, err := yaml.Marshal(c.raw)
	if err != nil {
		return "", errors.WrapParse("yaml", "config", err)
	}
	return string(out), nil
}
