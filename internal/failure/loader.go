package failure

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	yamlutil "github.com/msageha/planguard/internal/yaml"
)

// Loader reads rule files. Compiled patterns are cached across loads so a
// reload only compiles patterns it has not seen.
type Loader struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

func NewLoader() *Loader {
	return &Loader{cache: make(map[string]*regexp.Regexp)}
}

func (l *Loader) LoadFile(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	rules, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// Parse decodes a rule file. Markers default to the built-in ones when the
// file does not list any.
func (l *Loader) Parse(data []byte) (*Rules, error) {
	var rs RuleSet
	if err := yamlutil.DecodeStrict(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(rs.Markers) == 0 {
		rs.Markers = DefaultRuleSet().Markers
	}
	return compileWith(rs, l.compile)
}

func (l *Loader) compile(pattern string) (*regexp.Regexp, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if re, ok := l.cache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	l.cache[pattern] = re
	return re, nil
}

func (l *Loader) cached() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cache)
}
