package hoodpay

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed methods.yaml
var defaultMethodsYAML []byte

type MethodMode string

const (
	ModeXPub   MethodMode = "xpub"
	ModeDirect MethodMode = "direct"
)

type Method struct {
	Name    string     `yaml:"name"`
	Mode    MethodMode `yaml:"mode"`
	Aliases []string   `yaml:"aliases"`
}

type methodsFile struct {
	Methods []Method `yaml:"methods"`
}

// MethodTable resolves user-facing coin names to Hoodpay payment methods.
type MethodTable struct {
	byName map[string]Method
}

func DefaultMethods() *MethodTable {
	table, err := ParseMethods(defaultMethodsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded hoodpay methods are invalid: %v", err))
	}
	return table
}

// LoadMethods reads a method table from path, or returns the embedded
// defaults when path is empty.
func LoadMethods(path string) (*MethodTable, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultMethods(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment methods file: %w", err)
	}
	return ParseMethods(data)
}

func ParseMethods(data []byte) (*MethodTable, error) {
	var file methodsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse payment methods: %w", err)
	}
	if len(file.Methods) == 0 {
		return nil, fmt.Errorf("no payment methods defined")
	}

	table := &MethodTable{byName: make(map[string]Method)}
	for _, method := range file.Methods {
		name := normalizeMethodName(method.Name)
		if name == "" {
			return nil, fmt.Errorf("payment method name is required")
		}
		if method.Mode != ModeXPub && method.Mode != ModeDirect {
			return nil, fmt.Errorf("payment method %s has unsupported mode %q", name, method.Mode)
		}
		method.Name = name
		for _, key := range append([]string{name}, method.Aliases...) {
			key = normalizeMethodName(key)
			if _, exists := table.byName[key]; exists {
				return nil, fmt.Errorf("payment method %s is defined twice", key)
			}
			table.byName[key] = method
		}
	}
	return table, nil
}

func (t *MethodTable) Resolve(name string) (Method, bool) {
	method, ok := t.byName[normalizeMethodName(name)]
	return method, ok
}

// Names lists canonical method names in alphabetical order.
func (t *MethodTable) Names() []string {
	seen := make(map[string]struct{})
	names := make([]string, 0, len(t.byName))
	for _, method := range t.byName {
		if _, ok := seen[method.Name]; ok {
			continue
		}
		seen[method.Name] = struct{}{}
		names = append(names, method.Name)
	}
	sort.Strings(names)
	return names
}

func normalizeMethodName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
