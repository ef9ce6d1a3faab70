package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// moduleGlobal holds the exports of a bundled ES module until they are
// hoisted onto globalThis.
const moduleGlobal = "globalThis.__handler_module__"

// hoistExportsJS copies the module's named exports onto globalThis, then the
// properties of an object default export that no named export claimed, so
// that `export function handler` and `export default { handler }` both define
// a global entry point.
const hoistExportsJS = `
;(function(m) {
	if (!m) return;
	var k;
	for (k in m) {
		if (k !== 'default' && Object.prototype.hasOwnProperty.call(m, k)) globalThis[k] = m[k];
	}
	var d = m['default'];
	if (d && typeof d === 'object') {
		for (k in d) {
			if (Object.prototype.hasOwnProperty.call(d, k) && !(k in m)) globalThis[k] = d[k];
		}
	}
	delete globalThis.__handler_module__;
})(globalThis.__handler_module__);
`

// reModuleSyntax finds import/export statements at the start of a line.
var reModuleSyntax = regexp.MustCompile(`(?m)^\s*(import\s*[\w{*'"]|export\s)`)

// Script is a handler script ready to run in a session. Source is plain
// script code: ES modules and TypeScript have already been bundled.
type Script struct {
	Name   string
	Source string
}

// LoadScript reads the script at path once. ES modules and TypeScript are
// bundled with their relative imports into a single script.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading handler script: %w", err)
	}
	name := filepath.Base(path)
	src := string(data)
	if !needsBundling(name, src) {
		return &Script{Name: name, Source: src}, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:   []string{abs},
		AbsWorkingDir: filepath.Dir(abs),
		Bundle:        true,
		Format:        esbuild.FormatIIFE,
		GlobalName:    moduleGlobal,
		Write:         false,
		Platform:      esbuild.PlatformNeutral,
		Target:        esbuild.ES2020,
		TreeShaking:   esbuild.TreeShakingFalse,
		LogLevel:      esbuild.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("bundling %s: %s", name, joinMessages(result.Errors))
	}
	if len(result.OutputFiles) == 0 {
		return nil, fmt.Errorf("bundling %s produced no output", name)
	}
	return &Script{Name: name, Source: string(result.OutputFiles[0].Contents) + hoistExportsJS}, nil
}

// NewScript prepares in-memory source. ES module syntax is transformed
// without bundling, so imports cannot be resolved.
func NewScript(name, source string) (*Script, error) {
	if !needsBundling(name, source) {
		return &Script{Name: name, Source: source}, nil
	}
	loader := esbuild.LoaderJS
	if isTypeScript(name) {
		loader = esbuild.LoaderTS
	}
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:     loader,
		Format:     esbuild.FormatIIFE,
		GlobalName: moduleGlobal,
		Target:     esbuild.ES2020,
		Sourcefile: name,
		LogLevel:   esbuild.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("transforming %s: %s", name, joinMessages(result.Errors))
	}
	return &Script{Name: name, Source: string(result.Code) + hoistExportsJS}, nil
}

// needsBundling reports whether the source must go through esbuild before
// a plain script evaluation can run it.
func needsBundling(name, source string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mjs", ".ts", ".mts":
		return true
	}
	return reModuleSyntax.MatchString(source)
}

func isTypeScript(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".ts" || ext == ".mts"
}

func joinMessages(msgs []esbuild.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		parts = append(parts, m.Text)
	}
	return strings.Join(parts, "; ")
}
