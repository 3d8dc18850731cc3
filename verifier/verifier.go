// Package verifier checks that the method and class names a scripting layer
// reaches by name still exist in a packaged build artifact after shrinking.
//
// The check is a literal substring search over the artifact's code
// sections. It catches names that were renamed or removed; a name that
// happens to occur inside an unrelated symbol still counts as found.
package verifier

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrArtifactNotFound means the artifact path does not exist.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrSourceNotFound means the source tree does not exist.
	ErrSourceNotFound = errors.New("source directory not found")
)

// Options configures a Verifier.
type Options struct {
	SourceDir    string
	Extensions   []string // source file suffixes to scan, e.g. ".py"
	BridgeVars   []string // attribute names the bridges are reached through
	Classes      []string // class names that must survive
	CodeSuffixes []string // artifact entries holding executable code, e.g. ".dex"
	Logger       *slog.Logger
}

// Verifier runs one verification pass. It keeps no state between runs.
type Verifier struct {
	opts Options
	call *regexp.Regexp
	log  *slog.Logger
}

// New compiles the call-site pattern for opts.BridgeVars.
func New(opts Options) (*Verifier, error) {
	if len(opts.BridgeVars) == 0 {
		return nil, errors.New("no bridge variables configured")
	}
	call, err := callPattern(opts.BridgeVars)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{opts: opts, call: call, log: logger.With("component", "verifier")}, nil
}

// callPattern matches ".<var>.<method>(" with optional space before the
// parenthesis and captures the method name.
func callPattern(vars []string) (*regexp.Regexp, error) {
	quoted := make([]string, len(vars))
	for i, v := range vars {
		quoted[i] = regexp.QuoteMeta(v)
	}
	re, err := regexp.Compile(`\.(?:` + strings.Join(quoted, "|") + `)\.(\w+)\s*\(`)
	if err != nil {
		return nil, fmt.Errorf("compile call pattern: %w", err)
	}
	return re, nil
}

// Run scans the source tree, extracts the artifact's code and checks every
// collected method and configured class against it.
func (v *Verifier) Run(artifact string) (*Report, error) {
	if _, err := os.Stat(artifact); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, artifact)
		}
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	methods, err := v.ScanSource()
	if err != nil {
		return nil, err
	}
	v.log.Info("scanned source", "dir", v.opts.SourceDir, "methods", len(methods))

	code, err := ExtractCode(artifact, v.opts.CodeSuffixes)
	if err != nil {
		return nil, err
	}
	v.log.Info("extracted code", "artifact", artifact, "bytes", len(code))

	r := Check(methods, v.opts.Classes, code)
	r.SourceDir = v.opts.SourceDir
	r.Artifact = artifact
	if !r.Passed() {
		v.log.Warn("names missing from artifact",
			"methods", r.MissingMethods, "classes", r.MissingClasses)
	}
	return r, nil
}

// ScanSource returns the sorted, distinct method names called through any
// bridge variable in the source tree. Unreadable files and directories are
// logged and skipped.
func (v *Verifier) ScanSource() ([]string, error) {
	dir := v.opts.SourceDir
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, dir)
	}

	seen := make(map[string]struct{})
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			v.log.Warn("could not read source entry", "path", path, "err", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !hasSuffix(path, v.opts.Extensions) {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			v.log.Warn("could not read source file", "path", path, "err", err)
			return nil
		}
		for _, m := range v.call.FindAllSubmatch(src, -1) {
			seen[string(m[1])] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return sortedKeys(seen), nil
}

// ExtractCode concatenates every zip entry of the artifact whose name ends in
// one of suffixes.
func ExtractCode(artifact string, suffixes []string) ([]byte, error) {
	zr, err := zip.OpenReader(artifact)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, artifact)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	for _, f := range zr.File {
		if !hasSuffix(f.Name, suffixes) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		_, err = io.Copy(&buf, rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
	}
	return buf.Bytes(), nil
}

// Check partitions methods and classes by whether their UTF-8 bytes occur in
// code.
func Check(methods, classes []string, code []byte) *Report {
	r := &Report{
		Methods:  dedupe(methods),
		Classes:  dedupe(classes),
		CodeSize: len(code),
	}
	r.FoundMethods, r.MissingMethods = partition(r.Methods, code)
	r.FoundClasses, r.MissingClasses = partition(r.Classes, code)
	return r
}

func partition(names []string, code []byte) (found, missing []string) {
	for _, n := range names {
		if bytes.Contains(code, []byte(n)) {
			found = append(found, n)
		} else {
			missing = append(missing, n)
		}
	}
	return found, missing
}

func hasSuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
