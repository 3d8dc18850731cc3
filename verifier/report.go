package verifier

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Report is the outcome of one verification pass. All name lists are sorted.
type Report struct {
	SourceDir string
	Artifact  string
	CodeSize  int

	Methods        []string
	FoundMethods   []string
	MissingMethods []string

	Classes        []string
	FoundClasses   []string
	MissingClasses []string
}

// Passed reports whether no method or class is missing.
func (r *Report) Passed() bool {
	return len(r.MissingMethods) == 0 && len(r.MissingClasses) == 0
}

// WriteText prints the human-readable report.
func (r *Report) WriteText(w io.Writer) {
	rule := strings.Repeat("=", 60)
	thin := strings.Repeat("-", 60)

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Bridge symbol verification")
	fmt.Fprintln(w, rule)
	if r.SourceDir != "" {
		fmt.Fprintf(w, "Source:   %s (%d bridge method calls)\n", r.SourceDir, len(r.Methods))
	}
	if r.Artifact != "" {
		fmt.Fprintf(w, "Artifact: %s (%d bytes of code)\n", r.Artifact, r.CodeSize)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, thin)
	fmt.Fprintln(w, "RESULTS")
	fmt.Fprintln(w, thin)

	writeSection(w, "Methods", r.Methods, r.FoundMethods, r.MissingMethods)
	writeSection(w, "Bridge classes", r.Classes, r.FoundClasses, r.MissingClasses)

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	if r.Passed() {
		fmt.Fprintln(w, "VERIFICATION PASSED")
		fmt.Fprintln(w, rule)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "All bridge methods and classes are preserved.")
		return
	}
	fmt.Fprintln(w, "VERIFICATION FAILED")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Some bridge methods or classes were renamed or removed by the shrinker.")
	fmt.Fprintln(w, "Calls made by name will fail at runtime.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Fix: add keep rules for the missing names, for example:")
	fmt.Fprintln(w, "  -keep class **.KotlinReticulumBridge { *; }")
	fmt.Fprintln(w, "  -keepclassmembers class **.KotlinReticulumBridge { *; }")
}

func writeSection(w io.Writer, title string, all, found, missing []string) {
	fmt.Fprintf(w, "\n%s: %d/%d verified\n", title, len(found), len(all))
	for _, n := range found {
		fmt.Fprintf(w, "  ✓ %s\n", n)
	}
	if len(missing) > 0 {
		fmt.Fprintf(w, "\n✗ %d MISSING (likely obfuscated):\n", len(missing))
		for _, n := range missing {
			fmt.Fprintf(w, "  ✗ %s\n", n)
		}
	}
}

const reportSheet = "Report"

// WriteXLSX saves the report as a spreadsheet with one row per name.
func (r *Report) WriteXLSX(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	row := 1
	put := func(values ...interface{}) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		row++
		return f.SetSheetRow(reportSheet, cell, &values)
	}

	if err := put("Kind", "Name", "Status"); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, s := range []struct {
		kind           string
		found, missing []string
	}{
		{"method", r.FoundMethods, r.MissingMethods},
		{"class", r.FoundClasses, r.MissingClasses},
	} {
		for _, n := range s.found {
			if err := put(s.kind, n, "found"); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
		for _, n := range s.missing {
			if err := put(s.kind, n, "missing"); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
	}

	verdict := "PASSED"
	if !r.Passed() {
		verdict = "FAILED"
	}
	row++
	if err := put("verdict", verdict, r.Artifact); err != nil {
		return fmt.Errorf("write verdict: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
