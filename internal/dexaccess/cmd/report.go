package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	pathpkg "path/filepath"
	"strings"

	"dexaccess/internal/dex"
	"dexaccess/internal/engine"
	"dexaccess/internal/policy"
)

// Report is what inspect shows: the file's summary and, per class, the
// flags a rewrite with the current policy would produce. Nothing is written.
type Report struct {
	File      string        `json:"file"`
	Version   string        `json:"version"`
	Size      int           `json:"size"`
	Integrity string        `json:"integrity"`
	Policy    policy.Policy `json:"policy"`
	Stats     ReportStats   `json:"stats"`
	Classes   []ClassEntry  `json:"classes"`
}

type ReportStats struct {
	Classes  int `json:"classes"`
	Filtered int `json:"filtered"`
	Fields   int `json:"fields"`
	Methods  int `json:"methods"`
	Changed  int `json:"changed"`
}

type Flags struct {
	Raw   uint32 `json:"raw"`
	Names string `json:"names"`
}

func newFlags(f dex.AccessFlags) Flags {
	return Flags{Raw: uint32(f), Names: f.String()}
}

type ClassEntry struct {
	Descriptor string        `json:"descriptor"`
	Name       string        `json:"name"`
	Filtered   bool          `json:"filtered,omitempty"`
	Before     Flags         `json:"before"`
	After      Flags         `json:"after"`
	Changed    int           `json:"changed"`
	Members    []MemberEntry `json:"members,omitempty"`
}

type MemberEntry struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Before Flags  `json:"before"`
	After  Flags  `json:"after"`
}

func (c ClassEntry) touched() bool {
	return c.Changed > 0 || c.Before.Raw != c.After.Raw
}

// buildReport dry-runs the rewrite on path. Unchanged members are only
// listed when all is set.
func buildReport(path string, p policy.Policy, all bool, opts ...engine.Option) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &engine.IOError{Op: "read", Path: path, Err: err}
	}

	integrity := "ok"
	if err := dex.Verify(data); err != nil {
		integrity = err.Error()
	}

	res, err := engine.New(p, opts...).Rewrite(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	r := &Report{
		File:      path,
		Version:   res.Version,
		Size:      len(data),
		Integrity: integrity,
		Policy:    p,
		Stats: ReportStats{
			Classes:  res.Stats.Classes,
			Filtered: res.Stats.Filtered,
			Fields:   res.Stats.Fields,
			Methods:  res.Stats.Methods,
			Changed:  res.Stats.Changed,
		},
		Classes: make([]ClassEntry, 0, len(res.Classes)),
	}
	for _, c := range res.Classes {
		entry := ClassEntry{
			Descriptor: c.Descriptor,
			Name:       dex.JavaName(c.Descriptor),
			Filtered:   c.Filtered,
			Before:     newFlags(c.Old),
			After:      newFlags(c.New),
		}
		for _, m := range c.Members {
			if m.Changed() {
				entry.Changed++
			} else if !all {
				continue
			}
			entry.Members = append(entry.Members, MemberEntry{
				Kind:   m.Kind.String(),
				Name:   m.Name,
				Before: newFlags(m.Old),
				After:  newFlags(m.New),
			})
		}
		r.Classes = append(r.Classes, entry)
	}
	return r, nil
}

func (r *Report) JSON() (string, error) {
	bts, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	return string(bts), nil
}

// summaryMarkdown is the header block shared by the TUI summary view and
// the plain report.
func (r *Report) summaryMarkdown() string {
	relPath := r.File
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := pathpkg.Rel(cwd, r.File); err == nil && !strings.HasPrefix(rel, "..") {
			relPath = rel
		}
	}

	var lines []string
	if dir := pathpkg.Dir(relPath); dir != "." {
		lines = append(lines, fmt.Sprintf("; %s/", dir))
	}
	lines = append(lines,
		fmt.Sprintf("; %s (dex %s, %d bytes)", pathpkg.Base(relPath), r.Version, r.Size),
		fmt.Sprintf("; integrity: %s", r.Integrity),
	)

	var b strings.Builder
	fmt.Fprintf(&b, "# dexaccess\n\n```\n%s\n```\n\n", strings.Join(lines, "\n"))
	b.WriteString("## Summary\n\n")
	b.WriteString("| | count |\n|---|---|\n")
	fmt.Fprintf(&b, "| classes | %d |\n", r.Stats.Classes)
	fmt.Fprintf(&b, "| filtered classes | %d |\n", r.Stats.Filtered)
	fmt.Fprintf(&b, "| fields | %d |\n", r.Stats.Fields)
	fmt.Fprintf(&b, "| methods | %d |\n", r.Stats.Methods)
	fmt.Fprintf(&b, "| flags to change | %d |\n", r.Stats.Changed)

	b.WriteString("\n## Policy\n\n")
	fmt.Fprintf(&b, "- make public: `%t`\n", r.Policy.MakePublic)
	fmt.Fprintf(&b, "- strip final: classes `%t`, methods `%t`, fields `%t`\n",
		r.Policy.StripFinalClasses, r.Policy.StripFinalMethods, r.Policy.StripFinalFields)
	fmt.Fprintf(&b, "- keep private direct methods: `%t`\n", r.Policy.KeepPrivateDirect)
	if len(r.Policy.ClassFilters) > 0 {
		fmt.Fprintf(&b, "- class filters: `%s`\n", strings.Join(r.Policy.ClassFilters, "`, `"))
	}
	return b.String()
}

// markdown renders one class and its listed members.
func (c ClassEntry) markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "### `%s`\n\n", c.Name)
	if c.Filtered {
		b.WriteString("*filtered, left untouched*\n\n")
	}
	fmt.Fprintf(&b, "class: `%s` → `%s`\n\n", c.Before.Names, c.After.Names)
	if len(c.Members) == 0 {
		return b.String()
	}
	b.WriteString("| kind | name | before | after |\n|---|---|---|---|\n")
	for _, m := range c.Members {
		fmt.Fprintf(&b, "| %s | `%s` | %s | %s |\n", m.Kind, m.Name, m.Before.Names, m.After.Names)
	}
	b.WriteString("\n")
	return b.String()
}

// Markdown is the full plain report: summary followed by every class
// that a rewrite would touch, or every class when all is set.
func (r *Report) Markdown(all bool) string {
	var b strings.Builder
	b.WriteString(r.summaryMarkdown())
	b.WriteString("\n## Classes\n\n")
	n := 0
	for _, c := range r.Classes {
		if !all && !c.touched() {
			continue
		}
		b.WriteString(c.markdown())
		n++
	}
	if n == 0 {
		b.WriteString("Nothing to change.\n")
	}
	return b.String()
}
