// Package engine rewrites the access flags of a dex file: parse, apply the
// policy to every class, field and method, refresh the checksum and
// signature, and write the result atomically.
package engine

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"dexaccess/internal/atomicfile"
	"dexaccess/internal/dex"
	dlog "dexaccess/internal/dexaccess/log"
	"dexaccess/internal/policy"
)

// IOError reports a failed filesystem operation on Path.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Init configures process-wide logging. Only the first call in a process
// takes effect; later calls are no-ops.
func Init(logLevel string) error {
	return dlog.Setup(logLevel)
}

type Option func(*Engine)

// WithLogger routes diagnostics to l instead of the process default.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine is safe for concurrent use; each call works on its own buffer.
type Engine struct {
	policy policy.Policy
	logger *log.Logger
}

func New(p policy.Policy, opts ...Option) *Engine {
	e := &Engine{policy: p}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Policy() policy.Policy { return e.policy }

func (e *Engine) log() *log.Logger {
	if e.logger != nil {
		return e.logger
	}
	return log.Default()
}

// Change is one rewritten (or inspected) access flags value.
type Change struct {
	Kind policy.Kind
	Name string
	Old  dex.AccessFlags
	New  dex.AccessFlags
}

func (c Change) Changed() bool { return c.Old != c.New }

type ClassReport struct {
	Descriptor string
	Filtered   bool
	Old        dex.AccessFlags
	New        dex.AccessFlags
	Members    []Change
}

type Stats struct {
	Classes  int
	Filtered int
	Fields   int
	Methods  int
	Changed  int
	Elapsed  time.Duration
}

type Result struct {
	Data    []byte
	Version string
	Stats   Stats
	Classes []ClassReport
}

// Run rewrites inputPath into outputPath. The input file is never modified
// and nothing is written unless the whole rewrite succeeds.
func (e *Engine) Run(inputPath, outputPath string) error {
	_, err := e.run(inputPath, outputPath)
	return err
}

func (e *Engine) run(inputPath, outputPath string) (*Result, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, &IOError{Op: "read", Path: inputPath, Err: err}
	}

	res, err := e.Rewrite(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", inputPath, err)
	}

	if err := atomicfile.WriteFile(outputPath, res.Data, 0o644); err != nil {
		return nil, &IOError{Op: "write", Path: outputPath, Err: err}
	}

	e.log().Info("modified file",
		"input", inputPath,
		"output", outputPath,
		"classes", res.Stats.Classes,
		"changed", res.Stats.Changed,
		"ms", res.Stats.Elapsed.Milliseconds())
	return res, nil
}

// Rewrite applies the policy to a copy of buf and returns the new image.
func (e *Engine) Rewrite(buf []byte) (*Result, error) {
	start := time.Now()
	lg := e.log()

	f, err := dex.Parse(bytes.Clone(buf))
	if err != nil {
		return nil, err
	}
	if err := dex.Verify(f.Bytes()); err != nil {
		lg.Warn("input failed integrity check, output will be re-signed", "err", err)
	}
	lg.Debug("parsed dex",
		"version", f.Version,
		"size", f.Size(),
		"strings", len(f.StringIDs),
		"methods", len(f.MethodIDs),
		"classes", len(f.ClassDefs))

	res := &Result{Version: f.Version, Classes: make([]ClassReport, 0, len(f.ClassDefs))}
	done := e.filteredData(f)
	for i := range f.ClassDefs {
		rep, err := e.rewriteClass(f, i, done, &res.Stats)
		if err != nil {
			return nil, err
		}
		res.Classes = append(res.Classes, rep)
	}

	if err := f.Finalize(); err != nil {
		return nil, err
	}
	res.Data = f.Bytes()
	res.Stats.Elapsed = time.Since(start)
	return res, nil
}

// filteredData returns the class_data offsets owned by filtered classes.
// Another class_def pointing at the same class_data must not rewrite it.
func (e *Engine) filteredData(f *dex.File) map[uint32]bool {
	done := map[uint32]bool{}
	for i := range f.ClassDefs {
		cd := &f.ClassDefs[i]
		if cd.Data == nil {
			continue
		}
		desc, err := f.ClassDescriptor(cd)
		if err == nil && e.policy.Filtered(desc) {
			done[cd.ClassDataOff] = true
		}
	}
	return done
}

// rewriteClass patches class def i. done holds the class_data offsets that
// were already rewritten or belong to a filtered class; their members are
// left as they are.
func (e *Engine) rewriteClass(f *dex.File, i int, done map[uint32]bool, st *Stats) (ClassReport, error) {
	cd := &f.ClassDefs[i]
	desc, err := f.ClassDescriptor(cd)
	if err != nil {
		return ClassReport{}, fmt.Errorf("class_def %d: %w", i, err)
	}
	st.Classes++
	owner := cd.AccessFlags
	rep := ClassReport{Descriptor: desc, Old: owner, New: owner}

	if e.policy.Filtered(desc) {
		e.log().Debug("skipping filtered class", "class", desc)
		rep.Filtered = true
		st.Filtered++
		return rep, nil
	}

	rep.New = e.policy.Apply(policy.KindClass, owner)
	if rep.New != owner {
		if err := f.SetClassFlags(i, rep.New); err != nil {
			return rep, fmt.Errorf("class %s: %w", desc, err)
		}
		st.Changed++
	}

	if cd.Data == nil {
		return rep, nil
	}
	if done[cd.ClassDataOff] {
		e.log().Debug("class data shared with an earlier or filtered class, members left as is",
			"class", desc, "offset", fmt.Sprintf("%#x", cd.ClassDataOff))
		return rep, nil
	}
	done[cd.ClassDataOff] = true
	e.log().Debug("rewriting class", "class", desc, "offset", fmt.Sprintf("%#x", cd.ClassDataOff))

	lists := []struct {
		kind   policy.Kind
		fields []dex.EncodedField
	}{
		{policy.KindField, cd.Data.StaticFields},
		{policy.KindField, cd.Data.InstanceFields},
	}
	for _, l := range lists {
		for j := range l.fields {
			fld := &l.fields[j]
			name := memberName(f.FieldName, fld.FieldIdx)
			ch, err := e.rewriteSlot(f, &fld.Flags, l.kind, owner, name)
			if err != nil {
				return rep, fmt.Errorf("class %s field %s: %w", desc, name, err)
			}
			rep.Members = append(rep.Members, ch)
			st.Fields++
			if ch.Changed() {
				st.Changed++
			}
		}
	}

	methods := []struct {
		kind    policy.Kind
		methods []dex.EncodedMethod
	}{
		{policy.KindDirectMethod, cd.Data.DirectMethods},
		{policy.KindVirtualMethod, cd.Data.VirtualMethods},
	}
	for _, l := range methods {
		for j := range l.methods {
			m := &l.methods[j]
			name := memberName(f.MethodName, m.MethodIdx)
			ch, err := e.rewriteSlot(f, &m.Flags, l.kind, owner, name)
			if err != nil {
				return rep, fmt.Errorf("class %s method %s: %w", desc, name, err)
			}
			rep.Members = append(rep.Members, ch)
			st.Methods++
			if ch.Changed() {
				st.Changed++
			}
		}
	}
	return rep, nil
}

func (e *Engine) rewriteSlot(f *dex.File, s *dex.Slot, kind policy.Kind, owner dex.AccessFlags, name string) (Change, error) {
	ch := Change{Kind: kind, Name: name, Old: s.Value}
	ch.New = e.policy.ApplyMember(kind, owner, s.Value)
	if !ch.Changed() {
		return ch, nil
	}
	if err := f.SetSlot(s, ch.New); err != nil {
		return ch, err
	}
	e.log().Debug("flags", "kind", kind.String(), "name", name,
		"old", fmt.Sprintf("%#x", uint32(ch.Old)), "new", fmt.Sprintf("%#x", uint32(ch.New)))
	return ch, nil
}

func memberName(lookup func(uint32) (string, error), idx uint32) string {
	name, err := lookup(idx)
	if err != nil {
		return fmt.Sprintf("#%d", idx)
	}
	return name
}
