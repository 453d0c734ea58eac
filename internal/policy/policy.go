// Package policy decides the new access flags for classes, fields and
// methods. It is pure: callers read the old value, ask the policy, and
// patch the file themselves.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"dexaccess/internal/dex"
)

// ErrInvalidFlagCombination is reported by Validate. Apply never returns
// such a combination; it drops the conflicting bit instead.
var ErrInvalidFlagCombination = errors.New("invalid access flag combination")

type Kind int

const (
	KindClass Kind = iota
	KindField
	KindDirectMethod
	KindVirtualMethod
)

func (k Kind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindField:
		return "field"
	case KindDirectMethod:
		return "direct method"
	case KindVirtualMethod:
		return "virtual method"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) isMethod() bool {
	return k == KindDirectMethod || k == KindVirtualMethod
}

// Policy configures the rewrite. The zero value changes nothing; use
// Default for the behaviour of the command line tool.
type Policy struct {
	MakePublic        bool     `json:"makePublic" jsonschema:"title=Make Public,description=Clear private and protected and set public on every class and member,default=true"`
	StripFinalClasses bool     `json:"stripFinalClasses" jsonschema:"title=Strip Final Classes,description=Clear final on classes,default=true"`
	StripFinalMethods bool     `json:"stripFinalMethods" jsonschema:"title=Strip Final Methods,description=Clear final on methods,default=true"`
	StripFinalFields  bool     `json:"stripFinalFields" jsonschema:"title=Strip Final Fields,description=Clear final on fields (interface fields always stay final),default=false"`
	KeepPrivateDirect bool     `json:"keepPrivateDirect" jsonschema:"title=Keep Private Direct,description=Leave private on instance methods stored in the direct method list,default=false"`
	ClassFilters      []string `json:"classFilters,omitempty" jsonschema:"title=Class Filters,description=Class descriptor prefixes to leave untouched (e.g. Landroid/)"`
}

func Default() Policy {
	return Policy{
		MakePublic:        true,
		StripFinalClasses: true,
		StripFinalMethods: true,
	}
}

// Filtered reports whether the class with the given descriptor is excluded
// by one of the class filters.
func (p Policy) Filtered(descriptor string) bool {
	for _, prefix := range p.ClassFilters {
		if prefix != "" && strings.HasPrefix(descriptor, prefix) {
			return true
		}
	}
	return false
}

// Apply returns the new flags for an item of the given kind.
func (p Policy) Apply(kind Kind, old dex.AccessFlags) dex.AccessFlags {
	return p.ApplyMember(kind, 0, old)
}

// ApplyMember is Apply with the owning class's flags, which matter for
// members of interfaces.
func (p Policy) ApplyMember(kind Kind, owner, old dex.AccessFlags) dex.AccessFlags {
	f := old
	switch {
	case kind == KindClass:
		if p.MakePublic {
			f = widen(f)
		}
		if p.StripFinalClasses {
			f &^= dex.AccFinal
		}

	case kind == KindField:
		if p.MakePublic {
			f = widen(f)
		}
		if p.StripFinalFields && owner&dex.AccInterface == 0 {
			f &^= dex.AccFinal
		}

	case kind.isMethod():
		// <clinit> is the only method that is both static and a constructor.
		if old.Has(dex.AccStatic | dex.AccConstructor) {
			return old
		}
		if p.MakePublic && !p.keepsPrivate(kind, old) {
			f = widen(f)
		}
		if p.StripFinalMethods {
			f &^= dex.AccFinal
		}
	}
	return Repair(kind, f)
}

// keepsPrivate reports whether a private instance method in the direct
// list keeps its visibility. The runtime decides direct versus virtual
// dispatch from these bits.
func (p Policy) keepsPrivate(kind Kind, old dex.AccessFlags) bool {
	return p.KeepPrivateDirect && kind == KindDirectMethod &&
		old&dex.AccPrivate != 0 && old&(dex.AccStatic|dex.AccConstructor) == 0
}

func widen(f dex.AccessFlags) dex.AccessFlags {
	return f&^(dex.AccPrivate|dex.AccProtected) | dex.AccPublic
}

// Repair drops bits that would make flags illegal for kind.
func Repair(kind Kind, f dex.AccessFlags) dex.AccessFlags {
	switch {
	case f&dex.AccPublic != 0:
		f &^= dex.AccPrivate | dex.AccProtected
	case f.Has(dex.AccPrivate | dex.AccProtected):
		f &^= dex.AccProtected
	}

	switch {
	case kind == KindClass:
		if f&(dex.AccAbstract|dex.AccInterface) != 0 {
			f &^= dex.AccFinal
		}
	case kind == KindField:
		if f.Has(dex.AccFinal | dex.AccVolatile) {
			f &^= dex.AccVolatile
		}
	case kind.isMethod():
		if f&dex.AccAbstract != 0 {
			f &^= dex.AccFinal | dex.AccPrivate
		}
	}
	return f
}

// Validate reports ErrInvalidFlagCombination when Repair would change f.
func Validate(kind Kind, f dex.AccessFlags) error {
	if fixed := Repair(kind, f); fixed != f {
		return fmt.Errorf("%w: %s %v (conflicting bits %v)", ErrInvalidFlagCombination, kind, f, f&^fixed)
	}
	return nil
}
