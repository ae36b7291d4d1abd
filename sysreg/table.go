package sysreg

import (
	"fmt"

	"github.com/sarchlab/armsys/arch"
)

// Env is the view of a core the table needs to evaluate and perform
// accesses. Fields returns the core's register storage; descriptors refer
// to it by index.
type Env interface {
	CurrentEL() arch.EL
	IsSecure() bool
	Fields() []uint64
}

// ReadFunc computes the full-width value of a register.
type ReadFunc[E Env] func(env E, r *Register[E]) uint64

// WriteFunc stores a full-width value, performing side effects.
type WriteFunc[E Env] func(env E, r *Register[E], v uint64)

// AccessFunc is a configuration-dependent trap predicate.
type AccessFunc[E Env] func(env E, r *Register[E], isRead bool) Result

// ResetFunc resets a register.
type ResetFunc[E Env] func(env E, r *Register[E])

// Descriptor is a register definition before expansion. Op1, CRm and Op2
// may be Any.
type Descriptor[E Env] struct {
	Name  string
	State State
	Sec   SecState

	// CP is the AArch32 coprocessor number; zero means 15.
	CP                      uint8
	Op0, Op1, CRn, CRm, Op2 uint8

	Perm Perm
	Type Type

	// Field indexes the backing storage in Env.Fields; zero means none.
	// FieldS holds the secure copy of a SecBanked register.
	Field  int
	FieldS int
	// Shift is the bit offset of a 32-bit AArch32 view within its field.
	Shift uint

	Reset uint64

	// Requires lists features that must all be present; Excludes lists
	// features of which none may be present.
	Requires arch.Features
	Excludes arch.Features

	ReadFn     ReadFunc[E]
	WriteFn    WriteFunc[E]
	AccessFn   AccessFunc[E]
	ResetFn    ResetFunc[E]
	RawWriteFn WriteFunc[E]

	// Opaque carries accessor-private data.
	Opaque any
}

// Register is one concrete table entry.
type Register[E Env] struct {
	Descriptor[E]

	Key       Key
	canonical bool
}

// Canonical reports whether r owns reset and migration of its storage.
func (r *Register[E]) Canonical() bool {
	return r.canonical
}

// IsAArch64 reports whether r is an AArch64 encoding.
func (r *Register[E]) IsAArch64() bool {
	return r.State == StateAA64
}

// MinEL returns the lowest level with any access to r.
func (r *Register[E]) MinEL() arch.EL {
	for el := arch.EL0; el <= arch.EL3; el++ {
		if r.Perm.Allows(el, true) || r.Perm.Allows(el, false) {
			return el
		}
	}
	return arch.EL3
}

func (r *Register[E]) narrow() bool {
	return r.State == StateAA32 && r.Type&Type64Bit == 0
}

// Table is the per-model register catalogue. It is mutable only until
// Freeze.
type Table[E Env] struct {
	features arch.Features
	entries  []*Register[E]
	index    map[Key]int
	frozen   bool
	hook     AccessFunc[E]
}

// NewTable creates an empty table for a model with the given features.
func NewTable[E Env](fs arch.Features) *Table[E] {
	return &Table[E]{
		features: fs,
		index:    make(map[Key]int),
	}
}

// Features returns the feature set the table was built for.
func (t *Table[E]) Features() arch.Features {
	return t.features
}

// SetAccessHook installs a table-wide trap predicate that runs after the
// permission check and before the register's own predicate.
func (t *Table[E]) SetAccessHook(fn AccessFunc[E]) {
	t.hook = fn
}

// Freeze makes the table read-only.
func (t *Table[E]) Freeze() {
	t.frozen = true
}

// Len returns the number of concrete entries.
func (t *Table[E]) Len() int {
	return len(t.entries)
}

// Lookup finds the entry for k.
func (t *Table[E]) Lookup(k Key) (*Register[E], bool) {
	i, ok := t.index[k]
	if !ok {
		return nil, false
	}
	return t.entries[i], true
}

// Each calls fn for every entry in registration order until fn returns
// false.
func (t *Table[E]) Each(fn func(r *Register[E]) bool) {
	for _, r := range t.entries {
		if !fn(r) {
			return
		}
	}
}

// RegisterAll registers each descriptor in order.
func (t *Table[E]) RegisterAll(ds []Descriptor[E]) error {
	for _, d := range ds {
		if err := t.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// op1Perms is the widest permission set each AArch64 op1 value allows.
var op1Perms = [8]Perm{
	0: PL1RW | 0x02,
	1: PL1RW,
	2: PL1RW,
	3: PL0RW,
	4: PL2RW,
	5: PL2RW,
	6: PL3RW,
	7: PL1RW,
}

// Register validates d and adds one entry per concrete encoding it
// describes. Descriptors whose feature requirements are not met are
// skipped. Entries produced by a wildcard never replace an existing key.
func (t *Table[E]) Register(d Descriptor[E]) error {
	cfgErr := func(reason string, args ...any) error {
		return &ConfigError{Name: d.Name, Reason: fmt.Sprintf(reason, args...)}
	}

	if t.frozen {
		return cfgErr("table is frozen")
	}
	if d.Name == "" {
		return cfgErr("missing name")
	}
	if d.Requires != 0 && t.features&d.Requires != d.Requires {
		return nil
	}
	if t.features&d.Excludes != 0 {
		return nil
	}

	if d.Type&TypeEL2 != 0 && !t.features.Has(arch.FeatureEL2) {
		if !t.features.Has(arch.FeatureEL3) || d.Type&TypeEL3NoEL2Undef != 0 {
			return nil
		}
		d.Type |= TypeRAZWI
		d.Field, d.FieldS = 0, 0
		d.ReadFn, d.WriteFn, d.RawWriteFn, d.ResetFn = nil, nil, nil, nil
	}

	if err := t.validate(d); err != nil {
		return err
	}

	if d.CP == 0 {
		d.CP = 15
	}
	if d.Op0 == Any || d.CRn == Any {
		return cfgErr("op0 and crn cannot be wildcards")
	}

	wild := d.Op1 == Any || d.CRm == Any || d.Op2 == Any
	regs, err := t.expand(d)
	if err != nil {
		return err
	}

	var keep []*Register[E]
	seen := make(map[Key]bool, len(regs))
	for _, r := range regs {
		if seen[r.Key] {
			continue
		}
		seen[r.Key] = true
		if _, dup := t.index[r.Key]; dup {
			switch {
			case wild:
				continue
			case r.Type&TypeOverride == 0:
				return &ConfigError{Name: d.Name, Key: r.Key,
					Reason: "duplicate definition without override"}
			}
		}
		keep = append(keep, r)
	}

	for _, r := range keep {
		if i, dup := t.index[r.Key]; dup {
			t.entries[i] = r
			continue
		}
		t.index[r.Key] = len(t.entries)
		t.entries = append(t.entries, r)
	}
	return nil
}

func (t *Table[E]) validate(d Descriptor[E]) error {
	cfgErr := func(reason string) error {
		return &ConfigError{Name: d.Name, Reason: reason}
	}
	silent := d.Type&(TypeNOP|TypeRAZWI) != 0

	if d.State == 0 {
		return cfgErr("missing execution state")
	}
	if d.Type&TypeConst != 0 && d.Perm.Writable() {
		return cfgErr("constant register is writable")
	}
	if d.Perm.Readable() && d.Field == 0 && d.ReadFn == nil &&
		d.Type&TypeConst == 0 && !silent {
		return cfgErr("readable without a read accessor")
	}
	if d.Perm.Writable() && d.Field == 0 && d.WriteFn == nil && !silent {
		return cfgErr("writable without a write accessor")
	}
	if d.Sec == SecBanked && d.State&StateAA32 != 0 &&
		t.features.Has(arch.FeatureEL3) && d.FieldS == 0 && d.Field != 0 {
		return cfgErr("banked register without secure storage")
	}
	if d.State&StateAA32 != 0 && d.Type&Type64Bit == 0 && d.Shift > 32 {
		return cfgErr("32-bit view shifted out of its field")
	}
	return nil
}

func span(v uint8, n uint8) []uint8 {
	if v != Any {
		return []uint8{v}
	}
	out := make([]uint8, n)
	for i := range out {
		out[i] = uint8(i)
	}
	return out
}

func (t *Table[E]) expand(d Descriptor[E]) ([]*Register[E], error) {
	var out []*Register[E]
	claimed := make(map[int]bool)
	first := true

	add := func(r *Register[E]) {
		owner := r.Field
		switch {
		case owner != 0 && !claimed[owner]:
			claimed[owner] = true
			r.canonical = true
		case owner == 0 && first:
			r.canonical = true
		default:
			r.Type |= TypeAlias
		}
		if d.Type&TypeAlias != 0 {
			r.canonical = false
		}
		first = false
		out = append(out, r)
	}

	ops1, crms, ops2 := span(d.Op1, 8), span(d.CRm, 16), span(d.Op2, 8)

	if d.State&StateAA64 != 0 {
		for _, op1 := range ops1 {
			if op1 > 7 {
				return nil, &ConfigError{Name: d.Name, Reason: "op1 out of range"}
			}
			if d.Perm&^op1Perms[op1] != 0 {
				return nil, &ConfigError{Name: d.Name, Key: Key64(d.Op0, op1, d.CRn, 0, 0),
					Reason: fmt.Sprintf("permissions %#x too lax for op1=%d", uint8(d.Perm), op1)}
			}
			for _, crm := range crms {
				for _, op2 := range ops2 {
					r := &Register[E]{Descriptor: d, Key: Key64(d.Op0, op1, d.CRn, crm, op2)}
					r.State, r.Op1, r.CRm, r.Op2 = StateAA64, op1, crm, op2
					r.Sec = SecNone
					add(r)
				}
			}
		}
	}

	if d.State&StateAA32 != 0 {
		type bank struct {
			ns    bool
			sec   SecState
			field int
			alias bool
		}
		var banks []bank
		el3 := t.features.Has(arch.FeatureEL3)
		switch {
		case d.Sec == SecBanked && el3:
			banks = []bank{{ns: false, sec: SecSecure, field: d.FieldS},
				{ns: true, sec: SecNonSecure, field: d.Field}}
		case el3:
			banks = []bank{{ns: true, sec: SecNone, field: d.Field},
				{ns: false, sec: SecNone, field: d.Field, alias: true}}
		default:
			banks = []bank{{ns: true, sec: SecNone, field: d.Field}}
		}
		for _, b := range banks {
			for _, op1 := range ops1 {
				for _, crm := range crms {
					for _, op2 := range ops2 {
						r := &Register[E]{Descriptor: d}
						if d.Type&Type64Bit != 0 {
							r.Key = Key32x64(d.CP, crm, op1, b.ns)
						} else {
							r.Key = Key32(d.CP, d.CRn, crm, op1, op2, b.ns)
						}
						r.State, r.Op1, r.CRm, r.Op2 = StateAA32, op1, crm, op2
						r.Sec, r.Field = b.sec, b.field
						if b.alias {
							r.Type |= TypeAlias
						}
						add(r)
					}
				}
			}
		}
	}
	return out, nil
}

// CheckAccess evaluates, in order, the permission bits, the table-wide
// hook, the register's own predicate and the software flags.
func (t *Table[E]) CheckAccess(r *Register[E], env E, isRead bool) Result {
	if !r.Perm.Allows(env.CurrentEL(), isRead) {
		return Undefined
	}
	if t.hook != nil {
		if res := t.hook(env, r, isRead); res != Allow {
			return res
		}
	}
	if r.AccessFn != nil {
		if res := r.AccessFn(env, r, isRead); res != Allow {
			return res
		}
	}
	if r.Type&TypeSecureOnly != 0 && !env.IsSecure() {
		return Undefined
	}
	return Allow
}

func (r *Register[E]) raw(env E) uint64 {
	switch {
	case r.Type&(TypeNOP|TypeRAZWI) != 0:
		return 0
	case r.Type&TypeConst != 0:
		return r.Reset
	case r.ReadFn != nil:
		return r.ReadFn(env, r)
	case r.Field != 0:
		return env.Fields()[r.Field]
	}
	return 0
}

func (r *Register[E]) view(v uint64) uint64 {
	if r.narrow() {
		if r.Type&TypeConst != 0 {
			return uint64(uint32(v))
		}
		return uint64(uint32(v >> r.Shift))
	}
	return v
}

// ReadValue returns the value of r as seen by the access's execution state.
func (r *Register[E]) ReadValue(env E) uint64 {
	return r.view(r.raw(env))
}

// WriteValue stores v into r through its accessor. A narrow AArch32 view is
// deposited into the full-width value before the accessor sees it.
func (r *Register[E]) WriteValue(env E, v uint64) {
	if r.Type&(TypeNOP|TypeRAZWI|TypeConst) != 0 {
		return
	}
	if r.narrow() {
		v = arch.Deposit(r.raw(env), r.Shift, 32, v)
	}
	if r.WriteFn != nil {
		r.WriteFn(env, r, v)
		return
	}
	if r.Field != 0 {
		env.Fields()[r.Field] = v
	}
}

// RawRead reads r for the debug path.
func (r *Register[E]) RawRead(env E) (uint64, error) {
	if r.Type&TypeNoRaw != 0 {
		return 0, fmt.Errorf("register %s has no raw view", r.Name)
	}
	return r.ReadValue(env), nil
}

// RawWrite writes r for the debug path, bypassing trap evaluation.
// Constant and no-raw registers are rejected.
func (r *Register[E]) RawWrite(env E, v uint64) error {
	if r.Type&TypeConst != 0 {
		return fmt.Errorf("register %s is constant", r.Name)
	}
	if r.Type&TypeNoRaw != 0 {
		return fmt.Errorf("register %s has no raw view", r.Name)
	}
	if r.Type&(TypeNOP|TypeRAZWI) != 0 {
		return nil
	}
	if r.narrow() {
		v = arch.Deposit(r.raw(env), r.Shift, 32, v)
	}
	switch {
	case r.RawWriteFn != nil:
		r.RawWriteFn(env, r, v)
	case r.Field != 0:
		env.Fields()[r.Field] = v
	case r.WriteFn != nil:
		r.WriteFn(env, r, v)
	}
	return nil
}

// Reset restores every canonical register to its reset value.
func (t *Table[E]) Reset(env E) {
	fields := env.Fields()
	for _, r := range t.entries {
		if !r.canonical || r.Type&(TypeNoReset|TypeConst|TypeNOP|TypeRAZWI) != 0 {
			continue
		}
		switch {
		case r.ResetFn != nil:
			r.ResetFn(env, r)
		case r.Field != 0 && r.narrow():
			fields[r.Field] = arch.Deposit(fields[r.Field], r.Shift, 32, r.Reset)
		case r.Field != 0:
			fields[r.Field] = r.Reset
		}
	}
}
