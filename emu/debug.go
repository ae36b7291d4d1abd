package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/armsys/sysreg"
)

// ErrNotFound is returned by the debug accessors for unknown registers.
var ErrNotFound = errors.New("register not found")

// RegisterInfo describes one register for a debugger.
type RegisterInfo struct {
	Name    string
	Key     sysreg.Key
	AArch64 bool
	// Raw is false for registers with no raw view.
	Raw bool
}

// Registers lists the registers of the core's model, in table order.
func (c *Core) Registers() []RegisterInfo {
	var out []RegisterInfo
	c.model.table.Each(func(r *register) bool {
		out = append(out, RegisterInfo{
			Name:    r.Name,
			Key:     r.Key,
			AArch64: r.IsAArch64(),
			Raw:     r.Type&sysreg.TypeNoRaw == 0,
		})
		return true
	})
	return out
}

// findRegister looks a register up by name. AArch64 encodings are
// preferred over AArch32 ones of the same name.
func (c *Core) findRegister(name string) (*register, bool) {
	var found *register
	c.model.table.Each(func(r *register) bool {
		if r.Name != name {
			return true
		}
		if found == nil || r.IsAArch64() && !found.IsAArch64() {
			found = r
		}
		return !found.IsAArch64()
	})
	return found, found != nil
}

// DebugRead reads a register by name without evaluating traps.
func (c *Core) DebugRead(name string) (uint64, error) {
	r, ok := c.findRegister(name)
	if !ok {
		return 0, fmt.Errorf("debug read %s: %w", name, ErrNotFound)
	}
	return r.RawRead(c)
}

// DebugWrite writes a register by name without evaluating traps. Side
// effects such as TLB flushes on translation-register writes still happen.
func (c *Core) DebugWrite(name string, v uint64) error {
	r, ok := c.findRegister(name)
	if !ok {
		return fmt.Errorf("debug write %s: %w", name, ErrNotFound)
	}
	if err := r.RawWrite(c, v); err != nil {
		return err
	}
	c.updateContext()
	c.updateVirtualLines()
	return nil
}

// DebugReadKey reads the register with the given encoding.
func (c *Core) DebugReadKey(k sysreg.Key) (uint64, error) {
	r, ok := c.model.table.Lookup(k)
	if !ok {
		return 0, fmt.Errorf("debug read %v: %w", k, ErrNotFound)
	}
	return r.RawRead(c)
}

// DebugWriteCPSR writes the AArch32 CPSR as a debugger would: mode
// changes are checked but never set PSTATE.IL.
func (c *Core) DebugWriteCPSR(v uint32) {
	c.CPSRWrite(v, ^uint32(0), CPSRWriteByDebugger)
}
