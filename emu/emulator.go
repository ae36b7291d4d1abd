package emu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/armsys/insts"
	"github.com/sarchlab/armsys/mmu"
)

// ErrMaxInstructions is returned once the instruction limit is reached.
var ErrMaxInstructions = errors.New("max instructions reached")

// StepResult represents the result of executing a single step.
type StepResult struct {
	// Exited is true if the guest requested termination.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Event is the machine-wide request that ended the run, if any.
	Event SystemEvent

	// Err is set if the step could not be performed.
	Err error
}

// Emulator steps the cores of a cluster through programs made of system
// instructions. Each step fetches through the MMU, takes pending
// interrupts, and executes one instruction on every powered-on core.
type Emulator struct {
	cluster *Cluster
	decoder *insts.Decoder
	stderr  io.Writer

	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithEmulatorStderr sets the writer run errors are reported to.
func WithEmulatorStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// WithMaxInstructions limits the total number of instructions executed.
func WithMaxInstructions(limit uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = limit
	}
}

// NewEmulator creates an emulator driving the cores of cl.
func NewEmulator(cl *Cluster, opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		cluster: cl,
		decoder: insts.NewDecoder(),
		stderr:  os.Stderr,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Cluster returns the cluster being emulated.
func (e *Emulator) Cluster() *Cluster {
	return e.cluster
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// LoadProgram copies program into physical memory at addr and points
// core 0 at entry.
func (e *Emulator) LoadProgram(addr, entry uint64, program []byte) error {
	if err := e.cluster.mem.Write(addr, program); err != nil {
		return fmt.Errorf("loading program at %#x: %w", addr, err)
	}
	e.cluster.cores[0].regs.PC = entry
	return nil
}

// Step executes one instruction on each powered-on core.
func (e *Emulator) Step() StepResult {
	for _, c := range e.cluster.cores {
		if !c.PoweredOn() {
			continue
		}
		if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
			return StepResult{Err: ErrMaxInstructions}
		}

		if err := e.stepCore(c); err != nil {
			return StepResult{Err: err}
		}
		e.instructionCount++

		if code, ok := c.Exited(); ok {
			return StepResult{Exited: true, ExitCode: code, Event: c.SystemEvent()}
		}
	}
	return StepResult{}
}

// Run steps until the guest exits or an error occurs, and returns the
// exit code.
func (e *Emulator) Run() int64 {
	for {
		result := e.Step()
		if result.Exited {
			return result.ExitCode
		}
		if result.Err != nil {
			_, _ = fmt.Fprintf(e.stderr, "Emulation error: %v\n", result.Err)
			return -1
		}
	}
}

func (e *Emulator) stepCore(c *Core) error {
	if _, taken := c.TakePendingInterrupt(); taken {
		return nil
	}

	inst, ok, err := e.fetch(c)
	if err != nil || !ok {
		return err
	}

	pc := c.regs.PC
	if err := c.Execute(inst); err != nil {
		return fmt.Errorf("core %d: %v at PC=%#x: %w", c.id, inst.Op, pc, err)
	}
	c.Retire(1)
	return nil
}

// fetch reads and decodes the instruction at PC. A fetch that faults is
// delivered as a prefetch abort and reports ok == false.
func (e *Emulator) fetch(c *Core) (*insts.Instruction, bool, error) {
	pc := c.regs.PC
	thumb := !c.ctx.AArch64 && c.regs.PSTATE.T

	word, err := e.load(c, pc, thumb)
	if err != nil {
		var fi *mmu.FaultInfo
		if errors.As(err, &fi) {
			c.RaiseMMUFault(fi)
			return nil, false, nil
		}
		return nil, false, err
	}

	switch {
	case c.ctx.AArch64:
		return e.decoder.Decode(word), true, nil
	case thumb:
		return e.decoder.DecodeThumb(word), true, nil
	}
	return e.decoder.DecodeA32(word), true, nil
}

// load reads an instruction word. Thumb encodings are returned with the
// first halfword in the upper half when they are 32 bits long.
func (e *Emulator) load(c *Core, pc uint64, thumb bool) (uint32, error) {
	if !thumb {
		b, err := c.FetchVirtual(pc, 4)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(b), nil
	}

	b, err := c.FetchVirtual(pc, 2)
	if err != nil {
		return 0, err
	}
	hw := binary.LittleEndian.Uint16(b)
	if !insts.ThumbIs32(hw) {
		return uint32(hw), nil
	}
	b, err = c.FetchVirtual(pc+2, 2)
	if err != nil {
		return 0, err
	}
	return uint32(hw)<<16 | uint32(binary.LittleEndian.Uint16(b)), nil
}
