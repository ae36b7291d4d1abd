// Package insts decodes the ARM instructions that reach the privileged
// core state: system-register moves, exception-generating instructions,
// exception returns and PSTATE/CPSR updates.
//
// It understands the A64, A32 and T32 encodings of those instructions and
// reports everything else as OpUnknown; data processing and memory
// instructions belong to the interpreter that drives the core.
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst := decoder.Decode(0xd5381000) // MRS X0, SCTLR_EL1
//	fmt.Printf("Op: %v, Op0: %d, CRn: %d, Rt: %d\n", inst.Op, inst.Op0, inst.CRn, inst.Rt)
package insts
