package emu

import (
	"fmt"
	"sync"

	"github.com/sarchlab/armsys/config"
	"github.com/sarchlab/armsys/physmem"
	"github.com/sarchlab/armsys/tlb"
)

// Cluster is a group of cores of one model that share physical memory and
// broadcast TLB maintenance to each other.
type Cluster struct {
	model *Model
	cores []*Core
	mem   *physmem.Memory
	coord *tlb.Coordinator

	mu    sync.Mutex
	event SystemEvent
}

// NewCluster builds cfg.NumCores cores of the model cfg describes. Core 0
// starts powered on; the others wait for PSCI CPU_ON when a PSCI conduit
// is configured.
func NewCluster(cfg *config.CoreConfig, opts ...CoreOption) (*Cluster, error) {
	model, err := NewModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating cluster: %w", err)
	}

	cl := &Cluster{
		model: model,
		mem:   physmem.New(cfg.PhysMemSize),
	}

	n := max(cfg.NumCores, 1)
	for i := range n {
		coreOpts := append([]CoreOption{WithMemory(cl.mem)}, opts...)
		coreOpts = append(coreOpts, withCluster(cl, i))
		cl.cores = append(cl.cores, NewCore(model, coreOpts...))
	}

	cl.coord = tlb.NewCoordinator(tlb.WithLogger(cl.cores[0].logger))
	for i, c := range cl.cores {
		c.coord = cl.coord
		cl.coord.Attach(c.tlb)
		if i > 0 && cfg.PSCIConduit != "" {
			c.poweredOn = false
		}
	}

	return cl, nil
}

// Cores returns the cores of the cluster.
func (cl *Cluster) Cores() []*Core {
	return cl.cores
}

// Core returns core i.
func (cl *Cluster) Core(i int) *Core {
	return cl.cores[i]
}

// Memory returns the shared physical memory.
func (cl *Cluster) Memory() *physmem.Memory {
	return cl.mem
}

// Coordinator returns the TLB invalidation coordinator of the cluster.
func (cl *Cluster) Coordinator() *tlb.Coordinator {
	return cl.coord
}

// Model returns the CPU model of the cores.
func (cl *Cluster) Model() *Model {
	return cl.model
}

// SystemEvent returns the last machine-wide request raised by any core.
func (cl *Cluster) SystemEvent() SystemEvent {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.event
}

func (cl *Cluster) raise(ev SystemEvent) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.event = ev
}
