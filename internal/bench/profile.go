package bench

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
)

// Profile captures pprof data around benchmark runs. Empty paths disable
// the corresponding profile.
type Profile struct {
	CPUPath  string
	HeapPath string

	cpuFile *os.File
}

// Start begins CPU profiling if CPUPath is set. Stop must follow.
func (p *Profile) Start() error {
	if p.CPUPath == "" {
		return nil
	}
	f, err := os.Create(p.CPUPath)
	if err != nil {
		return fmt.Errorf("failed to create CPU profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to start CPU profile: %w", err)
	}
	p.cpuFile = f
	return nil
}

// Stop ends CPU profiling and writes the heap snapshot if HeapPath is set.
func (p *Profile) Stop() error {
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		_ = p.cpuFile.Close()
		p.cpuFile = nil
	}
	if p.HeapPath == "" {
		return nil
	}

	f, err := os.Create(p.HeapPath)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// live objects only
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}
