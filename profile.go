package main

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/golang/glog"
)

const memProfileRate = 4096

// Profiler captures CPU and memory profiles between StartProfiler and
// Stop, toggled from the signal loop in main.
type Profiler struct {
	dir     string
	started time.Time
	cpuFile *os.File
	oldRate int
	stopped bool
}

func profileName(dir, kind string) string {
	return path.Join(dir, fmt.Sprintf("%s_%s.pprof", time.Now().Format("20060102_150405"), kind))
}

// StartProfiler begins a CPU profile and raises the memory profile rate.
func StartProfiler(dir string) *Profiler {
	p := &Profiler{dir: dir, started: time.Now()}

	name := profileName(dir, "cpu")
	f, err := os.Create(name)
	if err != nil {
		glog.Errorf("profiler: error create cpu profile file `%s`: %v", name, err)
		return p
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		glog.Errorf("profiler: error start cpu profile: %v", err)
		f.Close()
		return p
	}
	p.cpuFile = f

	p.oldRate = runtime.MemProfileRate
	runtime.MemProfileRate = memProfileRate

	glog.Infof("profiler: started, dir: %s", dir)
	return p
}

// Stop ends the CPU profile and writes a heap profile.
func (p *Profiler) Stop() {
	if p.stopped {
		return
	}
	p.stopped = true

	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		p.cpuFile.Close()
		p.cpuFile = nil
	}

	name := profileName(p.dir, "heap")
	f, err := os.Create(name)
	if err != nil {
		glog.Errorf("profiler: error create heap profile file `%s`: %v", name, err)
	} else {
		runtime.GC()
		if err := pprof.Lookup("heap").WriteTo(f, 0); err != nil {
			glog.Errorf("profiler: error write heap profile: %v", err)
		}
		f.Close()
	}

	runtime.MemProfileRate = p.oldRate
	glog.Infof("profiler: stopped after %s", time.Since(p.started))
}

// dumpGoroutines writes the current goroutine profile to a file.
func dumpGoroutines(dir string) {
	name := profileName(dir, "goroutine")
	f, err := os.Create(name)
	if err != nil {
		glog.Errorf("error create goroutine dump file `%s`: %v", name, err)
		return
	}
	defer f.Close()

	if err := pprof.Lookup("goroutine").WriteTo(f, 2); err != nil {
		glog.Errorf("error dump goroutines: %v", err)
		return
	}
	glog.Infof("goroutines dumped to %s", name)
}
