package procscan

import "fmt"

// FakeScanner is an in-memory Scanner for tests
type FakeScanner struct {
	Procs     []ProcessInfo
	Listeners map[int]int32 // port -> pid
}

// NewFakeScanner returns an empty fake scanner
func NewFakeScanner() *FakeScanner {
	return &FakeScanner{Listeners: make(map[int]int32)}
}

func (f *FakeScanner) ListProcesses() ([]ProcessInfo, error) {
	return f.Procs, nil
}

func (f *FakeScanner) FindListener(port int) (int32, error) {
	if pid, ok := f.Listeners[port]; ok {
		return pid, nil
	}
	return 0, fmt.Errorf("no listener found on port %d", port)
}

// AddProcess registers a fake process
func (f *FakeScanner) AddProcess(pid int32, cmdline string) {
	f.Procs = append(f.Procs, ProcessInfo{PID: pid, Cmdline: cmdline})
}
