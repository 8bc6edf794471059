//go:build linux

package monitor

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// procLister enumerates processes by walking /proc. Entries that vanish
// mid-scan are skipped silently; a scan is a best-effort snapshot, not a
// consistent view.
type procLister struct {
	root string
}

// NewLister returns the platform process lister.
func NewLister() Lister {
	return &procLister{root: "/proc"}
}

func (l *procLister) Snapshot() ([]Process, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, err
	}

	procs := make([]Process, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		p, ok := l.read(pid)
		if ok {
			procs = append(procs, p)
		}
	}
	return procs, nil
}

func (l *procLister) read(pid int) (Process, bool) {
	dir := filepath.Join(l.root, strconv.Itoa(pid))

	comm, err := os.ReadFile(filepath.Join(dir, "comm"))
	if err != nil {
		return Process{}, false
	}
	name := strings.TrimSpace(string(comm))
	if name == "" || zombie(filepath.Join(dir, "stat")) {
		return Process{}, false
	}

	p := Process{PID: pid, Name: name}

	// cmdline is NUL-separated; argv[0] carries the invoked path.
	if raw, err := os.ReadFile(filepath.Join(dir, "cmdline")); err == nil && len(raw) > 0 {
		args := bytes.Split(bytes.TrimRight(raw, "\x00"), []byte{0})
		if len(args) > 0 {
			p.Path = string(args[0])
		}
		p.Cmdline = string(bytes.Join(args, []byte{' '}))
	}

	// exe resolves the real binary when readable (own processes); the
	// cmdline argv[0] stays as the fallback.
	if exe, err := os.Readlink(filepath.Join(dir, "exe")); err == nil {
		p.Path = exe
	}
	return p, true
}

// zombie reports whether the stat file shows state Z. Zombies keep their
// name but cannot be suspended or meaningfully gated.
func zombie(statPath string) bool {
	data, err := os.ReadFile(statPath)
	if err != nil {
		return false
	}
	// State is the first field after the parenthesized comm, which may
	// itself contain spaces.
	i := bytes.LastIndexByte(data, ')')
	if i < 0 || i+2 >= len(data) {
		return false
	}
	return data[i+2] == 'Z'
}
