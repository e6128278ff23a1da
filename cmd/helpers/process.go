package helpers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/process"
)

// ErrNotRunning is returned when the PID file names no live server.
var ErrNotRunning = errors.New("server is not running")

// WritePIDFile records the current process id.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600)
}

// RemovePIDFile deletes the PID file if it still names this process.
func RemovePIDFile(path string) {
	pid, err := ReadPIDFile(path)
	if err == nil && pid == os.Getpid() {
		_ = os.Remove(path)
	}
}

func ReadPIDFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotRunning
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s", path)
	}
	return pid, nil
}

// ServerProcess returns the running server named by the PID file. A stale
// file is removed.
func ServerProcess(path string) (*process.Process, error) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		return nil, err
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return nil, err
	}
	if !exists {
		_ = os.Remove(path)
		return nil, ErrNotRunning
	}
	return process.NewProcess(int32(pid))
}

// ProcessInfo describes a server process for status output.
type ProcessInfo struct {
	PID     int32         `json:"pid" yaml:"pid"`
	Name    string        `json:"name" yaml:"name"`
	Uptime  time.Duration `json:"uptime" yaml:"uptime"`
	Command string        `json:"command" yaml:"command"`
}

func DescribeProcess(p *process.Process) ProcessInfo {
	info := ProcessInfo{PID: p.Pid}
	if name, err := p.Name(); err == nil {
		info.Name = name
	}
	if created, err := p.CreateTime(); err == nil {
		info.Uptime = time.Since(time.UnixMilli(created)).Truncate(time.Second)
	}
	if cmdline, err := p.Cmdline(); err == nil {
		info.Command = cmdline
	}
	return info
}

// StopProcess sends SIGTERM and waits for the process to exit.
func StopProcess(p *process.Process, timeout time.Duration) error {
	if err := p.Terminate(); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", p.Pid, err)
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		running, err := p.IsRunning()
		if err != nil || !running {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("process %d did not exit within %s", p.Pid, timeout)
}
