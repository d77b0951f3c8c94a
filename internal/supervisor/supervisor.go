// Package supervisor implements the long-lived parent process that spawns
// the instrumented child, takes periodic checkpoints while it runs safely,
// and drives checkpoint/restore around a validated repair.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/livepatch/livepatch/internal/checkpoint"
	"github.com/livepatch/livepatch/internal/errclass"
	"github.com/livepatch/livepatch/internal/modechan"
	"github.com/livepatch/livepatch/internal/procutil"
	"github.com/livepatch/livepatch/internal/telemetry"
	"github.com/livepatch/livepatch/internal/wdir"
)

// Options configures one supervised run.
type Options struct {
	Target       string
	Args         []string
	SourceRoot   string // project root exported to the child as TARGET_PROJECT_ROOT and used as its working directory
	PollInterval time.Duration
	IgnoreRepair bool // fatal-exit on the first SAFE->REPAIR transition instead of waiting for a repair
}

// Supervisor owns the child process lifecycle and the checkpoint ladder.
type Supervisor struct {
	Dir  *wdir.Dir
	Mode *modechan.Channel
	Log  *telemetry.Log
	Opts Options

	cmd        *exec.Cmd
	pid        int
	generation int
	checkpoint int
}

// New binds a Supervisor to a WDIR, the Mode Channel it shares with the
// instrumented child, and the run options.
func New(dir *wdir.Dir, mode *modechan.Channel, log *telemetry.Log, opts Options) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Supervisor{Dir: dir, Mode: mode, Log: log, Opts: opts}
}

// Run executes the supervisor startup sequence and control loop, returning
// the exit code the livepatch process itself should use.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	if err := s.Dir.Reset(); err != nil {
		return 0, errclass.Infrastructure("supervisor: reset wdir", err)
	}
	if !checkpoint.Available() {
		return 0, errclass.Infrastructure("supervisor: criu not found on PATH", nil)
	}
	if err := s.Mode.Init(); err != nil {
		return 0, errclass.Infrastructure("supervisor: init mode channel", err)
	}

	if err := s.spawnChild(); err != nil {
		return 0, errclass.Infrastructure("supervisor: spawn child", err)
	}
	s.event("child_spawned", map[string]any{"pid": s.pid})

	if err := s.incrementalCheckpoint(); err != nil {
		s.event("baseline_checkpoint_failed", map[string]any{"error": err.Error()})
		return 0, errclass.Infrastructure("supervisor: baseline checkpoint", err)
	}

	return s.controlLoop(ctx)
}

func (s *Supervisor) spawnChild() error {
	cmd := exec.Command(s.Opts.Target, s.Opts.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.Dir = s.Opts.SourceRoot
	cmd.Env = append(os.Environ(),
		"WDIR="+s.Dir.Root,
		"TARGET_PROJECT_ROOT="+s.Opts.SourceRoot,
	)
	if err := cmd.Start(); err != nil {
		return err
	}
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	return nil
}

// controlLoop implements the polling table: SAFE+alive takes an
// incremental checkpoint; SAFE+exited finalizes; REPAIR idles while the
// pipeline works; VAL_OK restores the prior checkpoint and advances the
// generation; VAL_FAIL kills the child and fails the run.
func (s *Supervisor) controlLoop(ctx context.Context) (int, error) {
	ticker := time.NewTicker(s.Opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.killChild()
			return 1, ctx.Err()
		case <-ticker.C:
		}

		mode, err := s.Mode.Read()
		if err != nil {
			s.event("mode_read_error", map[string]any{"error": err.Error()})
			continue
		}

		alive := procutil.PIDAlive(s.pid)

		switch mode {
		case modechan.Safe:
			if !alive {
				s.event("child_exited_safe", nil)
				return 0, nil
			}
			if procutil.PIDState(s.pid).Checkpointable() {
				if err := s.incrementalCheckpoint(); err != nil {
					s.event("incremental_checkpoint_failed", map[string]any{"error": err.Error()})
				}
			}

		case modechan.Repair:
			if s.Opts.IgnoreRepair {
				s.event("ignore_repair_fatal_exit", nil)
				s.killChild()
				return 1, fmt.Errorf("supervisor: --ignore-repair set, aborting on first repair transition")
			}
			// idle: the pipeline is running inside the child process.

		case modechan.ValOK:
			if alive {
				continue // wait for the child to finish exiting before restoring
			}
			if err := s.restorePrevious(); err != nil {
				s.event("restore_failed", map[string]any{"error": err.Error()})
				return 1, err
			}
			if err := s.Mode.CompareAndWrite(modechan.ValOK, modechan.Safe); err != nil {
				s.event("mode_transition_failed", map[string]any{"error": err.Error()})
			}
			s.generation++
			s.checkpoint = 0
			s.event("restored_and_resumed", map[string]any{"generation": s.generation})

		case modechan.ValFail:
			s.event("val_fail_abort", nil)
			s.killChild()
			return 1, errclass.Val2Failure("supervisor: validation failed, aborting run", nil)
		}
	}
}

// incrementalCheckpoint takes the next checkpoint of the current
// generation. The first checkpoint of every generation (s.checkpoint == 0,
// including right after a restore bumps the generation) is a full dump with
// no predecessor; only later checkpoints within the same generation chain
// off the previous one via PrevImagesDir.
func (s *Supervisor) incrementalCheckpoint() error {
	dir := s.Dir.CheckpointDir(s.generation, s.checkpoint)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	opts := checkpoint.DumpOptions{PID: s.pid, ImagesDir: dir}
	if s.checkpoint > 0 {
		opts.PrevImagesDir = fmt.Sprintf("../%d", s.checkpoint-1)
	}
	if err := checkpoint.Dump(opts); err != nil {
		return err
	}
	s.checkpoint++
	s.event("checkpoint_taken", map[string]any{"generation": s.generation, "n": s.checkpoint})
	return nil
}

// restorePrevious restores checkpoint N-1 of the current generation (the
// last checkpoint taken before the repair transition), adopting the
// restored process's new PID.
func (s *Supervisor) restorePrevious() error {
	if s.checkpoint == 0 {
		return errclass.Infrastructure("supervisor: no checkpoint to restore from", nil)
	}
	dir := s.Dir.CheckpointDir(s.generation, s.checkpoint-1)
	if err := checkpoint.Restore(checkpoint.RestoreOptions{ImagesDir: dir}); err != nil {
		return errclass.Infrastructure("supervisor: restore", err)
	}
	// CRIU restore does not preserve PID across a non-sibling restore; the
	// supervisor re-adopts liveness tracking against the WDIR-recorded PID
	// file the restored child re-announces on resume.
	if pid, err := readRestoredPID(s.Dir); err == nil && pid > 0 {
		s.pid = pid
	}
	return nil
}

func readRestoredPID(dir *wdir.Dir) (int, error) {
	b, err := os.ReadFile(dir.ProcessMode() + ".pid")
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(b), "%d", &pid); err != nil {
		return 0, err
	}
	return pid, nil
}

func (s *Supervisor) killChild() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (s *Supervisor) event(kind string, extra map[string]any) {
	if s.Log == nil {
		return
	}
	_ = s.Log.Append(telemetry.Event{Kind: kind, Extra: extra})
}
