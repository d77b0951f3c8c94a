// Package checkpoint shells out to criu(8) for process checkpoint and
// restore, using the same exec.Command-plus-captured-stdio-plus-typed-error
// pattern as the rest of this module's external-command wrappers.
package checkpoint

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandError wraps a failed criu invocation with its captured output.
type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("criu %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func runCRIU(args ...string) (string, string, error) {
	cmd := exec.Command("criu", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr, errStr := stdout.String(), stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

// DumpOptions configures one `criu dump` invocation.
type DumpOptions struct {
	PID           int
	ImagesDir     string
	PrevImagesDir string // relative to ImagesDir, empty for the baseline dump
	ParentPID     int    // for --external time:/proc/<ParentPID>/ns/time
}

// Dump checkpoints PID into ImagesDir, leaving it running.
func Dump(opts DumpOptions) error {
	args := []string{
		"dump",
		"--tree", strconv.Itoa(opts.PID),
		"--images-dir", opts.ImagesDir,
		"--leave-running",
		"--track-mem",
		"--shell-job",
		"-v1",
		"--tcp-established",
	}
	if opts.ParentPID > 0 {
		args = append(args, "--external", fmt.Sprintf("time:/proc/%d/ns/time", opts.ParentPID))
	}
	if opts.PrevImagesDir != "" {
		args = append(args, "--prev-images-dir", opts.PrevImagesDir)
	}
	_, _, err := runCRIU(args...)
	return err
}

// RestoreOptions configures one `criu restore` invocation.
type RestoreOptions struct {
	ImagesDir string
	ParentPID int
}

// Restore resumes a previously dumped process tree from ImagesDir. The
// caller must re-adopt the restored process's new PID.
func Restore(opts RestoreOptions) error {
	args := []string{
		"restore",
		"-v1",
		"--shell-job",
		"-D", opts.ImagesDir,
		"--tcp-established",
	}
	if opts.ParentPID > 0 {
		args = append(args, "-J", fmt.Sprintf("time:/proc/%d/ns/time", opts.ParentPID))
	}
	_, _, err := runCRIU(args...)
	return err
}

// Available reports whether the criu binary is on PATH, so the supervisor
// can fail fast with an infrastructure error rather than at first dump.
func Available() bool {
	_, err := exec.LookPath("criu")
	return err == nil
}
