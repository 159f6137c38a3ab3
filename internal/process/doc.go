// Package process wraps a single spawned external process and its output pipes.
//
// A Handle is the leaf primitive of droidpanel's supervision stack: it owns
// exactly one OS process, hands out the read ends of its stdout/stderr pipes
// exactly once, answers non-blocking liveness queries, and tears down the
// whole process tree on Terminate.
//
// Features:
//   - stdout/stderr captured through OS pipes (optionally merged)
//   - Non-blocking Poll for Running / Exited(code) / Error
//   - Process-tree termination behind one per-platform capability
//     (process group SIGTERM then SIGKILL on Unix, taskkill /T on Windows)
//   - Console windows suppressed on Windows
//   - Retry backoff calculation for supervisors
//
// Example usage:
//
//	h, err := process.Spawn(ctx, process.Command{
//	    Name:   "logcat",
//	    Binary: "adb",
//	    Args:   []string{"-s", serial, "shell", "logcat", "-v", "threadtime"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer h.Terminate()
//
//	stdout, _ := h.TakeStdout()
//	// hand stdout to an output.Relay
package process
