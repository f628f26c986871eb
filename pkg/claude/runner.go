package claude

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nikitparakh/auto-claude-docker/pkg/faults"
	"github.com/nikitparakh/auto-claude-docker/pkg/logx"
	"github.com/nikitparakh/auto-claude-docker/pkg/metrics"
)

// maxScanTokenSize bounds a single transcript line; tool-heavy turns can be
// large.
const maxScanTokenSize = 1024 * 1024

// InvocationResult is the outcome of one successful agent invocation,
// including any interrupt-and-restart cycles it absorbed.
type InvocationResult struct {
	Turns         []Turn
	SessionHandle string
	Restarts      int
	Duration      time.Duration
}

// ResultText returns the final result text of the invocation.
func (ir *InvocationResult) ResultText() string {
	if final := FinalResult(ir.Turns); final != nil {
		return final.ResultText
	}
	return ""
}

// Runner executes the Claude CLI as a subprocess. A single Runner serves the
// whole engine; RequestInterrupt may be called from any goroutine to preempt
// the live invocation so it restarts with fresh input.
type Runner struct {
	binary  string
	workDir string
	logger  *logx.Logger

	mu                 sync.Mutex
	proc               *os.Process
	interruptRequested bool
}

// NewRunner creates a runner invoking the given CLI binary in workDir.
func NewRunner(binary, workDir string) *Runner {
	return &Runner{
		binary:  binary,
		workDir: workDir,
		logger:  logx.NewLogger("claude"),
	}
}

// RequestInterrupt asks the runner to abandon the current invocation and
// start over. The request sticks: if no invocation is live it applies to the
// next one. Safe to call from any goroutine.
func (r *Runner) RequestInterrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interruptRequested = true
	if r.proc != nil {
		r.logger.Info("Interrupting live agent process (pid %d)", r.proc.Pid)
		if err := signalGroup(r.proc, syscall.SIGTERM); err != nil {
			r.logger.Warn("Failed to signal agent process group: %v", err)
		}
	}
}

// signalGroup signals the process group rooted at p. The agent spawns its own
// children; signaling only the direct child leaves them holding the stdout
// pipe, and the transcript read would block until they exit on their own.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	return syscall.Kill(-p.Pid, sig)
}

// Invoke runs the agent to completion. buildPrompt is called before every
// process launch so a restarted invocation carries input that arrived after
// the original started; resumeHandle resumes an existing conversation when
// non-empty. Preemption is absorbed here and surfaces only as
// InvocationResult.Restarts.
func (r *Runner) Invoke(ctx context.Context, buildPrompt func() string, resumeHandle string) (*InvocationResult, error) {
	start := time.Now()
	restarts := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prompt := buildPrompt()
		metrics.PromptTokens.Observe(float64(EstimateTokens(prompt)))

		lines, preempted, err := r.runOnce(ctx, prompt, resumeHandle)
		if err != nil {
			return nil, err
		}
		if preempted {
			restarts++
			metrics.AgentRestartsTotal.Inc()
			r.logger.Info("Agent invocation preempted, restarting with updated input (restart %d)", restarts)
			continue
		}

		if len(lines) == 0 {
			return nil, faults.New(faults.KindAgentProducedNoOutput,
				"agent exited cleanly but produced no transcript")
		}

		turns, err := ParseTranscript(lines)
		if err != nil {
			return nil, err
		}

		if final := FinalResult(turns); final != nil && final.IsError {
			if faults.IsRateLimitText(final.ResultText) {
				return nil, faults.New(faults.KindRateLimited,
					"agent reported rate limiting: "+faults.TruncateSample(final.ResultText, maxSampleLen))
			}
			return nil, &faults.Error{
				Kind:    faults.KindAgentProcessFailed,
				Message: "agent reported failure",
				Output:  faults.TruncateSample(final.ResultText, maxSampleLen),
			}
		}

		result := &InvocationResult{
			Turns:         turns,
			SessionHandle: SessionHandle(turns),
			Restarts:      restarts,
			Duration:      time.Since(start),
		}
		r.logger.Info("Agent invocation completed: session=%s turns=%d restarts=%d duration=%s",
			result.SessionHandle, len(turns), restarts, result.Duration)
		return result, nil
	}
}

// runOnce launches one agent process and collects its stdout lines. It
// reports preemption separately from failure so the caller can restart.
func (r *Runner) runOnce(ctx context.Context, prompt, resumeHandle string) (lines []string, preempted bool, err error) {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if resumeHandle != "" {
		args = append(args, "--resume", resumeHandle)
	}

	cmd := exec.Command(r.binary, args...)
	cmd.Dir = r.workDir
	cmd.Stdin = strings.NewReader(prompt)
	// Own process group, so interrupts and timeout kills reach the agent's
	// descendants too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, false, logx.Wrap(err, "failed to open agent stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, false, faults.WithCause(faults.KindAgentProcessFailed, err,
			"failed to launch agent binary "+r.binary)
	}

	r.mu.Lock()
	r.proc = cmd.Process
	if r.interruptRequested {
		// The request arrived between invocations; take it down immediately.
		_ = signalGroup(cmd.Process, syscall.SIGTERM)
	}
	r.mu.Unlock()

	r.logger.Debug("Agent process started (pid %d, resume=%q)", cmd.Process.Pid, resumeHandle)

	// Progress events flow over a buffered channel to a logger goroutine;
	// the transcript read loop never blocks on logging.
	progress := make(chan string, 16)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for line := range progress {
			r.logProgress(line)
		}
	}()

	// Kill the whole group if the operation is canceled or times out.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = signalGroup(cmd.Process, syscall.SIGKILL)
		case <-watchDone:
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)
		select {
		case progress <- line:
		default:
			// Observability only; drop rather than block the read loop.
		}
	}
	scanErr := scanner.Err()
	close(progress)
	<-progressDone

	waitErr := cmd.Wait()
	close(watchDone)

	r.mu.Lock()
	r.proc = nil
	preempted = r.interruptRequested
	if preempted {
		r.interruptRequested = false
	}
	r.mu.Unlock()

	if preempted {
		return nil, true, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, false, ctxErr
	}
	if scanErr != nil {
		return nil, false, faults.WithCause(faults.KindAgentOutputMalformed, scanErr,
			"failed reading agent transcript")
	}
	if waitErr != nil {
		output := strings.TrimSpace(stderr.String())
		if len(lines) > 0 {
			// Diagnostics scan stderr and stdout combined; throttle notices
			// show up on either stream.
			output = strings.TrimSpace(output + "\n" + lines[len(lines)-1])
		}
		if faults.IsRateLimitText(output) {
			return nil, false, faults.New(faults.KindRateLimited,
				"agent rate limited: "+faults.TruncateSample(output, maxSampleLen))
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, false, &faults.Error{
			Err:      waitErr,
			Kind:     faults.KindAgentProcessFailed,
			Message:  "agent process failed",
			Output:   faults.TruncateSample(output, maxSampleLen),
			ExitCode: exitCode,
		}
	}
	return lines, false, nil
}

// logProgress surfaces assistant activity at debug level while the process
// is still running.
func (r *Runner) logProgress(line string) {
	if !logx.IsDebugEnabled() {
		return
	}
	turn, err := ParseLine(line)
	if err != nil || turn == nil || turn.Type != TurnTypeAssistant {
		return
	}
	for _, text := range AssistantTexts([]Turn{*turn}) {
		r.logger.Debug("Agent: %s", faults.TruncateSample(text, 120))
	}
}
