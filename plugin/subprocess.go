package plugin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/embercore/forge/logging"
)

// OutputSink receives one line of captured subprocess output at a time,
// tagged by stream ("stdout" or "stderr"). The executor installs a sink
// bound to the running job's JobLogger before invoking a plugin, so a
// subprocess-backed plugin can stream raw output into the job log without
// the TrainingPlugin interface itself knowing about job logging.
type OutputSink func(stream, line string)

type outputSinkKey struct{}

// WithOutputSink attaches sink to ctx for the duration of a plugin call.
func WithOutputSink(ctx context.Context, sink OutputSink) context.Context {
	return context.WithValue(ctx, outputSinkKey{}, sink)
}

// OutputSinkFromContext retrieves the sink installed by WithOutputSink, or a
// no-op sink if none was installed.
func OutputSinkFromContext(ctx context.Context) OutputSink {
	if sink, ok := ctx.Value(outputSinkKey{}).(OutputSink); ok && sink != nil {
		return sink
	}
	return func(string, string) {}
}

// Markers are the training-progress patterns a subprocess line can carry,
// checked in precedence order: an explicit "step N/M" wins over a tqdm bar,
// which wins over a bare "N/M" fraction. loss/lr are matched independently
// of step, since a line may carry one without the other.
var (
	stepPattern = regexp.MustCompile(`(?i)step[:\s]+(\d+)[/\s]+(\d+)`)
	tqdmPattern = regexp.MustCompile(`(\d+)%\|[^|]*\|\s*(\d+)/(\d+)`)
	fracPattern = regexp.MustCompile(`[\s|](\d+)/(\d+)[\s|\[]`)
	lossPattern = regexp.MustCompile(`(?i)loss[:\s]+([0-9.]+)`)
	lrPattern   = regexp.MustCompile(`(?i)\blr[:\s]+([0-9.eE\-]+)`)
)

// markerParser extracts step/total/loss/lr markers from a stream of
// subprocess output lines, enforcing forward-progress-only step monotonicity
// (a line reporting a step behind the current one is ignored, since
// interleaved stdout/stderr or a restarted inner loop can otherwise make
// progress appear to run backwards).
type markerParser struct {
	mu          sync.Mutex
	step, total int
	loss, lr    float64
	haveLoss    bool
	haveLR      bool
}

// parse feeds one line into the parser and reports whether it advanced step
// or total, and the resulting state.
func (p *markerParser) parse(line string) (step, total int, loss, lr *float64, advanced bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var newStep, newTotal int
	haveNew := false
	if m := stepPattern.FindStringSubmatch(line); m != nil {
		newStep, newTotal = atoiOr(m[1]), atoiOr(m[2])
		haveNew = true
	} else if m := tqdmPattern.FindStringSubmatch(line); m != nil {
		newStep, newTotal = atoiOr(m[2]), atoiOr(m[3])
		haveNew = true
	} else if m := fracPattern.FindStringSubmatch(line); m != nil {
		newStep, newTotal = atoiOr(m[1]), atoiOr(m[2])
		haveNew = true
	}
	if haveNew && newStep >= p.step {
		p.step = newStep
		if newTotal > 0 {
			p.total = newTotal
		}
		advanced = true
	}

	if m := lossPattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.loss = v
			p.haveLoss = true
		}
	}
	if m := lrPattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.lr = v
			p.haveLR = true
		}
	}

	step, total = p.step, p.total
	if p.haveLoss {
		l := p.loss
		loss = &l
	}
	if p.haveLR {
		l := p.lr
		lr = &l
	}
	return step, total, loss, lr, advanced
}

// current returns the parser's latest state without consuming a new line.
func (p *markerParser) current() (step, total int, loss, lr *float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	step, total = p.step, p.total
	if p.haveLoss {
		l := p.loss
		loss = &l
	}
	if p.haveLR {
		l := p.lr
		lr = &l
	}
	return step, total, loss, lr
}

func atoiOr(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// lineSplitWriter is an io.Writer that buffers partial writes and invokes
// onLine once per complete line, splitting on '\n' and bare '\r' (tqdm-style
// progress bars rewrite a line with '\r' rather than emitting '\n').
type lineSplitWriter struct {
	onLine func(line string)
	buf    bytes.Buffer
}

func (w *lineSplitWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		b := w.buf.Bytes()
		idx := bytes.IndexAny(b, "\r\n")
		if idx < 0 {
			break
		}
		line := string(b[:idx])
		w.buf.Next(idx + 1)
		if strings.TrimSpace(line) != "" {
			w.onLine(line)
		}
	}
	return len(p), nil
}

func (w *lineSplitWriter) flush() {
	if line := strings.TrimSpace(w.buf.String()); line != "" {
		w.onLine(line)
	}
	w.buf.Reset()
}

// TrainingCommandFunc builds the command to run for one training job. It is
// supplied by the deployer (e.g. a shim that invokes a real training
// toolkit) so SubprocessTrainingPlugin stays backend-agnostic; the returned
// *exec.Cmd should leave Stdout/Stderr unset — SubprocessTrainingPlugin wires
// those itself.
type TrainingCommandFunc func(ctx context.Context, config map[string]any, imagesDir, outputPath, triggerWord, jobID string) (*exec.Cmd, error)

// SubprocessTrainingPlugin implements TrainingPlugin by spawning an external
// training process and parsing its stdout/stderr for step/loss/lr markers,
// for backends (unlike the in-process mock) that report progress only
// through process output rather than a direct callback. Cancellation relies
// on exec.CommandContext: cancelling ctx kills the child automatically, so
// no manual SIGTERM/SIGKILL bookkeeping is needed here.
type SubprocessTrainingPlugin struct {
	PluginName string
	Methods    []string
	Schema     CapabilitySchema
	BuildCmd   TrainingCommandFunc

	// LogRoot/Service, when both set, mirror raw stdout/stderr bytes to
	// logging.SubprocessLogPath(LogRoot, Service, jobID, stream) in addition
	// to the structured per-line capture above, giving an operator a plain
	// transcript to tail alongside the job JSONL.
	LogRoot string
	Service string

	mu      sync.Mutex
	running *exec.Cmd
}

func NewSubprocessTrainingPlugin(name string, methods []string, schema CapabilitySchema, build TrainingCommandFunc) *SubprocessTrainingPlugin {
	return &SubprocessTrainingPlugin{PluginName: name, Methods: methods, Schema: schema, BuildCmd: build}
}

func (p *SubprocessTrainingPlugin) Name() string              { return p.PluginName }
func (p *SubprocessTrainingPlugin) SupportedMethods() []string { return p.Methods }

func (p *SubprocessTrainingPlugin) GetCapabilities(context.Context) (CapabilitySchema, error) {
	return p.Schema, nil
}

func (p *SubprocessTrainingPlugin) ValidateConfig(_ context.Context, cfg map[string]any) error {
	return Validate(p.Schema, cfg)
}

// Train spawns the configured command and streams its combined output
// through a marker parser, driving progress the same way the in-process
// callback path does — every line is also handed to the OutputSink
// installed on ctx (spec §4.5 "subprocess output capture"), so the job log
// carries the raw text under event=subprocess.stdout|stderr regardless of
// whether a marker matched.
func (p *SubprocessTrainingPlugin) Train(ctx context.Context, config map[string]any, imagesDir, outputPath, triggerWord, jobID string, progress ProgressCallback) (Result, error) {
	cmd, err := p.BuildCmd(ctx, config, imagesDir, outputPath, triggerWord, jobID)
	if err != nil {
		return Result{}, fmt.Errorf("build training command: %w", err)
	}

	sink := OutputSinkFromContext(ctx)
	parser := &markerParser{}
	if total, ok := totalStepsFromConfig(config); ok {
		parser.total = total
	}

	report := func(stream string) func(string) {
		return func(line string) {
			sink(stream, line)
			step, total, loss, lr, advanced := parser.parse(line)
			if advanced && progress != nil {
				progress(step, total, loss, lr, "")
			}
		}
	}
	stdout := &lineSplitWriter{onLine: report("stdout")}
	stderr := &lineSplitWriter{onLine: report("stderr")}
	var stdoutDest, stderrDest io.Writer = stdout, stderr
	if p.LogRoot != "" && p.Service != "" {
		if f, err := p.openMirror(jobID, "stdout"); err == nil {
			defer f.Close()
			stdoutDest = io.MultiWriter(stdout, f)
		}
		if f, err := p.openMirror(jobID, "stderr"); err == nil {
			defer f.Close()
			stderrDest = io.MultiWriter(stderr, f)
		}
	}
	cmd.Stdout = stdoutDest
	cmd.Stderr = stderrDest

	p.mu.Lock()
	p.running = cmd
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = nil
		p.mu.Unlock()
	}()

	runErr := cmd.Run()
	stdout.flush()
	stderr.flush()

	if runErr != nil {
		return Result{}, fmt.Errorf("training subprocess: %w", runErr)
	}

	step, total, loss, _ := parser.current()
	if progress != nil && step > 0 {
		progress(step, total, loss, nil, "")
	}
	return Result{OutputPath: outputPath, FinalLoss: loss}, nil
}

// Cancel sends an interrupt to the running subprocess, if any. The executor
// also cancels the context passed to Train, which exec.CommandContext turns
// into an automatic kill; this gives the child a chance to exit cleanly
// first.
func (p *SubprocessTrainingPlugin) Cancel(context.Context) error {
	p.mu.Lock()
	cmd := p.running
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(os.Interrupt)
}

// openMirror opens (creating parent directories as needed) the raw mirror
// file for one subprocess output stream of jobID.
func (p *SubprocessTrainingPlugin) openMirror(jobID, stream string) (*os.File, error) {
	path := logging.SubprocessLogPath(p.LogRoot, p.Service, jobID, stream)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func totalStepsFromConfig(config map[string]any) (int, bool) {
	v, ok := config["steps"].(float64)
	if !ok || v <= 0 {
		return 0, false
	}
	return int(v), true
}

