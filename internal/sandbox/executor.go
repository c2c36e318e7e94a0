// Package sandbox runs untrusted source code inside throwaway Docker
// containers and reports back a classified ExecutionResult.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/codecollab/editor-backend/internal/domain"
	"github.com/codecollab/editor-backend/internal/logging"
	"github.com/codecollab/editor-backend/internal/metrics"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrSecurityBlock is returned by Run when the pre-flight scan rejects the
// submission outright.
var ErrSecurityBlock = errors.New("submission blocked by security scan")

// Job is one execution request, already resolved to a language spec by the
// caller (internal/room or the worker).
type Job struct {
	ExecutionID string
	Language    domain.Language
	Code        string
	Stdin       string
	TimeoutMS   int
	MemoryBytes int64
}

// Result is the classified outcome of a sandboxed run.
type Result struct {
	Status            domain.ExecutionStatus
	Stdout            string
	Stderr            string
	ExitCode          int
	ExecutionTimeMS   int64
	MemoryBytes       int64
	CompilationTimeMS int64
	CompilationOutput string
}

// Executor owns the Docker client and scratch-space root used to run jobs.
type Executor struct {
	docker  *client.Client
	cfg     Config
	limiter *rate.Limiter
}

// NewExecutor dials the Docker daemon at cfg.DockerHost (empty uses the
// environment default, typically the local socket).
func NewExecutor(cfg Config) (*Executor, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = DefaultConfig().ScratchRoot
	}
	if cfg.SubmissionRateLimit <= 0 {
		cfg.SubmissionRateLimit = DefaultConfig().SubmissionRateLimit
		cfg.SubmissionBurst = DefaultConfig().SubmissionBurst
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.SubmissionRateLimit), cfg.SubmissionBurst)
	return &Executor{docker: cli, cfg: cfg, limiter: limiter}, nil
}

// Run executes job end to end: security scan, workspace materialization,
// optional compile, run, capture, classify, teardown. Every exit path
// releases the scratch directory and any created container.
func (e *Executor) Run(ctx context.Context, job Job) (Result, error) {
	spec, ok := domain.LanguageSpecs[job.Language]
	if !ok {
		return Result{}, fmt.Errorf("unsupported language %q", job.Language)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("submission rate limit wait: %w", err)
	}

	if e.cfg.SecurityScanEnabled {
		if scan := Scan(job.Language, job.Code); scan.Blocked {
			logging.Warn(ctx, "execution blocked by security scan",
				zap.String("execution_id", job.ExecutionID), zap.Strings("findings", scan.Findings))
			return Result{Status: domain.ExecutionSecurityBlock, Stderr: "execution blocked: disallowed operation detected"}, nil
		}
	}

	workDir, fileName, className, err := e.materialize(job, spec)
	if err != nil {
		return Result{}, fmt.Errorf("materialize workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	metrics.SandboxContainersActive.Inc()
	defer metrics.SandboxContainersActive.Dec()

	var compilationOutput string
	var compilationTimeMS int64
	if len(spec.CompileCommand) > 0 {
		cmd := substitutePlaceholders(spec.CompileCommand, fileName, className)
		start := time.Now()
		exitCode, stdout, stderr, runErr := e.runContainer(ctx, containerSpec{
			image:        spec.Image,
			workDir:      workDir,
			cmd:          cmd,
			writableRoot: true,
			network:      "bridge",
			timeout:      30 * time.Second,
			memoryBytes:  spec.DefaultMemory,
		})
		compilationTimeMS = time.Since(start).Milliseconds()
		compilationOutput = stderr
		if runErr != nil {
			return Result{}, fmt.Errorf("compile phase: %w", runErr)
		}
		if exitCode != 0 {
			_ = stdout
			return Result{
				Status:            domain.ExecutionCompilationError,
				CompilationOutput: sanitizeOutput(stderr, e.cfg.ScratchRoot),
				CompilationTimeMS: compilationTimeMS,
			}, nil
		}
	}

	timeout := time.Duration(job.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = spec.DefaultTimeout
	}
	memoryBytes := job.MemoryBytes
	if memoryBytes <= 0 {
		memoryBytes = spec.DefaultMemory
	}

	runCmd := substitutePlaceholders(spec.RunCommand, fileName, className)
	runStart := time.Now()
	exitCode, stdout, stderr, runErr := e.runContainer(ctx, containerSpec{
		image:        spec.Image,
		workDir:      workDir,
		cmd:          runCmd,
		writableRoot: false,
		network:      "none",
		timeout:      timeout,
		memoryBytes:  memoryBytes,
		stdinFile:    job.Stdin != "",
	})
	elapsedMS := time.Since(runStart).Milliseconds()

	var classified domain.ExecutionStatus
	switch {
	case errors.Is(runErr, errTimedOut):
		classified = domain.ExecutionTimeout
		exitCode = 124
	case errors.Is(runErr, errOOMKilled):
		classified = domain.ExecutionMemoryLimit
	case runErr != nil:
		return Result{}, fmt.Errorf("run phase: %w", runErr)
	case exitCode == 0:
		classified = domain.ExecutionCompleted
	default:
		classified = domain.ExecutionRuntimeError
	}

	metrics.ExecutionsTotal.WithLabelValues(string(job.Language), string(classified)).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(job.Language)).Observe(time.Since(runStart).Seconds())

	return Result{
		Status:            classified,
		Stdout:            sanitizeOutput(stdout, e.cfg.ScratchRoot),
		Stderr:            sanitizeOutput(stderr, e.cfg.ScratchRoot),
		ExitCode:          exitCode,
		ExecutionTimeMS:   elapsedMS,
		MemoryBytes:       memoryBytes,
		CompilationTimeMS: compilationTimeMS,
		CompilationOutput: sanitizeOutput(compilationOutput, e.cfg.ScratchRoot),
	}, nil
}

// materialize creates a scratch directory and writes the source (and stdin,
// if any) into it. For Java, the first `public class <Name>` determines the
// file name; absent that, it defaults to Main.
func (e *Executor) materialize(job Job, spec domain.LanguageSpec) (workDir, fileName, className string, err error) {
	workDir, err = os.MkdirTemp(e.cfg.ScratchRoot, job.ExecutionID+"-")
	if err != nil {
		return "", "", "", err
	}

	fileName = spec.FileName
	className = spec.FileName
	if job.Language == domain.LanguageJava {
		if match := javaClassNamePattern.FindStringSubmatch(job.Code); len(match) == 2 {
			className = match[1]
		} else {
			className = "Main"
		}
		fileName = className
	}

	sourcePath := filepath.Join(workDir, fileName+"."+spec.Extension)
	if err := os.WriteFile(sourcePath, []byte(job.Code), 0o644); err != nil {
		return "", "", "", err
	}
	if job.Stdin != "" {
		if err := os.WriteFile(filepath.Join(workDir, "input.txt"), []byte(job.Stdin), 0o644); err != nil {
			return "", "", "", err
		}
	}
	return workDir, fileName, className, nil
}

var javaClassNamePattern = regexp.MustCompile(`public\s+class\s+(\w+)`)

func substitutePlaceholders(cmd []string, fileName, className string) []string {
	out := make([]string, len(cmd))
	for i, arg := range cmd {
		arg = strings.ReplaceAll(arg, "{file}", fileName)
		arg = strings.ReplaceAll(arg, "{class}", className)
		out[i] = arg
	}
	return out
}

var (
	errTimedOut  = errors.New("sandbox: wall-clock deadline exceeded")
	errOOMKilled = errors.New("sandbox: container killed by oom-killer")
)

type containerSpec struct {
	image        string
	workDir      string
	cmd          []string
	writableRoot bool
	network      string
	timeout      time.Duration
	memoryBytes  int64
	stdinFile    bool
}

// runContainer creates, starts, waits on, and tears down a single container
// per the resource restrictions in the run-phase contract. It always
// removes the container, even when the run itself errors or times out.
func (e *Executor) runContainer(ctx context.Context, spec containerSpec) (exitCode int, stdout, stderr string, err error) {
	if _, _, pullErr := e.docker.ImageInspectWithRaw(ctx, spec.image); pullErr != nil {
		pullCtx, cancel := context.WithTimeout(ctx, e.cfg.ContainerPullTimeout)
		defer cancel()
		reader, err := e.docker.ImagePull(pullCtx, spec.image, image.PullOptions{})
		if err != nil {
			return 0, "", "", fmt.Errorf("pull image %s: %w", spec.image, err)
		}
		_, _ = io.Copy(io.Discard, reader)
		_ = reader.Close()
	}

	cmd := spec.cmd
	if spec.stdinFile {
		cmd = append([]string{"sh", "-c", strings.Join(quoteAll(spec.cmd), " ") + " < /workspace/input.txt"})
	}

	cpuQuota := int64(e.cfg.CPUQuotaFraction * 100000)

	hostConfig := &container.HostConfig{
		NetworkMode:    container.NetworkMode(spec.network),
		ReadonlyRootfs: !spec.writableRoot,
		CapDrop:        []string{"ALL"},
		CapAdd:         []string{"SETUID", "SETGID"},
		SecurityOpt:    []string{"no-new-privileges"},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.workDir,
			Target: "/workspace",
		}},
		Resources: container.Resources{
			Memory:     spec.memoryBytes,
			MemorySwap: spec.memoryBytes,
			CPUPeriod:  100000,
			CPUQuota:   cpuQuota,
			PidsLimit:  ptrInt64(e.cfg.ProcessLimit),
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: int64(e.cfg.OpenFileLimit), Hard: int64(e.cfg.OpenFileLimit)},
			},
		},
	}

	containerConfig := &container.Config{
		Image:      spec.image,
		Cmd:        cmd,
		WorkingDir: "/workspace",
		Tty:        false,
	}

	resp, err := e.docker.ContainerCreate(ctx, containerConfig, hostConfig, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return 0, "", "", fmt.Errorf("create container: %w", err)
	}
	containerID := resp.ID

	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if removeErr := e.docker.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); removeErr != nil {
			logging.Warn(removeCtx, "failed to remove sandbox container", zap.String("container_id", containerID), zap.Error(removeErr))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	if err := e.docker.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return 0, "", "", fmt.Errorf("start container: %w", err)
	}

	waitCh, errCh := e.docker.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)
	select {
	case <-runCtx.Done():
		_ = e.docker.ContainerKill(context.Background(), containerID, "KILL")
		stdout, stderr = e.collectLogs(context.Background(), containerID)
		return 124, stdout, stderr, errTimedOut
	case waitErr := <-errCh:
		return 0, "", "", fmt.Errorf("wait for container: %w", waitErr)
	case result := <-waitCh:
		stdout, stderr = e.collectLogs(context.Background(), containerID)
		if result.Error != nil {
			return int(result.StatusCode), stdout, stderr, fmt.Errorf("container reported error: %s", result.Error.Message)
		}
		if oomKilled(e.docker, containerID, runCtx) {
			return int(result.StatusCode), stdout, stderr, errOOMKilled
		}
		return int(result.StatusCode), stdout, stderr, nil
	}
}

func (e *Executor) collectLogs(ctx context.Context, containerID string) (stdout, stderr string) {
	out, err := e.docker.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", ""
	}
	defer out.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdoutBuf, &stderrBuf, out)
	return stdoutBuf.String(), stderrBuf.String()
}

func oomKilled(cli *client.Client, containerID string, ctx context.Context) bool {
	inspect, err := cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return false
	}
	return inspect.State != nil && inspect.State.OOMKilled
}

func ptrInt64(v int64) *int64 { return &v }

func quoteAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return out
}

// sanitizeOutput replaces the scratch directory's absolute path with a
// stable placeholder so users never see host filesystem layout.
func sanitizeOutput(s, scratchRoot string) string {
	if s == "" || scratchRoot == "" {
		return s
	}
	return strings.ReplaceAll(s, scratchRoot, "<sandbox>")
}

// Close releases the underlying Docker client connection.
func (e *Executor) Close() error {
	return e.docker.Close()
}
