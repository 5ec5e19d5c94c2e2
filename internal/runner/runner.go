package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mbeoliero/annotator/domain/entity"
	"github.com/mbeoliero/annotator/infra/config"
	"github.com/mbeoliero/annotator/pkg/log"
)

// Outputs are the files the annotation process leaves next to its input.
type Outputs struct {
	InputPath  string
	ResultPath string
	LogPath    string
}

// DeriveOutputs maps an input file to the paths the annotation process
// writes: <name>.annot.vcf and <name>.vcf.count.log beside the input.
func DeriveOutputs(inputPath string) Outputs {
	prefix := strings.TrimSuffix(inputPath, ".vcf")
	return Outputs{
		InputPath:  inputPath,
		ResultPath: prefix + ".annot.vcf",
		LogPath:    prefix + ".vcf.count.log",
	}
}

// Callback receives the outcome of a supervised annotation run. Completed
// owns the whole completion path (uploads, record update, notification);
// Failed is informational and must be safe to call for a job that already
// completed.
type Callback interface {
	Completed(ctx context.Context, job *entity.Job, email string, out Outputs) error
	Failed(ctx context.Context, jobId string, cause error)
}

// Runner launches the annotation computation for a dispatched job.
type Runner interface {
	// Launch starts the computation and returns once the process is
	// running. The result is reported asynchronously through the Callback.
	Launch(ctx context.Context, job *entity.Job, email, inputPath string) error
}

// ProcessRunner runs the annotation as a supervised child process:
// <command> <input_path> <job_id>. A start failure is returned to the
// caller; everything after a successful start is reported via the callback.
type ProcessRunner struct {
	cfg config.RunnerConfig
	cb  Callback
	wg  sync.WaitGroup
}

func NewProcessRunner(cfg config.RunnerConfig, cb Callback) *ProcessRunner {
	return &ProcessRunner{cfg: cfg, cb: cb}
}

func (r *ProcessRunner) Launch(ctx context.Context, job *entity.Job, email, inputPath string) error {
	cmd := exec.Command(r.cfg.Command, inputPath, job.JobId)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch annotation process: %w", err)
	}

	r.wg.Add(1)
	go r.supervise(cmd, job, email, inputPath)
	return nil
}

func (r *ProcessRunner) supervise(cmd *exec.Cmd, job *entity.Job, email, inputPath string) {
	defer r.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("runner supervision panic, jobId: %s, err: %v", job.JobId, rec)
		}
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(r.cfg.Timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		_ = cmd.Process.Kill()
		<-done
		err = fmt.Errorf("annotation process exceeded %v", r.cfg.Timeout)
	}

	ctx := context.TODO()
	if err != nil {
		log.CtxError(ctx, "annotation process failed, jobId: %s, err: %v", job.JobId, err)
		r.cb.Failed(ctx, job.JobId, err)
		return
	}

	if cbErr := r.cb.Completed(ctx, job, email, DeriveOutputs(inputPath)); cbErr != nil {
		log.CtxError(ctx, "completion handling failed, jobId: %s, err: %v", job.JobId, cbErr)
	}
}

// Wait blocks until all supervised processes have been reaped, for
// graceful shutdown.
func (r *ProcessRunner) Wait() {
	r.wg.Wait()
}
