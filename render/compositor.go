// Package render drives the external compositing engine that turns scene
// assets into the final video.
package render

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"clipforge/config"
	"clipforge/pipeline"
)

// Placeholders substituted into the configured render command.
const (
	PropsPlaceholder  = "${PROPS_JSON}"
	OutputPlaceholder = "${OUTPUT}"
)

// Compositor runs the configured compositing command. Rendering is the
// heaviest operation in the system, so a resource check guards every
// invocation.
type Compositor struct {
	cfg *config.Config
}

func NewCompositor(cfg *config.Config) (*Compositor, error) {
	args, err := SplitCommand(cfg.RenderCommand)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("render command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("render binary not found in PATH: %s", args[0])
	}
	return &Compositor{cfg: cfg}, nil
}

// SplitCommand splits a command template without involving a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid render command syntax: %w", err)
	}
	return args, nil
}

// BuildArgs substitutes the props and output placeholders into the split
// command. Splitting happens before substitution so paths with spaces stay
// single arguments.
func BuildArgs(command, propsPath, outputPath string) ([]string, error) {
	args, err := SplitCommand(command)
	if err != nil {
		return nil, err
	}
	foundOutput := false
	for i, arg := range args {
		if strings.Contains(arg, PropsPlaceholder) {
			args[i] = strings.Replace(arg, PropsPlaceholder, propsPath, 1)
		}
		if strings.Contains(args[i], OutputPlaceholder) {
			args[i] = strings.Replace(args[i], OutputPlaceholder, outputPath, 1)
			foundOutput = true
		}
	}
	if !foundOutput {
		return nil, fmt.Errorf("render command must include the %s placeholder", OutputPlaceholder)
	}
	return args, nil
}

func (c *Compositor) Render(ctx context.Context, job pipeline.RenderJob) error {
	if err := c.checkResources(); err != nil {
		return fmt.Errorf("insufficient system resources: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return err
	}

	propsPath := filepath.Join(filepath.Dir(job.OutputPath), "render-props.json")
	props, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal render props: %w", err)
	}
	if err := os.WriteFile(propsPath, props, 0o644); err != nil {
		return fmt.Errorf("write render props: %w", err)
	}

	args, err := BuildArgs(c.cfg.RenderCommand, propsPath, job.OutputPath)
	if err != nil {
		return err
	}

	renderCtx := ctx
	if c.cfg.RenderTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, c.cfg.RenderTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(renderCtx, args[0], args[1:]...)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	log.Printf("[render] job %s: %s", job.JobID, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start render: %w", err)
	}

	sampler := newProgressSampler(job.JobID)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		sampler.observe(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		// Sampling stops but the render itself continues; Wait decides.
		log.Printf("[render] job %s: progress stream: %v", job.JobID, err)
	}

	if err := cmd.Wait(); err != nil {
		// A failed render leaves a partial output file behind.
		os.Remove(job.OutputPath)
		return fmt.Errorf("render failed: %w (%s)", err, strings.TrimSpace(errBuf.String()))
	}
	return nil
}

// progressSampler forwards at most one progress line per wall-clock second
// so long renders do not flood the log.
type progressSampler struct {
	jobID      string
	lastSecond int64
}

func newProgressSampler(jobID string) *progressSampler {
	return &progressSampler{jobID: jobID, lastSecond: -1}
}

func (p *progressSampler) observe(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	second := time.Now().Unix()
	if second == p.lastSecond {
		return
	}
	p.lastSecond = second
	log.Printf("[render] job %s: %s", p.jobID, line)
}

// checkResources verifies the host has headroom before a render starts.
func (c *Compositor) checkResources() error {
	p, err := cpu.Percent(time.Second, false)
	if err != nil {
		log.Printf("[render] warning: could not get CPU usage: %v", err)
	} else if len(p) > 0 && p[0] > (100.0-c.cfg.ThrottleCPU) {
		return fmt.Errorf("not enough idle CPU: usage %.2f%%, idle threshold %.2f%%", p[0], c.cfg.ThrottleCPU)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Printf("[render] warning: could not get memory usage: %v", err)
	} else if vm.Available < uint64(c.cfg.ThrottleFreeMem) {
		return fmt.Errorf("not enough free memory: available %d, required %d", vm.Available, c.cfg.ThrottleFreeMem)
	}

	d, err := disk.Usage(c.cfg.DataDir)
	if err != nil {
		log.Printf("[render] warning: could not get disk usage for %s: %v", c.cfg.DataDir, err)
	} else if d.Free < uint64(c.cfg.ThrottleFreeDisk) {
		return fmt.Errorf("not enough free disk space: available %d, required %d", d.Free, c.cfg.ThrottleFreeDisk)
	}
	return nil
}
