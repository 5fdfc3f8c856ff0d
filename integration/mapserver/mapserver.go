package mapserver

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

const binary = "lightning-observation-map"

type Runner struct {
	command    string
	configFile string
	dir        string
	args       []string
	env        []string

	cmd *exec.Cmd
}

func Server(args ...string) *Runner {
	return &Runner{command: "server", args: args}
}

func Render(args ...string) *Runner {
	return &Runner{command: "render", args: args}
}

func (b *Runner) WithEnv(env []string) *Runner {
	b.env = env
	return b
}

func (b *Runner) WithDir(dir string) *Runner {
	b.dir = dir
	return b
}

func (b *Runner) Run(t *testing.T) error {
	t.Helper()

	cmd := b.exec(context.Background())

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s %s", binary, b.command)
	}

	fmt.Println("Ran in ", time.Since(start))
	return nil
}

func (b *Runner) RunBackground(t *testing.T) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	cmd := b.exec(ctx)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		t.Fatalf("%s %s: %v", binary, b.command, err)
	}
	b.cmd = cmd

	done := make(chan struct{})

	go func() {
		_ = cmd.Wait()
		fmt.Println("Ran in ", time.Since(start))
		close(done)
	}()

	return func() {
		cancel()
		<-done
	}
}

// Signal delivers sig to the process started by RunBackground.
func (b *Runner) Signal(t *testing.T, sig os.Signal) {
	t.Helper()
	if b.cmd == nil || b.cmd.Process == nil {
		t.Fatal("process is not running")
	}
	if err := b.cmd.Process.Signal(sig); err != nil {
		t.Fatalf("cannot deliver %s: %v", sig, err)
	}
}

func (b *Runner) RunOrFail(t *testing.T) {
	t.Helper()
	if err := b.Run(t); err != nil {
		t.Fatal(err)
	}
}

func (b *Runner) exec(ctx context.Context) *exec.Cmd {
	args := []string{b.command}
	if b.configFile != "" {
		args = append(args, "--config", b.configFile)
	}
	args = append(args, b.args...)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Env = append(removeAppEnvs(os.Environ()), b.env...)
	if b.dir != "" {
		cmd.Dir = b.dir
	}

	// Wrapping stdout and stderr forces exec to copy through a pipe so a
	// killed test does not wait on descriptors held by the child.
	// See https://github.com/golang/go/issues/23019
	cmd.Stdout = struct{ io.Writer }{os.Stdout}
	cmd.Stderr = struct{ io.Writer }{os.Stderr}

	return cmd
}

func removeAppEnvs(env []string) []string {
	var clean []string

	for _, value := range env {
		if !strings.HasPrefix(value, "LIGHTNING_MAP_") {
			clean = append(clean, value)
		}
	}

	return clean
}
