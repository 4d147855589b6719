package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/MimeLyc/fetchbot/pkg/log"
)

// maxStderr bounds how much tool output is carried in an error.
const maxStderr = 2000

// run executes name with args and returns stdout. Failures carry the
// trimmed tail of stderr.
func run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmdPath, err := exec.LookPath(name)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, cmdPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug("Run %s %s", name, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s interrupted: %w", name, ctx.Err())
		}
		return nil, fmt.Errorf("%s failed: %v | %s", name, err, tail(stderr.String(), maxStderr))
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}
