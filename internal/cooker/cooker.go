// Package cooker runs the external asset cook step on behalf of CookFile
// requests.
package cooker

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"

	"github.com/seoulengine/moriarty/internal/logutil"
	"github.com/seoulengine/moriarty/pkg/proto"
)

// Cooker turns a source asset path into its cooked form.
type Cooker interface {
	Cook(ctx context.Context, path string, checkTimestamp bool) proto.CookResult
}

// Disabled reports every file as uncookable. Used when no cooker binary is
// configured.
type Disabled struct{}

func (Disabled) Cook(context.Context, string, bool) proto.CookResult {
	return proto.CookUnsupported
}

// ExecCooker shells out to a cooker binary. The binary receives the absolute
// source path and reports through its exit code: 0 cooked, 2 already up to
// date, 3 out of date but not cooked. Any other outcome is a failure.
type ExecCooker struct {
	Bin  string
	Args []string

	Logger *slog.Logger
}

func (c *ExecCooker) Cook(ctx context.Context, path string, checkTimestamp bool) proto.CookResult {
	args := make([]string, 0, len(c.Args)+2)
	args = append(args, c.Args...)
	if checkTimestamp {
		args = append(args, "-check-timestamp")
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, c.Bin, args...)
	out, err := cmd.CombinedOutput()

	log := c.logger().With(slog.String("path", path))

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		log.DebugContext(ctx, "Cook succeeded")
		return proto.CookSuccess
	case errors.As(err, &exitErr):
		switch exitErr.ExitCode() {
		case 2:
			return proto.CookUpToDate
		case 3:
			return proto.CookOutOfDate
		default:
			log.WarnContext(ctx, "Cook failed",
				slog.Int("code", exitErr.ExitCode()), slog.String("output", string(out)))
			return proto.CookFailed
		}
	default:
		log.WarnContext(ctx, "Cooker did not run", logutil.ErrorAttr(err))
		return proto.CookFailed
	}
}

func (c *ExecCooker) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return slog.Default()
}
