// Package extool runs the opaque external helper tools the core depends on
// without owning their internals (spec §9: "helper-process invocations").
// thin_repair, blkid, fsck, vdoformat, and friends are treated as stable
// argv/exit-code contracts; any failure becomes lvmerr.ErrExternalTool.
//
// The exec-wrapping, stdout-streaming, and JSON-decoding shape is carried
// over from the teacher's lvmd/command.callLVM/callLVMInto, generalized
// from "always invoke
// /sbin/lvm" to "invoke any named external tool".
package extool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/logging"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/lvmerr"
)

// Run invokes name with args, streaming its stdout to the logger line by
// line. It does not attempt to interpret output: callers that need
// structured results use RunInto.
func Run(ctx context.Context, name string, args ...string) error {
	return RunInto(ctx, nil, name, args...)
}

// RunInto invokes name with args and, if into is non-nil, decodes its
// stdout as JSON into into. If into is nil, stdout is logged line by line
// instead (mirroring callLVMInto's behavior when no destination is given).
func RunInto(ctx context.Context, into any, name string, args ...string) error {
	out, err := runStreamed(ctx, name, args...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			logging.FromContext(ctx).Error(cerr, "failed to close external tool output", "tool", name)
		}
	}()

	if into == nil {
		scanner := bufio.NewScanner(out)
		for scanner.Scan() {
			logging.FromContext(ctx).Info(strings.TrimSpace(scanner.Text()), "tool", name)
		}
		return scanner.Err()
	}
	return json.NewDecoder(out).Decode(into)
}

func runStreamed(ctx context.Context, name string, args ...string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, "LC_ALL=C")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, lvmerr.Wrap(lvmerr.ErrExternalTool.Tag, lvmerr.KindIO, fmt.Sprintf("failed to open stdout for %s", name), err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	logging.FromContext(ctx).Info("invoking external tool", "tool", name, "args", args)
	if err := cmd.Start(); err != nil {
		return nil, lvmerr.Wrap(lvmerr.ErrExternalTool.Tag, lvmerr.KindIO, fmt.Sprintf("failed to start %s", name), err)
	}

	return closingReader{ReadCloser: stdout, close: func() error {
		if err := cmd.Wait(); err != nil {
			msg := err.Error()
			if stderr.Len() > 0 {
				msg = fmt.Sprintf("%s: %s", msg, strings.TrimSpace(stderr.String()))
			}
			return lvmerr.Wrap(lvmerr.ErrExternalTool.Tag, lvmerr.KindIO, fmt.Sprintf("%s failed", name), fmt.Errorf("%s", msg))
		}
		return nil
	}}, nil
}

// closingReader waits for the process on Close, after the pipe has been
// fully drained — matching pipeClosingReadCloser in the teacher.
type closingReader struct {
	io.ReadCloser
	close func() error
}

func (c closingReader) Close() error {
	if err := c.ReadCloser.Close(); err != nil {
		return err
	}
	if c.close != nil {
		return c.close()
	}
	return nil
}

// DeviceController is the opaque device-mapper activation contract (spec
// §1's explicit non-goal, and §9's "opaque call into an external device
// controller"). The core only needs to know it can ask for activation,
// suspension (to quiesce I/O before a metadata commit), and resume/rollback;
// how that turns into dm table loads is out of scope.
type DeviceController interface {
	Activate(ctx context.Context, lvUUID string, readOnly bool) error
	Suspend(ctx context.Context, lvUUID string) error
	Resume(ctx context.Context, lvUUID string) error
	Deactivate(ctx context.Context, lvUUID string) error
}

// NoopDeviceController is a DeviceController that performs no kernel
// activity; it exists so the VG object model's commit/rollback paths are
// exercisable in tests without a real device-mapper stack.
type NoopDeviceController struct{}

func (NoopDeviceController) Activate(context.Context, string, bool) error { return nil }
func (NoopDeviceController) Suspend(context.Context, string) error        { return nil }
func (NoopDeviceController) Resume(context.Context, string) error         { return nil }
func (NoopDeviceController) Deactivate(context.Context, string) error     { return nil }
