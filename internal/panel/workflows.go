package panel

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/metrics"
)

const serverPropertiesPath = "/server.properties"

var serverPortLine = regexp.MustCompile(`(?m)^server-port=.*$`)

// SetServerPort rewrites every server-port directive, appending one when none exists.
func SetServerPort(props string, port int) string {
	line := fmt.Sprintf("server-port=%d", port)
	if serverPortLine.MatchString(props) {
		return serverPortLine.ReplaceAllString(props, line)
	}
	if props != "" && !strings.HasSuffix(props, "\n") {
		props += "\n"
	}
	return props + line + "\n"
}

// ChangePort stops the instance, rewrites server.properties and restarts it.
// A failure leaves the instance wherever the failing step left it.
func (c *Client) ChangePort(ctx context.Context, id string, port int) error {
	if port < 1 || port > 65535 {
		return apperr.New(apperr.CodeInvalidInput, "port must be between 1 and 65535")
	}
	if _, err := c.Stop(ctx, id); err != nil {
		return stepFailed("stop", err)
	}
	props, err := c.ReadFile(ctx, id, serverPropertiesPath)
	if err != nil {
		return stepFailed("read_properties", err)
	}
	if err := c.WriteFile(ctx, id, serverPropertiesPath, SetServerPort(props, port)); err != nil {
		return stepFailed("write_properties", err)
	}
	if _, err := c.Restart(ctx, id); err != nil {
		return stepFailed("restart", err)
	}
	return nil
}

func stepFailed(step string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.WithMeta("step", step)
	}
	return requestFailed("change_port", err).WithMeta("step", step)
}

// WaitForServerStart polls the instance until it reports running.
func (c *Client) WaitForServerStart(ctx context.Context, id string, maxWait time.Duration) error {
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		inst, err := c.GetInstance(ctx, id)
		if err == nil && inst.Status == StatusRunning {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return apperr.New(apperr.CodeStartTimeout, "server did not start in time").
				WithMeta("instance_id", id).
				WithMeta("max_wait", maxWait.String())
		case <-ticker.C:
		}
	}
}

// BatchOperation applies op to each instance in order and reports per-instance outcomes.
func (c *Client) BatchOperation(ctx context.Context, ids []string, op Operation) []BatchResult {
	results := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		res := BatchResult{InstanceID: id}
		switch {
		case !op.Valid():
			res.Error = fmt.Sprintf("unsupported operation %q", op)
		case ctx.Err() != nil:
			res.Error = ctx.Err().Error()
		default:
			out, err := c.Control(ctx, id, op)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Success = true
				res.Result = out
			}
		}
		status := "ok"
		if !res.Success {
			status = "error"
		}
		metrics.Default().IncCounter("idc_batch_operations_total", map[string]string{"operation": string(op), "status": status})
		results = append(results, res)
	}
	return results
}
