package decode

import (
	"context"
	"os"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/splat/dotsplat"
	"go.viam.com/splat/splat"
)

// Load detects the format of the resource at path and decodes it fully.
// The decode runs on a background goroutine; Load gives up after
// opts.StreamTimeout or when ctx is done, whichever comes first. A decode
// abandoned this way keeps running to completion but its result is
// dropped.
func Load(ctx context.Context, path string, logger golog.Logger, opts Options) ([]splat.Point, error) {
	opts = opts.withDefaults()

	type result struct {
		pts []splat.Point
		err error
	}
	done := make(chan result, 1)
	utils.PanicCapturingGo(func() {
		pts, err := decodePath(path, logger, opts)
		done <- result{pts, err}
	})

	timer := time.NewTimer(opts.StreamTimeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.pts, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.Wrapf(splat.ErrTimeout,
			"decoding %q exceeded %v", path, opts.StreamTimeout)
	}
}

// Stream decodes the resource at path and delivers it through h in
// batches of opts.BatchSize. The dotSplat format streams natively without
// buffering the whole cloud; every other format decodes fully and is then
// pushed. Handler callbacks run on the calling goroutine.
func Stream(ctx context.Context, path string, logger golog.Logger, opts Options, h splat.Handler) error {
	opts = opts.withDefaults()

	format, err := Detect(path)
	if err != nil {
		h.Failed(err)
		return err
	}

	if format == FormatDotSplat {
		return streamDotSplat(ctx, path, logger, opts, h)
	}

	fn := dispatch[format]
	pts, err := fn(path, logger, opts)
	if err == nil {
		err = splat.ValidatePoints(pts, opts.Validation)
	}
	if err != nil {
		h.Failed(err)
		return err
	}
	if err := ctx.Err(); err != nil {
		h.Failed(err)
		return err
	}
	splat.Push(pts, opts.BatchSize, h)
	return nil
}

// streamDotSplat streams records straight off the file, validating and
// checking ctx per delivered batch.
func streamDotSplat(ctx context.Context, path string, logger golog.Logger, opts Options, h splat.Handler) error {
	f, err := os.Open(path)
	if err != nil {
		err = errors.Wrapf(splat.ErrResourceMissing, "opening %q: %v", path, err)
		h.Failed(err)
		return err
	}
	defer func() { _ = f.Close() }()

	checked := &checkedHandler{ctx: ctx, mode: opts.Validation, inner: h}
	dotsplat.DecodeStream(f, logger, checked)
	return checked.err
}

// checkedHandler interposes ctx cancellation and point validation on a
// streaming decode. After the first failure it drops the rest of the
// stream so the inner handler sees at most one terminal callback.
type checkedHandler struct {
	ctx   context.Context
	mode  splat.ValidationMode
	inner splat.Handler
	err   error
}

func (c *checkedHandler) Started(count int) {
	c.inner.Started(count)
}

func (c *checkedHandler) Points(batch []splat.Point) {
	if c.err != nil {
		return
	}
	if err := c.ctx.Err(); err != nil {
		c.fail(err)
		return
	}
	if err := splat.ValidatePoints(batch, c.mode); err != nil {
		c.fail(err)
		return
	}
	c.inner.Points(batch)
}

func (c *checkedHandler) Finished() {
	if c.err != nil {
		return
	}
	c.inner.Finished()
}

func (c *checkedHandler) Failed(err error) {
	if c.err != nil {
		return
	}
	c.fail(err)
}

func (c *checkedHandler) fail(err error) {
	c.err = err
	c.inner.Failed(err)
}
