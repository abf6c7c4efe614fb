package splat

// Handler is the push surface for streaming decodes. A producer calls
// Started exactly once, Points zero or more times, and then exactly one of
// Finished or Failed. Points delivered before a Failed call were fully
// decoded and validated; they remain usable.
type Handler interface {
	// Started reports the point count when the format declares one up
	// front; count is -1 when unknown.
	Started(count int)

	// Points delivers a batch. The slice is owned by the handler after
	// the call returns.
	Points(batch []Point)

	// Finished signals successful end of stream.
	Finished()

	// Failed signals a terminal decode error.
	Failed(err error)
}

// SliceHandler collects a pushed stream into a slice. It is not safe for
// concurrent producers.
type SliceHandler struct {
	Pts []Point
	Err error
}

// Started implements Handler.
func (h *SliceHandler) Started(count int) {
	if count > 0 && h.Pts == nil {
		h.Pts = make([]Point, 0, count)
	}
}

// Points implements Handler.
func (h *SliceHandler) Points(batch []Point) {
	h.Pts = append(h.Pts, batch...)
}

// Finished implements Handler.
func (h *SliceHandler) Finished() {}

// Failed implements Handler.
func (h *SliceHandler) Failed(err error) {
	h.Err = err
}

// Push replays an already-decoded slice through a handler in fixed-size
// batches. It adapts a pull-style decoder to the push surface.
func Push(pts []Point, batchSize int, h Handler) {
	if batchSize <= 0 {
		batchSize = 4096
	}
	h.Started(len(pts))
	for start := 0; start < len(pts); start += batchSize {
		end := start + batchSize
		if end > len(pts) {
			end = len(pts)
		}
		h.Points(pts[start:end])
	}
	h.Finished()
}
