package mjpeg

// CaptureDevice is the hardware capture queue a frame's buffer is returned
// to once its encode has finished, successfully or not.
type CaptureDevice interface {
	QueueBuffer(index int) error
}

// Origin carries everything the pipeline hands back untouched: the opaque
// handler data, the video source the completion is reported against, and the
// capture queue the source buffer returns to.
type Origin struct {
	Context any
	Source  any
	Device  CaptureDevice
}

// CaptureFrame is a borrowed view of one raw planar YUV 4:2:0 capture buffer.
// The memory stays owned by the capture subsystem; the pipeline only reads it
// during one compression call, and the borrow ends when the matching
// EncodeResult is dispatched.
type CaptureFrame struct {
	Index  int
	Mem    []byte
	Width  int
	Height int
	// Stride is the luma row pitch in bytes. Zero means Width.
	Stride int
	Origin Origin
}

// DestinationSlot is a borrowed, writable sink buffer sized for one encoded
// frame (see jpegenc.DestinationSize).
type DestinationSlot struct {
	Index int
	Mem   []byte
}

// EncodeResult is produced by exactly one worker per pairing and consumed
// exactly once by the dispatcher.
type EncodeResult struct {
	// Sequence is the pairing order, starting at zero for each Start.
	Sequence    uint64
	SourceIndex int
	SinkIndex   int
	BytesUsed   int
	// Data is the encoded frame: a view of the destination slot, valid until
	// the slot is handed back to the pipeline.
	Data   []byte
	Origin Origin
	// Err is set when compression failed. Failed results are never passed to
	// the completion callback.
	Err error

	slot DestinationSlot
}

// CompletionFunc receives every successfully encoded frame, on the dispatcher
// goroutine, after the source buffer has been returned to its device. It must
// not block indefinitely.
type CompletionFunc func(res EncodeResult)

// Depth reports how many items wait in each queue.
type Depth struct {
	Captures     int
	Destinations int
	Outputs      int
}

type pairing struct {
	seq     uint64
	capture CaptureFrame
	dest    DestinationSlot
}
