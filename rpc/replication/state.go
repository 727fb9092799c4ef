package replication

// EncoderState is the activity of a FrameEncoder. It is published atomically
// and only meant for observation, it may lag behind the loop.
type EncoderState int32

const (
	EncoderIdle     EncoderState = iota // waiting for the change log
	EncoderDraining                     // pulling and framing records
	EncoderFlushing                     // handing a chunk to the sink
)

func (s EncoderState) String() string {
	switch s {
	case EncoderIdle:
		return "Idle"
	case EncoderDraining:
		return "Draining"
	case EncoderFlushing:
		return "Flushing"
	default:
		return "Unknown"
	}
}

// DecoderState is the activity of a FrameDecoder
type DecoderState int32

const (
	DecoderIdle     DecoderState = iota // waiting for a chunk
	DecoderApplying                     // applying the records of a chunk
)

func (s DecoderState) String() string {
	switch s {
	case DecoderIdle:
		return "Idle"
	case DecoderApplying:
		return "Applying"
	default:
		return "Unknown"
	}
}
