package client

const (
	// DefaultIOBufferSize is the fixed I/O buffer constant, used both
	// for the outgoing buffered write proxy and for the shared
	// header/body read buffer.
	DefaultIOBufferSize uint = 4096

	// DefaultMaxHeadSize bounds the response head. Heads exceeding it
	// fail the exchange; they are never truncated.
	DefaultMaxHeadSize uint = 4096
)

type Options struct {
	IOBufferSize uint
	MaxHeadSize  uint
}

func (o Options) withDefaults() Options {
	if o.IOBufferSize == 0 {
		o.IOBufferSize = DefaultIOBufferSize
	}
	if o.MaxHeadSize == 0 {
		o.MaxHeadSize = DefaultMaxHeadSize
	}
	return o
}
