package types

import "context"

// SerialPort is the byte-stream capability UART drivers consume.
// RecvSomeContext blocks until at least one byte is available or ctx is done.
type SerialPort interface {
	Write(p []byte) (int, error)
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

// SerialFlusher is optionally implemented by ports that can discard pending
// receive data in one call.
type SerialFlusher interface {
	Flush() error
}

// SerialFormatter is optionally implemented where the line rate can be set.
type SerialFormatter interface {
	SetBaudRate(br uint32) error
}
