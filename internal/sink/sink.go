package sink

import "io"

// Sink receives one formatted record at a time. Implementations decide what a
// record means for them (a log line, a raw chunk, a queue entry).
type Sink interface {
	Accept(record string) error
}

// Func adapts a plain function to a Sink.
type Func func(string) error

func (f Func) Accept(record string) error { return f(record) }

// Writer adapts an io.Writer to a Sink; records are written verbatim.
type Writer struct {
	W io.Writer
}

func (w Writer) Accept(record string) error {
	_, err := io.WriteString(w.W, record)
	return err
}

// Discard swallows every record. Useful as a default.
var Discard = Func(func(string) error { return nil })
