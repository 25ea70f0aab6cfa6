// Package csvexport writes a sample log as a CSV document.
//
// The format is fixed:
//
//	Time,X,Y,Z
//	<timestamp>,<x>,<y>,<z>
//
// Fields are never quoted or escaped and every line ends with "\n".
package csvexport

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/relabs-tech/motion_logger/internal/samplelog"
)

// Header is the first line of every export.
const Header = "Time,X,Y,Z"

// ContentType is the MIME type of an export.
const ContentType = "text/csv"

// Export stages reported by ExportFailure.
const (
	OpOpen  = "open"
	OpWrite = "write"
	OpClose = "close"
)

// ExportFailure reports a sink that could not be opened, written or closed.
// The destination may hold a partial document afterwards.
type ExportFailure struct {
	Op  string
	Err error
}

func (e *ExportFailure) Error() string {
	return fmt.Sprintf("csv export %s: %v", e.Op, e.Err)
}

func (e *ExportFailure) Unwrap() error {
	return e.Err
}

// Opener acquires the sink an export is written to.
type Opener func() (io.WriteCloser, error)

// FileOpener creates (or truncates) the file at path.
func FileOpener(path string) Opener {
	return func() (io.WriteCloser, error) {
		return os.Create(path)
	}
}

// DefaultFileName is the suggested name for an export started at t.
func DefaultFileName(t time.Time) string {
	return "accel_log_" + t.Format("20060102_150405") + ".csv"
}

// Write emits the header and one row per sample, in order.
func Write(w io.Writer, samples []samplelog.Sample) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(Header)
	bw.WriteByte('\n')
	for _, s := range samples {
		bw.WriteString(s.Timestamp)
		bw.WriteByte(',')
		bw.WriteString(FormatFloat(s.X))
		bw.WriteByte(',')
		bw.WriteString(FormatFloat(s.Y))
		bw.WriteByte(',')
		bw.WriteString(FormatFloat(s.Z))
		bw.WriteByte('\n')
	}
	// bufio errors are sticky, Flush reports the first one.
	return bw.Flush()
}

// Export writes samples to sink and closes it on every path.
func Export(sink io.WriteCloser, samples []samplelog.Sample) (err error) {
	defer func() {
		cerr := sink.Close()
		if cerr == nil {
			return
		}
		if failure, ok := err.(*ExportFailure); ok {
			failure.Err = multierr.Append(failure.Err, cerr)
			return
		}
		err = &ExportFailure{Op: OpClose, Err: cerr}
	}()

	if werr := Write(sink, samples); werr != nil {
		return &ExportFailure{Op: OpWrite, Err: werr}
	}
	return nil
}

// ExportTo opens a sink with open and exports samples to it.
func ExportTo(open Opener, samples []samplelog.Sample) error {
	sink, err := open()
	if err != nil {
		return &ExportFailure{Op: OpOpen, Err: err}
	}
	if sink == nil {
		return &ExportFailure{Op: OpOpen, Err: fmt.Errorf("no sink")}
	}
	return Export(sink, samples)
}

// ExportFile exports samples to the file at path.
func ExportFile(path string, samples []samplelog.Sample) error {
	return ExportTo(FileOpener(path), samples)
}
