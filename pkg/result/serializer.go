package result

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shamaton/msgpack/v2"
)

// Results file format: a fixed magic header, a single format version byte,
// then the msgpack-encoded TransformResult. The header lets corrupt or
// foreign files be rejected before decoding.
var fileMagic = []byte("LTHR")

// FormatVersion is the current results file format version.
const FormatVersion byte = 1

// Errors classifying results file failures.
var (
	// ErrMissingResults indicates no results file exists at the path.
	ErrMissingResults = errors.New("results file does not exist")

	// ErrCorruptResults indicates the file exists but does not parse as a
	// valid serialized result.
	ErrCorruptResults = errors.New("results file is corrupt")
)

// DecodeError is the structured error returned when a results file cannot
// be read back. It always wraps ErrMissingResults or ErrCorruptResults.
type DecodeError struct {
	// Path is the results file location.
	Path string

	// Reason describes the failure for humans.
	Reason string

	// Err is the underlying cause.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("read results file %s: %s", e.Path, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// WriteToFile persists the result to the given path, overwriting any
// existing file unconditionally.
//
// Write failures (disk full, permission denied) surface as I/O errors.
// No partial-write recovery is attempted; callers must not assume
// atomicity and should treat the results file as valid only after this
// returns nil.
func WriteToFile(path string, r *TransformResult) error {
	if r == nil {
		return fmt.Errorf("write results file %s: result is nil", path)
	}

	var buf bytes.Buffer
	buf.Write(fileMagic)
	buf.WriteByte(FormatVersion)
	if err := msgpack.MarshalWrite(&buf, r); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write results file %s: %w", path, err)
	}
	return nil
}

// ReadResultsFile reads back a result persisted by WriteToFile.
//
// Returns a *DecodeError wrapping ErrMissingResults when the file does not
// exist, or wrapping ErrCorruptResults when the contents do not parse as a
// valid serialized result. A partially-populated result is never returned
// silently.
func ReadResultsFile(path string) (*TransformResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &DecodeError{Path: path, Reason: "file does not exist", Err: ErrMissingResults}
		}
		return nil, &DecodeError{Path: path, Reason: err.Error(), Err: err}
	}

	if len(data) < len(fileMagic)+1 {
		return nil, &DecodeError{Path: path, Reason: "file truncated before header", Err: ErrCorruptResults}
	}
	if !bytes.Equal(data[:len(fileMagic)], fileMagic) {
		return nil, &DecodeError{Path: path, Reason: "bad magic header", Err: ErrCorruptResults}
	}
	version := data[len(fileMagic)]
	if version != FormatVersion {
		return nil, &DecodeError{
			Path:   path,
			Reason: fmt.Sprintf("unsupported format version %d", version),
			Err:    ErrCorruptResults,
		}
	}

	payload := data[len(fileMagic)+1:]
	var r TransformResult
	if err := msgpack.UnmarshalRead(bytes.NewReader(payload), &r); err != nil {
		return nil, &DecodeError{Path: path, Reason: "decode payload: " + err.Error(), Err: ErrCorruptResults}
	}
	return &r, nil
}

// WriteTo encodes the result to an arbitrary writer using the same format
// as WriteToFile. Used by the remote cache when archiving workspaces.
func (r *TransformResult) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.Write(fileMagic)
	buf.WriteByte(FormatVersion)
	if err := msgpack.MarshalWrite(&buf, r); err != nil {
		return 0, fmt.Errorf("encode result: %w", err)
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}
