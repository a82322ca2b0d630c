package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxLineBytes bounds a single JSONL record line.
const DefaultMaxLineBytes = 1 << 20

// ErrLineTooLong is returned when a record line exceeds the reader's limit.
var ErrLineTooLong = errors.New("jsonl line exceeds max bytes")

// Reader decodes a JSONL record stream produced by a JSONLWriter.
//
// Blank lines are skipped. Reading stops at io.EOF; a malformed line is a
// decode error, not EOF.
type Reader struct {
	r            *bufio.Reader
	maxLineBytes int
}

// NewReader creates a Reader over the given stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), maxLineBytes: DefaultMaxLineBytes}
}

// SetMaxLineBytes overrides the per-line size limit. Non-positive values
// restore the default.
func (r *Reader) SetMaxLineBytes(n int) {
	if n <= 0 {
		r.maxLineBytes = DefaultMaxLineBytes
		return
	}
	r.maxLineBytes = n
}

// Next returns the next record in the stream, or io.EOF when exhausted.
func (r *Reader) Next() (Record, error) {
	for {
		line, err := readLineLimited(r.r, r.maxLineBytes)
		if err != nil {
			return Record{}, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return Record{}, fmt.Errorf("decode record: %w", err)
		}
		return rec, nil
	}
}

// ReadAll consumes the remaining stream and returns every record.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// DecodeExecution decodes the record's payload as an ExecutionRecord.
func (rec Record) DecodeExecution() (*ExecutionRecord, error) {
	if rec.Type != TypeExecution {
		return nil, fmt.Errorf("record type %s is not %s", rec.Type, TypeExecution)
	}
	var exec ExecutionRecord
	if err := json.Unmarshal(rec.Data, &exec); err != nil {
		return nil, fmt.Errorf("decode execution record: %w", err)
	}
	return &exec, nil
}

// DecodeCache decodes the record's payload as a CacheRecord.
func (rec Record) DecodeCache() (*CacheRecord, error) {
	if rec.Type != TypeCache {
		return nil, fmt.Errorf("record type %s is not %s", rec.Type, TypeCache)
	}
	var cache CacheRecord
	if err := json.Unmarshal(rec.Data, &cache); err != nil {
		return nil, fmt.Errorf("decode cache record: %w", err)
	}
	return &cache, nil
}

// DecodeError decodes the record's payload as an ErrorRecord.
func (rec Record) DecodeError() (*ErrorRecord, error) {
	if rec.Type != TypeError {
		return nil, fmt.Errorf("record type %s is not %s", rec.Type, TypeError)
	}
	var errRec ErrorRecord
	if err := json.Unmarshal(rec.Data, &errRec); err != nil {
		return nil, fmt.Errorf("decode error record: %w", err)
	}
	return &errRec, nil
}

// DecodeSummary decodes the record's payload as a SummaryRecord.
func (rec Record) DecodeSummary() (*SummaryRecord, error) {
	if rec.Type != TypeSummary {
		return nil, fmt.Errorf("record type %s is not %s", rec.Type, TypeSummary)
	}
	var sum SummaryRecord
	if err := json.Unmarshal(rec.Data, &sum); err != nil {
		return nil, fmt.Errorf("decode summary record: %w", err)
	}
	return &sum, nil
}

func readLineLimited(r *bufio.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLineBytes
	}

	var out []byte
	for {
		frag, err := r.ReadSlice('\n')
		out = append(out, frag...)
		if len(out) > maxBytes {
			return nil, ErrLineTooLong
		}
		if err == nil {
			return bytes.TrimSuffix(out, []byte("\n")), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		return nil, err
	}
}
