// Package trace parses the simulator's memory-access trace format: one
// whitespace-separated record per line, `<D|I> <R|W> <hex-address>`
// (spec.md §6).
package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Record is one parsed trace line.
type Record struct {
	ForData bool   // true for D(ata), false for I(nstruction)
	IsRead  bool   // true for R(ead), false for W(rite)
	Address uint64 // parsed from the trace's hex literal
	Line    int    // 1-based source line number, for diagnostics
}

// ErrMalformed is wrapped with the offending line's number and returned by
// ParseLine for a bad line; Scan passes that error to its SkipFunc for each
// malformed line it skips.
var ErrMalformed = errors.New("malformed trace record")

// ParseLine parses one raw trace line, stripping trailing NUL bytes and
// splitting it on whitespace.
// Malformed lines per spec.md §6 are: wrong field count, an unknown
// type/operation letter, or a hex literal shorter than 5 characters (i.e.
// "0x" plus at least 3 hex digits) or containing a stray "x" beyond the
// leading "0x".
func ParseLine(line string, lineNo int) (Record, error) {
	line = strings.TrimRight(line, "\x00")
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Record{}, errors.Wrapf(ErrMalformed, "line %d: expected 3 fields, got %d", lineNo, len(fields))
	}

	var forData bool
	switch fields[0] {
	case "D":
		forData = true
	case "I":
		forData = false
	default:
		return Record{}, errors.Wrapf(ErrMalformed, "line %d: unknown access type %q", lineNo, fields[0])
	}

	var isRead bool
	switch fields[1] {
	case "R":
		isRead = true
	case "W":
		isRead = false
	default:
		return Record{}, errors.Wrapf(ErrMalformed, "line %d: unknown operation %q", lineNo, fields[1])
	}

	addr, err := parseHexAddress(fields[2])
	if err != nil {
		return Record{}, errors.Wrapf(ErrMalformed, "line %d: %s", lineNo, err)
	}

	return Record{ForData: forData, IsRead: isRead, Address: addr, Line: lineNo}, nil
}

func parseHexAddress(field string) (uint64, error) {
	if len(field) < 5 {
		return 0, fmt.Errorf("hex literal %q shorter than 5 characters", field)
	}
	if !strings.HasPrefix(field, "0x") && !strings.HasPrefix(field, "0X") {
		return 0, fmt.Errorf("hex literal %q missing 0x prefix", field)
	}
	digits := field[2:]
	if strings.ContainsAny(digits, "xX") {
		return 0, fmt.Errorf("hex literal %q contains a stray 'x'", field)
	}
	addr, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("hex literal %q: %s", field, err)
	}
	return addr, nil
}

// SkipFunc is called once per malformed line with the parse error, in place
// of aborting the run (spec.md §7: "per-line skip for malformed").
type SkipFunc func(err error)

// Scan reads records from r, calling onRecord for every well-formed line and
// onSkip (if non-nil) for every malformed one. It stops and returns the first
// error reading from r itself (not a parse error, which is never fatal).
func Scan(r io.Reader, onRecord func(Record) error, onSkip SkipFunc) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		if strings.TrimSpace(strings.TrimRight(text, "\x00")) == "" {
			continue
		}
		rec, err := ParseLine(text, lineNo)
		if err != nil {
			if onSkip != nil {
				onSkip(err)
			}
			continue
		}
		if err := onRecord(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}
