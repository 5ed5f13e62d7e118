package evidence

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
)

// IterJSONL streams each complete JSON line of a log to fn. A trailing line
// without a newline terminator is treated as an in-progress write and
// ignored. Blank lines are skipped; lines that fail to decode are passed to
// onBad when provided and otherwise skipped. Iteration stops early when fn
// returns false.
func IterJSONL(path string, fn func(raw []byte) bool, onBad func(line []byte, err error)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			// No trailing newline: a writer may still be mid-record.
			return nil
		}
		if err != nil {
			return err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			if onBad != nil {
				onBad(line, errInvalidJSON)
			}
			continue
		}
		if !fn(line) {
			return nil
		}
	}
}

var errInvalidJSON = &json.SyntaxError{}

// ReadEvents decodes every complete event in the log.
func ReadEvents(path string) ([]Event, error) {
	var out []Event
	err := IterJSONL(path, func(raw []byte) bool {
		var ev Event
		if json.Unmarshal(raw, &ev) == nil {
			out = append(out, ev)
		}
		return true
	}, nil)
	return out, err
}

// FindEvent scans the log for the event with the given id.
// Returns nil when absent.
func FindEvent(path, eventID string) (*Event, error) {
	if eventID == "" {
		return nil, nil
	}
	var found *Event
	err := IterJSONL(path, func(raw []byte) bool {
		var ev Event
		if json.Unmarshal(raw, &ev) != nil {
			return true
		}
		if ev.EventID == eventID {
			found = &ev
			return false
		}
		return true
	}, nil)
	return found, err
}

// KnownEventIDs collects every event id present in the log. Used to validate
// source_refs before Thought DB appends.
func KnownEventIDs(path string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	err := IterJSONL(path, func(raw []byte) bool {
		var ev Event
		if json.Unmarshal(raw, &ev) == nil && ev.EventID != "" {
			out[ev.EventID] = struct{}{}
		}
		return true
	}, nil)
	return out, err
}
