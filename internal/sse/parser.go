// Package sse implements the server-sent-events wire codec: a streaming
// parser that turns raw bytes into {event, id, data} records, and an
// encoder that turns an Event into the matching wire record.
package sse

import (
	"bytes"
	"strconv"
	"time"
)

// Record is one parsed SSE record: an event name, the id: value this
// record carried (0 if it had none), and the joined data payload.
type Record struct {
	Name string
	ID   uint32
	Data string
	// Retry is set when the record carried a retry: field, clamped to
	// [50ms, 3000ms].
	Retry time.Duration
	// HasRetry reports whether Retry was set by this record.
	HasRetry bool
}

const (
	retryMin = 50 * time.Millisecond
	retryMax = 3000 * time.Millisecond
)

// bom is the byte-order-mark sequence spec.md's wire format strips at
// stream start. Note this is the two-byte sequence the format names, not
// the three-byte UTF-8 BOM (0xEF 0xBB 0xBF).
var bom = []byte{0xFE, 0xFF}

// Parser incrementally decodes an SSE byte stream into Records. Feed it
// successive reads via Feed; a partial record at read boundary is
// preserved across calls.
type Parser struct {
	buf     []byte
	started bool

	// in-progress record state
	eventName string
	data      bytes.Buffer
	haveData  bool
	id        uint32
	haveID    bool
	retry     time.Duration
	haveRetry bool
}

// NewParser returns a ready-to-use Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends newly read bytes and returns every Record completed by a
// blank-line delimiter found so far. Bytes belonging to a record still in
// progress are retained for the next Feed call.
func (p *Parser) Feed(chunk []byte) []Record {
	p.buf = append(p.buf, chunk...)
	if !p.started {
		p.buf = stripBOM(p.buf)
		p.started = true
	}
	p.buf = normalizeLineEndings(p.buf)

	var records []Record
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]

		if len(line) == 0 {
			if rec, ok := p.dispatch(); ok {
				records = append(records, rec)
			}
			continue
		}

		// A comment line dispatches its own standalone record
		// immediately, leaving the record being accumulated around it
		// untouched — it never joins the in-progress data buffer.
		if line[0] == ':' {
			records = append(records, Record{Name: "comment", Data: string(line[1:])})
			continue
		}

		p.consumeLine(line)
	}
	return records
}

func (p *Parser) consumeLine(line []byte) {
	field, value, found := bytes.Cut(line, []byte(":"))
	if !found {
		field = line
		value = nil
	}
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}

	switch string(field) {
	case "event":
		p.eventName = string(value)
	case "id":
		if len(value) == 0 {
			p.id = 0
			p.haveID = true
			return
		}
		n, err := strconv.ParseUint(string(value), 10, 32)
		if err != nil {
			return
		}
		p.id = uint32(n)
		p.haveID = true
	case "data":
		if p.haveData {
			p.data.WriteByte('\n')
		}
		p.data.Write(value)
		p.haveData = true
	case "retry":
		n, err := strconv.Atoi(string(value))
		if err != nil {
			return
		}
		d := clampRetry(time.Duration(n) * time.Millisecond)
		p.retry = d
		p.haveRetry = true
	}
}

func clampRetry(d time.Duration) time.Duration {
	if d < retryMin {
		return retryMin
	}
	if d > retryMax {
		return retryMax
	}
	return d
}

// dispatch finalizes the in-progress record at a blank line. It returns
// ok=false for a fully empty record (no fields were seen at all). id is
// scoped to this one record: a record with no id: field of its own gets
// id 0, never a value carried forward from an earlier record.
func (p *Parser) dispatch() (Record, bool) {
	if p.eventName == "" && !p.haveData && !p.haveID && !p.haveRetry {
		return Record{}, false
	}
	name := p.eventName
	if name == "" {
		name = "message"
	}
	rec := Record{
		Name:     name,
		ID:       p.id,
		Data:     p.data.String(),
		Retry:    p.retry,
		HasRetry: p.haveRetry,
	}
	p.resetRecord()
	return rec, true
}

func (p *Parser) resetRecord() {
	p.eventName = ""
	p.data.Reset()
	p.haveData = false
	p.id = 0
	p.haveID = false
	p.retry = 0
	p.haveRetry = false
}

func stripBOM(b []byte) []byte {
	if bytes.HasPrefix(b, bom) {
		return b[len(bom):]
	}
	return b
}

// normalizeLineEndings rewrites \r, \r\n and \n\r sequences to a single
// \n, so the line-splitting loop above only ever has to handle \n.
func normalizeLineEndings(b []byte) []byte {
	if !bytes.ContainsAny(b, "\r") {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		switch b[i] {
		case '\r':
			out = append(out, '\n')
			if i+1 < len(b) && b[i+1] == '\n' {
				i++
			}
		case '\n':
			out = append(out, '\n')
			if i+1 < len(b) && b[i+1] == '\r' {
				i++
			}
		default:
			out = append(out, b[i])
		}
	}
	return out
}
