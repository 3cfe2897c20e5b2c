package sse

import (
	"testing"

	"marlin-events/internal/event"
)

func TestParserSpecExample(t *testing.T) {
	input := ":comment\nevent: tick\nid: 7\ndata: hello\n\ndata: part1\ndata: part2\n\n"
	p := NewParser()
	records := p.Feed([]byte(input))

	if len(records) != 3 {
		t.Fatalf("got %d records, want 3: %+v", len(records), records)
	}
	if records[0].Name != "comment" {
		t.Errorf("record 0 name = %q, want comment", records[0].Name)
	}
	if records[1].Name != "tick" || records[1].ID != 7 || records[1].Data != "hello" {
		t.Errorf("record 1 = %+v, want {tick 7 hello}", records[1])
	}
	if records[2].Name != "message" || records[2].ID != 0 || records[2].Data != "part1\npart2" {
		t.Errorf("record 2 = %+v, want {message 0 part1\\npart2}", records[2])
	}
}

func TestParserLineEndingVariants(t *testing.T) {
	variants := []string{
		"data: x\r\n\r\n",
		"data: x\n\n",
		"data: x\r\r",
		"data: x\n\r\n\r",
	}
	for _, in := range variants {
		p := NewParser()
		recs := p.Feed([]byte(in))
		if len(recs) != 1 || recs[0].Data != "x" {
			t.Errorf("input %q: got %+v", in, recs)
		}
	}
}

func TestParserPartialRecordAcrossFeeds(t *testing.T) {
	p := NewParser()
	recs := p.Feed([]byte("event: tick\nid: "))
	if len(recs) != 0 {
		t.Fatalf("expected no records yet, got %+v", recs)
	}
	recs = p.Feed([]byte("3\ndata: x\n\n"))
	if len(recs) != 1 || recs[0].Name != "tick" || recs[0].ID != 3 || recs[0].Data != "x" {
		t.Errorf("got %+v", recs)
	}
}

func TestParserBOMStripped(t *testing.T) {
	p := NewParser()
	recs := p.Feed(append(append([]byte{}, bom...), []byte("data: x\n\n")...))
	if len(recs) != 1 || recs[0].Data != "x" {
		t.Errorf("got %+v", recs)
	}
}

func TestParserRetryClamped(t *testing.T) {
	p := NewParser()
	recs := p.Feed([]byte("retry: 1\ndata: x\n\n"))
	if !recs[0].HasRetry || recs[0].Retry != retryMin {
		t.Errorf("retry = %v, want clamped to %v", recs[0].Retry, retryMin)
	}

	p2 := NewParser()
	recs2 := p2.Feed([]byte("retry: 100000\ndata: x\n\n"))
	if !recs2[0].HasRetry || recs2[0].Retry != retryMax {
		t.Errorf("retry = %v, want clamped to %v", recs2[0].Retry, retryMax)
	}
}

func TestParserIDResetOnEmptyValue(t *testing.T) {
	p := NewParser()
	recs := p.Feed([]byte("id: 9\ndata: a\n\nid:\ndata: b\n\n"))
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].ID != 9 {
		t.Errorf("record 0 id = %d, want 9", recs[0].ID)
	}
	if recs[1].ID != 0 {
		t.Errorf("record 1 id = %d, want reset to 0", recs[1].ID)
	}
}

func TestEncodeDecodeBinaryRoundTrip(t *testing.T) {
	e := event.Event{
		Type:     event.Binary,
		Number:   42,
		Payload:  []byte{0x00, 0xFF, 0x10, 0x20, 'h', 'i'},
		IsUTF8:   false,
		TypeName: "binary",
	}
	wire := Encode(e)

	p := NewParser()
	recs := p.Feed([]byte(wire))
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	got, err := DecodeBinary(recs[0].Data)
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}
	if string(got) != string(e.Payload) {
		t.Errorf("round-trip payload = %v, want %v", got, e.Payload)
	}
	if recs[0].ID != e.Number {
		t.Errorf("round-trip id = %d, want %d", recs[0].ID, e.Number)
	}
}
