package longpoll

import "testing"

func TestDecodeRequestRoundTrip(t *testing.T) {
	body := []byte(`<GetMessage xmlns="http://www.marlin.org/polling"><Acknowledged>5</Acknowledged><CloseChannel>true</CloseChannel></GetMessage>`)
	msg, err := DecodeRequest(body)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if msg.Acknowledged != 5 || !msg.CloseChannel {
		t.Errorf("got %+v", msg)
	}
}

func TestDecodeRequestRejectsUTF16(t *testing.T) {
	body := append([]byte{0xFF, 0xFE}, []byte("garbage")...)
	if _, err := DecodeRequest(body); err == nil {
		t.Error("expected error for UTF-16 body")
	}
}

func TestEncodeResponseShapes(t *testing.T) {
	empty, err := EncodeResponse(GetMessageResponse{Empty: true})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if !contains(string(empty), "<Empty>true</Empty>") {
		t.Errorf("empty response missing Empty element: %s", empty)
	}

	withData, err := EncodeResponse(GetMessageResponse{Number: 3, Type: "message", Message: "hi"})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if !contains(string(withData), "<Number>3</Number>") {
		t.Errorf("missing Number element: %s", withData)
	}

	closed, err := EncodeResponse(GetMessageResponse{ChannelClosed: true})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if !contains(string(closed), "<ChannelClosed>true</ChannelClosed>") {
		t.Errorf("missing ChannelClosed element: %s", closed)
	}
}

func TestBinaryMessageRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x10, 0xFF, 'h', 'i'}
	encoded := EncodeBinaryMessage(payload)
	decoded, err := DecodeBinaryMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeBinaryMessage: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Errorf("got %v, want %v", decoded, payload)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
