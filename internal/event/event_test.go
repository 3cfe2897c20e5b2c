package event

import "testing"

func TestTypeString(t *testing.T) {
	cases := map[Type]string{
		Open:     "Open",
		Message:  "Message",
		Binary:   "Binary",
		Error:    "Error",
		Close:    "Close",
		Type(99): "Type(99)",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", int(typ), got, want)
		}
	}
}

func TestBroadcast(t *testing.T) {
	broadcast := Event{SenderFP: 0}
	if !broadcast.Broadcast() {
		t.Error("expected zero SenderFP to report Broadcast() == true")
	}

	directed := Event{SenderFP: 42}
	if directed.Broadcast() {
		t.Error("expected nonzero SenderFP to report Broadcast() == false")
	}
}

func TestFingerprintIsDeterministicAndDistinguishesInputs(t *testing.T) {
	a := Fingerprint("1.2.3.4:5555", "chrome")
	b := Fingerprint("1.2.3.4:5555", "chrome")
	if a != b {
		t.Fatalf("expected deterministic fingerprint, got %d and %d", a, b)
	}

	c := Fingerprint("1.2.3.4:5555", "firefox")
	if a == c {
		t.Fatal("expected different desktop identity to change the fingerprint")
	}

	d := Fingerprint("9.9.9.9:1111", "chrome")
	if a == d {
		t.Fatal("expected different address to change the fingerprint")
	}
}
