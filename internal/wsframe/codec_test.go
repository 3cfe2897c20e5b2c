package wsframe

import "testing"

func TestFragmentBounds(t *testing.T) {
	min, max := 4*1024-14, 1024*1024-14
	if got := FragmentBounds(10, min, max); got != min {
		t.Errorf("got %d, want %d", got, min)
	}
	if got := FragmentBounds(max*2, min, max); got != max {
		t.Errorf("got %d, want %d", got, max)
	}
	if got := FragmentBounds(min+1, min, max); got != min+1 {
		t.Errorf("got %d, want %d", got, min+1)
	}
}

func TestTruncateCloseReason(t *testing.T) {
	short := "normal close"
	if got := TruncateCloseReason(short); got != short {
		t.Errorf("short reason altered: %q", got)
	}

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	got := TruncateCloseReason(string(long))
	if len(got) != MaxCloseReason {
		t.Errorf("len(got) = %d, want %d", len(got), MaxCloseReason)
	}
}
