package lb

import (
	"testing"
)

func TestTokenSpace(t *testing.T) {
	ts := tokenSpace{capacity: 4}
	tests := []struct {
		raw  uint32
		kind tokenKind
		idx  int
	}{
		{0, tokenListener, 0},
		{1, tokenClient, 0},
		{4, tokenClient, 3},
		{5, tokenBackend, 0},
		{8, tokenBackend, 3},
		{9, tokenWaker, 0},
		{10, tokenUnknown, -1},
		{1 << 31, tokenUnknown, -1},
	}
	for _, tt := range tests {
		kind, idx := ts.classify(tt.raw)
		if kind != tt.kind || idx != tt.idx {
			t.Errorf("classify(%d) = %v %d, want %v %d", tt.raw, kind, idx, tt.kind, tt.idx)
		}
	}
	for i := 0; i < 4; i++ {
		if kind, idx := ts.classify(ts.client(ClientToken(i))); kind != tokenClient || idx != i {
			t.Errorf("client %d round trip: %v %d", i, kind, idx)
		}
		if kind, idx := ts.classify(ts.backend(BackendToken(i))); kind != tokenBackend || idx != i {
			t.Errorf("backend %d round trip: %v %d", i, kind, idx)
		}
	}
}

func TestTokenSpaceOutOfRange(t *testing.T) {
	ts := tokenSpace{capacity: 2}
	for _, fn := range []func(){
		func() { ts.client(2) },
		func() { ts.client(-1) },
		func() { ts.backend(2) },
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Error("out of range token did not panic")
				}
			}()
			fn()
		}()
	}
}
