package checksum

import "testing"

func TestSum(t *testing.T) {
	got := Sum([]byte("<p/>"))
	if len(got) != 64 {
		t.Fatalf("len = %d, want 64", len(got))
	}
	if got != Sum([]byte("<p/>")) {
		t.Error("sum not stable")
	}
	if got == Sum([]byte("<p></p>")) {
		t.Error("different content, same sum")
	}
}

func TestMatches(t *testing.T) {
	data := []byte("10 km")
	if !Matches(data, Sum(data)) {
		t.Error("expected match")
	}
	if Matches(data, "") {
		t.Error("empty checksum must not match")
	}
	if Matches([]byte("11 km"), Sum(data)) {
		t.Error("unexpected match")
	}
}
