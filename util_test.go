package rowstore

import "testing"

func TestRpad(t *testing.T) {
	if got := rpad("abc", 5, '.'); got != "abc.." {
		t.Fatalf("rpad = %q, wanted %q", got, "abc..")
	}
	if got := rpad("abc", 1, '.'); got != "abc" {
		t.Fatalf("rpad = %q, wanted %q", got, "abc")
	}
}

func TestSucc(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a", "b", true},
		{"ab", "ac", true},
		{"a\xff", "b", true},
		{"a\xff\xff", "b", true},
		{"\xff", "", false},
		{"", "", false},
		{"z", "{", true},
	}
	for _, tt := range tests {
		got, ok := succ(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("succ(%q) = (%q, %v), wanted (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMustAndEnsure(t *testing.T) {
	if got := must(42, nil); got != 42 {
		t.Fatalf("must = %d, wanted 42", got)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("ensure(err) did not panic")
		}
	}()
	ensure(ErrNotFound)
}
