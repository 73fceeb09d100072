package validation

import (
	"errors"
	"reflect"
	"testing"
)

func TestUsername(t *testing.T) {
	for _, name := range []string{"alice", "Bob_99", "_", "X"} {
		if err := Username(name); err != nil {
			t.Fatalf("Username(%q) = %v, want nil", name, err)
		}
	}
	for _, name := range []string{"", "with space", "dash-ed", "émile", "semi;colon", "dot.name"} {
		if err := Username(name); !errors.Is(err, ErrInvalidUsername) {
			t.Fatalf("Username(%q) = %v, want ErrInvalidUsername", name, err)
		}
	}
}

func TestNormalizeTags(t *testing.T) {
	cases := []struct {
		in   []string
		want []string
	}{
		{nil, nil},
		{[]string{"Work"}, []string{"work"}},
		{[]string{"a,b", "c d"}, []string{"a", "b", "c", "d"}},
		{[]string{"  spaced  , MIXED\tcase "}, []string{"spaced", "mixed", "case"}},
		{[]string{",,,", "   "}, nil},
	}
	for _, c := range cases {
		got := NormalizeTags(c.in)
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("NormalizeTags(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
