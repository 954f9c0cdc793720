package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapKeepsInnermostField(t *testing.T) {
	inner := Wrap("object_id.key", ErrTruncated)
	outer := Wrap("object_id", inner)

	var de *DecodeError
	if !errors.As(outer, &de) {
		t.Fatalf("expected DecodeError, got %T", outer)
	}
	if de.Field != "object_id.key" {
		t.Fatalf("unexpected field: %q", de.Field)
	}
	if !errors.Is(outer, ErrTruncated) {
		t.Fatalf("expected ErrTruncated in chain")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap("x", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{Wrap("a", ErrTruncated), KindTruncated},
		{fmt.Errorf("hdr: %w", ErrUnsupportedVersion), KindUnsupported},
		{Corruptf("count %d", 9), KindCorrupt},
		{errors.New("boom"), KindOther},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v)=%q want %q", tc.err, got, tc.want)
		}
	}
}
