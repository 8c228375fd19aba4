package frame

import (
	"strings"
	"testing"
)

func TestWriteCSV(t *testing.T) {
	tb := MustNew(
		NewNumber("n", []float64{1, 2}),
		NewNumber("x", []float64{1.5, nan}),
		NewBool("ok", []float64{1, 0}),
		NewText("s", []string{"a,b", ""}, []bool{false, true}),
	)
	var sb strings.Builder
	if err := WriteCSV(&sb, tb); err != nil {
		t.Fatalf("WriteCSV err=%v", err)
	}
	want := "n,x,ok,s\n1,1.5,True,\"a,b\"\n2,,False,\n"
	if got := sb.String(); got != want {
		t.Fatalf("got=%q\nwant=%q", got, want)
	}
}
