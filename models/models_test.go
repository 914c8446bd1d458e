package models

import "testing"

func TestSeqIsMapped(t *testing.T) {
	if SeqUnmapped.IsMapped() {
		t.Fatalf("sentinel must not count as mapped")
	}
	if Seq("").IsMapped() {
		t.Fatalf("empty seq must not count as mapped")
	}
	if !Seq("S1").IsMapped() {
		t.Fatalf("concrete seq must count as mapped")
	}
}

func TestSeqStorage(t *testing.T) {
	if got := Seq("").Storage(); got != string(SeqUnmapped) {
		t.Fatalf("empty seq stored as %q, want sentinel", got)
	}
	if got := Seq("S1").Storage(); got != "S1" {
		t.Fatalf("concrete seq stored as %q", got)
	}
}

func TestOrderDate(t *testing.T) {
	cases := map[string]string{
		"2024-01-10 13:45:00":   "2024-01-10",
		"2024-01-10T13:45:00Z":  "2024-01-10",
		"2024-01-10":            "2024-01-10",
	}
	for in, want := range cases {
		got, err := OrderDate(in)
		if err != nil {
			t.Fatalf("OrderDate(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("OrderDate(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := OrderDate("not-a-time"); err == nil {
		t.Fatalf("expected error for unparseable order_time")
	}
}

func TestDedupKeyDefaultsAmount(t *testing.T) {
	a := OrderSubmission{OrderID: "A", OrderTime: "2024-01-10 13:45:00"}
	b := OrderSubmission{OrderID: "A", OrderTime: "2024-01-10 13:45:00", PaymentAmount: 0}
	if a.Key() != b.Key() {
		t.Fatalf("missing payment amount must equal explicit zero")
	}
	c := OrderSubmission{OrderID: "A", OrderTime: "2024-01-10 13:45:00", PaymentAmount: 10}
	if a.Key() == c.Key() {
		t.Fatalf("different payment amounts must produce different keys")
	}
}
