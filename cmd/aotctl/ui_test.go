package main

import "testing"

func TestComma(t *testing.T) {
	tests := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		90000:    "90,000",
		-1234567: "-1,234,567",
		3000000:  "3,000,000",
	}
	for in, want := range tests {
		if got := comma(in); got != want {
			t.Fatalf("comma(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestParseAmountOrAll(t *testing.T) {
	if _, all, err := parseAmountOrAll("ALL"); err != nil || !all {
		t.Fatalf("all: %v %v", all, err)
	}
	if v, all, err := parseAmountOrAll("250"); err != nil || all || v != 250 {
		t.Fatalf("250: %d %v %v", v, all, err)
	}
	for _, bad := range []string{"0", "-5", "lots"} {
		if _, _, err := parseAmountOrAll(bad); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}

func TestRewardFlags(t *testing.T) {
	var empty rewardFlags
	if _, err := empty.rewards(); err == nil {
		t.Fatalf("empty reward flags should fail")
	}
	f := rewardFlags{coins: 100, powers: []string{"armored-titan", " "}}
	got, err := f.rewards()
	if err != nil {
		t.Fatalf("rewards: %v", err)
	}
	if len(got) != 2 || got[0]["type"] != "coin" || got[1]["power"] != "armored-titan" {
		t.Fatalf("rewards = %v", got)
	}
}
