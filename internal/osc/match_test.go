package osc

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, address string
		want             bool
	}{
		{"/file/read", "/file/read", true},
		{"/file/read", "/file/remove", false},
		{"/e/*/*", "/e/1/2", true},
		{"/e/*/*", "/e/1", false},
		{"/e/*/*", "/e/1/2/3", false},
		{"/e/*", "/x/1", false},
		{"/e/*", "/e/", false},
		{"/e/*/*", "/e//x", false},
		{"/e/*/x", "/e//x", false},
		{"/log/[iw]*", "/log/info", true},
		{"/log/[iw]*", "/log/error", false},
		{"/dev/?", "/dev/a", true},
		{"/bad/[", "/bad/[", true},
		{"/bad/[", "/bad/x", false},
	}
	for _, tc := range cases {
		if got := Match(tc.pattern, tc.address); got != tc.want {
			t.Fatalf("Match(%q, %q) = %v, want %v", tc.pattern, tc.address, got, tc.want)
		}
	}
}
