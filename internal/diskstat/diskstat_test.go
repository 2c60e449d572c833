package diskstat

import (
	"runtime"
	"testing"
)

func TestGiB(t *testing.T) {
	cases := []struct {
		bytes uint64
		want  float64
	}{
		{0, 0},
		{1 << 30, 1.0},
		{3 << 29, 1.5},
		{10 << 30, 10.0},
	}
	for _, tc := range cases {
		if got := GiB(tc.bytes); got != tc.want {
			t.Errorf("GiB(%d) = %v, want %v", tc.bytes, got, tc.want)
		}
	}
}

func TestStat(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("statfs unsupported on windows")
	}
	u, err := Stat(t.TempDir())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if u.TotalBytes == 0 {
		t.Error("total bytes is zero")
	}
	if u.UsedBytes > u.TotalBytes {
		t.Errorf("used %d exceeds total %d", u.UsedBytes, u.TotalBytes)
	}
}
