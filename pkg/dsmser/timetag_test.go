// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

import "testing"

// 9600 baud 8N1: 10 bits per character
const upc9600 = 1042

func TestUsecsPerChar(t *testing.T) {
	tests := []struct {
		baud, data int
		parity     bool
		stop       int
		want       int
	}{
		{9600, 8, false, 1, 1042},
		{38400, 8, false, 1, 260},
		{115200, 8, false, 1, 87},
		{9600, 7, true, 1, 1042},
		{9600, 7, true, 2, 1146},
		{1200, 8, false, 1, 8333},
	}
	for _, tt := range tests {
		got := UsecsPerChar(tt.baud, tt.data, tt.parity, tt.stop)
		if got != tt.want {
			t.Errorf("UsecsPerChar(%d, %d, %v, %d) = %d, want %d",
				tt.baud, tt.data, tt.parity, tt.stop, got, tt.want)
		}
	}
}

func TestTimeTag_ScanOfTenBytes(t *testing.T) {
	scan := RawScan{Timetag: 1000, Length: 10}

	if got := scan.ByteTimetag(0, upc9600, 1); got != 991 {
		t.Errorf("first byte = %d, want 991", got)
	}
	if got := scan.ByteTimetag(9, upc9600, 1); got != 1000 {
		t.Errorf("last byte = %d, want 1000", got)
	}
	// 9.378 ms rounds to 9, then to the nearest 10 ms
	if got := scan.ByteTimetag(0, upc9600, 10); got != 990 {
		t.Errorf("first byte at 10 ms resolution = %d, want 990", got)
	}
}

func TestTimeTag_LatencyCharacters(t *testing.T) {
	scan := RawScan{Timetag: 1000, Length: 10, Latency: 4}
	// 13 characters: 13.546 ms rounds to 14
	if got := scan.ByteTimetag(0, upc9600, 1); got != 986 {
		t.Errorf("first byte = %d, want 986", got)
	}
	if got := scan.ByteTimetag(9, upc9600, 1); got != 996 {
		t.Errorf("last byte = %d, want 996", got)
	}
}

func TestTimeTag_WrapsAtMidnight(t *testing.T) {
	got := TimeTag(3, 10, upc9600, 1)
	want := Millis(MillisPerDay - 7)
	if got != want {
		t.Errorf("TimeTag across midnight = %d, want %d", got, want)
	}
	if got := TimeTag(0, 0, upc9600, 1); got != 0 {
		t.Errorf("no adjustment at midnight = %d, want 0", got)
	}
}

func TestTimeTag_Monotonic(t *testing.T) {
	for _, res := range []Millis{1, 10} {
		scan := RawScan{Timetag: 50000, Length: ScanSize}
		prev := scan.ByteTimetag(0, upc9600, res)
		for k := 1; k < ScanSize; k++ {
			got := scan.ByteTimetag(k, upc9600, res)
			if got < prev {
				t.Fatalf("res %d: byte %d tag %d before byte %d tag %d", res, k, got, k-1, prev)
			}
			if got%res != scan.Timetag%res {
				t.Fatalf("res %d: byte %d tag %d not quantized", res, k, got)
			}
			prev = got
		}
	}
}

func TestTimeTag_ZeroResolution(t *testing.T) {
	if got, want := TimeTag(1000, 9, upc9600, 0), TimeTag(1000, 9, upc9600, 1); got != want {
		t.Errorf("resolution 0 = %d, want %d", got, want)
	}
}
