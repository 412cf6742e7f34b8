package version

import (
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		input string
		want  Version
	}{
		{"1.0", Version{1, 0, 0}},
		{"1.1.4", Version{1, 1, 4}},
		{"v2.0.1", Version{2, 0, 1}},
		{"10.23", Version{10, 23, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if v != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, v, tt.want)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"1",
		"abc",
		"1.0.0.0",
		"1.x",
		"-1.0",
		"1..0",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			if err == nil {
				t.Errorf("Parse(%q) should return error", input)
			}
		})
	}
}

func TestCurrentParses(t *testing.T) {
	v := MustParse(Current)
	if v.String() != Current {
		t.Errorf("String() = %q, want %q", v.String(), Current)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.2.0", "1.1.9", 1},
		{"2.0", "10.0", -1},
	}
	for _, tt := range tests {
		if got := MustParse(tt.a).Compare(MustParse(tt.b)); got != tt.want {
			t.Errorf("%s.Compare(%s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompatible(t *testing.T) {
	v1 := MustParse("1.0")
	if !v1.Compatible(MustParse("1.7.2")) {
		t.Error("1.0 should be compatible with 1.7.2")
	}
	if v1.Compatible(MustParse("2.0")) {
		t.Error("1.0 should not be compatible with 2.0")
	}
}

func TestCheckRemote(t *testing.T) {
	if _, err := CheckRemote(" " + Current + "\n"); err != nil {
		t.Errorf("CheckRemote(Current) error: %v", err)
	}
	if _, err := CheckRemote("99.0.0"); err == nil {
		t.Error("CheckRemote(99.0.0) should fail")
	}
	if _, err := CheckRemote("Unknown command."); err == nil {
		t.Error("CheckRemote of a non-version should fail")
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustParse should panic on invalid input")
		}
	}()
	MustParse("bad")
}
