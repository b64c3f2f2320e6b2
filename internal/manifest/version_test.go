package manifest

import (
	"testing"
)

func Test_ParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Version
		wantErr bool
	}{
		{
			"plain release",
			"1.2.3",
			Version{Release: []int{1, 2, 3}, Post: -1, Dev: -1},
			false,
		},
		{
			"v prefix",
			"v2.0",
			Version{Release: []int{2, 0}, Post: -1, Dev: -1},
			false,
		},
		{
			"epoch",
			"2!1.0",
			Version{Epoch: 2, Release: []int{1, 0}, Post: -1, Dev: -1},
			false,
		},
		{
			"pre-release",
			"1.0.0a1",
			Version{Release: []int{1, 0, 0}, Pre: "a", PreN: 1, Post: -1, Dev: -1},
			false,
		},
		{
			"alpha spelling",
			"1.0.0ALPHA1",
			Version{Release: []int{1, 0, 0}, Pre: "a", PreN: 1, Post: -1, Dev: -1},
			false,
		},
		{
			"preview with separators",
			"1.0-preview-2",
			Version{Release: []int{1, 0}, Pre: "rc", PreN: 2, Post: -1, Dev: -1},
			false,
		},
		{
			"pre-release without numeral",
			"1.0rc",
			Version{Release: []int{1, 0}, Pre: "rc", PreN: 0, Post: -1, Dev: -1},
			false,
		},
		{
			"post-release",
			"1.0.post2",
			Version{Release: []int{1, 0}, Post: 2, Dev: -1},
			false,
		},
		{
			"rev spelling",
			"1.0.rev2",
			Version{Release: []int{1, 0}, Post: 2, Dev: -1},
			false,
		},
		{
			"implicit post-release",
			"1.0-1",
			Version{Release: []int{1, 0}, Post: 1, Dev: -1},
			false,
		},
		{
			"dev-release",
			"0.3.dev2",
			Version{Release: []int{0, 3}, Post: -1, Dev: 2},
			false,
		},
		{
			"combined tags",
			"1.0b2.post345.dev456",
			Version{Release: []int{1, 0}, Pre: "b", PreN: 2, Post: 345, Dev: 456},
			false,
		},
		{"empty", "", Version{}, true},
		{"no release", "abc", Version{}, true},
		{"trailing dot", "1.", Version{}, true},
		{"negative epoch", "-1!1.0", Version{}, true},
		{"local label", "1.0+cuda", Version{}, true},
		{"trailing junk", "1.0zzz", Version{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Compare(tt.want) != 0 || got.Pre != tt.want.Pre {
				t.Errorf("ParseVersion(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

// the chain is the worked ordering example of the Python versioning spec
func Test_VersionCompare_ordering(t *testing.T) {
	ordered := []string{
		"1.0.dev456",
		"1.0a1",
		"1.0a2.dev456",
		"1.0a12.dev456",
		"1.0a12",
		"1.0b1.dev456",
		"1.0b2",
		"1.0b2.post345.dev456",
		"1.0b2.post345",
		"1.0rc1.dev456",
		"1.0rc1",
		"1.0",
		"1.0.post456.dev34",
		"1.0.post456",
		"1.1.dev1",
	}

	for i := 0; i < len(ordered)-1; i++ {
		lo := MustParseVersion(ordered[i])
		hi := MustParseVersion(ordered[i+1])
		if lo.Compare(hi) >= 0 {
			t.Errorf("Compare(%q, %q) = %d, want < 0", ordered[i], ordered[i+1], lo.Compare(hi))
		}
		if hi.Compare(lo) <= 0 {
			t.Errorf("Compare(%q, %q) = %d, want > 0", ordered[i+1], ordered[i], hi.Compare(lo))
		}
	}
}

func Test_VersionCompare_equivalence(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want int
	}{
		{"padding", "1.0", "1.0.0", 0},
		{"single segment padding", "1", "1.0", 0},
		{"self", "1.2.3", "1.2.3", 0},
		{"tag spellings", "1.0alpha1", "1.0a1", 0},
		{"separator spellings", "1.0-preview-2", "1.0rc2", 0},
		{"implicit post", "1.0-1", "1.0.post1", 0},
		{"epoch dominates release", "1!0.5", "2.0", 1},
		{"numeric not lexical", "1.10", "1.9", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := MustParseVersion(tt.a), MustParseVersion(tt.b)
			if got := a.Compare(b); got != tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := b.Compare(a); got != -tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
			}
		})
	}
}

func Test_VersionString(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1.2.3", "1.2.3"},
		{"V1.0", "1.0"},
		{"2!1.0", "2!1.0"},
		{"1.0.0ALPHA1", "1.0.0a1"},
		{"1.0-preview-2", "1.0rc2"},
		{"1.0-1", "1.0.post1"},
		{"1.0.rev2", "1.0.post2"},
		{"0.3_dev2", "0.3.dev2"},
	}

	for _, tt := range tests {
		if got := MustParseVersion(tt.input).String(); got != tt.want {
			t.Errorf("String(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func Test_IsPrerelease(t *testing.T) {
	for _, spelled := range []string{"1.0a1", "1.0b2", "1.0rc1", "1.0.dev3", "1.0a1.dev1"} {
		if !MustParseVersion(spelled).IsPrerelease() {
			t.Errorf("IsPrerelease(%q) = false, want true", spelled)
		}
	}
	for _, spelled := range []string{"1.0", "1.0.post1", "2!0.9"} {
		if MustParseVersion(spelled).IsPrerelease() {
			t.Errorf("IsPrerelease(%q) = true, want false", spelled)
		}
	}
}
