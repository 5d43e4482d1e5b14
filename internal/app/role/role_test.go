package role

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in    string
		want  Role
		valid bool
	}{
		{"admin", Admin, true},
		{" Support ", Support, true},
		{"MODERATOR", Moderator, true},
		{"client", Client, true},
		{"owner", Role("OWNER"), false},
		{"", Role(""), false},
	}
	for _, tc := range cases {
		got, ok := Parse(tc.in)
		if got != tc.want || ok != tc.valid {
			t.Fatalf("Parse(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.valid)
		}
	}
}

func TestIsStaff(t *testing.T) {
	if Client.IsStaff() {
		t.Fatalf("client must not be staff")
	}
	for _, r := range Staff {
		if !r.IsStaff() {
			t.Fatalf("%s must be staff", r)
		}
	}
}
