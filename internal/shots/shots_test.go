package shots

import "testing"

func TestCanonical(t *testing.T) {
	testCases := []struct {
		input string
		want  Type
		ok    bool
	}{
		{input: "catch_shoot", want: TypeCatchShoot, ok: true},
		{input: "Catch & Shoot", want: TypeCatchShoot, ok: true},
		{input: " off the dribble ", want: TypeOffDribble, ok: true},
		{input: "LAYUP", want: TypeLayup, ok: true},
		{input: "", want: "", ok: true},
		{input: "hook", want: "hook", ok: false},
	}
	for _, testCase := range testCases {
		got, ok := Canonical(testCase.input)
		if got != testCase.want || ok != testCase.ok {
			t.Fatalf("Canonical(%q) = %q, %v; want %q, %v", testCase.input, got, ok, testCase.want, testCase.ok)
		}
	}
}
