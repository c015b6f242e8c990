package vault

import "testing"

func TestTrimPath(t *testing.T) {
	cases := map[string]string{
		"":                "",
		"/":               "",
		"a/b":             "a/b",
		"/a/b/":           "a/b",
		"///a/b///":       "a/b",
		"team/7/db":       "team/7/db",
		"/team/7/db/":     "team/7/db",
		"//team//7//db//": "team//7//db", // inner separators are untouched
	}
	for in, want := range cases {
		if got := TrimPath(in); got != want {
			t.Errorf("TrimPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTrimPathIdempotent(t *testing.T) {
	for _, p := range []string{"", "/", "a", "/a/", "//a/b//", "a/b/c"} {
		once := TrimPath(p)
		if twice := TrimPath(once); twice != once {
			t.Errorf("TrimPath not idempotent for %q: %q != %q", p, once, twice)
		}
		if len(once) > 0 && (once[0] == '/' || once[len(once)-1] == '/') {
			t.Errorf("TrimPath(%q) = %q still has a leading or trailing slash", p, once)
		}
	}
}

func TestJoinPath(t *testing.T) {
	cases := []struct {
		segments []string
		want     string
	}{
		{[]string{"a", "b"}, "a/b"},
		{[]string{"/a/", "/b/"}, "a/b"},
		{[]string{"", "a", ""}, "a"},
		{[]string{"netbox", "device/42", "db"}, "netbox/device/42/db"},
	}
	for _, tc := range cases {
		if got := JoinPath(tc.segments...); got != tc.want {
			t.Errorf("JoinPath(%v) = %q, want %q", tc.segments, got, tc.want)
		}
	}
}
