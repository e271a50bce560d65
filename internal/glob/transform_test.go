package glob

import (
	"errors"
	"testing"
)

func TestTransform(t *testing.T) {
	cases := []struct {
		in, out   string
		path      string
		want      string
		unmatched bool
	}{
		{in: "src/**/*.c", out: "lib/**/*.o", path: "src/foo/bar.c", want: "lib/foo/bar.o"},
		{in: "src/**/*.c", out: "lib/**/*.o", path: "src/bar.c", want: "lib/bar.o"},
		{in: "src/**/*.c", out: "lib/**/*.o", path: "src/a/b/c.c", want: "lib/a/b/c.o"},
		{in: "src/**/*.c", out: "lib/**/*.o", path: "src/bar.cc", unmatched: true},
		{in: "**/foo/*.txt", out: "bar/*.txt", path: "a/foo/x.txt", want: "bar/x.txt"},
		{in: "**/foo/*.txt", out: "**/bar/*.txt", path: "baz/foo/y.txt", want: "baz/bar/y.txt"},
		{in: "foo/**/*.txt", out: "bar/**/*.txt", path: "foo/a.txt", want: "bar/a.txt"},
		{in: "lib/**", out: "**", path: "lib/foo/bar.txt", want: "foo/bar.txt"},
		{in: "lib/**", out: "/foo/**", path: "lib/foo/bar.txt", want: "/foo/foo/bar.txt"},
		{in: "*/*.foo", out: "*.bar", path: "x/y.foo", want: "y.bar"},
		{in: "a.txt", out: "b.txt", path: "a.txt", want: "b.txt"},
	}
	for _, tc := range cases {
		xform, err := Transform(MustParse(tc.in), MustParse(tc.out))
		if err != nil {
			t.Fatalf("Transform(%s, %s): %v", tc.in, tc.out, err)
		}
		got, ok := xform(tc.path)
		if tc.unmatched {
			if ok {
				t.Errorf("%s -> %s mapped %s to %s, want no mapping", tc.in, tc.out, tc.path, got)
			}
			continue
		}
		if !ok || got != tc.want {
			t.Errorf("%s -> %s mapped %s to %q (%v), want %q", tc.in, tc.out, tc.path, got, ok, tc.want)
		}
	}
}

func TestTransformImpossible(t *testing.T) {
	for _, tc := range [][2]string{
		{"*.foo", "*/*.bar"},
		{"**/*.foo", "*/*.bar"},
		{"foo.c", "*.o"},
	} {
		_, err := Transform(MustParse(tc[0]), MustParse(tc[1]))
		if !errors.Is(err, ErrNoTransform) {
			t.Errorf("Transform(%s, %s) = %v, want ErrNoTransform", tc[0], tc[1], err)
		}
	}
}
