package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	cases := map[string]struct {
		in   []string
		want []string
	}{
		"nil stays nil":       {in: nil, want: nil},
		"empty stays empty":   {in: []string{}, want: []string{}},
		"blanks dropped":      {in: []string{" ", "", "kafka:9092"}, want: []string{"kafka:9092"}},
		"repeats after trim":  {in: []string{"a:9092 ", " a:9092", "b:9092"}, want: []string{"a:9092", "b:9092"}},
		"order of first seen": {in: []string{"c", "a", "c", "b"}, want: []string{"c", "a", "b"}},
		"case is significant": {in: []string{"Host", "host"}, want: []string{"Host", "host"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, DedupeAndTrim(tc.in))
		})
	}
}

func TestDedupeAndTrimLower(t *testing.T) {
	assert.Equal(t, []string{"faculty", "admin"}, DedupeAndTrimLower([]string{" Faculty", "ADMIN", "faculty "}))
}
