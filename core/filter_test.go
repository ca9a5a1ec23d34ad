package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	author := PubKeyFixture()
	e := CustomEventFixture(author, 1)
	e.CreatedAt = 1000
	e.Tags = []Tag{{"t", "news"}, {"p", "abc"}}

	tests := []struct {
		desc     string
		filter   Filter
		expected bool
	}{
		{"empty filter is wildcard", Filter{}, true},
		{"id match", Filter{IDs: []EventID{e.ID}}, true},
		{"id mismatch", Filter{IDs: []EventID{EventIDFixture()}}, false},
		{"author match", Filter{Authors: []PubKey{author}}, true},
		{"author mismatch", Filter{Authors: []PubKey{PubKeyFixture()}}, false},
		{"kind match", Filter{Kinds: []int{7, 1}}, true},
		{"kind mismatch", Filter{Kinds: []int{7}}, false},
		{"since inclusive", Filter{Since: 1000}, true},
		{"since excludes older", Filter{Since: 1001}, false},
		{"until inclusive", Filter{Until: 1000}, true},
		{"until excludes newer", Filter{Until: 999}, false},
		{"tag match", Filter{Tags: map[byte][]string{'t': {"news"}}}, true},
		{"tag value mismatch", Filter{Tags: map[byte][]string{'t': {"sports"}}}, false},
		{"tag name mismatch", Filter{Tags: map[byte][]string{'x': {"news"}}}, false},
		{"empty tag list is wildcard", Filter{Tags: map[byte][]string{'t': {}}}, true},
		{"conjunction", Filter{Authors: []PubKey{author}, Kinds: []int{2}}, false},
		{"all keys hold", Filter{
			Authors: []PubKey{author},
			Kinds:   []int{1},
			Since:   500,
			Until:   1500,
			Tags:    map[byte][]string{'t': {"news", "sports"}},
		}, true},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			require.Equal(t, test.expected, test.filter.Matches(e))
		})
	}
}

func TestFilterWildcard(t *testing.T) {
	require := require.New(t)

	require.True((&Filter{}).Wildcard())
	require.True((&Filter{Since: 100, IDs: []EventID{EventIDFixture()}}).Wildcard())
	require.False((&Filter{Kinds: []int{1}}).Wildcard())
	require.False((&Filter{Authors: []PubKey{PubKeyFixture()}}).Wildcard())
	require.False((&Filter{Tags: map[byte][]string{'t': {"news"}}}).Wildcard())
}

func TestParseFilter(t *testing.T) {
	require := require.New(t)

	author := PubKeyFixture()
	raw := fmt.Sprintf(
		`{"authors":["%s"],"kinds":[1,7],"since":100,"until":200,"limit":5,"#t":["news"],"#p":["abc"]}`,
		author)

	f, err := ParseFilter([]byte(raw))
	require.NoError(err)
	require.Equal([]PubKey{author}, f.Authors)
	require.Equal([]int{1, 7}, f.Kinds)
	require.Equal(int64(100), f.Since)
	require.Equal(int64(200), f.Until)
	require.Equal(5, f.Limit)
	require.Equal([]string{"news"}, f.Tags['t'])
	require.Equal([]string{"abc"}, f.Tags['p'])
}

func TestParseFilterErrors(t *testing.T) {
	tests := []struct {
		desc  string
		input string
	}{
		{"not json", "{"},
		{"bad author", `{"authors":["xyz"]}`},
		{"bad id", `{"ids":["xyz"]}`},
		{"bad tag constraint", `{"#t":"news"}`},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			_, err := ParseFilter([]byte(test.input))
			require.Error(t, err)
		})
	}
}

func TestParseFilterIgnoresUnknownKeys(t *testing.T) {
	require := require.New(t)

	f, err := ParseFilter([]byte(`{"kinds":[1],"#longtag":["x"],"custom":true}`))
	require.NoError(err)
	require.Equal([]int{1}, f.Kinds)
	require.Empty(f.Tags)
}
