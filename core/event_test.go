package core

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEventIDErrors(t *testing.T) {
	tests := []struct {
		desc  string
		input string
	}{
		{"empty", ""},
		{"invalid hex", strings.Repeat("zz", 32)},
		{"too short", strings.Repeat("ab", 16)},
		{"too long", strings.Repeat("ab", 33)},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			_, err := NewEventID(test.input)
			require.Error(t, err)
		})
	}
}

func TestEventIDRoundTrip(t *testing.T) {
	require := require.New(t)

	id := EventIDFixture()
	parsed, err := NewEventID(id.String())
	require.NoError(err)
	require.Equal(id, parsed)
}

func TestEventJSONRoundTrip(t *testing.T) {
	require := require.New(t)

	e := TaggedEventFixture(Tag{"p", PubKeyFixture().String()}, Tag{"t", "news"})
	b, err := json.Marshal(e)
	require.NoError(err)

	var result Event
	require.NoError(json.Unmarshal(b, &result))
	require.Equal(*e, result)
}

func TestTagName(t *testing.T) {
	require := require.New(t)

	require.Equal(byte('e'), Tag{"e", "abc"}.Name())
	require.Equal(byte(0), Tag{}.Name())
	require.Equal(byte(0), Tag{"expiration"}.Name())
}

func TestEventTagValues(t *testing.T) {
	require := require.New(t)

	e := TaggedEventFixture(
		Tag{"t", "news"},
		Tag{"t", "sports"},
		Tag{"p", "abc"},
		Tag{"t"})

	require.Equal([]string{"news", "sports"}, e.TagValues('t'))
	require.Equal([]string{"abc"}, e.TagValues('p'))
	require.Empty(e.TagValues('x'))
}

func TestComputeEventIDDeterministic(t *testing.T) {
	require := require.New(t)

	pk := PubKeyFixture()
	a, err := ComputeEventID(pk, 100, 1, []Tag{{"t", "news"}}, "hello")
	require.NoError(err)
	b, err := ComputeEventID(pk, 100, 1, []Tag{{"t", "news"}}, "hello")
	require.NoError(err)
	require.Equal(a, b)

	c, err := ComputeEventID(pk, 100, 1, nil, "other")
	require.NoError(err)
	require.NotEqual(a, c)
}
