package plugin

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5vol/internal/utils"
)

func TestParsePathList(t *testing.T) {
	sep := string(os.PathListSeparator)
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single", "/a", []string{"/a"}},
		{"multiple", "/a" + sep + "/b", []string{"/a", "/b"}},
		{"drops empty entries", sep + "/a" + sep + sep + " /b " + sep, []string{"/a", "/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePathList(tt.in))
		})
	}
}

func TestPathTable_Edits(t *testing.T) {
	p := NewPathTable()
	assert.Equal(t, []string{DefaultPath}, p.Dirs())

	require.NoError(t, p.Append("/b"))
	require.NoError(t, p.Prepend("/a"))
	require.NoError(t, p.Insert("/mid", 2))
	assert.Equal(t, []string{"/a", DefaultPath, "/mid", "/b"}, p.Dirs())

	require.NoError(t, p.Replace("/z", 1))
	got, err := p.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "/z", got)

	removed, err := p.Remove(0)
	require.NoError(t, err)
	assert.Equal(t, "/a", removed)
	assert.Equal(t, 3, p.Len())

	// Dirs returns a copy.
	dirs := p.Dirs()
	dirs[0] = "/mutated"
	got, _ = p.Get(0)
	assert.Equal(t, "/z", got)
}

func TestPathTable_Errors(t *testing.T) {
	p := NewPathTable("/a")

	_, err := p.Get(1)
	require.ErrorIs(t, err, utils.ErrInvalidArgument)
	_, err = p.Remove(-1)
	require.ErrorIs(t, err, utils.ErrInvalidArgument)
	require.ErrorIs(t, p.Insert("/x", 5), utils.ErrInvalidArgument)
	require.ErrorIs(t, p.Append(""), utils.ErrInvalidArgument)
	require.ErrorIs(t, p.Append("/x"+string(os.PathListSeparator)+"/y"), utils.ErrInvalidArgument)
	require.ErrorIs(t, p.Replace("/x", 3), utils.ErrInvalidArgument)
}
