package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinkType_String(t *testing.T) {
	tests := []struct {
		lt   LinkType
		want string
	}{
		{LinkTypeHard, "Hard"},
		{LinkTypeSoft, "Soft"},
		{LinkTypeExternal, "External"},
		{LinkTypeUDMin, "UserDefined(65)"},
		{LinkType(7), "Unknown(7)"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.lt.String())
	}
	require.False(t, LinkTypeHard.IsSpecial())
	require.True(t, LinkTypeSoft.IsSpecial())
	require.True(t, LinkTypeExternal.IsSpecial())
}

func TestLink_Validate(t *testing.T) {
	tests := []struct {
		name    string
		link    Link
		wantErr bool
	}{
		{name: "hard", link: NewHardLink("a", 10)},
		{name: "hard undefined", link: NewHardLink("a", AddrUndef), wantErr: true},
		{name: "soft", link: NewSoftLink("s", "/a/b")},
		{name: "soft empty", link: NewSoftLink("s", ""), wantErr: true},
		{name: "external", link: NewExternalLink("e", "other.h5", "/x")},
		{name: "external no path", link: NewExternalLink("e", "other.h5", ""), wantErr: true},
		{name: "user-defined", link: NewUDLink("u", LinkTypeUDMin, []byte{1})},
		{name: "reserved type", link: Link{Name: "r", Type: 30}, wantErr: true},
		{name: "no name", link: NewSoftLink("", "/a"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.link.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLink_ValueSize(t *testing.T) {
	hard := NewHardLink("h", 1)
	soft := NewSoftLink("s", "/abc")
	ext := NewExternalLink("e", "f.h5", "/x")
	ud := NewUDLink("u", 70, []byte{1, 2, 3})

	require.Equal(t, 8, hard.ValueSize())
	require.Equal(t, 5, soft.ValueSize())
	require.Equal(t, 1+4+1+2+1, ext.ValueSize())
	require.Equal(t, 3, ud.ValueSize())
}

func TestLink_CBOR(t *testing.T) {
	in := NewExternalLink("ext", "data/other.h5", "/group/ds")
	in.CorderValid = true
	in.Corder = 3

	data, err := Marshal(in)
	require.NoError(t, err)

	var out Link
	require.NoError(t, Unmarshal(data, &out))
	require.Equal(t, in, out)

	again, err := Marshal(out)
	require.NoError(t, err)
	require.Equal(t, data, again, "canonical encoding must be stable")
}

func TestUnmarshal_Garbage(t *testing.T) {
	var l Link
	require.Error(t, Unmarshal([]byte{0xff, 0x00}, &l))
}
