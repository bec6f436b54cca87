package models

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSubjectID(t *testing.T) {
	require.Equal(t, "u1", CanonicalSubjectID("u1"))
	require.Equal(t, "u1", CanonicalSubjectID("u1::u1"))
	require.Equal(t, "u1", CanonicalSubjectID("u1::preferred_username"))
	require.Equal(t, "u1", CanonicalSubjectID(" u1 ::claim"))
	require.Equal(t, "", CanonicalSubjectID(""))
}

func TestRoomIsMember(t *testing.T) {
	room := Room{Owner: "u1::u1", Members: pq.StringArray{"u2", "u3"}}

	require.True(t, room.IsMember("u1"), "ownership implies membership")
	require.True(t, room.IsMember("u2"))
	require.False(t, room.IsMember("u4"))
	require.False(t, room.IsMember(""), "anonymous callers are never members")
}

func TestRoomMemberIDs(t *testing.T) {
	room := Room{Owner: "u1::claim", Members: pq.StringArray{"u2", "u2", "", "u1"}}

	require.Equal(t, []string{"u2", "u1"}, room.MemberIDs())
}

func TestRoomMemberIDsOwnerOnly(t *testing.T) {
	room := Room{Owner: "u1"}

	require.Equal(t, []string{"u1"}, room.MemberIDs())
}
