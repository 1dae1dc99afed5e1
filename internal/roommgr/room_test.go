package roommgr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoom_TargetLanguagesDeduped(t *testing.T) {
	r := newRoom("room-1")
	r.AddListener(&Listener{ID: "l1", TargetLang: "en"})
	r.AddListener(&Listener{ID: "l2", TargetLang: "zh"})
	r.AddListener(&Listener{ID: "l3", TargetLang: "en"})

	require.ElementsMatch(t, []string{"en", "zh"}, r.TargetLanguages())
	require.ElementsMatch(t, []string{"l1", "l3"}, r.ListenersForLang("en"))
}

func TestRoom_RemoveReportsEmpty(t *testing.T) {
	r := newRoom("room-1")
	r.AddListener(&Listener{ID: "l1", TargetLang: "en"})
	require.True(t, r.RemoveListener("l1"))

	r.AddSpeaker(&Speaker{ID: "s1", SourceLang: "en"})
	r.AddListener(&Listener{ID: "l1", TargetLang: "en"})
	require.False(t, r.RemoveListener("l1"))
	require.True(t, r.RemoveSpeaker("s1"))
}

func TestManager_GetOrCreateReusesRoom(t *testing.T) {
	m := New("", "")
	r1 := m.GetOrCreate("room-1")
	r2 := m.GetOrCreate("room-1")
	require.Same(t, r1, r2)
	require.Equal(t, 1, m.RoomCount())

	m.Remove("room-1")
	require.Equal(t, 0, m.RoomCount())
}

func TestManager_MintRawVoiceToken_RequiresConfig(t *testing.T) {
	m := New("", "")
	_, err := m.MintRawVoiceToken("room-1", "user-1", 0)
	require.Error(t, err)
}
