package repository

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeState_AppliesDefaults(t *testing.T) {
	data := []byte(`{
		"active_prints": {
			"1": {"message_id": 42, "chat_id": "-1001234/7", "printer_index": 1}
		},
		"user_preferences": {
			"555": {"default_dm_preference": "dm"}
		},
		"status_message_id": 9
	}`)

	state, err := DecodeState(data)
	require.NoError(t, err)

	sess := state.ActivePrints[1]
	require.NotNil(t, sess)
	assert.Equal(t, int64(42), sess.MessageID)
	assert.Equal(t, "-1001234/7", sess.ChatID)
	assert.Equal(t, DMPreferenceChat, sess.DMPreference)
	assert.True(t, sess.Layer2Notify)
	assert.False(t, sess.Claimed())

	prefs := state.UserPreferences[555]
	require.NotNil(t, prefs)
	assert.Equal(t, DMPreferenceDM, prefs.DefaultDMPreference)
	assert.True(t, prefs.Layer2Notify)

	require.NotNil(t, state.StatusMessageID)
	assert.Equal(t, int64(9), *state.StatusMessageID)
}

func TestDecodeState_EmptyObject(t *testing.T) {
	state, err := DecodeState([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, state.ActivePrints)
	assert.Empty(t, state.UserPreferences)
	assert.Nil(t, state.StatusMessageID)
}

func TestDecodeState_Corrupt(t *testing.T) {
	cases := map[string]string{
		"not json":           `{"active_prints":`,
		"bad dm preference":  `{"active_prints":{"0":{"message_id":1,"chat_id":"5","printer_index":0,"dm_preference":"email"}}}`,
		"bad printer key":    `{"active_prints":{"first":{"message_id":1,"chat_id":"5","printer_index":0}}}`,
		"missing message id": `{"active_prints":{"0":{"chat_id":"5","printer_index":0}}}`,
		"bad chat id":        `{"active_prints":{"0":{"message_id":1,"chat_id":"general","printer_index":0}}}`,
		"bad notify type":    `{"active_prints":{"0":{"message_id":1,"chat_id":"5","printer_index":0,"notify_type":"time"}}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeState([]byte(data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptState))
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	state := NewState()
	sess := NewPrintSession(0, 100, "-100/3")
	uid := int64(77)
	name := "alice"
	layer := 150
	original := 75
	nt := NotifyTypePercent
	pt := "1h30m"
	sess.ClaimedBy = &uid
	sess.ClaimedUsername = &name
	sess.DMPreference = DMPreferenceDM
	sess.Layer2Notified = true
	sess.NotifyLayer = &layer
	sess.NotifyType = &nt
	sess.NotifyOriginalValue = &original
	sess.PrintTime = &pt
	state.ActivePrints[0] = sess
	state.UserPreferences[uid] = &UserPreferences{DefaultDMPreference: DMPreferenceDM, Layer2Notify: false}
	msgID := int64(12)
	state.StatusMessageID = &msgID

	b, err := EncodeState(state)
	require.NoError(t, err)

	decoded, err := DecodeState(b)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
}

func TestEncodeState_NilMaps(t *testing.T) {
	b, err := EncodeState(&State{})
	require.NoError(t, err)

	_, err = DecodeState(b)
	require.NoError(t, err)
}

func TestStateClone_IsDeep(t *testing.T) {
	state := NewState()
	uid := int64(1)
	sess := NewPrintSession(2, 5, "9")
	sess.ClaimedBy = &uid
	state.ActivePrints[2] = sess

	clone := state.Clone()
	*clone.ActivePrints[2].ClaimedBy = 99
	clone.ActivePrints[2].Layer2Notified = true

	assert.Equal(t, int64(1), *state.ActivePrints[2].ClaimedBy)
	assert.False(t, state.ActivePrints[2].Layer2Notified)
}
