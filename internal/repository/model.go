package repository

import "encoding/json"

type DMPreference string

const (
	DMPreferenceChat DMPreference = "chat"
	DMPreferenceDM   DMPreference = "dm"
)

func (p DMPreference) Valid() bool {
	return p == DMPreferenceChat || p == DMPreferenceDM
}

type NotifyType string

const (
	NotifyTypeLayer   NotifyType = "layer"
	NotifyTypePercent NotifyType = "percent"
)

// PrintSession tracks one printer's currently monitored job and its claim
// and notification state. ChatID is the announcement target in "chat" or
// "chat/thread" form.
type PrintSession struct {
	PrinterIndex        int          `json:"printer_index"`
	MessageID           int64        `json:"message_id"`
	ChatID              string       `json:"chat_id"`
	ClaimedBy           *int64       `json:"claimed_by"`
	ClaimedUsername     *string      `json:"claimed_username"`
	DMPreference        DMPreference `json:"dm_preference"`
	Layer2Notify        bool         `json:"layer2_notify"`
	Layer2Notified      bool         `json:"layer2_notified"`
	NotifyLayer         *int         `json:"notify_layer"`
	NotifyType          *NotifyType  `json:"notify_type"`
	NotifyOriginalValue *int         `json:"notify_original_value"`
	NotifyLayerNotified bool         `json:"notify_layer_notified"`
	PrintTime           *string      `json:"print_time"`
}

// NewPrintSession returns an unclaimed session with default preferences.
func NewPrintSession(printerIndex int, messageID int64, chatID string) *PrintSession {
	return &PrintSession{
		PrinterIndex: printerIndex,
		MessageID:    messageID,
		ChatID:       chatID,
		DMPreference: DMPreferenceChat,
		Layer2Notify: true,
	}
}

func (s *PrintSession) UnmarshalJSON(b []byte) error {
	type plain PrintSession
	p := plain{DMPreference: DMPreferenceChat, Layer2Notify: true}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = PrintSession(p)
	return nil
}

func (s *PrintSession) Claimed() bool {
	return s.ClaimedBy != nil
}

// IsClaimedBy reports whether userID holds the claim.
func (s *PrintSession) IsClaimedBy(userID int64) bool {
	return s.ClaimedBy != nil && *s.ClaimedBy == userID
}

func (s *PrintSession) Username() string {
	if s.ClaimedUsername == nil {
		return ""
	}
	return *s.ClaimedUsername
}

func (s *PrintSession) Clone() *PrintSession {
	if s == nil {
		return nil
	}
	c := *s
	c.ClaimedBy = clonePtr(s.ClaimedBy)
	c.ClaimedUsername = clonePtr(s.ClaimedUsername)
	c.NotifyLayer = clonePtr(s.NotifyLayer)
	c.NotifyType = clonePtr(s.NotifyType)
	c.NotifyOriginalValue = clonePtr(s.NotifyOriginalValue)
	c.PrintTime = clonePtr(s.PrintTime)
	return &c
}

// UserPreferences are the defaults seeded into a session on claim.
type UserPreferences struct {
	DefaultDMPreference DMPreference `json:"default_dm_preference"`
	Layer2Notify        bool         `json:"layer2_notify"`
}

func DefaultUserPreferences() UserPreferences {
	return UserPreferences{DefaultDMPreference: DMPreferenceChat, Layer2Notify: true}
}

func (p *UserPreferences) UnmarshalJSON(b []byte) error {
	type plain UserPreferences
	v := plain(DefaultUserPreferences())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = UserPreferences(v)
	return nil
}

// State is the whole persisted document.
type State struct {
	ActivePrints    map[int]*PrintSession      `json:"active_prints"`
	UserPreferences map[int64]*UserPreferences `json:"user_preferences"`
	StatusMessageID *int64                     `json:"status_message_id"`
}

func NewState() *State {
	return &State{
		ActivePrints:    make(map[int]*PrintSession),
		UserPreferences: make(map[int64]*UserPreferences),
	}
}

func (s *State) Clone() *State {
	c := NewState()
	for idx, sess := range s.ActivePrints {
		c.ActivePrints[idx] = sess.Clone()
	}
	for uid, prefs := range s.UserPreferences {
		p := *prefs
		c.UserPreferences[uid] = &p
	}
	c.StatusMessageID = clonePtr(s.StatusMessageID)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
