package memory

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Known personal detail fields. Anything else given to SetDetail is stored as a
// preference.
const (
	FieldName       = "name"
	FieldAge        = "age"
	FieldLocation   = "location"
	FieldOccupation = "occupation"
	FieldInterest   = "interest"
)

var scalarFields = []string{FieldName, FieldAge, FieldLocation, FieldOccupation}

// Milestone kinds. Each is recorded once and never overwritten.
const (
	FirstCompliment     = "first_compliment"
	FirstFlirt          = "first_flirt"
	FirstIntimateMoment = "first_intimate_moment"
	FirstPurchase       = "first_purchase"
)

// MilestoneKinds lists the first-occurrence milestones in display order.
var MilestoneKinds = []string{FirstCompliment, FirstFlirt, FirstIntimateMoment, FirstPurchase}

// Default bounds for the capped lists.
const (
	DefaultHistoryLimit     = 200
	DefaultTopicLimit       = 20
	DefaultInsightsLimit    = 50
	MinRecallImportance     = 3
	defaultMomentImportance = 1
)

type PersonalDetails struct {
	Fields      map[string]string `json:"fields"`
	Interests   []string          `json:"interests"`
	Preferences map[string]string `json:"preferences"`
}

type EmotionalMoment struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Emotion     string `json:"emotion"`
	Context     string `json:"context"`
	TimestampMs int64  `json:"timestamp_ms"`
	Importance  int    `json:"importance"`
}

type EmotionalHistory struct {
	Moments       []EmotionalMoment `json:"moments"`
	TriggerWords  []string          `json:"trigger_words"`
	ComfortTopics []string          `json:"comfort_topics"`
	AvoidTopics   []string          `json:"avoid_topics"`
}

// Milestones maps a kind to the unix-ms time it first happened. A missing key
// means it has not happened yet.
type Milestones struct {
	Reached                    map[string]int64 `json:"reached"`
	LongestConversationSeconds int64            `json:"longest_conversation_seconds"`
}

type BehavioralInsights struct {
	OnlineTimes           []int              `json:"online_times"`
	SessionLengths        []int64            `json:"session_lengths"`
	FavoriteTopics        []string           `json:"favorite_topics"`
	SpendingPatterns      map[string]float64 `json:"spending_patterns"`
	EscalationPreferences map[string]int     `json:"escalation_preferences"`
}

type Message struct {
	ID                    string  `json:"id"`
	Text                  string  `json:"text"`
	IsUser                bool    `json:"is_user"`
	TimestampMs           int64   `json:"timestamp_ms"`
	EscalationLevelAtTime int     `json:"escalation_level_at_time"`
	BondScoreAtTime       float64 `json:"bond_score_at_time"`
}

// Profile is everything remembered about one user for one persona.
type Profile struct {
	UserID              string             `json:"user_id"`
	PersonaID           string             `json:"persona_id"`
	PersonalDetails     PersonalDetails    `json:"personal_details"`
	EmotionalHistory    EmotionalHistory   `json:"emotional_history"`
	Milestones          Milestones         `json:"milestones"`
	BehavioralInsights  BehavioralInsights `json:"behavioral_insights"`
	ConversationHistory []Message          `json:"conversation_history"`
	// MessageCount only grows; it is not tied to the trimmed history.
	MessageCount int   `json:"message_count"`
	CreatedAtMs  int64 `json:"created_at_ms"`
}

// NewProfile returns an empty profile with all maps allocated.
func NewProfile(userID, personaID string, now time.Time) *Profile {
	p := &Profile{
		UserID:      userID,
		PersonaID:   personaID,
		CreatedAtMs: now.UnixMilli(),
	}
	p.ensureMaps()
	return p
}

// ensureMaps allocates maps dropped by a JSON round-trip of an empty profile.
func (p *Profile) ensureMaps() {
	if p.PersonalDetails.Fields == nil {
		p.PersonalDetails.Fields = make(map[string]string)
	}
	if p.PersonalDetails.Preferences == nil {
		p.PersonalDetails.Preferences = make(map[string]string)
	}
	if p.Milestones.Reached == nil {
		p.Milestones.Reached = make(map[string]int64)
	}
	if p.BehavioralInsights.SpendingPatterns == nil {
		p.BehavioralInsights.SpendingPatterns = make(map[string]float64)
	}
	if p.BehavioralInsights.EscalationPreferences == nil {
		p.BehavioralInsights.EscalationPreferences = make(map[string]int)
	}
}

// NewMessage builds a history entry stamped with a fresh id.
func NewMessage(text string, isUser bool, now time.Time, level int, score float64) Message {
	return Message{
		ID:                    uuid.New().String(),
		Text:                  text,
		IsUser:                isUser,
		TimestampMs:           now.UnixMilli(),
		EscalationLevelAtTime: level,
		BondScoreAtTime:       score,
	}
}

// AppendMessage adds msg to the history, evicting the oldest entries past
// limit. User messages bump MessageCount.
func (p *Profile) AppendMessage(msg Message, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	p.ConversationHistory = append(p.ConversationHistory, msg)
	if over := len(p.ConversationHistory) - limit; over > 0 {
		p.ConversationHistory = append([]Message(nil), p.ConversationHistory[over:]...)
	}
	if msg.IsUser {
		p.MessageCount++
	}
}

// SetDetail merges a personal detail. Empty values are ignored and reported as
// false.
func (p *Profile) SetDetail(field, value string) bool {
	field = strings.ToLower(strings.TrimSpace(field))
	value = strings.TrimSpace(value)
	if field == "" || value == "" {
		return false
	}
	p.ensureMaps()

	switch field {
	case FieldName, FieldAge, FieldLocation, FieldOccupation:
		p.PersonalDetails.Fields[field] = value
	case FieldInterest, "interests":
		p.PersonalDetails.Interests = addToSet(p.PersonalDetails.Interests, value)
	default:
		p.PersonalDetails.Preferences[field] = value
	}
	return true
}

// KnownDetails counts the populated detail fields: the four scalar fields plus
// one each for having any interests and any preferences.
func (p *Profile) KnownDetails() int {
	n := 0
	for _, f := range scalarFields {
		if p.PersonalDetails.Fields[f] != "" {
			n++
		}
	}
	if len(p.PersonalDetails.Interests) > 0 {
		n++
	}
	if len(p.PersonalDetails.Preferences) > 0 {
		n++
	}
	return n
}

// AddEmotionalMoment appends m, filling in id and importance when missing.
func (p *Profile) AddEmotionalMoment(m EmotionalMoment) EmotionalMoment {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Importance < 1 {
		m.Importance = defaultMomentImportance
	}
	p.EmotionalHistory.Moments = append(p.EmotionalHistory.Moments, m)
	return m
}

// AddTriggerWord, AddComfortTopic and AddAvoidTopic keep their lists as sets.
func (p *Profile) AddTriggerWord(word string) {
	p.EmotionalHistory.TriggerWords = addToSet(p.EmotionalHistory.TriggerWords, word)
}

func (p *Profile) AddComfortTopic(topic string) {
	p.EmotionalHistory.ComfortTopics = addToSet(p.EmotionalHistory.ComfortTopics, topic)
}

func (p *Profile) AddAvoidTopic(topic string) {
	p.EmotionalHistory.AvoidTopics = addToSet(p.EmotionalHistory.AvoidTopics, topic)
}

// MarkMilestone records kind at now unless it was already recorded. It reports
// whether this call set it.
func (p *Profile) MarkMilestone(kind string, now time.Time) bool {
	p.ensureMaps()
	if _, ok := p.Milestones.Reached[kind]; ok {
		return false
	}
	p.Milestones.Reached[kind] = now.UnixMilli()
	return true
}

// AddFavoriteTopic moves topic to the most-recent end, keeping at most limit.
func (p *Profile) AddFavoriteTopic(topic string, limit int) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	if limit <= 0 {
		limit = DefaultTopicLimit
	}
	topics := p.BehavioralInsights.FavoriteTopics[:0:0]
	for _, t := range p.BehavioralInsights.FavoriteTopics {
		if !strings.EqualFold(t, topic) {
			topics = append(topics, t)
		}
	}
	topics = append(topics, topic)
	if over := len(topics) - limit; over > 0 {
		topics = topics[over:]
	}
	p.BehavioralInsights.FavoriteTopics = topics
}

// NoteOnline records the hour of day a message arrived.
func (p *Profile) NoteOnline(now time.Time) {
	p.BehavioralInsights.OnlineTimes = appendBounded(p.BehavioralInsights.OnlineTimes, now.Hour(), DefaultInsightsLimit)
}

// NoteIntent counts how often an intent shows up.
func (p *Profile) NoteIntent(intent string) {
	p.ensureMaps()
	p.BehavioralInsights.EscalationPreferences[intent]++
}

// RecordSession stores a finished session length and updates the longest one.
func (p *Profile) RecordSession(seconds int64) {
	if seconds <= 0 {
		return
	}
	p.BehavioralInsights.SessionLengths = appendBounded(p.BehavioralInsights.SessionLengths, seconds, DefaultInsightsLimit)
	if seconds > p.Milestones.LongestConversationSeconds {
		p.Milestones.LongestConversationSeconds = seconds
	}
}

// RecordPurchase adds amount to the spending for kind and marks first_purchase.
func (p *Profile) RecordPurchase(kind string, amount float64, now time.Time) {
	p.ensureMaps()
	if kind == "" {
		kind = "other"
	}
	p.BehavioralInsights.SpendingPatterns[kind] += amount
	p.MarkMilestone(FirstPurchase, now)
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.PersonalDetails.Fields = cloneMap(p.PersonalDetails.Fields)
	c.PersonalDetails.Interests = cloneSlice(p.PersonalDetails.Interests)
	c.PersonalDetails.Preferences = cloneMap(p.PersonalDetails.Preferences)
	c.EmotionalHistory.Moments = cloneSlice(p.EmotionalHistory.Moments)
	c.EmotionalHistory.TriggerWords = cloneSlice(p.EmotionalHistory.TriggerWords)
	c.EmotionalHistory.ComfortTopics = cloneSlice(p.EmotionalHistory.ComfortTopics)
	c.EmotionalHistory.AvoidTopics = cloneSlice(p.EmotionalHistory.AvoidTopics)
	c.Milestones.Reached = cloneMap(p.Milestones.Reached)
	c.BehavioralInsights.OnlineTimes = cloneSlice(p.BehavioralInsights.OnlineTimes)
	c.BehavioralInsights.SessionLengths = cloneSlice(p.BehavioralInsights.SessionLengths)
	c.BehavioralInsights.FavoriteTopics = cloneSlice(p.BehavioralInsights.FavoriteTopics)
	c.BehavioralInsights.SpendingPatterns = cloneMap(p.BehavioralInsights.SpendingPatterns)
	c.BehavioralInsights.EscalationPreferences = cloneMap(p.BehavioralInsights.EscalationPreferences)
	c.ConversationHistory = cloneSlice(p.ConversationHistory)
	c.ensureMaps()
	return &c
}

func addToSet(set []string, value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return set
	}
	for _, v := range set {
		if strings.EqualFold(v, value) {
			return set
		}
	}
	set = append(set, value)
	sort.Strings(set)
	return set
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if over := len(s) - limit; over > 0 {
		s = append([]T(nil), s[over:]...)
	}
	return s
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
