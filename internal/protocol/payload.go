package protocol

// QuestionStatus mirrors the moderation state owned by the CRUD layer.
type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "pending"
	QuestionApproved QuestionStatus = "approved"
	QuestionAnswered QuestionStatus = "answered"
	QuestionRejected QuestionStatus = "rejected"
)

// ReactionTargetType is what a reaction is attached to.
type ReactionTargetType string

const (
	ReactionOnQuestion ReactionTargetType = "question"
	ReactionOnAnswer   ReactionTargetType = "answer"
)

type Answer struct {
	ID         string `json:"id"`
	QuestionID string `json:"questionId"`
	SessionID  string `json:"sessionId"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt"`
}

type ReactionSummary struct {
	Emoji      string `json:"emoji"`
	Count      int    `json:"count"`
	HasReacted *bool  `json:"hasReacted,omitempty"`
}

type Question struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"sessionId"`
	Content    string            `json:"content"`
	AuthorID   string            `json:"authorId"`
	AuthorName string            `json:"authorName,omitempty"`
	Status     QuestionStatus    `json:"status"`
	IsPinned   bool              `json:"isPinned"`
	VoteCount  int               `json:"voteCount"`
	CreatedAt  int64             `json:"createdAt"`
	UpdatedAt  int64             `json:"updatedAt"`
	Answer     *Answer           `json:"answer,omitempty"`
	Reactions  []ReactionSummary `json:"reactions,omitempty"`
	HasVoted   *bool             `json:"hasVoted,omitempty"`
}

type QuestionAddedData struct {
	Question Question `json:"question"`
}

type QuestionUpdatedData struct {
	QuestionID string         `json:"questionId"`
	Changes    map[string]any `json:"changes"`
}

type VoteChangedData struct {
	QuestionID string `json:"questionId"`
	VoteCount  int    `json:"voteCount"`
}

type AnswerAddedData struct {
	Answer Answer `json:"answer"`
}

type AnswerUpdatedData struct {
	AnswerID  string `json:"answerId"`
	Content   string `json:"content"`
	UpdatedAt int64  `json:"updatedAt"`
}

type ReactionChangedData struct {
	TargetType ReactionTargetType `json:"targetType"`
	TargetID   string             `json:"targetId"`
	Reactions  []ReactionSummary  `json:"reactions"`
}

type SessionUpdatedData struct {
	Changes map[string]any `json:"changes"`
}

func NewQuestionAdded(q Question) (Event, error) {
	return NewEvent(EventQuestionAdded, QuestionAddedData{Question: q})
}

func NewQuestionUpdated(questionID string, changes map[string]any) (Event, error) {
	return NewEvent(EventQuestionUpdated, QuestionUpdatedData{QuestionID: questionID, Changes: changes})
}

func NewVoteChanged(questionID string, voteCount int) (Event, error) {
	return NewEvent(EventVoteChanged, VoteChangedData{QuestionID: questionID, VoteCount: voteCount})
}

func NewAnswerAdded(a Answer) (Event, error) {
	return NewEvent(EventAnswerAdded, AnswerAddedData{Answer: a})
}

func NewAnswerUpdated(answerID, content string, updatedAt int64) (Event, error) {
	return NewEvent(EventAnswerUpdated, AnswerUpdatedData{AnswerID: answerID, Content: content, UpdatedAt: updatedAt})
}

func NewReactionChanged(targetType ReactionTargetType, targetID string, reactions []ReactionSummary) (Event, error) {
	if reactions == nil {
		reactions = []ReactionSummary{}
	}
	return NewEvent(EventReactionChanged, ReactionChangedData{TargetType: targetType, TargetID: targetID, Reactions: reactions})
}

func NewSessionUpdated(changes map[string]any) (Event, error) {
	return NewEvent(EventSessionUpdated, SessionUpdatedData{Changes: changes})
}

// NewSessionEnded carries an empty object as its data.
func NewSessionEnded() (Event, error) {
	return NewEvent(EventSessionEnded, nil)
}
