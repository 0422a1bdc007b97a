package domain

import "time"

// QuestionKind distinguishes single-answer from multi-answer test questions.
type QuestionKind string

const (
	QuestionSelectOne      QuestionKind = "select-one"
	QuestionSelectMultiple QuestionKind = "select-multiple"
)

// Option is one answer choice of a test question.
type Option struct {
	ID      string `json:"id" yaml:"id"`
	Order   int    `json:"order" yaml:"order"`
	Text    string `json:"text,omitempty" yaml:"text,omitempty"`
	Image   string `json:"image,omitempty" yaml:"image,omitempty"`
	Correct bool   `json:"correct" yaml:"correct"`
}

// Question is a test question. An empty Kind means select-one.
type Question struct {
	ID               string       `json:"id" yaml:"id"`
	Order            int          `json:"order" yaml:"order"`
	Text             string       `json:"text,omitempty" yaml:"text,omitempty"`
	Image            string       `json:"image,omitempty" yaml:"image,omitempty"`
	Kind             QuestionKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	RandomizeOptions bool         `json:"randomizeOptions" yaml:"randomizeOptions"`
	Options          []Option     `json:"options" yaml:"options"`
}

// Multiple reports whether the question accepts more than one selected option.
func (q Question) Multiple() bool {
	return q.Kind == QuestionSelectMultiple
}

// Phase groups questions that are navigated together.
type Phase struct {
	ID                 string     `json:"id" yaml:"id"`
	Order              int        `json:"order" yaml:"order"`
	RandomizeQuestions bool       `json:"randomizeQuestions" yaml:"randomizeQuestions"`
	Questions          []Question `json:"questions" yaml:"questions"`
}

// Protocol is the ordered content plus navigation policy of one group.
type Protocol struct {
	ID                    string  `json:"id" yaml:"id"`
	Label                 string  `json:"label,omitempty" yaml:"label,omitempty"`
	AllowPreviousPhase    bool    `json:"allowPreviousPhase" yaml:"allowPreviousPhase"`
	AllowPreviousQuestion bool    `json:"allowPreviousQuestion" yaml:"allowPreviousQuestion"`
	AllowSkipQuestion     bool    `json:"allowSkipQuestion" yaml:"allowSkipQuestion"`
	RandomizePhases       bool    `json:"randomizePhases" yaml:"randomizePhases"`
	Phases                []Phase `json:"phases" yaml:"phases"`
}

// Group is an experimental condition. Weight is a percentage; all weights of a snapshot sum to 100.
type Group struct {
	ID       string   `json:"id" yaml:"id"`
	Label    string   `json:"label" yaml:"label"`
	Weight   int      `json:"weight" yaml:"weight"`
	Greeting string   `json:"greeting,omitempty" yaml:"greeting,omitempty"`
	Protocol Protocol `json:"protocol" yaml:"protocol"`
}

// ConfigSnapshot is an immutable published configuration version.
type ConfigSnapshot struct {
	Version     int       `json:"version" yaml:"version"`
	Title       string    `json:"title,omitempty" yaml:"title,omitempty"`
	PublishedAt time.Time `json:"publishedAt" yaml:"publishedAt"`
	Groups      []Group   `json:"groups" yaml:"groups"`
	Forms       []Form    `json:"forms,omitempty" yaml:"forms,omitempty"`
}

// Group looks up a group by id.
func (s ConfigSnapshot) Group(id string) (Group, bool) {
	for _, g := range s.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

// Form looks up the form of the given type.
func (s ConfigSnapshot) Form(t FormType) (Form, bool) {
	for _, f := range s.Forms {
		if f.Type == t {
			return f, true
		}
	}
	return Form{}, false
}
