package domain

import "sort"

// OptionKey is the server-side truth for one option.
type OptionKey struct {
	QuestionID string
	Correct    bool
}

// QuestionKey is the server-side truth for one question.
type QuestionKey struct {
	PhaseID        string
	Kind           QuestionKind
	CorrectOptions []string
}

// AnswerKey maps option and question ids of one config version to their
// correctness data. It is never sent to participants.
type AnswerKey struct {
	Version   int
	Options   map[string]OptionKey
	Questions map[string]QuestionKey
}

// NewAnswerKey derives the answer key of every group in the snapshot.
func NewAnswerKey(s ConfigSnapshot) AnswerKey {
	key := AnswerKey{
		Version:   s.Version,
		Options:   make(map[string]OptionKey),
		Questions: make(map[string]QuestionKey),
	}
	for _, g := range s.Groups {
		for _, p := range g.Protocol.Phases {
			for _, q := range p.Questions {
				kind := q.Kind
				if kind == "" {
					kind = QuestionSelectOne
				}
				qk := QuestionKey{PhaseID: p.ID, Kind: kind}
				for _, o := range q.Options {
					key.Options[o.ID] = OptionKey{QuestionID: q.ID, Correct: o.Correct}
					if o.Correct {
						qk.CorrectOptions = append(qk.CorrectOptions, o.ID)
					}
				}
				sort.Strings(qk.CorrectOptions)
				key.Questions[q.ID] = qk
			}
		}
	}
	return key
}

// Option returns the key entry of an option.
func (k AnswerKey) Option(id string) (OptionKey, bool) {
	o, ok := k.Options[id]
	return o, ok
}

// Question returns the key entry of a question.
func (k AnswerKey) Question(id string) (QuestionKey, bool) {
	q, ok := k.Questions[id]
	return q, ok
}
