package navigator

import (
	"fmt"
	"sort"

	"experiment-test-service/internal/domain"
)

// Shuffler randomizes presentation order. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// NewOrder generates the permutations of one attempt. It runs once, at
// assignment time; every later visit reuses the result.
func NewOrder(p domain.Protocol, rnd Shuffler) domain.AttemptOrder {
	order := domain.AttemptOrder{
		Questions: make(map[string][]string, len(p.Phases)),
		Options:   make(map[string][]string),
	}

	phases := sortedPhases(p.Phases)
	if p.RandomizePhases {
		rnd.Shuffle(len(phases), func(i, j int) { phases[i], phases[j] = phases[j], phases[i] })
	}
	for _, ph := range phases {
		order.Phases = append(order.Phases, ph.ID)

		questions := sortedQuestions(ph.Questions)
		if ph.RandomizeQuestions {
			rnd.Shuffle(len(questions), func(i, j int) { questions[i], questions[j] = questions[j], questions[i] })
		}
		ids := make([]string, 0, len(questions))
		for _, q := range questions {
			ids = append(ids, q.ID)

			options := sortedOptions(q.Options)
			if q.RandomizeOptions {
				rnd.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })
			}
			optionIDs := make([]string, 0, len(options))
			for _, o := range options {
				optionIDs = append(optionIDs, o.ID)
			}
			order.Options[q.ID] = optionIDs
		}
		order.Questions[ph.ID] = ids
	}
	return order
}

func sortedPhases(in []domain.Phase) []domain.Phase {
	out := append([]domain.Phase(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func sortedQuestions(in []domain.Question) []domain.Question {
	out := append([]domain.Question(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func sortedOptions(in []domain.Option) []domain.Option {
	out := append([]domain.Option(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// AssignedOption is an option as shown to the participant, without correctness.
type AssignedOption struct {
	ID    string `json:"id"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type AssignedQuestion struct {
	ID      string              `json:"id"`
	PhaseID string              `json:"phaseId"`
	Text    string              `json:"text,omitempty"`
	Image   string              `json:"image,omitempty"`
	Kind    domain.QuestionKind `json:"kind"`
	Options []AssignedOption    `json:"options"`
}

type AssignedPhase struct {
	ID        string             `json:"id"`
	Questions []AssignedQuestion `json:"questions"`
}

// AssignedProtocol is the protocol in the attempt's presentation order.
type AssignedProtocol struct {
	ID                    string          `json:"id"`
	Label                 string          `json:"label,omitempty"`
	AllowPreviousPhase    bool            `json:"allowPreviousPhase"`
	AllowPreviousQuestion bool            `json:"allowPreviousQuestion"`
	AllowSkipQuestion     bool            `json:"allowSkipQuestion"`
	Phases                []AssignedPhase `json:"phases"`
}

// arrange resolves an order against its protocol. A mismatch means the order was
// generated for a different protocol version.
func arrange(p domain.Protocol, order domain.AttemptOrder) (AssignedProtocol, error) {
	phases := make(map[string]domain.Phase, len(p.Phases))
	for _, ph := range p.Phases {
		phases[ph.ID] = ph
	}
	if len(order.Phases) != len(p.Phases) {
		return AssignedProtocol{}, fmt.Errorf("order has %d phases, protocol %s has %d: %w", len(order.Phases), p.ID, len(p.Phases), domain.ErrQuestionNotFound)
	}

	view := AssignedProtocol{
		ID:                    p.ID,
		Label:                 p.Label,
		AllowPreviousPhase:    p.AllowPreviousPhase,
		AllowPreviousQuestion: p.AllowPreviousQuestion,
		AllowSkipQuestion:     p.AllowSkipQuestion,
	}
	for _, phaseID := range order.Phases {
		ph, ok := phases[phaseID]
		if !ok {
			return AssignedProtocol{}, fmt.Errorf("phase %s: %w", phaseID, domain.ErrQuestionNotFound)
		}
		questions := make(map[string]domain.Question, len(ph.Questions))
		for _, q := range ph.Questions {
			questions[q.ID] = q
		}
		ids := order.Questions[phaseID]
		if len(ids) != len(ph.Questions) {
			return AssignedProtocol{}, fmt.Errorf("phase %s question count mismatch: %w", phaseID, domain.ErrQuestionNotFound)
		}

		assigned := AssignedPhase{ID: ph.ID}
		for _, qid := range ids {
			q, ok := questions[qid]
			if !ok {
				return AssignedProtocol{}, fmt.Errorf("question %s: %w", qid, domain.ErrQuestionNotFound)
			}
			aq, err := arrangeQuestion(ph.ID, q, order.Options[qid])
			if err != nil {
				return AssignedProtocol{}, err
			}
			assigned.Questions = append(assigned.Questions, aq)
		}
		view.Phases = append(view.Phases, assigned)
	}
	return view, nil
}

func arrangeQuestion(phaseID string, q domain.Question, optionIDs []string) (AssignedQuestion, error) {
	options := make(map[string]domain.Option, len(q.Options))
	for _, o := range q.Options {
		options[o.ID] = o
	}
	if len(optionIDs) != len(q.Options) {
		return AssignedQuestion{}, fmt.Errorf("question %s option count mismatch: %w", q.ID, domain.ErrOptionNotFound)
	}
	kind := q.Kind
	if kind == "" {
		kind = domain.QuestionSelectOne
	}
	aq := AssignedQuestion{ID: q.ID, PhaseID: phaseID, Text: q.Text, Image: q.Image, Kind: kind}
	for _, oid := range optionIDs {
		o, ok := options[oid]
		if !ok {
			return AssignedQuestion{}, fmt.Errorf("option %s: %w", oid, domain.ErrOptionNotFound)
		}
		aq.Options = append(aq.Options, AssignedOption{ID: o.ID, Text: o.Text, Image: o.Image})
	}
	return aq, nil
}
