package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// FormType says whether a form is answered before or after the test.
type FormType string

const (
	FormPre  FormType = "pre"
	FormPost FormType = "post"
)

// FormQuestionType is the discriminator of the FormQuestion variant.
type FormQuestionType string

const (
	FormSelectOne      FormQuestionType = "select-one"
	FormSelectMultiple FormQuestionType = "select-multiple"
	FormSlider         FormQuestionType = "slider"
	FormTextShort      FormQuestionType = "text-short"
	FormTextLong       FormQuestionType = "text-long"
)

type FormOption struct {
	ID    string `json:"id" yaml:"id"`
	Order int    `json:"order" yaml:"order"`
	Text  string `json:"text,omitempty" yaml:"text,omitempty"`
	Image string `json:"image,omitempty" yaml:"image,omitempty"`
}

// SelectConfig configures select-one and select-multiple questions.
// Other allows a free-text answer in place of an option.
type SelectConfig struct {
	Options []FormOption `json:"options" yaml:"options"`
	Other   bool         `json:"other" yaml:"other"`
}

type SliderLabel struct {
	Number int    `json:"number" yaml:"number"`
	Label  string `json:"label" yaml:"label"`
}

type SliderConfig struct {
	Min    int           `json:"min" yaml:"min"`
	Max    int           `json:"max" yaml:"max"`
	Step   int           `json:"step" yaml:"step"`
	Labels []SliderLabel `json:"labels,omitempty" yaml:"labels,omitempty"`
}

type TextConfig struct {
	MinLength int `json:"minLength" yaml:"minLength"`
	MaxLength int `json:"maxLength" yaml:"maxLength"`
}

// FormQuestion is a tagged union on Type; only the config matching Type is set.
type FormQuestion struct {
	ID        string           `json:"id" yaml:"id"`
	Order     int              `json:"order" yaml:"order"`
	Category  string           `json:"category,omitempty" yaml:"category,omitempty"`
	Text      string           `json:"text,omitempty" yaml:"text,omitempty"`
	Image     string           `json:"image,omitempty" yaml:"image,omitempty"`
	Required  bool             `json:"required" yaml:"required"`
	Type      FormQuestionType `json:"type" yaml:"type"`
	Select    *SelectConfig    `json:"select,omitempty" yaml:"select,omitempty"`
	Slider    *SliderConfig    `json:"slider,omitempty" yaml:"slider,omitempty"`
	TextInput *TextConfig      `json:"textInput,omitempty" yaml:"textInput,omitempty"`
}

type Form struct {
	ID        string         `json:"id" yaml:"id"`
	Type      FormType       `json:"type" yaml:"type"`
	Title     string         `json:"title,omitempty" yaml:"title,omitempty"`
	Questions []FormQuestion `json:"questions" yaml:"questions"`
}

// FormAnswer answers one form question. Which field is set depends on the question variant;
// select-multiple questions take one answer per chosen option.
type FormAnswer struct {
	QuestionID string  `json:"questionId"`
	OptionID   *string `json:"optionId,omitempty"`
	Value      *int    `json:"value,omitempty"`
	Answer     *string `json:"answer,omitempty"`
}

type FormSubmission struct {
	AttemptID     string       `json:"attemptId"`
	UserID        string       `json:"userId"`
	ConfigVersion int          `json:"configVersion"`
	FormType      FormType     `json:"formType"`
	SubmittedAt   time.Time    `json:"submittedAt"`
	Answers       []FormAnswer `json:"answers"`
}

// configured reports whether the variant config matching Type is present.
func (q FormQuestion) configured() bool {
	switch q.Type {
	case FormSelectOne, FormSelectMultiple:
		return q.Select != nil && q.Slider == nil && q.TextInput == nil
	case FormSlider:
		return q.Slider != nil && q.Select == nil && q.TextInput == nil
	case FormTextShort, FormTextLong:
		return q.TextInput != nil && q.Select == nil && q.Slider == nil
	}
	return false
}

// ValidateAnswer checks one answer against the question variant.
func (q FormQuestion) ValidateAnswer(a FormAnswer) error {
	switch q.Type {
	case FormSelectOne, FormSelectMultiple:
		if a.Value != nil {
			return fmt.Errorf("%w: question %s takes no value", ErrInvalidFormAnswer, q.ID)
		}
		if a.OptionID == nil {
			if a.Answer != nil && q.Select.Other {
				return nil
			}
			return fmt.Errorf("%w: question %s requires an option", ErrInvalidFormAnswer, q.ID)
		}
		for _, o := range q.Select.Options {
			if o.ID == *a.OptionID {
				return nil
			}
		}
		return fmt.Errorf("%w: option %s not in question %s", ErrInvalidFormAnswer, *a.OptionID, q.ID)
	case FormSlider:
		if a.Value == nil || a.OptionID != nil || a.Answer != nil {
			return fmt.Errorf("%w: question %s requires only a value", ErrInvalidFormAnswer, q.ID)
		}
		v, s := *a.Value, q.Slider
		if v < s.Min || v > s.Max {
			return fmt.Errorf("%w: value %d outside [%d,%d]", ErrInvalidFormAnswer, v, s.Min, s.Max)
		}
		if s.Step > 0 && (v-s.Min)%s.Step != 0 {
			return fmt.Errorf("%w: value %d not on step %d", ErrInvalidFormAnswer, v, s.Step)
		}
		return nil
	case FormTextShort, FormTextLong:
		if a.Answer == nil || a.OptionID != nil || a.Value != nil {
			return fmt.Errorf("%w: question %s requires only a text answer", ErrInvalidFormAnswer, q.ID)
		}
		n := utf8.RuneCountInString(*a.Answer)
		if n < q.TextInput.MinLength || (q.TextInput.MaxLength > 0 && n > q.TextInput.MaxLength) {
			return fmt.Errorf("%w: answer length %d out of bounds", ErrInvalidFormAnswer, n)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown question type %q", ErrInvalidFormAnswer, q.Type)
}

// ValidateSubmission checks every answer and that required questions are answered.
func (f Form) ValidateSubmission(answers []FormAnswer) error {
	byID := make(map[string]FormQuestion, len(f.Questions))
	for _, q := range f.Questions {
		byID[q.ID] = q
	}
	seen := make(map[string]int, len(answers))
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			return fmt.Errorf("%w: question %s not in form %s", ErrInvalidFormAnswer, a.QuestionID, f.ID)
		}
		if err := q.ValidateAnswer(a); err != nil {
			return err
		}
		seen[a.QuestionID]++
		if seen[a.QuestionID] > 1 && q.Type != FormSelectMultiple {
			return fmt.Errorf("%w: question %s answered more than once", ErrInvalidFormAnswer, q.ID)
		}
	}
	for _, q := range f.Questions {
		if q.Required && seen[q.ID] == 0 {
			return fmt.Errorf("%w: question %s is required", ErrInvalidFormAnswer, q.ID)
		}
	}
	return nil
}
