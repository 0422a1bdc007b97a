package domain

import "fmt"

// WeightTotal is the required sum of group weights in one snapshot.
const WeightTotal = 100

// ValidateSnapshot checks the structural invariants of a snapshot before it is published.
// It returns the first violation as a *ConfigurationError.
func ValidateSnapshot(s ConfigSnapshot) error {
	if s.Version <= 0 {
		return &ConfigurationError{Path: "version", Reason: "must be positive"}
	}
	if len(s.Groups) == 0 {
		return &ConfigurationError{Path: "groups", Reason: "at least one group is required"}
	}

	ids := make(map[string]string)
	claim := func(id, path string) error {
		if id == "" {
			return &ConfigurationError{Path: path, Reason: "id is required"}
		}
		if prev, ok := ids[id]; ok {
			return &ConfigurationError{Path: path, Reason: fmt.Sprintf("id %q already used by %s", id, prev)}
		}
		ids[id] = path
		return nil
	}

	total := 0
	for gi, g := range s.Groups {
		path := fmt.Sprintf("groups[%d]", gi)
		if err := claim(g.ID, path); err != nil {
			return err
		}
		if g.Weight < 1 || g.Weight > WeightTotal {
			return &ConfigurationError{Path: path + ".weight", Reason: fmt.Sprintf("%d outside [1,%d]", g.Weight, WeightTotal)}
		}
		total += g.Weight
		if err := validateProtocol(g.Protocol, path+".protocol", claim); err != nil {
			return err
		}
	}
	if total != WeightTotal {
		return &ConfigurationError{Path: "groups", Reason: fmt.Sprintf("weights sum to %d, want %d", total, WeightTotal)}
	}

	types := make(map[FormType]bool)
	for fi, f := range s.Forms {
		path := fmt.Sprintf("forms[%d]", fi)
		if err := claim(f.ID, path); err != nil {
			return err
		}
		if f.Type != FormPre && f.Type != FormPost {
			return &ConfigurationError{Path: path + ".type", Reason: fmt.Sprintf("unknown form type %q", f.Type)}
		}
		if types[f.Type] {
			return &ConfigurationError{Path: path + ".type", Reason: fmt.Sprintf("duplicate %s form", f.Type)}
		}
		types[f.Type] = true
		if err := validateForm(f, path, claim); err != nil {
			return err
		}
	}
	return nil
}

func validateProtocol(p Protocol, path string, claim func(id, path string) error) error {
	if err := claim(p.ID, path); err != nil {
		return err
	}
	if len(p.Phases) == 0 {
		return &ConfigurationError{Path: path + ".phases", Reason: "at least one phase is required"}
	}
	if err := denseOrder(len(p.Phases), func(i int) int { return p.Phases[i].Order }, path+".phases"); err != nil {
		return err
	}
	for pi, ph := range p.Phases {
		phPath := fmt.Sprintf("%s.phases[%d]", path, pi)
		if err := claim(ph.ID, phPath); err != nil {
			return err
		}
		if len(ph.Questions) == 0 {
			return &ConfigurationError{Path: phPath + ".questions", Reason: "at least one question is required"}
		}
		if err := denseOrder(len(ph.Questions), func(i int) int { return ph.Questions[i].Order }, phPath+".questions"); err != nil {
			return err
		}
		for qi, q := range ph.Questions {
			if err := validateQuestion(q, fmt.Sprintf("%s.questions[%d]", phPath, qi), claim); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateQuestion(q Question, path string, claim func(id, path string) error) error {
	if err := claim(q.ID, path); err != nil {
		return err
	}
	if q.Kind != "" && q.Kind != QuestionSelectOne && q.Kind != QuestionSelectMultiple {
		return &ConfigurationError{Path: path + ".kind", Reason: fmt.Sprintf("unknown kind %q", q.Kind)}
	}
	if len(q.Options) == 0 {
		return &ConfigurationError{Path: path + ".options", Reason: "at least one option is required"}
	}
	if err := denseOrder(len(q.Options), func(i int) int { return q.Options[i].Order }, path+".options"); err != nil {
		return err
	}
	correct := 0
	for oi, o := range q.Options {
		if err := claim(o.ID, fmt.Sprintf("%s.options[%d]", path, oi)); err != nil {
			return err
		}
		if o.Correct {
			correct++
		}
	}
	switch {
	case !q.Multiple() && correct != 1:
		return &ConfigurationError{Path: path + ".options", Reason: fmt.Sprintf("select-one question needs exactly one correct option, has %d", correct)}
	case q.Multiple() && correct == 0:
		return &ConfigurationError{Path: path + ".options", Reason: "select-multiple question needs at least one correct option"}
	}
	return nil
}

func validateForm(f Form, path string, claim func(id, path string) error) error {
	if err := denseOrder(len(f.Questions), func(i int) int { return f.Questions[i].Order }, path+".questions"); err != nil {
		return err
	}
	for qi, q := range f.Questions {
		qPath := fmt.Sprintf("%s.questions[%d]", path, qi)
		if err := claim(q.ID, qPath); err != nil {
			return err
		}
		if !q.configured() {
			return &ConfigurationError{Path: qPath, Reason: fmt.Sprintf("config does not match type %q", q.Type)}
		}
		switch {
		case q.Select != nil:
			if len(q.Select.Options) == 0 {
				return &ConfigurationError{Path: qPath + ".select.options", Reason: "at least one option is required"}
			}
			for oi, o := range q.Select.Options {
				if err := claim(o.ID, fmt.Sprintf("%s.select.options[%d]", qPath, oi)); err != nil {
					return err
				}
			}
		case q.Slider != nil:
			if q.Slider.Min >= q.Slider.Max || q.Slider.Step < 0 {
				return &ConfigurationError{Path: qPath + ".slider", Reason: "min must be below max and step non-negative"}
			}
		case q.TextInput != nil:
			if q.TextInput.MinLength < 0 || (q.TextInput.MaxLength > 0 && q.TextInput.MaxLength < q.TextInput.MinLength) {
				return &ConfigurationError{Path: qPath + ".textInput", Reason: "invalid length bounds"}
			}
		}
	}
	return nil
}

// denseOrder checks that the order values of n siblings are exactly 0..n-1.
func denseOrder(n int, order func(int) int, path string) error {
	seen := make([]bool, n)
	for i := 0; i < n; i++ {
		o := order(i)
		if o < 0 || o >= n || seen[o] {
			return &ConfigurationError{Path: fmt.Sprintf("%s[%d].order", path, i), Reason: fmt.Sprintf("order %d is not dense and unique in 0..%d", o, n-1)}
		}
		seen[o] = true
	}
	return nil
}
