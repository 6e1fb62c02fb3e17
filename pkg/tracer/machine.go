package tracer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/stleox/seetrace/pkg/config"
)

type stateID int

const noState stateID = -1

type levelKind int

const (
	// kindLeaf 最内层，无子节点、无关闭标记
	kindLeaf levelKind = iota
	// kindBlock 有子节点，子节点返回即关闭
	kindBlock
	// kindScoped 有关闭标记，持续匹配子节点直到关闭
	kindScoped
)

func (k levelKind) String() string {
	switch k {
	case kindLeaf:
		return "leaf"
	case kindBlock:
		return "block"
	case kindScoped:
		return "scoped"
	default:
		return "unknown"
	}
}

type state struct {
	id     stateID
	name   string
	open   string
	close  string
	kind   levelKind
	depth  int
	parent stateID
	// 转移表：按声明顺序匹配子节点的打开标记
	next []stateID
}

type sessionSpec struct {
	name      string
	idPattern *regexp.Regexp
	chains    map[string]string
	clock     config.ClockPolicy
}

// Transition is one row of the compiled transition table.
type Transition struct {
	From  string
	On    string
	To    string
	Close bool
}

// Machine is a vocabulary compiled into named states and a transition table.
type Machine struct {
	name      string
	mode      config.Mode
	window    int
	skipUntil string

	states  []state
	roots   []stateID
	markers []string
	session *sessionSpec
}

// Compile validates a vocabulary and builds its state machine.
func Compile(v *config.Vocabulary) (*Machine, error) {
	if v == nil {
		return nil, errors.Wrap(ErrInvalidVocabulary, "nil vocabulary")
	}
	v.Normalize()

	m := &Machine{
		name:      v.Name,
		mode:      v.Mode,
		window:    v.Window,
		skipUntil: v.SkipUntil,
		states:    make([]state, 0),
		markers:   make([]string, 0),
	}
	if m.mode == config.ModeCascade {
		m.window = 1
	}

	var levels []config.Level
	switch v.Mode {
	case config.ModeCascade, config.ModeLookahead:
		if len(v.Roots) == 0 {
			return nil, errors.Wrapf(ErrInvalidVocabulary, "%s: no root levels", v.Name)
		}
		levels = v.Roots
	case config.ModeSession:
		spec, err := compileSession(v.Session)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", v.Name)
		}
		if v.Session.Chain.Close == "" {
			return nil, errors.Wrapf(ErrInvalidVocabulary, "%s: session chain %q needs a closing marker", v.Name, v.Session.Chain.Name)
		}
		m.session = spec
		levels = []config.Level{v.Session.Chain}
	default:
		return nil, errors.Wrapf(ErrInvalidVocabulary, "%s: unknown mode %q", v.Name, v.Mode)
	}

	roots, err := m.addLevels(levels, noState, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", v.Name)
	}
	m.roots = roots
	return m, nil
}

func compileSession(s *config.Session) (*sessionSpec, error) {
	if s == nil {
		return nil, errors.Wrap(ErrInvalidVocabulary, "session mode without session")
	}
	if s.IDPattern == "" {
		return nil, errors.Wrap(ErrInvalidVocabulary, "session without id_pattern")
	}
	re, err := regexp.Compile(s.IDPattern)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidVocabulary, "id_pattern: %v", err)
	}
	if re.NumSubexp() < 1 {
		return nil, errors.Wrap(ErrInvalidVocabulary, "id_pattern needs a capture group")
	}
	switch s.Clock {
	case config.ClockShared, config.ClockPerChain:
	default:
		return nil, errors.Wrapf(ErrInvalidVocabulary, "unknown clock policy %q", s.Clock)
	}

	chains := make(map[string]string, len(s.Chains))
	for id, name := range s.Chains {
		if name == "" {
			name = id
		}
		chains[config.NormalizeChainID(id)] = name
	}
	name := s.Name
	if name == "" {
		name = "session"
	}
	return &sessionSpec{
		name:      name,
		idPattern: re,
		chains:    chains,
		clock:     s.Clock,
	}, nil
}

func (m *Machine) addLevels(levels []config.Level, parent stateID, depth int) ([]stateID, error) {
	if len(levels) > 0 && depth >= config.MaxDepth {
		return nil, errors.Wrapf(ErrInvalidVocabulary, "nesting deeper than %d levels", config.MaxDepth)
	}

	ids := make([]stateID, 0, len(levels))
	seen := make(map[string]string, len(levels))
	for _, level := range levels {
		if level.Marker == "" {
			return nil, errors.Wrapf(ErrInvalidVocabulary, "level %q has no marker", level.Name)
		}
		if other, dup := seen[level.Marker]; dup {
			return nil, errors.Wrapf(ErrInvalidVocabulary, "ambiguous branch: %q and %q share marker %q", other, level.Name, level.Marker)
		}
		seen[level.Marker] = level.Name

		name := level.Name
		if name == "" {
			name = level.Marker
		}
		kind := kindLeaf
		switch {
		case level.Close != "":
			kind = kindScoped
		case len(level.Children) > 0:
			kind = kindBlock
		}

		id := stateID(len(m.states))
		m.states = append(m.states, state{
			id:     id,
			name:   name,
			open:   level.Marker,
			close:  level.Close,
			kind:   kind,
			depth:  depth,
			parent: parent,
		})
		m.addMarker(level.Marker)
		m.addMarker(level.Close)

		next, err := m.addLevels(level.Children, id, depth+1)
		if err != nil {
			return nil, err
		}
		m.states[id].next = next
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Machine) addMarker(marker string) {
	if marker == "" {
		return
	}
	for _, known := range m.markers {
		if known == marker {
			return
		}
	}
	m.markers = append(m.markers, marker)
}

func (m *Machine) Name() string {
	return m.name
}

func (m *Machine) Mode() config.Mode {
	return m.mode
}

func (m *Machine) Window() int {
	return m.window
}

func (m *Machine) state(id stateID) *state {
	return &m.states[id]
}

// matchRoot returns the root state whose opening marker the text carries.
func (m *Machine) matchRoot(text string) stateID {
	return m.match(m.roots, text)
}

func (m *Machine) matchChild(id stateID, text string) stateID {
	return m.match(m.states[id].next, text)
}

func (m *Machine) match(candidates []stateID, text string) stateID {
	for _, id := range candidates {
		if strings.Contains(text, m.states[id].open) {
			return id
		}
	}
	return noState
}

func (m *Machine) closes(id stateID, text string) bool {
	s := &m.states[id]
	return s.close != "" && strings.Contains(text, s.close)
}

// known reports whether the text carries any marker of the vocabulary.
func (m *Machine) known(text string) bool {
	for _, marker := range m.markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// chainID extracts the ChainIdentifier of a line, "" if none.
func (m *Machine) chainID(text string) string {
	if m.session == nil {
		return ""
	}
	sub := m.session.idPattern.FindStringSubmatch(text)
	if len(sub) < 2 {
		return ""
	}
	return config.NormalizeChainID(sub[1])
}

func (m *Machine) chainName(id string) (string, bool) {
	if m.session == nil {
		return "", false
	}
	name, ok := m.session.chains[id]
	return name, ok
}

// Transitions lists the transition table in declaration order.
func (m *Machine) Transitions() []Transition {
	start := "<start>"
	if m.session != nil {
		start = m.session.name
	}

	table := make([]Transition, 0, len(m.states)*2)
	for _, id := range m.roots {
		table = append(table, Transition{From: start, On: m.states[id].open, To: m.states[id].name})
	}
	for _, s := range m.states {
		for _, id := range s.next {
			table = append(table, Transition{From: s.name, On: m.states[id].open, To: m.states[id].name})
		}
		if s.close != "" {
			to := start
			if s.parent != noState {
				to = m.states[s.parent].name
			}
			table = append(table, Transition{From: s.name, On: s.close, To: to, Close: true})
		}
	}
	return table
}

func (m *Machine) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "vocabulary %s (mode %s, window %d)\n", m.name, m.mode, m.window)
	if m.session != nil {
		fmt.Fprintf(&sb, "session %s, clock %s, chains %d\n", m.session.name, m.session.clock, len(m.session.chains))
	}
	for _, s := range m.states {
		fmt.Fprintf(&sb, "%s%s (%s)\n", strings.Repeat("  ", s.depth), s.name, s.kind)
	}
	for _, t := range m.Transitions() {
		arrow := "->"
		if t.Close {
			arrow = "<-"
		}
		fmt.Fprintf(&sb, "  %s --[%s]%s %s\n", t.From, t.On, arrow, t.To)
	}
	return sb.String()
}
