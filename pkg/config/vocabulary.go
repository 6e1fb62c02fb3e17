package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Mode string

const (
	ModeCascade   Mode = "cascade"
	ModeLookahead Mode = "lookahead"
	ModeSession   Mode = "session"
)

type ClockPolicy string

const (
	// ClockShared 所有 chain 共用一个时钟，按日志到达顺序累加
	ClockShared ClockPolicy = "shared"
	// ClockPerChain 每个 chain 一个时钟，互不影响
	ClockPerChain ClockPolicy = "per_chain"
)

// Level is one level of the marker vocabulary.
// A level with Close is scoped: it stays open until its closing marker shows up.
// A level without Close closes when its child returns, or immediately if it has none.
type Level struct {
	Name     string  `mapstructure:"name"`
	Marker   string  `mapstructure:"marker"`
	Close    string  `mapstructure:"close"`
	Children []Level `mapstructure:"children"`
}

// Session describes the demultiplexed session mode.
type Session struct {
	Name      string `mapstructure:"name"`
	IDPattern string `mapstructure:"id_pattern"`
	// ChainIdentifier -> chain name
	Chains map[string]string `mapstructure:"chains"`
	Clock  ClockPolicy       `mapstructure:"clock"`
	Chain  Level             `mapstructure:"chain"`
}

type Vocabulary struct {
	Name      string   `mapstructure:"name"`
	Mode      Mode     `mapstructure:"mode"`
	SkipUntil string   `mapstructure:"skip_until"`
	Window    int      `mapstructure:"window"`
	Roots     []Level  `mapstructure:"roots"`
	Session   *Session `mapstructure:"session"`
}

var ErrUnknownPreset = errors.New("unknown vocabulary preset")

// LoadVocabulary 读取 vocabulary，优先级：vocabulary 配置项 > preset 配置项 > DefaultPreset
func LoadVocabulary(vp *viper.Viper) (*Vocabulary, error) {
	if vp != nil && vp.IsSet("vocabulary") {
		var v Vocabulary
		if err := vp.UnmarshalKey("vocabulary", &v); err != nil {
			return nil, errors.Wrap(err, "decode vocabulary")
		}
		v.Normalize()
		return &v, nil
	}

	name := DefaultPreset
	if vp != nil && vp.GetString("preset") != "" {
		name = vp.GetString("preset")
	}
	v, err := Preset(name)
	if err != nil {
		return nil, err
	}

	// 预置的 session 不带 ChainIdentifier，需要从配置中注册
	if vp != nil && v.Session != nil && vp.IsSet("chains") {
		for id, chain := range vp.GetStringMapString("chains") {
			v.Session.Chains[NormalizeChainID(id)] = chain
		}
	}
	return v, nil
}

// Normalize fills defaults and lower-cases chain identifiers.
// viper lower-cases map keys anyway, so identifiers are compared case-insensitively.
func (v *Vocabulary) Normalize() {
	if v.Mode == "" {
		if v.Session != nil {
			v.Mode = ModeSession
		} else {
			v.Mode = ModeCascade
		}
	}
	if v.Window <= 0 {
		switch v.Mode {
		case ModeCascade:
			v.Window = 1
		default:
			v.Window = DefaultWindow
		}
	}
	if v.Name == "" {
		v.Name = string(v.Mode)
	}
	if s := v.Session; s != nil {
		if s.Clock == "" {
			s.Clock = ClockShared
		}
		chains := make(map[string]string, len(s.Chains))
		for id, name := range s.Chains {
			chains[NormalizeChainID(id)] = name
		}
		s.Chains = chains
	}
}

func NormalizeChainID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
