package config

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	r "github.com/stretchr/testify/require"
)

func TestConfig_LoadVocabulary_Inline(t *testing.T) {
	vp := mockViper(t, `
vocabulary:
  name: custom
  mode: lookahead
  window: 3
  skip_until: /chatter
  roots:
    - name: outer
      marker: OUTER
      children:
        - name: inner
          marker: INNER
`)
	v, err := LoadVocabulary(vp)
	r.NoError(t, err)
	r.Equal(t, "custom", v.Name)
	r.Equal(t, ModeLookahead, v.Mode)
	r.Equal(t, 3, v.Window)
	r.Equal(t, "/chatter", v.SkipUntil)
	r.Equal(t, 1, len(v.Roots))
	r.Equal(t, "INNER", v.Roots[0].Children[0].Marker)
}

func TestConfig_LoadVocabulary_Session(t *testing.T) {
	vp := mockViper(t, `
vocabulary:
  session:
    name: pingpong
    id_pattern: 'cb=(\w+)'
    clock: per_chain
    chains:
      AB12: ping
    chain:
      name: callback
      marker: START
      close: END
`)
	v, err := LoadVocabulary(vp)
	r.NoError(t, err)
	r.Equal(t, ModeSession, v.Mode)
	r.Equal(t, DefaultWindow, v.Window)
	r.Equal(t, "session", v.Name)
	r.Equal(t, ClockPerChain, v.Session.Clock)
	r.Equal(t, "ping", v.Session.Chains["ab12"])
	r.Equal(t, "END", v.Session.Chain.Close)
}

func TestConfig_LoadVocabulary_PresetChains(t *testing.T) {
	vp := mockViper(t, `
preset: pingpong
chains:
  "0x5555AB": ping
  "0x5555CD": pong
`)
	v, err := LoadVocabulary(vp)
	r.NoError(t, err)
	r.Equal(t, PresetPingPong, v.Name)
	r.Equal(t, ClockShared, v.Session.Clock)
	r.Equal(t, map[string]string{"0x5555ab": "ping", "0x5555cd": "pong"}, v.Session.Chains)

	// 预置词汇表每次都是新的副本
	again, err := Preset(PresetPingPong)
	r.NoError(t, err)
	r.Equal(t, 0, len(again.Session.Chains))
}

func TestConfig_LoadVocabulary_Default(t *testing.T) {
	v, err := LoadVocabulary(nil)
	r.NoError(t, err)
	r.Equal(t, DefaultPreset, v.Name)
	r.Equal(t, ModeCascade, v.Mode)
	r.Equal(t, 1, v.Window)
}

func TestConfig_Preset_Unknown(t *testing.T) {
	_, err := Preset("chatter")
	r.True(t, errors.Is(err, ErrUnknownPreset))

	vp := viper.New()
	vp.Set("preset", "chatter")
	_, err = LoadVocabulary(vp)
	r.True(t, errors.Is(err, ErrUnknownPreset))
}

func TestConfig_Presets(t *testing.T) {
	for _, name := range PresetNames() {
		v, err := Preset(name)
		r.NoError(t, err)
		r.Equal(t, name, v.Name)
	}
	take, _ := Preset(PresetTake)
	r.Equal(t, ModeLookahead, take.Mode)
	r.Equal(t, DefaultWindow, take.Window)
}

//mockers

func mockViper(t *testing.T, yaml string) *viper.Viper {
	vp := viper.New()
	vp.SetConfigType("yaml")
	r.NoError(t, vp.ReadConfig(bytes.NewBufferString(yaml)))
	return vp
}
