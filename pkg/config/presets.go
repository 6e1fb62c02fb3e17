package config

import "github.com/pkg/errors"

const (
	PresetPublish  = "publish"
	PresetTake     = "take"
	PresetPingPong = "pingpong"
)

// 预置词汇表，对应 ros2 tracing 的 babeltrace 文本输出

func publishLevels() []Level {
	return []Level{
		{
			Name:   "ros2::rclcpp_publish",
			Marker: "rclcpp_publish",
			Children: []Level{
				{
					Name:   "ros2::rcl_publish",
					Marker: "rcl_publish",
					Children: []Level{
						{Name: "ros2::rmw_publish", Marker: "rmw_publish"},
					},
				},
				{
					Name:   "ros2::rclcpp_intra_publish",
					Marker: "rclcpp_intra_publish",
				},
			},
		},
	}
}

func callbackLevel() Level {
	return Level{
		Name:     "ros2::callback",
		Marker:   "callback_start",
		Close:    "callback_end",
		Children: publishLevels(),
	}
}

var presets = map[string]func() *Vocabulary{
	PresetPublish: func() *Vocabulary {
		return &Vocabulary{
			Name:  PresetPublish,
			Mode:  ModeCascade,
			Roots: publishLevels(),
		}
	},
	PresetTake: func() *Vocabulary {
		return &Vocabulary{
			Name: PresetTake,
			Mode: ModeLookahead,
			Roots: []Level{
				{
					Name:   "ros2::rclcpp_executor_execute",
					Marker: "rclcpp_executor_execute",
					Children: []Level{
						{
							Name:   "ros2::rcl_take",
							Marker: "rcl_take",
							Children: []Level{
								{
									Name:   "ros2::rmw_take",
									Marker: "rmw_take",
									Children: []Level{
										{
											Name:     "ros2::rclcpp_take",
											Marker:   "rclcpp_take",
											Children: []Level{callbackLevel()},
										},
									},
								},
							},
						},
						// timer 没有 take 阶段，直接进入回调
						callbackLevel(),
					},
				},
			},
		}
	},
	PresetPingPong: func() *Vocabulary {
		return &Vocabulary{
			Name: PresetPingPong,
			Mode: ModeSession,
			Session: &Session{
				Name:      "ros2::session",
				IDPattern: `callback\s*=\s*(0x[0-9a-fA-F]+)`,
				Chains:    map[string]string{},
				Clock:     ClockShared,
				Chain:     callbackLevel(),
			},
		}
	},
}

// Preset returns a fresh copy of a built-in vocabulary.
func Preset(name string) (*Vocabulary, error) {
	build, ok := presets[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPreset, "%q", name)
	}
	v := build()
	v.Normalize()
	return v, nil
}

func PresetNames() []string {
	return []string{PresetPublish, PresetTake, PresetPingPong}
}
