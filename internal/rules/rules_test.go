package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/insteond/internal/config"
	"github.com/dokzlo13/insteond/internal/insteon"
)

// Wednesday 2024-10-16 in Seattle.
var (
	testLoc   = mustLoadLocation("America/Los_Angeles")
	testToday = time.Date(2024, time.October, 16, 0, 0, 0, 0, testLoc)
	testSun   = SunTimes{
		Sunrise: time.Date(2024, time.October, 16, 7, 28, 0, 0, testLoc),
		Sunset:  time.Date(2024, time.October, 16, 19, 48, 0, 0, testLoc),
	}
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(hour, minute int) time.Time {
	return time.Date(2024, time.October, 16, hour, minute, 0, 0, testLoc)
}

func intPtr(v int) *int { return &v }

func TestLoad_ValidTable(t *testing.T) {
	rules, err := Load([]config.DeviceConfig{
		{
			Name:    "House Porch Lights - Dusk",
			Address: "08.2F.5C",
			On:      config.TriggerConfig{Event: "sunset", Offset: -30},
			Off:     config.TriggerConfig{Time: "23:30"},
		},
		{
			Name:    "Shop Bench Lights (Weekend)",
			Address: "1A.EE.97",
			On:      config.TriggerConfig{Time: "09:00"},
			Off:     config.TriggerConfig{Time: "23:30"},
			Days:    []string{"Saturday", "sun"},
			Level:   intPtr(128),
		},
	})
	require.NoError(t, err)
	require.Len(t, rules, 2)

	dusk := rules[0]
	assert.Equal(t, 0, dusk.Index)
	assert.Equal(t, insteon.Address{0x08, 0x2F, 0x5C}, dusk.Address)
	assert.True(t, dusk.On.IsSolar())
	assert.Equal(t, Sunset, dusk.On.Event())
	assert.Equal(t, -30*time.Minute, dusk.On.Offset())
	assert.False(t, dusk.Off.IsSolar())
	assert.Equal(t, EveryDay, dusk.Days)
	assert.Equal(t, insteon.LevelFull, dusk.Level)

	weekend := rules[1]
	assert.Equal(t, 1, weekend.Index)
	assert.Equal(t, NewWeekdays(time.Saturday, time.Sunday), weekend.Days)
	assert.Equal(t, byte(128), weekend.Level)
}

func TestLoad_Errors(t *testing.T) {
	valid := config.DeviceConfig{
		Name:    "ok",
		Address: "08.2F.5C",
		On:      config.TriggerConfig{Time: "06:30"},
		Off:     config.TriggerConfig{Event: "sunrise"},
	}

	tests := []struct {
		name   string
		mutate func(d *config.DeviceConfig)
		want   error
	}{
		{"bad_clock", func(d *config.DeviceConfig) { d.On.Time = "6.30" }, ErrInvalidClock},
		{"clock_out_of_range", func(d *config.DeviceConfig) { d.On.Time = "24:00" }, ErrInvalidClock},
		{"empty_address", func(d *config.DeviceConfig) { d.Address = "" }, insteon.ErrInvalidAddress},
		{"short_address", func(d *config.DeviceConfig) { d.Address = "08.2F" }, insteon.ErrInvalidAddress},
		{"bad_weekday", func(d *config.DeviceConfig) { d.Days = []string{"Funday"} }, ErrInvalidWeekday},
		{"bad_event", func(d *config.DeviceConfig) { d.Off.Event = "noon" }, ErrUnknownEvent},
		{"both_time_and_event", func(d *config.DeviceConfig) { d.On.Event = "sunset" }, ErrAmbiguousTrigger},
		{"neither_time_nor_event", func(d *config.DeviceConfig) { d.Off = config.TriggerConfig{} }, ErrAmbiguousTrigger},
		{"level_too_high", func(d *config.DeviceConfig) { d.Level = intPtr(256) }, ErrInvalidLevel},
		{"fixed_inverted", func(d *config.DeviceConfig) {
			d.On = config.TriggerConfig{Time: "23:30"}
			d.Off = config.TriggerConfig{Time: "06:00"}
		}, ErrInvertedWindow},
		{"fixed_empty", func(d *config.DeviceConfig) {
			d.On = config.TriggerConfig{Time: "22:00"}
			d.Off = config.TriggerConfig{Time: "21:30", Offset: 30}
		}, ErrInvertedWindow},
		{"off_pushed_past_midnight", func(d *config.DeviceConfig) {
			d.On = config.TriggerConfig{Time: "22:00"}
			d.Off = config.TriggerConfig{Time: "23:30", Offset: 45}
		}, ErrOutsideDay},
		{"both_pushed_past_midnight", func(d *config.DeviceConfig) {
			d.On = config.TriggerConfig{Time: "23:50", Offset: 20}
			d.Off = config.TriggerConfig{Time: "23:55", Offset: 30}
		}, ErrOutsideDay},
		{"on_pulled_before_midnight", func(d *config.DeviceConfig) {
			d.On = config.TriggerConfig{Time: "00:10", Offset: -20}
			d.Off = config.TriggerConfig{Time: "06:00"}
		}, ErrOutsideDay},
		{"same_event_inverted", func(d *config.DeviceConfig) {
			d.On = config.TriggerConfig{Event: "sunset", Offset: 10}
			d.Off = config.TriggerConfig{Event: "sunset", Offset: -10}
		}, ErrInvertedWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := valid
			tt.mutate(&bad)

			rules, err := Load([]config.DeviceConfig{valid, bad})
			require.Error(t, err)
			assert.Nil(t, rules, "table must not load partially")
			assert.ErrorIs(t, err, tt.want)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, 1, cfgErr.Index)
		})
	}
}

func TestLoad_ReportsAllErrors(t *testing.T) {
	_, err := Load([]config.DeviceConfig{
		{Name: "a", Address: "zz", On: config.TriggerConfig{Time: "06:00"}, Off: config.TriggerConfig{Time: "07:00"}},
		{Name: "b", Address: "08.2F.5C", On: config.TriggerConfig{Time: "6"}, Off: config.TriggerConfig{Time: "07:00"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, insteon.ErrInvalidAddress)
	assert.ErrorIs(t, err, ErrInvalidClock)
}

func TestLoad_Empty(t *testing.T) {
	_, err := Load(nil)
	assert.ErrorIs(t, err, ErrNoRules)
}

func TestResolve_SolarAndFixed(t *testing.T) {
	rule := Rule{
		Name:    "Porch",
		Address: insteon.Address{0x08, 0x2F, 0x5C},
		On:      Solar(Sunset, -30*time.Minute),
		Off:     Fixed(23, 30, 0),
		Level:   insteon.LevelFull,
	}

	w, ok, err := Resolve(rule, testToday, testSun)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, w.On.Equal(at(19, 18)), "on = %s", w.On)
	assert.True(t, w.Off.Equal(at(23, 30)), "off = %s", w.Off)
	assert.Equal(t, testLoc, w.On.Location())
	assert.Equal(t, testLoc, w.Off.Location())
	assert.Equal(t, insteon.On, w.StateAt(at(20, 0)))
}

func TestResolve_IsPure(t *testing.T) {
	rule := Rule{
		Name:    "Shed",
		Address: insteon.Address{0x08, 0x2C, 0xD1},
		On:      Fixed(6, 30, 0),
		Off:     Solar(Sunrise, 0),
	}

	w1, ok1, err1 := Resolve(rule, testToday, testSun)
	w2, ok2, err2 := Resolve(rule, testToday, testSun)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, w1, w2)
}

func TestResolve_DayFilter(t *testing.T) {
	weekend := Rule{
		Name:    "Bench (Weekend)",
		Address: insteon.Address{0x1A, 0xEE, 0x97},
		On:      Fixed(9, 0, 0),
		Off:     Fixed(23, 30, 0),
		Days:    NewWeekdays(time.Saturday, time.Sunday),
	}

	// testToday is a Wednesday.
	_, ok, err := Resolve(weekend, testToday, testSun)
	require.NoError(t, err)
	assert.False(t, ok)

	saturday := testToday.AddDate(0, 0, 3)
	w, ok, err := Resolve(weekend, saturday, testSun)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 19, w.On.Day())
}

func TestResolve_OffsetLeavesDay(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		// Sunset 19:48 + 5h = 00:48 the next day.
		{"solar_after_midnight", Rule{Name: "Late", On: Solar(Sunset, 4*time.Hour), Off: Solar(Sunset, 5*time.Hour)}},
		// Sunrise 07:28 - 8h = 23:28 the previous day.
		{"solar_before_midnight", Rule{Name: "Early", On: Solar(Sunrise, -8*time.Hour), Off: Fixed(8, 0, 0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := Resolve(tt.rule, testToday, testSun)
			assert.False(t, ok)
			assert.ErrorIs(t, err, ErrOutsideDay)
		})
	}
}

func TestResolve_InvertedAtRuntime(t *testing.T) {
	// Order of sunset and 19:00 is only known once the day is known.
	rule := Rule{
		Name: "Inverted",
		On:   Solar(Sunset, 0),
		Off:  Fixed(19, 0, 0),
	}

	_, ok, err := Resolve(rule, testToday, testSun)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvertedWindow)
}

func TestResolve_MissingSolar(t *testing.T) {
	rule := Rule{Name: "Dusk", On: Solar(Sunset, 0), Off: Fixed(23, 30, 0)}

	_, ok, err := Resolve(rule, testToday, SunTimes{})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMissingSolar)
}

func TestWindow_Active(t *testing.T) {
	w := Window{On: at(20, 14), Off: at(21, 0)}

	tests := []struct {
		name string
		now  time.Time
		want insteon.State
	}{
		{"before", at(19, 0), insteon.Off},
		{"at_on", at(20, 14), insteon.On},
		{"inside", at(20, 30), insteon.On},
		{"at_off", at(21, 0), insteon.Off},
		{"after", at(21, 5), insteon.Off},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.StateAt(tt.now))
		})
	}
}

func TestCoalesce(t *testing.T) {
	bench := insteon.Address{0x1A, 0xEE, 0x97}
	porch := insteon.Address{0x08, 0x2F, 0x5C}

	windows := []Window{
		{Index: 0, Rule: "Porch - Dawn", Address: porch, On: at(6, 30), Off: at(7, 28)},
		{Index: 1, Rule: "Porch - Dusk", Address: porch, On: at(19, 18), Off: at(23, 30)},
		{Index: 2, Rule: "Bench", Address: bench, On: at(17, 48), Off: at(23, 30)},
		{Index: 3, Rule: "Bench (Weekend)", Address: bench, On: at(9, 0), Off: at(23, 30)},
	}

	got := Coalesce(windows)
	require.Len(t, got, 3)

	// Dawn and dusk stay separate.
	assert.Equal(t, "Porch - Dawn", got[0].Rule)
	assert.Equal(t, "Porch - Dusk", got[1].Rule)

	// Overlapping bench windows merge and keep the lowest index.
	assert.Equal(t, 2, got[2].Index)
	assert.True(t, got[2].On.Equal(at(9, 0)))
	assert.True(t, got[2].Off.Equal(at(23, 30)))
	assert.Equal(t, "Bench (Weekend) + Bench", got[2].Rule)
}

func TestCoalesce_LevelOfEarliestWindow(t *testing.T) {
	bench := insteon.Address{0x1A, 0xEE, 0x97}

	got := Coalesce([]Window{
		{Index: 0, Rule: "Bench", Address: bench, Level: 0xFF, On: at(17, 48), Off: at(23, 30)},
		{Index: 1, Rule: "Bench (Weekend)", Address: bench, Level: 0x80, On: at(9, 0), Off: at(20, 0)},
	})

	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, byte(0x80), got[0].Level, "device is switched on by the 09:00 window")
	assert.True(t, got[0].Off.Equal(at(23, 30)))
}

func TestCatchUp_OnePerAddress(t *testing.T) {
	porch := insteon.Address{0x08, 0x2F, 0x5C}
	shed := insteon.Address{0x08, 0x2C, 0xD1}

	windows := []Window{
		{Index: 0, Address: porch, Level: 0xFF, On: at(6, 30), Off: at(7, 28)},
		{Index: 1, Address: porch, Level: 0xFF, On: at(19, 18), Off: at(23, 30)},
		{Index: 2, Address: shed, Level: 0xFF, On: at(6, 30), Off: at(7, 28)},
	}

	cmds := CatchUp(windows, at(20, 0))
	require.Len(t, cmds, 2)
	assert.Equal(t, insteon.Command{Address: porch, State: insteon.On, Level: 0xFF}, cmds[0])
	assert.Equal(t, insteon.Command{Address: shed, State: insteon.Off, Level: 0xFF}, cmds[1])
}

func TestTimeSpecString(t *testing.T) {
	assert.Equal(t, "sunset-30m0s", Solar(Sunset, -30*time.Minute).String())
	assert.Equal(t, "sunrise", Solar(Sunrise, 0).String())
	assert.Equal(t, "06:30+15m0s", Fixed(6, 30, 15*time.Minute).String())
}

func TestWeekdays(t *testing.T) {
	assert.True(t, EveryDay.Includes(time.Tuesday))

	w, err := ParseWeekdays([]string{"Saturday", "SUN"})
	require.NoError(t, err)
	assert.True(t, w.Includes(time.Saturday))
	assert.True(t, w.Includes(time.Sunday))
	assert.False(t, w.Includes(time.Monday))
	assert.Equal(t, "Sun,Sat", w.String())
	assert.Equal(t, "every day", EveryDay.String())
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := config.Load("../../config.example.yaml")
	require.NoError(t, err)

	rules, err := Load(cfg.Devices)
	require.NoError(t, err)
	assert.Len(t, rules, 13)

	weekend := rules[7]
	assert.Equal(t, "Shop Bench Lights (Weekend)", weekend.Name)
	assert.False(t, weekend.Days.Includes(time.Wednesday))
	assert.True(t, weekend.Days.Includes(time.Sunday))
}
