// Package coach turns user preferences and a routine into the session
// configuration sent to the remote model.
//
// Everything here is pure: [Instructions] and [SessionConfig] perform no I/O
// and are safe for concurrent use. The engine treats the rendered
// instruction as an opaque string.
package coach

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/pranaflow/internal/engine"
	"github.com/MrWong99/pranaflow/pkg/live"
)

// Level is the practitioner's experience.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Focus is the outcome the user wants from their practice.
type Focus string

const (
	FocusCalm    Focus = "calm"
	FocusEnergy  Focus = "energy"
	FocusSleep   Focus = "sleep"
	FocusBalance Focus = "balance"
)

// Environment is where the user practises.
type Environment string

const (
	EnvironmentWalk   Environment = "nature-walk"
	EnvironmentSeated Environment = "seated-meditation"
)

// JournalStyle selects the reflection prompts of the night routine.
type JournalStyle string

const (
	JournalStandard       JournalStyle = "standard"
	JournalGratitude      JournalStyle = "gratitude"
	JournalRelease        JournalStyle = "release"
	JournalLearning       JournalStyle = "learning"
	JournalSleepInduction JournalStyle = "sleep_induction"
)

// Ratio is the target inhale:exhale ratio applied to generic patterns.
type Ratio string

const (
	RatioCoherent     Ratio = "1:1"
	RatioRelaxed      Ratio = "1:1.5"
	RatioDownregulate Ratio = "1:2"
	RatioUpregulate   Ratio = "2:1"
)

// Condition is a health condition that restricts which techniques are safe.
type Condition string

const (
	ConditionPregnancy    Condition = "pregnancy"
	ConditionHypertension Condition = "hypertension"
	ConditionEpilepsy     Condition = "epilepsy"
)

// Routine is the session mode chosen when connecting.
type Routine string

const (
	RoutineMorning Routine = "morning"
	RoutineFocus   Routine = "focus"
	RoutineWalk    Routine = "walk"
	RoutineNight   Routine = "night"
	RoutineSleep   Routine = "sleep"
)

// Voice is one prebuilt voice offered by the remote model.
type Voice struct {
	Name        string
	Description string
}

// Voices lists the prebuilt voices in display order.
var Voices = []Voice{
	{Name: "Kore", Description: "grounded, soothing"},
	{Name: "Zephyr", Description: "soft, empathic"},
	{Name: "Fenrir", Description: "deep, authoritative"},
	{Name: "Charon", Description: "steady, composed"},
	{Name: "Puck", Description: "bright, dynamic"},
}

// Routines lists the routine modes in display order.
var Routines = []Routine{RoutineMorning, RoutineFocus, RoutineWalk, RoutineNight, RoutineSleep}

var (
	levels      = []Level{LevelBeginner, LevelIntermediate, LevelAdvanced}
	focuses     = []Focus{FocusCalm, FocusEnergy, FocusSleep, FocusBalance}
	envs        = []Environment{EnvironmentWalk, EnvironmentSeated}
	styles      = []JournalStyle{JournalStandard, JournalGratitude, JournalRelease, JournalLearning, JournalSleepInduction}
	ratios      = []Ratio{RatioCoherent, RatioRelaxed, RatioDownregulate, RatioUpregulate}
	conditions  = []Condition{ConditionPregnancy, ConditionHypertension, ConditionEpilepsy}
	routineName = map[Routine]string{
		RoutineMorning: "Sunrise Protocol",
		RoutineFocus:   "Focus State",
		RoutineWalk:    "Kinetic Sync",
		RoutineNight:   "Moonlight Log",
		RoutineSleep:   "Delta Wave",
	}
)

// Preferences is the user's coaching profile.
type Preferences struct {
	Level        Level        `yaml:"experience_level"`
	Focus        Focus        `yaml:"focus"`
	Environment  Environment  `yaml:"environment"`
	Voice        string       `yaml:"voice"`
	JournalStyle JournalStyle `yaml:"journal_prompt_style"`
	Ratio        Ratio        `yaml:"breathing_ratio"`
	Conditions   []Condition  `yaml:"health_conditions"`
}

// DefaultPreferences returns the profile used before onboarding.
func DefaultPreferences() Preferences {
	return Preferences{
		Level:        LevelBeginner,
		Focus:        FocusCalm,
		Environment:  EnvironmentSeated,
		Voice:        "Kore",
		JournalStyle: JournalStandard,
		Ratio:        RatioCoherent,
	}
}

// WithDefaults fills every empty field from [DefaultPreferences].
func (p Preferences) WithDefaults() Preferences {
	d := DefaultPreferences()
	if p.Level == "" {
		p.Level = d.Level
	}
	if p.Focus == "" {
		p.Focus = d.Focus
	}
	if p.Environment == "" {
		p.Environment = d.Environment
	}
	if p.Voice == "" {
		p.Voice = d.Voice
	}
	if p.JournalStyle == "" {
		p.JournalStyle = d.JournalStyle
	}
	if p.Ratio == "" {
		p.Ratio = d.Ratio
	}
	return p
}

// Has reports whether the user declared condition c.
func (p Preferences) Has(c Condition) bool {
	return slices.Contains(p.Conditions, c)
}

// Validate checks every enumerated field. Empty fields are accepted and take
// their defaults at render time. All problems are returned joined.
func (p Preferences) Validate() error {
	var errs []error
	if p.Level != "" && !slices.Contains(levels, p.Level) {
		errs = append(errs, fmt.Errorf("experience_level %q is not one of %v", p.Level, levels))
	}
	if p.Focus != "" && !slices.Contains(focuses, p.Focus) {
		errs = append(errs, fmt.Errorf("focus %q is not one of %v", p.Focus, focuses))
	}
	if p.Environment != "" && !slices.Contains(envs, p.Environment) {
		errs = append(errs, fmt.Errorf("environment %q is not one of %v", p.Environment, envs))
	}
	if p.Voice != "" && !IsVoice(p.Voice) {
		errs = append(errs, fmt.Errorf("voice %q is not a known voice", p.Voice))
	}
	if p.JournalStyle != "" && !slices.Contains(styles, p.JournalStyle) {
		errs = append(errs, fmt.Errorf("journal_prompt_style %q is not one of %v", p.JournalStyle, styles))
	}
	if p.Ratio != "" && !slices.Contains(ratios, p.Ratio) {
		errs = append(errs, fmt.Errorf("breathing_ratio %q is not one of %v", p.Ratio, ratios))
	}
	for _, c := range p.Conditions {
		if !slices.Contains(conditions, c) {
			errs = append(errs, fmt.Errorf("health condition %q is not one of %v", c, conditions))
		}
	}
	return errors.Join(errs...)
}

// IsVoice reports whether name is one of [Voices].
func IsVoice(name string) bool {
	return slices.ContainsFunc(Voices, func(v Voice) bool { return v.Name == name })
}

// ParseRoutine resolves a routine name. The empty string yields
// [RoutineMorning].
func ParseRoutine(s string) (Routine, error) {
	if s == "" {
		return RoutineMorning, nil
	}
	r := Routine(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Routines, r) {
		return "", fmt.Errorf("coach: unknown routine %q", s)
	}
	return r, nil
}

// Label returns the display name of the routine.
func (r Routine) Label() string {
	if n, ok := routineName[r]; ok {
		return n
	}
	return string(r)
}

// SessionConfig assembles the live session configuration for one connection.
func SessionConfig(prefs Preferences, routine Routine) live.SessionConfig {
	prefs = prefs.WithDefaults()
	return live.SessionConfig{
		Voice:        prefs.Voice,
		Instructions: Instructions(prefs, routine),
		Tools:        engine.Tools(),
	}
}
