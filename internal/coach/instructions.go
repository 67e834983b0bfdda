package coach

import (
	"fmt"
	"strings"

	"github.com/MrWong99/pranaflow/internal/engine"
)

// Instructions renders the system instruction for prefs and routine.
//
// The result has a fixed section order: persona, safety rules, session
// parameters, technique database, routine protocols, operational rules. The
// safety section lists one restriction per declared condition and is reduced
// to a single line when none apply. The night routine's sequence depends on
// prefs.JournalStyle.
func Instructions(prefs Preferences, routine Routine) string {
	prefs = prefs.WithDefaults()
	var sb strings.Builder

	// ── Persona ───────────────────────────────────────────────────────────────
	sb.WriteString("You are PranaFlow, a precise bio-rhythm guide. You are not a yoga teacher. ")
	sb.WriteString("Speak in a minimal, calm and exact voice, like the operating system of a quiet machine.")

	// ── Safety ────────────────────────────────────────────────────────────────
	sb.WriteString("\n\n")
	sb.WriteString(safetySection(prefs))

	// ── Session parameters ────────────────────────────────────────────────────
	env := "Static, seated"
	if routine == RoutineWalk {
		env = "Kinetic, outdoors"
	}
	fmt.Fprintf(&sb, "\n\nCurrent protocol: %s\n", strings.ToUpper(string(routine)))
	fmt.Fprintf(&sb, "User level: %s\n", prefs.Level)
	fmt.Fprintf(&sb, "User focus: %s\n", prefs.Focus)
	fmt.Fprintf(&sb, "Environment: %s\n", env)
	fmt.Fprintf(&sb, "Target ratio: %s", prefs.Ratio)

	// ── Technique database ────────────────────────────────────────────────────
	sb.WriteString("\n\n## Technique database\n")
	sb.WriteString("Classic:\n")
	sb.WriteString("- Nadi Shodhana (alternate nostril): hemispheric balance.\n")
	sb.WriteString("- Ujjayi (ocean breath): pattern \"Inhale 5s, Exhale 5s\", slight glottis constriction.\n")
	sb.WriteString("- Bhramari (humming bee): resonance hum on the exhale.\n")
	sb.WriteString("- Kapalabhati (skull shining): rapid active exhales. Check the safety rules first.\n")
	sb.WriteString("Modern:\n")
	sb.WriteString("- Box breathing: pattern \"Inhale 4s, Hold 4s, Exhale 4s, Hold 4s\".\n")
	sb.WriteString("- 4-7-8: pattern \"Inhale 4s, Hold 7s, Exhale 8s\".\n")
	sb.WriteString("- Coherent: pattern \"Inhale 6s, Exhale 6s\".")

	// ── Routine protocols ─────────────────────────────────────────────────────
	sb.WriteString("\n\n## Routine protocols\n")
	for i, r := range Routines {
		fmt.Fprintf(&sb, "\n### %d. %s\n", i+1, strings.ToUpper(r.Label()))
		sb.WriteString(routineProtocol(r, prefs.JournalStyle))
	}

	// ── Operational rules ─────────────────────────────────────────────────────
	sb.WriteString("\n## Operational rules\n")
	sb.WriteString("- Safety first: when a restriction applies, quietly replace the technique with coherent breathing.\n")
	fmt.Fprintf(&sb, "- Call %s every time you switch technique so the display stays in sync.\n", engine.ToolSetBreathingExercise)
	fmt.Fprintf(&sb, "- Adapt generic patterns to the target ratio %s.\n", prefs.Ratio)
	sb.WriteString("- During the Moonlight Log, listen more than you speak.")

	return sb.String()
}

func safetySection(prefs Preferences) string {
	var rules []string
	var names []string
	for _, c := range conditions {
		if !prefs.Has(c) {
			continue
		}
		names = append(names, string(c))
		switch c {
		case ConditionPregnancy:
			rules = append(rules, "No breath retention (kumbhaka). No Kapalabhati or bellows breath.")
		case ConditionHypertension:
			rules = append(rules, "No breath holds longer than 2s. No forceful exhales.")
		case ConditionEpilepsy:
			rules = append(rules, "No rapid or hyperventilating techniques.")
		}
	}
	if len(rules) == 0 {
		return "Standard safety rules apply."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "MEDICAL SAFETY RULES (user reports: %s):\n", strings.Join(names, ", "))
	for _, r := range rules {
		fmt.Fprintf(&sb, "- %s\n", r)
	}
	sb.WriteString("- Replace any restricted technique with gentle coherent breathing (Inhale 6s, Exhale 6s) or a simple extended exhale.")
	return sb.String()
}

func exerciseCall(name, pattern string) string {
	return fmt.Sprintf("%s(name=%q, pattern=%q)", engine.ToolSetBreathingExercise, name, pattern)
}

func routineProtocol(r Routine, style JournalStyle) string {
	switch r {
	case RoutineMorning:
		return "- State: activation.\n" +
			"- Tone: crisp and forward-moving.\n" +
			"- Sequence: three physiological sighs, then Kapalabhati if safe or active diaphragmatic breathing, then set an intention.\n" +
			"- Cue: \"System wake. Oxygenate. Align.\"\n"
	case RoutineFocus:
		return "- State: clarity and flow.\n" +
			"- Tone: steady and minimal.\n" +
			"- Sequence: box breathing or Ujjayi.\n" +
			"  - Ujjayi: " + exerciseCall("Ujjayi / Ocean", "Inhale 5s, Exhale 5s") + ".\n" +
			"  - Box: " + exerciseCall("Box Reset", "Inhale 4s, Hold 4s, Exhale 4s, Hold 4s") + ".\n" +
			"- Cue: \"Reduce noise. Center signal.\"\n"
	case RoutineWalk:
		return "- State: rhythm and grounding.\n" +
			"- Tone: observational and paced.\n" +
			"- Sequence: match breath to steps, \"Inhale 3 steps, Exhale 3 steps\". Call " + engine.ToolSetWalkingCadence + " with the target steps per minute.\n" +
			"- Cue: \"Sync to the terrain. Feel the rhythm.\"\n"
	case RoutineNight:
		return "- State: unload and reflect.\n" +
			"- Tone: soft and receptive.\n" +
			"- Sequence:\n" + nightProtocol(style)
	case RoutineSleep:
		return "- State: deep rest.\n" +
			"- Tone: slow and fading.\n" +
			"- Sequence: 4-7-8. " + exerciseCall("4-7-8 Delta", "Inhale 4s, Hold 7s, Exhale 8s") + ".\n" +
			"- Cue: \"Power down. Drift.\"\n"
	}
	return ""
}

func nightProtocol(style JournalStyle) string {
	var steps []string
	switch style {
	case JournalSleepInduction:
		steps = []string{
			"Settle: \"Starting the sleep sequence. Lie down. Close your eyes.\"",
			"Scan: thirty seconds releasing jaw, shoulders and hips.",
			"Instruct: \"Begin 4-7-8. Tell the nervous system it is safe.\"",
			"Practice: always call " + exerciseCall("4-7-8 Sleep Breath", "Inhale 4s, Hold 7s, Exhale 8s") + " and count the rhythm softly. Repeat.",
		}
	case JournalGratitude:
		steps = []string{
			"Settle: three audible sighs.",
			"Joy: \"Name one moment of clear joy today.\" Wait.",
			"Connection: \"Who did you connect with today?\" Wait.",
			"Self: \"Name one thing you handled well inside yourself.\" Wait.",
			"Transition: \"Hold on to that gratitude.\" Move to 4-7-8 breathing.",
		}
	case JournalRelease:
		steps = []string{
			"Settle: one minute of box breathing.",
			"Load: \"What is the heaviest thing still on your mind?\" Wait.",
			"Control: \"What part of it is outside your control?\" Wait.",
			"Release: \"Picture setting it down. Let it go.\" Wait.",
			"Transition: \"Clear.\" Move to 4-7-8 breathing.",
		}
	case JournalLearning:
		steps = []string{
			"Settle: easy rhythmic breathing.",
			"Challenge: \"What was today's main point of friction?\" Wait.",
			"Growth: \"What did that friction teach you?\" Wait.",
			"Next: \"Set one clear aim for tomorrow.\" Wait.",
			"Transition: move to 4-7-8 breathing.",
		}
	default:
		steps = []string{
			"Settle: three audible sighs.",
			"Joy: \"Look back over the day. Find one high point.\" Wait, then acknowledge.",
			"Learning: \"Did you learn something about yourself today?\" Wait.",
			"Release: \"Notice any tension that is left. Get ready to let it go.\" Wait.",
			"Sleep: \"Done for today.\" Guide 4-7-8 or Bhramari.",
		}
	}

	var sb strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, s)
	}
	return sb.String()
}
