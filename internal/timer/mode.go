package timer

// Mode is the externally supplied "current activity" driving accrual.
type Mode string

const (
	ModeWorkSilence   Mode = "work_silence"
	ModeWorkMusic     Mode = "work_music"
	ModeWorkVideo     Mode = "work_video"
	ModeWorkScrolling Mode = "work_scrolling"
	ModeWorkGaming    Mode = "work_gaming"
	ModeWorkGym       Mode = "work_gym"
	ModeGym           Mode = "gym"
	ModeIdle          Mode = "idle"
	ModeBreak         Mode = "break"
	ModePause         Mode = "pause"
	ModeSleeping      Mode = "sleeping"
)

// rates maps each accruing mode to a signed rational rate (num/den)
// applied to elapsed milliseconds. Positive earns break credit,
// negative spends it.
var rates = map[Mode][2]int64{
	ModeWorkSilence:   {1, 2},
	ModeWorkMusic:     {1, 2},
	ModeWorkVideo:     {-1, 4},
	ModeWorkScrolling: {-1, 2},
	ModeWorkGaming:    {-1, 2},
	ModeWorkGym:       {3, 4},
	ModeGym:           {1, 1},
}

// Valid reports whether m is one of the eleven known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeWorkSilence, ModeWorkMusic, ModeWorkVideo, ModeWorkScrolling,
		ModeWorkGaming, ModeWorkGym, ModeGym, ModeIdle, ModeBreak,
		ModePause, ModeSleeping:
		return true
	}
	return false
}

// IsWork reports whether m is one of the work_* modes.
// Note: gym accrues like work but is not "work-like" for lock purposes.
func (m Mode) IsWork() bool {
	switch m {
	case ModeWorkSilence, ModeWorkMusic, ModeWorkVideo, ModeWorkScrolling,
		ModeWorkGaming, ModeWorkGym:
		return true
	}
	return false
}

// rate returns the signed rational break-credit rate for m.
// Modes without an entry are neutral (0/1).
func (m Mode) rate() (num, den int64) {
	r, ok := rates[m]
	if !ok {
		return 0, 1
	}
	return r[0], r[1]
}
