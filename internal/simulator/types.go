package simulator

// TransitionType identifies one of the six synthetic transition archetypes.
type TransitionType string

const (
	// Classical bifurcations: variance increases near the transition
	// (critical slowing down).
	Pitchfork     TransitionType = "pitchfork"
	SaddleNode    TransitionType = "saddle_node"
	Hopf          TransitionType = "hopf"
	Transcritical TransitionType = "transcritical"
	// Commitment transitions: variance decreases near the transition.
	Nucleation TransitionType = "nucleation"
	Commitment TransitionType = "commitment"
)

// Types returns all transition archetypes in a fixed order.
func Types() []TransitionType {
	return []TransitionType{Pitchfork, SaddleNode, Hopf, Transcritical, Nucleation, Commitment}
}

// ParseTransitionType validates a transition type tag.
func ParseTransitionType(s string) (TransitionType, bool) {
	t := TransitionType(s)
	switch t {
	case Pitchfork, SaddleNode, Hopf, Transcritical, Nucleation, Commitment:
		return t, true
	}
	return "", false
}

// Config holds the immutable parameters of one simulation. Identical
// configs with the same seed reproduce identical trajectories.
type Config struct {
	Type               TransitionType
	Duration           int     // number of discrete steps
	Dt                 float64 // integration step
	NoiseLevel         float64 // noise intensity sigma
	TransitionFraction float64 // where in [0,1] the transition is targeted
	Seed               *int64  // nil means non-deterministic
}

func (c Config) withDefaults() Config {
	if c.Duration <= 0 {
		c.Duration = 1000
	}
	if c.Dt <= 0 {
		c.Dt = 0.01
	}
	if c.NoiseLevel < 0 {
		c.NoiseLevel = 0.1
	}
	if c.TransitionFraction <= 0 || c.TransitionFraction >= 1 {
		c.TransitionFraction = 0.6
	}
	return c
}

// Result is the read-only output of one simulation. All slices have
// length Config.Duration; the leading entries of VarianceTrajectory are
// NaN until the first full rolling window.
type Result struct {
	Time               []float64
	State              []float64
	ControlParam       []float64
	TransitionIndex    int
	Type               TransitionType
	Config             Config
	VarianceTrajectory []float64
}
