package segment

// Decide applies the fusion policy: a turn is accepted only when the voice
// score reaches threshold and both the voice and face verdicts are
// positive. A score equal to the threshold passes.
func Decide(ev Evidence, threshold float64) Decision {
	if ev.Score >= threshold && ev.Voice && ev.Face {
		return DecisionAccept
	}
	return DecisionReject
}
