package joinengine

import "github.com/csvquery/equijoin/internal/jointuple"

// combineOutput assembles one output row (spec §3: width = leftTupleSize +
// rightTupleSize - numKeys; keys then left payload then right payload).
func combineOutput(left, right jointuple.Tuple, numKeys int) jointuple.Tuple {
	out := make([]jointuple.Value, 0, numKeys+len(left.Values)-numKeys+len(right.Values)-numKeys)
	out = append(out, left.Values[:numKeys]...)
	out = append(out, left.Values[numKeys:]...)
	out = append(out, right.Values[numKeys:]...)
	return jointuple.Tuple{Values: out}
}

// nullPayload builds a width-length all-null Value slice. The exact Kind
// tag doesn't matter for an outer-join filler column: every consumer of an
// outer row checks Value.Null, not Value.Kind.
func nullPayload(width int) []jointuple.Value {
	out := make([]jointuple.Value, width)
	for i := range out {
		out[i] = jointuple.NullValue(jointuple.KindInt64)
	}
	return out
}

// combineLeftOuter builds an output row for a left tuple with no matching
// right tuple: left's keys and payload, right's payload all-null.
// rightPayloadWidth is rightTupleSize - numKeys.
func combineLeftOuter(left jointuple.Tuple, rightPayloadWidth int) jointuple.Tuple {
	out := make([]jointuple.Value, 0, len(left.Values)+rightPayloadWidth)
	out = append(out, left.Values...)
	out = append(out, nullPayload(rightPayloadWidth)...)
	return jointuple.Tuple{Values: out}
}

// combineRightOuter is combineLeftOuter's mirror for an unmatched right
// tuple: right's keys (the join keys are byte-identical per P-2) and null
// left payload, then right's payload. leftPayloadWidth is
// leftTupleSize - numKeys.
func combineRightOuter(right jointuple.Tuple, numKeys, leftPayloadWidth int) jointuple.Tuple {
	out := make([]jointuple.Value, 0, numKeys+leftPayloadWidth+len(right.Values)-numKeys)
	out = append(out, right.Values[:numKeys]...)
	out = append(out, nullPayload(leftPayloadWidth)...)
	out = append(out, right.Values[numKeys:]...)
	return jointuple.Tuple{Values: out}
}
