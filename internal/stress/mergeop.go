package stress

// PutMergeOperator makes db.DB.Merge behave exactly like db.DB.Put: the
// last operand wins, regardless of the existing value or of any earlier
// operand. This is what §4.4 means by "use_merge_put ... must behave
// semantically as put" — the workload driver issues a Merge call instead
// of a Put call, but the shadow model and the verifier must observe the
// same outcome either way.
//
// Reference: grounded on merge_operator.go's StringAppendOperator (same
// Name/FullMerge/PartialMerge shape), with concatenation replaced by
// last-write-wins, since string concatenation would diverge from the
// shadow model's single-value-per-key semantics.
type PutMergeOperator struct{}

// Name returns the name of this merge operator.
func (PutMergeOperator) Name() string {
	return "PutMergeOperator"
}

// FullMerge discards existingValue and every operand but the last.
func (PutMergeOperator) FullMerge(_ []byte, existingValue []byte, operands [][]byte) ([]byte, bool) {
	if len(operands) == 0 {
		return existingValue, true
	}
	return operands[len(operands)-1], true
}

// PartialMerge discards left; right always wins.
func (PutMergeOperator) PartialMerge(_ []byte, _, right []byte) ([]byte, bool) {
	return right, true
}
