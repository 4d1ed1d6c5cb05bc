package bus

// PayloadTypeFilter builds a predicate that matches events whose Payload
// is one of the given Go types, letting a subscriber narrow past the
// topic prefix down to a specific payload shape: category set x
// payload-type set x optional predicate.
func PayloadTypeFilter(types ...interface{}) func(Event) bool {
	names := make(map[string]struct{}, len(types))
	for _, t := range types {
		names[typeName(t)] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := names[typeName(e.Payload)]
		return ok
	}
}

// CorrelationFilter matches only events sharing the given correlation
// id, useful for a caller waiting on the outcome of one specific
// submission.
func CorrelationFilter(correlationID string) func(Event) bool {
	return func(e Event) bool { return e.CorrelationID == correlationID }
}

// And combines predicates; a nil element is ignored.
func And(filters ...func(Event) bool) func(Event) bool {
	return func(e Event) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case TaskStateChangedEvent:
		return "TaskStateChangedEvent"
	case TaskFailedEvent:
		return "TaskFailedEvent"
	case MergeConflictEvent:
		return "MergeConflictEvent"
	case HumanEscalationEvent:
		return "HumanEscalationEvent"
	case RefinementEvent:
		return "RefinementEvent"
	default:
		return "unknown"
	}
}
