package canvas

import "encoding/json"

// mergeArgs binary-concatenates a previous step's result into a step's own
// static args per the on-wire JSON contract (spec §6): the previous
// result is nested under the reserved "previousResult" key alongside
// whatever fields the step's own Args already carries. A step with no
// static args of its own receives the previous result verbatim.
func mergeArgs(previous []byte, stepArgs []byte) []byte {
	if len(stepArgs) == 0 {
		return previous
	}
	if len(previous) == 0 {
		return stepArgs
	}
	merged := map[string]json.RawMessage{}
	_ = json.Unmarshal(stepArgs, &merged)
	merged["previousResult"] = json.RawMessage(previous)
	b, err := json.Marshal(merged)
	if err != nil {
		return stepArgs
	}
	return b
}

// mergeGroupResults nests every group child's result, keyed by task id,
// under the reserved "groupResults" field of the callback's own args.
func mergeGroupResults(results map[string][]byte, callbackArgs []byte) []byte {
	merged := map[string]json.RawMessage{}
	if len(callbackArgs) > 0 {
		_ = json.Unmarshal(callbackArgs, &merged)
	}
	nested := map[string]json.RawMessage{}
	for id, r := range results {
		nested[id] = json.RawMessage(r)
	}
	nestedBytes, err := json.Marshal(nested)
	if err != nil {
		return callbackArgs
	}
	merged["groupResults"] = nestedBytes
	b, err := json.Marshal(merged)
	if err != nil {
		return callbackArgs
	}
	return b
}
