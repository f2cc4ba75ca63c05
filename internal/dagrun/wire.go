package dagrun

import "encoding/json"

// EncodeStartOptions serializes opts for a workflow job's Payload field,
// the launch parameters a `workflow start --param key=value` CLI invocation
// carries across the job queue to the worker that runs the Workflow
// Scheduler.
func EncodeStartOptions(opts StartOptions) ([]byte, error) {
	return json.Marshal(opts)
}

// DecodeStartOptions is the worker-side counterpart to
// EncodeStartOptions. An empty payload decodes to the zero StartOptions.
func DecodeStartOptions(payload []byte) (StartOptions, error) {
	if len(payload) == 0 {
		return StartOptions{}, nil
	}
	var opts StartOptions
	if err := json.Unmarshal(payload, &opts); err != nil {
		return StartOptions{}, err
	}
	return opts, nil
}
