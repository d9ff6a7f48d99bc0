// Package metrics centralizes metric names and tag conventions for jobs.
package metrics

import (
	"time"

	obserrors "github.com/devion-industries/maintainer-brief/internal/observability/errors"
	"github.com/devion-industries/maintainer-brief/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a queue lifecycle event for metric emission.
type JobMetric struct {
	Kind       string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_kind":   in.Kind,
		"transition": in.Transition,
		"result":     in.Result,
	}
	addErrorClass(tags, in.Result, in.Err)

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// StageMetric describes one pipeline stage execution.
type StageMetric struct {
	Stage    string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitPipelineStage records the duration and outcome of a pipeline stage.
func EmitPipelineStage(sink statsd.Sink, in StageMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"stage": in.Stage, "result": in.Result}
	addErrorClass(tags, in.Result, in.Err)
	sink.Count("pipeline.stage", 1, tags)
	sink.Timing("pipeline.stage_duration", in.Duration, CloneTags(tags))
}

func addErrorClass(tags map[string]string, result string, err error) {
	if err == nil || result != ResultError {
		return
	}
	if class := obserrors.Classify(err); class != "" {
		tags["error_class"] = class
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
