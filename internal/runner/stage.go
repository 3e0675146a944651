package runner

// stage is the position of one invocation in the pipeline:
//
//	parsing -> help
//	parsing -> build-spec-ready -> image-ready -> spec-assembled -> executing -> completed|failed
//	                            -> build-failed
type stage int

const (
	stageParsing stage = iota
	stageHelp
	stageBuildSpecReady
	stageImageReady
	stageBuildFailed
	stageSpecAssembled
	stageExecuting
	stageCompleted
	stageFailed
)

var stageNames = [...]string{
	stageParsing:        "parsing",
	stageHelp:           "help",
	stageBuildSpecReady: "build-spec-ready",
	stageImageReady:     "image-ready",
	stageBuildFailed:    "build-failed",
	stageSpecAssembled:  "spec-assembled",
	stageExecuting:      "executing",
	stageCompleted:      "completed",
	stageFailed:         "failed",
}

func (s stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// terminal reports whether no further transition can follow.
func (s stage) terminal() bool {
	switch s {
	case stageHelp, stageBuildFailed, stageCompleted, stageFailed:
		return true
	}
	return false
}

func (r *runner) transition(next stage, attrs ...any) {
	if r.stage.terminal() {
		return
	}
	prev := r.stage
	r.stage = next
	r.logger.Debug("pipeline stage", append([]any{"from", prev.String(), "to", next.String()}, attrs...)...)
}
