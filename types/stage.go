package types

// Stage 单个 turn 在流水线中的阶段
type Stage string

const (
	StageIdle         Stage = "idle"
	StageTranscribing Stage = "transcribing"
	StageGenerating   Stage = "generating"
	StageSynthesizing Stage = "synthesizing"
	StageRendering    Stage = "rendering"
	StageDelivering   Stage = "delivering"
	StageError        Stage = "error"
)

// IsWorking reports whether a turn is in flight.
func (s Stage) IsWorking() bool {
	switch s {
	case StageTranscribing, StageGenerating, StageSynthesizing, StageRendering, StageDelivering:
		return true
	default:
		return false
	}
}

// validTransitions 合法的阶段迁移；任意工作阶段都可以进入 Error
var validTransitions = map[Stage][]Stage{
	StageIdle:         {StageTranscribing, StageGenerating},
	StageTranscribing: {StageGenerating, StageError},
	StageGenerating:   {StageSynthesizing, StageError},
	StageSynthesizing: {StageRendering, StageError},
	StageRendering:    {StageDelivering, StageError},
	StageDelivering:   {StageIdle, StageError},
	StageError:        {StageIdle},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Stage) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
