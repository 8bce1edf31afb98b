// internal/models/run.go
package models

// SceneState is the per-scene position in the processing state machine.
type SceneState string

const (
	StatePending         SceneState = "PENDING"
	StateFetchingContext SceneState = "FETCHING_CONTEXT"
	StateQueryingExperts SceneState = "QUERYING_EXPERTS"
	StateSynthesizing    SceneState = "SYNTHESIZING"
	StateScoring         SceneState = "SCORING"
	StatePersisting      SceneState = "PERSISTING"
	StateDone            SceneState = "DONE"
	StateFailed          SceneState = "FAILED"
)

// Terminal reports whether the state machine has finished with a scene.
func (s SceneState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// RunMode selects which scenes a run processes.
type RunMode string

const (
	ModeFull       RunMode = "full"
	ModeResume     RunMode = "resume"
	ModeRegenerate RunMode = "regenerate"
)

// RunRequest describes one pipeline run. StartFrom applies to resume
// mode; SceneNumbers applies to regenerate mode.
type RunRequest struct {
	Mode         RunMode `json:"mode"`
	StartFrom    int     `json:"startFrom,omitempty"`
	SceneNumbers []int   `json:"sceneNumbers,omitempty"`
}

// ProcessingOutcome records how one scene's turn through the state
// machine ended.
type ProcessingOutcome struct {
	SceneNumber       int             `json:"sceneNumber"`
	SceneTitle        string          `json:"sceneTitle"`
	State             SceneState      `json:"state"`
	ExpertCount       int             `json:"expertCount"`
	SynthesisFallback bool            `json:"synthesisFallback"`
	DeltaFallback     bool            `json:"deltaFallback"`
	Confidence        ConfidenceScore `json:"confidence"`
	ErrorCode         string          `json:"errorCode,omitempty"`
}

// RunReport is the end-of-run summary: one outcome per processed scene
// plus the resumption point for a future resume run.
type RunReport struct {
	RunID         string              `json:"runId"`
	Mode          RunMode             `json:"mode"`
	Outcomes      []ProcessingOutcome `json:"outcomes"`
	Completed     int                 `json:"completed"`
	Failed        int                 `json:"failed"`
	LastCompleted int                 `json:"lastCompleted"`
	Cancelled     bool                `json:"cancelled"`
}
