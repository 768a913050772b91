package orchestrator

import (
	"errors"

	"golang.org/x/sync/errgroup"
)

// DefaultStageLimit bounds concurrent work per pipeline stage.
const DefaultStageLimit = 4

// StagePools bounds how many utterances may occupy each pipeline stage at
// once. Each stage has its own pool so a slow reasoning backend cannot starve
// transcription or synthesis. Submission blocks when a stage is saturated,
// which applies backpressure to the session instead of queueing unboundedly.
type StagePools struct {
	stt *errgroup.Group
	llm *errgroup.Group
	tts *errgroup.Group
}

// NewStagePools creates the per-stage pools. Limits ≤ 0 use DefaultStageLimit.
func NewStagePools(sttLimit, llmLimit, ttsLimit int) *StagePools {
	p := &StagePools{
		stt: &errgroup.Group{},
		llm: &errgroup.Group{},
		tts: &errgroup.Group{},
	}
	p.stt.SetLimit(limitOrDefault(sttLimit))
	p.llm.SetLimit(limitOrDefault(llmLimit))
	p.tts.SetLimit(limitOrDefault(ttsLimit))
	return p
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return DefaultStageLimit
	}
	return n
}

// GoSTT submits transcription work, blocking while the stage is saturated.
func (p *StagePools) GoSTT(fn func() error) { p.stt.Go(fn) }

// GoLLM submits reasoning work, blocking while the stage is saturated.
func (p *StagePools) GoLLM(fn func() error) { p.llm.Go(fn) }

// GoTTS submits synthesis work, blocking while the stage is saturated.
func (p *StagePools) GoTTS(fn func() error) { p.tts.Go(fn) }

// Wait drains all three stages and returns their first errors joined.
// Called once at shutdown after no more work will be submitted.
func (p *StagePools) Wait() error {
	return errors.Join(p.stt.Wait(), p.llm.Wait(), p.tts.Wait())
}
