package handler

import (
	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/internal/reactor"
)

// OutcomeLogger emits one summary line per evaluation at info level when
// assertions passed, error level per failing expression otherwise.
type OutcomeLogger struct {
	lg *zap.Logger
}

func NewOutcomeLogger(lg *zap.Logger) *OutcomeLogger { return &OutcomeLogger{lg: lg} }

func (h *OutcomeLogger) ID() string { return "logger" }

func (h *OutcomeLogger) Handle(ev reactor.Evaluated, _ map[string]any) error {
	lines := reactor.AssertionsLine(ev.AID, ev.Groups)

	anyFailed := false
	for _, g := range ev.Groups {
		if len(g.Failures) > 0 {
			anyFailed = true
			break
		}
	}

	for _, line := range lines {
		if anyFailed {
			h.lg.Error(line, zap.String("aid", ev.AID), zap.String("eid", ev.EID))
		} else {
			h.lg.Info(line, zap.String("aid", ev.AID), zap.String("eid", ev.EID))
		}
	}
	return nil
}
