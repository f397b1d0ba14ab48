package handler

import (
	"bytes"
	"encoding/json"
	"os/exec"
	"strings"

	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	apierrors "github.com/sysinspect/sysinspect/api/errors"
	"github.com/sysinspect/sysinspect/internal/reactor"
)

// PipeScript pipes a JSON (or YAML) document describing the action
// outcome into the stdin of a configured external program, for retcode
// 0 results only. It does not wait for the child to finish, so it never
// blocks the reactor.
type PipeScript struct {
	lg *zap.Logger
}

func NewPipeScript(lg *zap.Logger) *PipeScript { return &PipeScript{lg: lg} }

func (h *PipeScript) ID() string { return "pipescript" }

func (h *PipeScript) Handle(ev reactor.Evaluated, cfg map[string]any) error {
	if ev.Response.Retcode != 0 {
		return nil
	}
	program, _ := cfg["program"].(string)
	program = strings.TrimSpace(program)
	if program == "" {
		return nil
	}
	argv := strings.Fields(program)

	quiet, _ := cfg["quiet"].(bool)
	format, _ := cfg["format"].(string)
	if format == "" {
		format = "json"
	}

	doc := map[string]any{
		"id.entity": ev.EID,
		"id.action": ev.AID,
		"id.state":  ev.SID,
		"ret.code":  ev.Response.Retcode,
		"ret.warn":  ev.Response.Warnings,
		"ret.info":  ev.Response.Message,
		"ret.data":  ev.Response.Data,
		"timestamp": ev.Timestamp,
	}

	body, err := encodeDoc(doc, format)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInternal, err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(body)
	if err := cmd.Start(); err != nil {
		return apierrors.NewModulef("pipescript: failed to start %q: %v", program, err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			h.lg.Debug("pipescript child exited", zap.String("program", program), zap.Error(err))
		}
	}()

	if !quiet {
		h.lg.Info("pipescript", zap.String("program", program))
	}
	return nil
}

func encodeDoc(doc map[string]any, format string) ([]byte, error) {
	if strings.EqualFold(format, "yaml") {
		return yaml.Marshal(doc)
	}
	return json.Marshal(doc)
}
