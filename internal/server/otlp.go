package server

import (
	"fmt"
	"net/http"
	"strings"
)

// otlpLogsRequest is the subset of the OTLP JSON logs payload oakd reads:
// resourceLogs[].scopeLogs[].logRecords[], each record an event name plus a
// flat attribute list. Decoding into small hand-written structs rather than pulling in
// go.opentelemetry.io/otel/sdk/log -- that package is built for producing
// OTLP, not parsing arbitrary inbound JSON, and the shape here is simple
// enough that adding the SDK as a dependency to read a handful of fields
// would buy nothing. See DESIGN.md.
type otlpLogsRequest struct {
	ResourceLogs []struct {
		ScopeLogs []struct {
			LogRecords []otlpLogRecord `json:"logRecords"`
		} `json:"scopeLogs"`
	} `json:"resourceLogs"`
}

type otlpLogRecord struct {
	EventName string `json:"eventName,omitempty"`
	Body      struct {
		StringValue string `json:"stringValue,omitempty"`
	} `json:"body,omitempty"`
	Attributes []otlpAttribute `json:"attributes"`
}

type otlpAttribute struct {
	Key   string `json:"key"`
	Value struct {
		StringValue string `json:"stringValue,omitempty"`
		BoolValue   *bool  `json:"boolValue,omitempty"`
	} `json:"value"`
}

func (r otlpLogRecord) attr(key string) string {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value.StringValue
		}
	}
	return ""
}

func (r otlpLogRecord) attrBool(key string) bool {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value.BoolValue != nil && *a.Value.BoolValue
		}
	}
	return false
}

// handleOTLPLogs bridges OpenTelemetry log records onto the same three hook
// handlers the plain JSON endpoints use. Per spec §6.1, events named
// "*.conversation_starts", "*.user_prompt", "*.tool_result" map onto
// session-start, prompt-submit, and post-tool-use respectively, using the
// conversation_id/prompt/tool.* attributes. There is no OTel event
// corresponding to session-end in the spec's mapping, so that hook is only
// reachable through the plain JSON endpoint.
func (s *Server) handleOTLPLogs(w http.ResponseWriter, r *http.Request) {
	var req otlpLogsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	var processed int
	for _, rl := range req.ResourceLogs {
		for _, sl := range rl.ScopeLogs {
			for _, rec := range sl.LogRecords {
				if err := s.handleOTLPRecord(rec); err != nil {
					writeErr(w, http.StatusInternalServerError, err)
					return
				}
				processed++
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (s *Server) handleOTLPRecord(rec otlpLogRecord) error {
	conversationID := rec.attr("conversation_id")

	switch {
	case strings.HasSuffix(rec.EventName, ".conversation_starts"):
		_, _, err := s.sessionStart(sessionStartRequest{
			SessionID: conversationID,
			Agent:     rec.attr("agent"),
			Source:    rec.attr("source"),
			CWD:       rec.attr("cwd"),
		})
		return err

	case strings.HasSuffix(rec.EventName, ".user_prompt"):
		prompt := rec.attr("prompt")
		if prompt == "" {
			prompt = rec.Body.StringValue
		}
		_, err := s.promptSubmit(promptSubmitRequest{
			SessionID: conversationID,
			Prompt:    prompt,
			Agent:     rec.attr("agent"),
		})
		return err

	case strings.HasSuffix(rec.EventName, ".tool_result"):
		return s.postToolUse(postToolUseRequest{
			SessionID:         conversationID,
			ToolName:          rec.attr("tool.name"),
			ToolInput:         rec.attr("tool.input"),
			ToolOutputSummary: rec.attr("tool.output_summary"),
			FilePath:          rec.attr("tool.file_path"),
			FilesAffected:     rec.attr("tool.files_affected"),
			Success:           rec.attrBool("tool.success"),
			ErrorMessage:      rec.attr("tool.error_message"),
		})

	default:
		return fmt.Errorf("unrecognized OTLP event name %q", rec.EventName)
	}
}
