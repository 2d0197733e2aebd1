package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/memscaler/internal/api/models"
	"github.com/smazurov/memscaler/internal/events"
	"github.com/smazurov/memscaler/internal/logging"
)

const timestampFormat = time.RFC3339Nano

// LogStreamInput lets a reconnecting client skip entries it already has.
type LogStreamInput struct {
	LastEventID uint64 `header:"Last-Event-ID" doc:"Sequence number of the last entry received"`
}

// registerLogRoutes registers the log endpoints.
func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Get recent log entries from the in-memory ring buffer",
		Tags:        []string{"logs"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.LogsRequest) (*models.LogsResponse, error) {
		var entries []logging.LogEntry
		if buffer := logging.GetBuffer(); buffer != nil {
			entries = buffer.Query(logging.LogQuery{
				After:   input.After,
				Module:  input.Module,
				Channel: input.Channel,
				Limit:   input.Limit,
			})
		}

		lines := make([]models.LogLine, len(entries))
		for i, e := range entries {
			lines[i] = models.LogLine{
				Seq:        e.Seq,
				Timestamp:  e.Timestamp,
				Level:      e.Level,
				Module:     e.Module,
				Channel:    e.Channel,
				Message:    e.Message,
				Attributes: e.Attributes,
				Line:       logging.FormatLogLine(e),
			}
		}

		return &models.LogsResponse{Body: models.LogsData{Entries: lines, Count: len(lines)}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logs/levels/{module}",
		Summary:     "Set Log Level",
		Description: "Change the log level of one module until the next config reload",
		Tags:        []string{"logs"},
		Errors:      []int{400, 401},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.LogLevelRequest) (*models.LogLevelResponse, error) {
		if err := logging.SetModuleLevel(input.Module, input.Body.Level); err != nil {
			return nil, huma.Error400BadRequest(err.Error(), err)
		}
		resp := &models.LogLevelResponse{}
		resp.Body.Module = input.Module
		resp.Body.Level = input.Body.Level
		return resp, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends buffered logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, input *LogStreamInput, send sse.Sender) {
		// Subscribe before replaying so nothing falls between the two
		eventCh := make(chan any, 256)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		last := input.LastEventID
		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.ReadSince(last) {
				if err := send(sse.Message{ID: int(entry.Seq), Data: events.NewLogEntryEvent(entry)}); err != nil {
					return
				}
				last = entry.Seq
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				entry, ok := ev.(events.LogEntryEvent)
				if !ok || entry.Seq <= last {
					continue
				}
				if err := send(sse.Message{ID: int(entry.Seq), Data: entry}); err != nil {
					return
				}
				last = entry.Seq
			}
		}
	})
}
