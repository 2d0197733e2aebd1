package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/memscaler/internal/api/models"
	"github.com/smazurov/memscaler/internal/framepool"
	"github.com/smazurov/memscaler/internal/scaler"
)

// registerChannelRoutes registers the channel endpoints.
func (s *Server) registerChannelRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-channels",
		Method:      http.MethodGet,
		Path:        "/api/channels",
		Summary:     "List Channels",
		Description: "Get the scheduler status of every open channel",
		Tags:        []string{"channels"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.ChannelListResponse, error) {
		statuses := s.manager.List()
		channels := make([]models.ChannelData, len(statuses))
		for i, st := range statuses {
			channels[i] = toChannelData(st)
		}
		return &models.ChannelListResponse{
			Body: models.ChannelListData{Channels: channels, Count: len(channels)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-channel",
		Method:      http.MethodGet,
		Path:        "/api/channels/{channel_id}",
		Summary:     "Get Channel",
		Description: "Get the scheduler status of one channel",
		Tags:        []string{"channels"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ChannelPathInput) (*models.ChannelResponse, error) {
		ch, err := s.manager.Get(input.ChannelID)
		if err != nil {
			return nil, mapScalerError(err)
		}
		return &models.ChannelResponse{Body: toChannelData(ch.Status())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "submit-frame",
		Method:        http.MethodPost,
		Path:          "/api/channels/{channel_id}/frames",
		Summary:       "Submit Frame",
		Description:   "Program the engine with one frame. Completion and buffer release are reported as frame-scaled and buffer-done events on /api/events.",
		Tags:          []string{"channels"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{401, 404, 409, 410, 422, 502, 503},
		Security:      withAuth(),
	}, func(_ context.Context, input *models.FrameRequest) (*models.FrameSubmittedResponse, error) {
		handle, err := s.manager.Submit(input.ChannelID, toFrameRequest(input.Body))
		if err != nil {
			return nil, mapScalerError(err)
		}
		return &models.FrameSubmittedResponse{
			Body: models.FrameSubmittedData{
				Handle: models.JobHandleData{Channel: handle.Channel, Seq: handle.Seq},
				Token:  input.Body.Token,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "flush-channel",
		Method:      http.MethodPost,
		Path:        "/api/channels/{channel_id}/flush",
		Summary:     "Flush Channel",
		Description: "Quiesce the channel: wait for the engine to go idle and release every held buffer. Fails with 504 if the completion interrupt never arrives; the channel is then faulted until a later interrupt or flush recovers it.",
		Tags:        []string{"channels"},
		Errors:      []int{401, 404, 410, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.FlushRequest) (*models.FlushResponse, error) {
		// A client going away must not fault the channel; only the channel
		// flush timeout and timeout_ms bound the wait.
		flushCtx := context.WithoutCancel(ctx)
		if input.TimeoutMS > 0 {
			var cancel context.CancelFunc
			flushCtx, cancel = context.WithTimeout(flushCtx, time.Duration(input.TimeoutMS)*time.Millisecond)
			defer cancel()
		}
		if err := s.manager.Flush(flushCtx, input.ChannelID); err != nil {
			return nil, mapScalerError(err)
		}
		ch, err := s.manager.Get(input.ChannelID)
		if err != nil {
			return nil, mapScalerError(err)
		}
		return &models.FlushResponse{
			Body: models.FlushData{ID: ch.ID(), State: string(ch.State())},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-temporal-filter",
		Method:      http.MethodPut,
		Path:        "/api/channels/{channel_id}/tnr",
		Summary:     "Set Temporal Filter",
		Description: "Turn temporal noise reduction on or off. Takes effect at the next submission.",
		Tags:        []string{"channels"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.TemporalFilterRequest) (*models.ChannelResponse, error) {
		ch, err := s.manager.Get(input.ChannelID)
		if err != nil {
			return nil, mapScalerError(err)
		}
		ch.SetTemporalFilter(input.Body.Enabled)
		s.logger.Info("Temporal filter changed", "channel", input.ChannelID, "enabled", input.Body.Enabled)
		return &models.ChannelResponse{Body: toChannelData(ch.Status())}, nil
	})
}

// mapScalerError converts scheduler errors to HTTP errors.
func mapScalerError(err error) error {
	var scalerErr *scaler.Error
	if !errors.As(err, &scalerErr) {
		return huma.Error500InternalServerError("internal server error", err)
	}

	switch scalerErr.Code {
	case scaler.ErrCodeChannelNotFound:
		return huma.Error404NotFound(scalerErr.Message, err)
	case scaler.ErrCodeChannelExists, scaler.ErrCodeResourceBusy:
		return huma.Error409Conflict(scalerErr.Message, err)
	case scaler.ErrCodeChannelClosed:
		return huma.Error410Gone(scalerErr.Message, err)
	case scaler.ErrCodeInvalidGeometry:
		return huma.Error422UnprocessableEntity(scalerErr.Message, err)
	case scaler.ErrCodeOutOfBuffers:
		return huma.Error503ServiceUnavailable(scalerErr.Message, err)
	case scaler.ErrCodeHardware:
		return huma.Error502BadGateway(scalerErr.Message, err)
	case scaler.ErrCodeFlushTimeout:
		return huma.Error504GatewayTimeout(scalerErr.Message, err)
	default:
		return huma.Error500InternalServerError("internal server error", err)
	}
}

func toChannelData(st *scaler.Status) models.ChannelData {
	data := models.ChannelData{
		ID:             st.ID,
		State:          string(st.State),
		TemporalFilter: st.TemporalFilter,
		Retained:       st.Retained,
		Outstanding:    st.Outstanding,
		LastError:      st.LastError,
		PoolCapacity:   st.PoolCapacity,
		PoolFree:       st.PoolFree,
		Stats: models.ChannelStatsData{
			Submitted:          st.Stats.Submitted,
			Rejected:           st.Stats.Rejected,
			Completed:          st.Stats.Completed,
			Failed:             st.Stats.Failed,
			Aborted:            st.Stats.Aborted,
			BuffersReleased:    st.Stats.BuffersReleased,
			SpuriousInterrupts: st.Stats.SpuriousInterrupts,
			Flushes:            st.Stats.Flushes,
			FlushTimeouts:      st.Stats.FlushTimeouts,
		},
	}
	if st.InFlight != nil {
		data.InFlight = &models.JobHandleData{Channel: st.InFlight.Channel, Seq: st.InFlight.Seq}
	}
	if !st.LastInterrupt.IsZero() {
		t := st.LastInterrupt
		data.LastInterrupt = &t
	}
	return data
}

func toFrameRequest(body models.FrameRequestData) scaler.FrameRequest {
	req := scaler.FrameRequest{
		Source:      scaler.Planes{Luma: body.Source.Luma, Chroma: body.Source.Chroma},
		Destination: scaler.Planes{Luma: body.Destination.Luma, Chroma: body.Destination.Chroma},
		Field:       framepool.FieldType(body.Field),
		Timestamp:   time.Now(),
	}
	if body.Token != "" {
		req.UserData = body.Token
	}
	if g := body.Geometry; g != nil {
		req.Geometry = framepool.Geometry{
			Input:  toVideoInfo(g.Input),
			Output: toVideoInfo(g.Output),
			Crop:   toWindow(g.Crop),
			Active: toWindow(g.Active),
		}
	}
	return req
}

func toVideoInfo(v *models.VideoInfoData) framepool.VideoInfo {
	if v == nil {
		return framepool.VideoInfo{}
	}
	return framepool.VideoInfo{
		Width:      v.Width,
		Height:     v.Height,
		Scan:       framepool.ScanType(v.Scan),
		Field:      framepool.FieldType(v.Field),
		ColorSpace: framepool.ColorSpace(v.ColorSpace),
		Sampling:   framepool.Sampling(v.Sampling),
	}
}

func toWindow(w *models.WindowData) framepool.Window {
	if w == nil {
		return framepool.Window{}
	}
	return framepool.Window{HStart: w.HStart, VStart: w.VStart, Width: w.Width, Height: w.Height}
}
