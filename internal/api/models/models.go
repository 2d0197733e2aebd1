// Package models holds the request and response shapes of the HTTP API.
package models

import (
	"time"
)

// Health check models
type HealthData struct {
	Status   string `json:"status" example:"ok" doc:"Service status"`
	Message  string `json:"message" example:"API is healthy" doc:"Status message"`
	Channels int    `json:"channels" example:"2" doc:"Number of open channels"`
	Faulted  int    `json:"faulted" example:"0" doc:"Channels whose last flush timed out"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	Modified  bool   `json:"modified,omitempty" doc:"Built from a tree with uncommitted changes"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Channel models
type JobHandleData struct {
	Channel string `json:"channel" example:"enc0" doc:"Channel identifier"`
	Seq     uint64 `json:"seq" example:"42" doc:"Job sequence number"`
}

type ChannelStatsData struct {
	Submitted          uint64 `json:"submitted" doc:"Accepted submissions"`
	Rejected           uint64 `json:"rejected" doc:"Rejected submissions"`
	Completed          uint64 `json:"completed" doc:"Jobs completed successfully"`
	Failed             uint64 `json:"failed" doc:"Jobs the engine reported as failed"`
	Aborted            uint64 `json:"aborted" doc:"Jobs cut short by a flush"`
	BuffersReleased    uint64 `json:"buffers_released" doc:"BufferDone callbacks delivered"`
	SpuriousInterrupts uint64 `json:"spurious_interrupts" doc:"Interrupts no job was waiting for"`
	Flushes            uint64 `json:"flushes" doc:"Completed flushes"`
	FlushTimeouts      uint64 `json:"flush_timeouts" doc:"Flushes that timed out"`
}

type ChannelData struct {
	ID             string           `json:"id" example:"enc0" doc:"Channel identifier"`
	State          string           `json:"state" example:"completed" enum:"idle,armed,completed,flush_pending_interrupt,flush_completed,faulted" doc:"Scheduler state"`
	TemporalFilter bool             `json:"temporal_filter" doc:"Whether temporal noise reduction is on"`
	InFlight       *JobHandleData   `json:"in_flight,omitempty" doc:"Job the engine is working on"`
	Retained       int              `json:"retained" example:"2" doc:"History frames held besides the current one"`
	Outstanding    int              `json:"outstanding" example:"3" doc:"Client tokens whose BufferDone is still owed"`
	LastInterrupt  *time.Time       `json:"last_interrupt,omitempty" doc:"Time of the last serviced interrupt"`
	LastError      string           `json:"last_error,omitempty" doc:"Last scheduler error"`
	PoolCapacity   int              `json:"pool_capacity" example:"4" doc:"Frame descriptors in the pool"`
	PoolFree       int              `json:"pool_free" example:"1" doc:"Free frame descriptors"`
	Stats          ChannelStatsData `json:"stats" doc:"Cumulative counters"`
}

type ChannelResponse struct {
	Body ChannelData
}

type ChannelListData struct {
	Channels []ChannelData `json:"channels" doc:"Open channels"`
	Count    int           `json:"count" example:"2" doc:"Number of channels"`
}

type ChannelListResponse struct {
	Body ChannelListData
}

type ChannelPathInput struct {
	ChannelID string `path:"channel_id" example:"enc0" doc:"Channel identifier"`
}

// Frame submission models
type PlanesData struct {
	Luma   uint64 `json:"luma" example:"268435456" doc:"Luma plane bus address"`
	Chroma uint64 `json:"chroma" example:"270532608" doc:"Chroma plane bus address"`
}

type VideoInfoData struct {
	Width      uint32 `json:"width,omitempty" example:"1920" doc:"Raster width in pixels"`
	Height     uint32 `json:"height,omitempty" example:"1080" doc:"Raster height in lines"`
	Scan       string `json:"scan,omitempty" enum:"progressive,interlaced" doc:"Scan type"`
	Field      string `json:"field,omitempty" enum:"top,bottom" doc:"Field polarity"`
	ColorSpace string `json:"color_space,omitempty" enum:"rgb,bt601,bt709,bt2020" doc:"Color space"`
	Sampling   string `json:"sampling,omitempty" enum:"420,422,444" doc:"Chroma sampling"`
}

type WindowData struct {
	HStart uint32 `json:"h_start,omitempty" doc:"First column"`
	VStart uint32 `json:"v_start,omitempty" doc:"First line"`
	Width  uint32 `json:"width,omitempty" doc:"Window width"`
	Height uint32 `json:"height,omitempty" doc:"Window height"`
}

type GeometryData struct {
	Input  *VideoInfoData `json:"input,omitempty" doc:"Input raster"`
	Output *VideoInfoData `json:"output,omitempty" doc:"Output raster"`
	Crop   *WindowData    `json:"crop,omitempty" doc:"Input crop window"`
	Active *WindowData    `json:"active,omitempty" doc:"Output active window"`
}

type FrameRequestData struct {
	Token       string        `json:"token" example:"frame-0042" doc:"Client token echoed in frame-scaled and buffer-done events"`
	Source      PlanesData    `json:"source" doc:"Source buffer addresses"`
	Destination PlanesData    `json:"destination" doc:"Destination buffer addresses"`
	Geometry    *GeometryData `json:"geometry,omitempty" doc:"Frame geometry; fields left out inherit from the previous frame"`
	Field       string        `json:"field,omitempty" enum:"top,bottom" doc:"Field polarity override for interlaced input"`
}

type FrameRequest struct {
	ChannelID string `path:"channel_id" example:"enc0" doc:"Channel identifier"`
	Body      FrameRequestData
}

type FrameSubmittedData struct {
	Handle JobHandleData `json:"handle" doc:"Handle of the programmed job"`
	Token  string        `json:"token" example:"frame-0042" doc:"Client token"`
}

type FrameSubmittedResponse struct {
	Body FrameSubmittedData
}

// Flush models
type FlushRequest struct {
	ChannelID string `path:"channel_id" example:"enc0" doc:"Channel identifier"`
	TimeoutMS int    `query:"timeout_ms" minimum:"0" maximum:"10000" doc:"Overall request deadline in milliseconds; 0 uses the channel flush timeout only"`
}

type FlushData struct {
	ID    string `json:"id" example:"enc0" doc:"Channel identifier"`
	State string `json:"state" example:"idle" doc:"State after the flush"`
}

type FlushResponse struct {
	Body FlushData
}

// Temporal filter models
type TemporalFilterRequest struct {
	ChannelID string `path:"channel_id" example:"enc0" doc:"Channel identifier"`
	Body      struct {
		Enabled bool `json:"enabled" doc:"Turn temporal noise reduction on or off"`
	}
}

// Log models
type LogsRequest struct {
	After   uint64 `query:"after" doc:"Only return entries with a sequence number greater than this"`
	Limit   int    `query:"limit" minimum:"0" maximum:"1000" default:"200" doc:"Maximum number of entries, newest kept"`
	Module  string `query:"module" doc:"Only return entries from this module"`
	Channel string `query:"channel" doc:"Only return entries logged for this channel"`
}

type LogLine struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Sequence number"`
	Timestamp  time.Time      `json:"timestamp" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"scaler" doc:"Source module"`
	Channel    string         `json:"channel,omitempty" example:"vic0" doc:"Scaling channel the entry was logged for"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
	Line       string         `json:"line" doc:"Preformatted display line"`
}

type LogsData struct {
	Entries []LogLine `json:"entries" doc:"Log entries, oldest first"`
	Count   int       `json:"count" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}

type LogLevelRequest struct {
	Module string `path:"module" example:"scaler" doc:"Logger module"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" doc:"New level"`
	}
}

type LogLevelResponse struct {
	Body struct {
		Module string `json:"module" example:"scaler" doc:"Logger module"`
		Level  string `json:"level" example:"debug" doc:"Level now in effect"`
	}
}
