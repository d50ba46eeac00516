package api

import (
	"bytes"
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/narration"
	"github.com/listenupapp/pagesync-server/internal/service"
)

func (s *Server) registerAlignmentRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "uploadAudio",
		Method:        http.MethodPost,
		Path:          "/api/v1/audio",
		Summary:       "Upload narration audio",
		Description:   "Stores the raw audio request body and returns a key to align against",
		Tags:          []string{"Alignment"},
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  MaxUploadSize,
	}, s.handleUploadAudio)

	huma.Register(s.api, huma.Operation{
		OperationID:   "alignJob",
		Method:        http.MethodPost,
		Path:          "/api/v1/jobs/{id}/alignment",
		Summary:       "Align narration",
		Description:   "Starts narration alignment for a job. Word timings select the timing strategy; an audio key alone selects estimation. The job must be completed, or paused for review after semantic structuring.",
		Tags:          []string{"Alignment"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleAlignJob)

	huma.Register(s.api, huma.Operation{
		OperationID: "listAlignmentRuns",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}/alignment-runs",
		Summary:     "List alignment runs",
		Description: "Returns a job's alignment runs, newest first",
		Tags:        []string{"Alignment"},
	}, s.handleListAlignmentRuns)

	huma.Register(s.api, huma.Operation{
		OperationID: "getAlignmentRun",
		Method:      http.MethodGet,
		Path:        "/api/v1/alignment-runs/{id}",
		Summary:     "Get alignment run",
		Description: "Returns the status of an alignment run",
		Tags:        []string{"Alignment"},
	}, s.handleGetAlignmentRun)

	huma.Register(s.api, huma.Operation{
		OperationID: "listSyncs",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}/syncs",
		Summary:     "List syncs",
		Description: "Returns a job's audio sync records in time order",
		Tags:        []string{"Alignment"},
	}, s.handleListSyncs)

	huma.Register(s.api, huma.Operation{
		OperationID: "editSync",
		Method:      http.MethodPatch,
		Path:        "/api/v1/syncs/{id}",
		Summary:     "Edit sync",
		Description: "Edits a sync record. Edited records are kept when alignment runs again.",
		Tags:        []string{"Alignment"},
	}, s.handleEditSync)
}

// === DTOs ===

// UploadAudioInput carries raw audio bytes.
type UploadAudioInput struct {
	Filename string `query:"filename" required:"true" maxLength:"255" doc:"Original file name; its extension selects the format"`
	RawBody  []byte
}

// AudioResponse identifies stored audio.
type AudioResponse struct {
	Key string `json:"key" doc:"Storage key to pass as audio_key"`
}

// AudioOutput wraps the audio response for Huma.
type AudioOutput struct {
	Body AudioResponse
}

// WordTimingRequest is one recognized word with its start time.
type WordTimingRequest struct {
	Word  string  `json:"word" doc:"Recognized word"`
	Start float64 `json:"start" validate:"gte=0" doc:"Start time in seconds"`
}

// AlignRequest is the request body for starting alignment.
type AlignRequest struct {
	AudioKey    string              `json:"audio_key,omitempty" validate:"omitempty,max=512" doc:"Key of uploaded narration audio"`
	WordTimings []WordTimingRequest `json:"word_timings,omitempty" validate:"omitempty,dive" doc:"Word-level timings, non-decreasing"`
	Duration    float64             `json:"duration_seconds,omitempty" validate:"gte=0" doc:"Audio duration override in seconds"`
}

// AlignInput wraps the align request for Huma.
type AlignInput struct {
	ID   int64 `path:"id" minimum:"1" doc:"Job ID"`
	Body AlignRequest
}

// AlignmentRunOutput wraps a run for Huma.
type AlignmentRunOutput struct {
	Body *domain.AlignmentRun
}

// AlignmentRunsResponse lists runs.
type AlignmentRunsResponse struct {
	Runs []*domain.AlignmentRun `json:"runs" doc:"Alignment runs, newest first"`
}

// AlignmentRunsOutput wraps the runs for Huma.
type AlignmentRunsOutput struct {
	Body AlignmentRunsResponse
}

// GetAlignmentRunInput identifies a run by path.
type GetAlignmentRunInput struct {
	ID string `path:"id" maxLength:"64" doc:"Alignment run ID"`
}

// SyncsResponse lists sync records.
type SyncsResponse struct {
	Syncs []*domain.AudioSync `json:"syncs" doc:"Sync records in time order"`
}

// SyncsOutput wraps the syncs for Huma.
type SyncsOutput struct {
	Body SyncsResponse
}

// EditSyncRequest is the request body for editing a sync.
type EditSyncRequest struct {
	StartTime  *float64 `json:"start_time,omitempty" validate:"omitempty,gte=0" doc:"New start time in seconds"`
	EndTime    *float64 `json:"end_time,omitempty" validate:"omitempty,gte=0" doc:"New end time in seconds"`
	Notes      *string  `json:"notes,omitempty" validate:"omitempty,max=2000" doc:"Reviewer notes"`
	CustomText *string  `json:"custom_text,omitempty" validate:"omitempty,max=10000" doc:"Replacement text for the synced block"`
}

// EditSyncInput wraps the edit request for Huma.
type EditSyncInput struct {
	ID   int64 `path:"id" minimum:"1" doc:"Sync ID"`
	Body EditSyncRequest
}

// SyncOutput wraps a sync for Huma.
type SyncOutput struct {
	Body *domain.AudioSync
}

// === Handlers ===

func (s *Server) handleUploadAudio(ctx context.Context, input *UploadAudioInput) (*AudioOutput, error) {
	key, err := s.services.Alignment.UploadAudio(ctx, input.Filename, bytes.NewReader(input.RawBody))
	if err != nil {
		return nil, err
	}
	return &AudioOutput{Body: AudioResponse{Key: key}}, nil
}

func (s *Server) handleAlignJob(ctx context.Context, input *AlignInput) (*AlignmentRunOutput, error) {
	if err := s.validate(input.Body); err != nil {
		return nil, err
	}

	timings := make([]narration.WordTiming, len(input.Body.WordTimings))
	for i, w := range input.Body.WordTimings {
		timings[i] = narration.WordTiming{Word: w.Word, Start: w.Start}
	}

	run, err := s.services.Alignment.Align(ctx, input.ID, service.AlignRequest{
		AudioKey:    input.Body.AudioKey,
		WordTimings: timings,
		Duration:    input.Body.Duration,
	})
	if err != nil {
		return nil, err
	}
	return &AlignmentRunOutput{Body: run}, nil
}

func (s *Server) handleListAlignmentRuns(ctx context.Context, input *JobIDInput) (*AlignmentRunsOutput, error) {
	if _, err := s.services.Conversion.GetJob(ctx, input.ID); err != nil {
		return nil, err
	}
	runs, err := s.services.Alignment.ListRuns(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []*domain.AlignmentRun{}
	}
	return &AlignmentRunsOutput{Body: AlignmentRunsResponse{Runs: runs}}, nil
}

func (s *Server) handleGetAlignmentRun(ctx context.Context, input *GetAlignmentRunInput) (*AlignmentRunOutput, error) {
	run, err := s.services.Alignment.GetRun(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &AlignmentRunOutput{Body: run}, nil
}

func (s *Server) handleListSyncs(ctx context.Context, input *JobIDInput) (*SyncsOutput, error) {
	syncs, err := s.services.Alignment.ListSyncs(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if syncs == nil {
		syncs = []*domain.AudioSync{}
	}
	return &SyncsOutput{Body: SyncsResponse{Syncs: syncs}}, nil
}

func (s *Server) handleEditSync(ctx context.Context, input *EditSyncInput) (*SyncOutput, error) {
	if err := s.validate(input.Body); err != nil {
		return nil, err
	}
	rec, err := s.services.Alignment.EditSync(ctx, input.ID, domain.SyncEdit{
		StartTime:  input.Body.StartTime,
		EndTime:    input.Body.EndTime,
		Notes:      input.Body.Notes,
		CustomText: input.Body.CustomText,
	})
	if err != nil {
		return nil, err
	}
	return &SyncOutput{Body: rec}, nil
}
