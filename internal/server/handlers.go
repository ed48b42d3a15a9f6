package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"videra/internal/jobs"
	"videra/internal/transcoder"
	"videra/internal/upload"
	"videra/pkg/models"
)

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, models.ErrorResponse{Error: msg})
}

func (s *Server) uploadChunk() echo.HandlerFunc {
	return func(c echo.Context) error {
		uploadID := c.FormValue("uploadId")
		chunkNumber, err := strconv.Atoi(c.FormValue("chunkNumber"))
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "chunkNumber must be an integer")
		}
		totalChunks, err := strconv.Atoi(c.FormValue("totalChunks"))
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "totalChunks must be an integer")
		}

		fh, err := c.FormFile("video")
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "No video chunk provided")
		}
		if s.opts.MaxChunkBytes > 0 && fh.Size > 0 && uint64(fh.Size) > s.opts.MaxChunkBytes {
			return errorJSON(c, http.StatusRequestEntityTooLarge, "Chunk exceeds the maximum upload size")
		}
		if !upload.IsVideo(fh.Filename, fh.Header.Get(echo.HeaderContentType)) {
			return errorJSON(c, http.StatusBadRequest, "Only video files are allowed")
		}

		f, err := fh.Open()
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "Unreadable chunk")
		}
		defer f.Close()

		if err := s.svc.PutChunk(uploadID, chunkNumber, totalChunks, f); err != nil {
			switch {
			case errors.Is(err, upload.ErrInvalidUpload):
				return errorJSON(c, http.StatusBadRequest, err.Error())
			case errors.Is(err, upload.ErrUploadClosed):
				return errorJSON(c, http.StatusConflict, err.Error())
			default:
				s.logger.Error("failed to store chunk", zap.String("upload_id", uploadID), zap.Error(err))
				return errorJSON(c, http.StatusInternalServerError, "Failed to store chunk")
			}
		}
		return c.JSON(http.StatusOK, models.ChunkAccepted{
			UploadID:    uploadID,
			ChunkNumber: chunkNumber,
			Received:    s.svc.ReceivedChunks(uploadID),
		})
	}
}

func (s *Server) completeUpload() echo.HandlerFunc {
	return func(c echo.Context) error {
		req := models.CompleteUploadRequest{}
		if err := c.Bind(&req); err != nil {
			return errorJSON(c, http.StatusBadRequest, "Invalid request payload")
		}
		if err := c.Validate(&req); err != nil {
			return errorJSON(c, http.StatusBadRequest, validationMessage(err))
		}

		created, err := s.svc.FinalizeUpload(c.Request().Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, upload.ErrIncompleteUpload), errors.Is(err, upload.ErrInvalidUpload):
				return errorJSON(c, http.StatusBadRequest, err.Error())
			case errors.Is(err, upload.ErrUploadClosed):
				return errorJSON(c, http.StatusConflict, err.Error())
			case errors.Is(err, transcoder.ErrUnreadableMetadata):
				return errorJSON(c, http.StatusUnprocessableEntity, "Could not read video metadata")
			case errors.Is(err, transcoder.ErrInfeasible):
				return errorJSON(c, http.StatusUnprocessableEntity, err.Error())
			default:
				s.logger.Error("failed to create job", zap.String("upload_id", req.UploadID), zap.Error(err))
				return errorJSON(c, http.StatusInternalServerError, "Failed to process upload")
			}
		}
		return c.JSON(http.StatusOK, created)
	}
}

// streamJob runs the job inside the request and relays its events as
// server-sent events. Closing the connection cancels the job.
func (s *Server) streamJob() echo.HandlerFunc {
	return func(c echo.Context) error {
		jobID := c.Param("jobId")
		job, err := s.svc.AttachToJob(jobID)
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				return errorJSON(c, http.StatusNotFound, "Job not found or already started")
			}
			return err
		}

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set("Cache-Control", "no-cache")
		res.Header().Set("Connection", "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		res.WriteHeader(http.StatusOK)
		res.Flush()

		// Failures have already been delivered to the client as an event.
		_ = s.svc.Run(c.Request().Context(), job, newEventStream(res, s.logger.With(zap.String("job_id", jobID))))
		return nil
	}
}

func (s *Server) cancelJob() echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.svc.RequestCancel(c.Param("jobId")) {
			return errorJSON(c, http.StatusNotFound, "Job not found")
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func (s *Server) clientConfig() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, models.ClientConfig{
			MaxUploadSize: s.opts.MaxChunkBytes,
			Encoder:       s.svc.Profile().Label,
		})
	}
}

func (s *Server) health() echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := models.Health{
			Status:     "ok",
			Encoder:    s.svc.Profile().Label,
			ActiveJobs: s.svc.ActiveJobs(),
		}
		if s.monitor != nil {
			stats, err := s.monitor.GetStats(c.Request().Context())
			if err != nil {
				s.logger.Warn("host stats unavailable", zap.Error(err))
			}
			resp.Stats = stats
		}
		return c.JSON(http.StatusOK, resp)
	}
}
