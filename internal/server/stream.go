package server

import (
	"encoding/json"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"videra/pkg/models"
)

// eventStream writes job events as "data: <json>\n\n" frames.
type eventStream struct {
	res    *echo.Response
	logger *zap.Logger
	broken bool
}

func newEventStream(res *echo.Response, logger *zap.Logger) *eventStream {
	return &eventStream{res: res, logger: logger}
}

func (s *eventStream) Emit(e models.Event) {
	if s.broken {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("failed to encode event", zap.Error(err))
		return
	}

	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	if _, err := s.res.Write(frame); err != nil {
		// The client is gone; the request context cancels the job.
		s.broken = true
		s.logger.Debug("event stream closed", zap.Error(err))
		return
	}
	s.res.Flush()
}
