package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	sml "github.com/ashajkofci/gosml"
)

// surveyRecord is one frame's worth of candidate values for offset calibration.
type surveyRecord struct {
	Time   time.Time            `json:"time"`
	Bytes  int                  `json:"bytes"`
	Values []sml.ExtractedValue `json:"values"`
}

// runSurvey writes one JSON file per valid frame listing every scalar and the
// payload offset it starts at.
func runSurvey(ctx context.Context, transport *sml.Transport, dir string, maxFrameSize int, logger zerolog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	scanner := sml.NewScanner()
	scanner.MaxFrameSize = maxFrameSize
	reader := readerFunc(func(p []byte) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return transport.Read(p)
	})
	for {
		frame, err := scanner.ReadFrame(reader)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, sml.ErrFraming) {
			logger.Warn().Err(err).Msg("frame dropped")
			continue
		}
		if err != nil {
			return err
		}
		record, err := surveyFrame(frame)
		if err != nil {
			logger.Warn().Err(err).Str("reason", sml.DropReason(err)).Msg("frame dropped")
			continue
		}
		path, err := writeRecord(dir, record)
		if err != nil {
			return err
		}
		logger.Info().Str("file", path).Int("values", len(record.Values)).Msg("survey record written")
	}
}

func surveyFrame(frame sml.RawFrame) (surveyRecord, error) {
	payload, err := sml.Validate(frame)
	if err != nil {
		return surveyRecord{}, err
	}
	root, err := sml.Decode(payload)
	if err != nil {
		return surveyRecord{}, err
	}
	return surveyRecord{Time: time.Now(), Bytes: len(payload), Values: sml.Survey(root)}, nil
}

func writeRecord(dir string, record surveyRecord) (string, error) {
	name := record.Time.Format("20060102_150405.000") + ".json"
	path := filepath.Join(dir, name)
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal survey record: %w", err)
	}
	return path, os.WriteFile(path, data, 0o644)
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) {
	return f(p)
}
