/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/carverauto/oisp-sensor/pkg/models"
)

// FileSink appends events and trace snapshots as newline-delimited JSON.
type FileSink struct {
	cfg models.FileSinkConfig

	f *os.File
	w *bufio.Writer
}

// NewFileSink creates the sink; the file opens on Connect.
func NewFileSink(cfg models.FileSinkConfig) *FileSink {
	return &FileSink{cfg: cfg}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Connect(_ context.Context) error {
	if s.f != nil {
		return nil
	}

	if dir := filepath.Dir(s.cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating sink directory: %w", err)
		}
	}

	f, err := os.OpenFile(s.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("opening sink file: %w", err)
	}

	s.f = f
	s.w = bufio.NewWriter(f)

	return nil
}

func (s *FileSink) Write(_ context.Context, ev *models.Event) error {
	return s.writeLine(ev)
}

// WriteTrace appends a completed trace snapshot on its own line.
func (s *FileSink) WriteTrace(_ context.Context, trace models.Trace) error {
	return s.writeLine(trace)
}

func (s *FileSink) writeLine(v interface{}) error {
	if s.w == nil {
		return os.ErrClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	if _, err := s.w.Write(data); err != nil {
		return s.reopenOn(err)
	}

	if err := s.w.WriteByte('\n'); err != nil {
		return s.reopenOn(err)
	}

	// Flush per record so tail -f style consumers see events promptly.
	return s.w.Flush()
}

// reopenOn drops the handle so the next Connect reopens the file.
func (s *FileSink) reopenOn(err error) error {
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
		s.w = nil
	}

	return err
}

func (s *FileSink) Close(_ context.Context) error {
	if s.f == nil {
		return nil
	}

	if err := s.w.Flush(); err != nil {
		_ = s.f.Close()
		return err
	}

	err := s.f.Close()
	s.f = nil
	s.w = nil

	return err
}
