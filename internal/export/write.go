// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package export persists completed session exports.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/auravision/internal/domain/session/model"
	avlog "github.com/ManuGH/auravision/internal/log"
)

// WriteJSON writes doc to path as indented JSON. The file is replaced
// atomically and fsynced; a failed write leaves any previous file intact.
func WriteJSON(ctx context.Context, path string, doc model.Export) error {
	logger := avlog.WithComponentFromContext(ctx, "export")

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	data = append(data, '\n')

	path = filepath.Clean(path)
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending export file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending export file")
		}
	}()

	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("write export data: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace export file: %w", err)
	}

	logger.Info().
		Str(avlog.FieldEvent, "export.written").
		Str(avlog.FieldPath, path).
		Str(avlog.FieldSessionID, doc.SessionID).
		Int("results", len(doc.Results)).
		Msg("export written")
	return nil
}
