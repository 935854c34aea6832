// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

// Package agent loads the identity of the workstation agent this client
// runs next to.
package agent

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/tomtom215/deskline/internal/logging"
)

// Development fallbacks used when the ids file is missing or incomplete.
const (
	DevInstanceID = "INST-LOCAL-DEV"
	DevOperatorID = "OPER-LOCAL-DEV"
)

// IDs identifies the agent installation and the operator it belongs to.
type IDs struct {
	InstanceID string
	OperatorID string
}

// Load reads key=value lines from path. Blank lines and lines starting
// with # are skipped; keys are case-insensitive. A missing file is not an
// error: the development fallbacks are returned instead.
func Load(path string) (IDs, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Warn().Str("path", path).Msg("Agent ids file not found, using development ids")
		return withFallbacks(IDs{}), nil
	}
	if err != nil {
		return withFallbacks(IDs{}), fmt.Errorf("open agent ids: %w", err)
	}
	defer f.Close()

	ids, err := Parse(f)
	if err != nil {
		return ids, fmt.Errorf("read agent ids %s: %w", path, err)
	}
	return ids, nil
}

// Parse reads agent ids from r and applies the development fallbacks.
func Parse(r io.Reader) (IDs, error) {
	var ids IDs
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "instance":
			ids.InstanceID = strings.TrimSpace(value)
		case "operator":
			ids.OperatorID = strings.TrimSpace(value)
		}
	}
	return withFallbacks(ids), sc.Err()
}

func withFallbacks(ids IDs) IDs {
	if ids.InstanceID == "" {
		ids.InstanceID = DevInstanceID
	}
	if ids.OperatorID == "" {
		ids.OperatorID = DevOperatorID
	}
	return ids
}
