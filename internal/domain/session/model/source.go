// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// SourceKind defines the nature of the media source.
type SourceKind string

const (
	SourceFile SourceKind = "file"
	SourceLive SourceKind = "live"
)

// FileSource describes a local video file selected for upload.
type FileSource struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes"`
	MIMEType  string `json:"mimeType"`
	// Path is where the transport reads the bytes from. Never serialized.
	Path string `json:"-"`
}

// LiveSource describes a live camera feed.
type LiveSource struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Source is the variant of media a session analyzes. Exactly one of File
// and Live is set, matching Kind.
type Source struct {
	Kind SourceKind  `json:"kind"`
	File *FileSource `json:"file,omitempty"`
	Live *LiveSource `json:"live,omitempty"`
}

// NewFileSource builds a file source variant.
func NewFileSource(f FileSource) Source {
	return Source{Kind: SourceFile, File: &f}
}

// NewLiveSource builds a live source variant.
func NewLiveSource(width, height int) Source {
	return Source{Kind: SourceLive, Live: &LiveSource{Width: width, Height: height}}
}

// Clone returns a copy that shares no pointers with s.
func (s Source) Clone() Source {
	out := Source{Kind: s.Kind}
	if s.File != nil {
		f := *s.File
		out.File = &f
	}
	if s.Live != nil {
		l := *s.Live
		out.Live = &l
	}
	return out
}

// String renders a short human-readable description for logs.
func (s Source) String() string {
	switch s.Kind {
	case SourceFile:
		if s.File == nil {
			return "file(?)"
		}
		return fmt.Sprintf("file(%s, %d bytes, %s)", s.File.Name, s.File.SizeBytes, s.File.MIMEType)
	case SourceLive:
		if s.Live == nil {
			return "live(?)"
		}
		return fmt.Sprintf("live(%dx%d)", s.Live.Width, s.Live.Height)
	default:
		return "none"
	}
}

// videoExtensions covers containers the system mime table often lacks.
var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".ts":   "video/mp2t",
}

// FileSourceFromPath stats a local file and derives its MIME type from the
// extension, falling back to content sniffing of the first 512 bytes.
func FileSourceFromPath(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Source{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Source{}, fmt.Errorf("%s is a directory", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	mimeType := videoExtensions[ext]
	if mimeType == "" {
		mimeType = mime.TypeByExtension(ext)
	}
	if mimeType == "" {
		mimeType, err = sniffMIME(path)
		if err != nil {
			return Source{}, err
		}
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	return NewFileSource(FileSource{
		Name:      filepath.Base(path),
		SizeBytes: info.Size(),
		MIMEType:  mimeType,
		Path:      path,
	}), nil
}

func sniffMIME(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "application/octet-stream", nil
	}
	return http.DetectContentType(buf[:n]), nil
}
