// Package media is the content-addressable attachment store. Blobs live at
// <provider>/media/{images,videos,audio,documents}/<sha256><ext> and are
// tracked in <provider>/media-registry.json with the set of conversations
// that reference them.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"chatvault/internal/arc"
	"chatvault/internal/fs"
	"chatvault/internal/storage"
)

const (
	stagingDir = ".staging"
	// sniffLen is how much of the stream is kept for content detection.
	sniffLen = 3072
)

// Options configures a Store.
type Options struct {
	// MaxBytes rejects downloads larger than this; zero means unlimited.
	MaxBytes int64
}

// Request describes one attachment download.
type Request struct {
	URL            string
	Type           arc.AttachmentType
	MimeType       string
	Provider       string
	ConversationID string
}

// Result is the outcome of a successful DownloadMedia. When Skipped is set
// the bytes matched an existing blob and Path/Size describe that blob.
type Result struct {
	Path    string
	Size    int64
	Hash    string
	Skipped bool
}

// Store implements arc.MediaStore on the local filesystem.
type Store struct {
	baseDir string
	fetcher Fetcher
	opts    Options
	logger  arc.Logger
	clock   arc.Clock

	mu         sync.Mutex
	registries map[string]*registry
	hashLocks  *keyedMutex
}

// New creates a media store under baseDir, the same root the content store
// uses.
func New(baseDir string, fetcher Fetcher, opts Options, logger arc.Logger, clock arc.Clock) (*Store, error) {
	if baseDir == "" {
		return nil, errors.New("media base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating media base directory: %w", err)
	}
	return &Store{
		baseDir:    baseDir,
		fetcher:    fetcher,
		opts:       opts,
		logger:     logger,
		clock:      clock,
		registries: make(map[string]*registry),
		hashLocks:  newKeyedMutex(),
	}, nil
}

func (s *Store) providerDir(provider string) string {
	return filepath.Join(s.baseDir, storage.Sanitize(provider))
}

// registry returns the provider's registry, loading it on first use.
func (s *Store) registry(provider string) (*registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.registries[provider]; ok {
		return r, nil
	}
	r, err := loadRegistry(filepath.Join(s.providerDir(provider), registryFile))
	if err != nil {
		return nil, err
	}
	s.registries[provider] = r
	return r, nil
}

// DownloadConversationMedia downloads every remote attachment of conv in
// order. Failures are recorded per attachment and never stop the loop.
func (s *Store) DownloadConversationMedia(ctx context.Context, conv *arc.Conversation, onProgress arc.MediaProgressFunc) arc.MediaReport {
	var report arc.MediaReport
	atts := conv.RemoteAttachments()
	for i, a := range atts {
		res, err := s.DownloadMedia(ctx, Request{
			URL:            a.URL,
			Type:           a.Type,
			MimeType:       a.MimeType,
			Provider:       conv.Provider,
			ConversationID: conv.ID,
		})
		switch {
		case err != nil:
			report.Failed++
			report.Errors = append(report.Errors, arc.MediaError{
				AttachmentID: a.ID,
				URL:          redactURL(a.URL),
				Message:      err.Error(),
			})
			s.logger.Warn("media download failed", "provider", conv.Provider, "id", conv.ID, "url", redactURL(a.URL), "error", err)
		case res.Skipped:
			report.Skipped++
		default:
			report.Downloaded++
			report.Bytes += res.Size
		}
		if onProgress != nil {
			onProgress(i+1, len(atts))
		}
	}
	return report
}

// DownloadMedia streams req.URL into a staging file while hashing it, then
// either adds a reference to an existing blob with the same hash or moves
// the staged file into its permanent location.
func (s *Store) DownloadMedia(ctx context.Context, req Request) (*Result, error) {
	if req.URL == "" {
		return nil, errors.New("media url is required")
	}
	if req.Provider == "" || req.ConversationID == "" {
		return nil, errors.New("media provider and conversation id are required")
	}
	reg, err := s.registry(req.Provider)
	if err != nil {
		return nil, err
	}

	staged, err := s.stage(ctx, req)
	if err != nil {
		return nil, err
	}
	defer staged.cleanup()

	unlock := s.hashLocks.Lock(req.Provider + "/" + staged.hash)
	defer unlock()

	if existing, ok := reg.get(staged.hash); ok {
		if err := reg.reference(staged.hash, req.ConversationID); err != nil {
			return nil, err
		}
		s.logger.Debug("media deduplicated", "provider", req.Provider, "hash", staged.hash, "id", req.ConversationID)
		return &Result{
			Path:    filepath.Join(s.providerDir(req.Provider), filepath.FromSlash(existing.Path)),
			Size:    existing.Size,
			Hash:    staged.hash,
			Skipped: true,
		}, nil
	}

	rel := path.Join("media", category(req.Type, staged.mimeType), staged.hash+extension(staged.mimeType, req.URL, req.Type))
	dest := filepath.Join(s.providerDir(req.Provider), filepath.FromSlash(rel))
	if err := fs.MoveFile(staged.path, dest); err != nil {
		return nil, err
	}
	staged.moved = true

	entry := &Entry{
		Hash:       staged.hash,
		Path:       rel,
		Size:       staged.size,
		MimeType:   staged.mimeType,
		FirstSeen:  s.clock.Now(),
		References: []string{req.ConversationID},
	}
	if err := reg.register(entry); err != nil {
		os.Remove(dest)
		return nil, err
	}
	return &Result{Path: dest, Size: staged.size, Hash: staged.hash}, nil
}

// stagedFile is a completed download waiting in the staging directory.
type stagedFile struct {
	path     string
	hash     string
	size     int64
	mimeType string
	moved    bool
}

// cleanup removes the staged file unless it was moved into place.
func (f *stagedFile) cleanup() {
	if !f.moved {
		os.Remove(f.path)
	}
}

// stage downloads req.URL into the provider's staging directory. The temp
// file is removed before any error is returned.
func (s *Store) stage(ctx context.Context, req Request) (*stagedFile, error) {
	body, contentType, err := s.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	dir := filepath.Join(s.providerDir(req.Provider), "media", stagingDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "download-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging file: %w", err)
	}
	staged := &stagedFile{path: tmp.Name()}

	hasher := sha256.New()
	head := &headBuffer{limit: sniffLen}
	var src io.Reader = body
	if s.opts.MaxBytes > 0 {
		src = io.LimitReader(body, s.opts.MaxBytes+1)
	}
	n, err := io.Copy(io.MultiWriter(tmp, hasher, head), src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = errors.New("media is empty")
	}
	if err == nil && s.opts.MaxBytes > 0 && n > s.opts.MaxBytes {
		err = fmt.Errorf("media exceeds max size of %d bytes", s.opts.MaxBytes)
	}
	if err != nil {
		staged.cleanup()
		return nil, fmt.Errorf("downloading %s: %w", redactURL(req.URL), err)
	}

	staged.hash = hex.EncodeToString(hasher.Sum(nil))
	staged.size = n
	staged.mimeType = resolveMimeType(req.MimeType, contentType, head.buf)
	return staged, nil
}

// headBuffer keeps the first limit bytes written to it.
type headBuffer struct {
	buf   []byte
	limit int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}

// resolveMimeType prefers the attachment's declared type, then the response
// Content-Type, then content sniffing. Placeholder types fall through.
func resolveMimeType(declared, contentType string, head []byte) string {
	for _, candidate := range []string{declared, contentType} {
		if mt := baseMimeType(candidate); !isPlaceholderMime(mt) {
			return mt
		}
	}
	return baseMimeType(mimetype.Detect(head).String())
}

// isPlaceholderMime reports types that name no real format, such as
// application/octet-stream or audio/x-unknown.
func isPlaceholderMime(mt string) bool {
	_, sub, ok := strings.Cut(mt, "/")
	if !ok {
		return true
	}
	switch sub {
	case "", "octet-stream", "unknown", "x-unknown":
		return true
	}
	return false
}

func baseMimeType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return mt
}

// category maps an attachment to its media subdirectory.
func category(t arc.AttachmentType, mimeType string) string {
	switch t {
	case arc.AttachmentImage:
		return "images"
	case arc.AttachmentVideo:
		return "videos"
	case arc.AttachmentAudio:
		return "audio"
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "images"
	case strings.HasPrefix(mimeType, "video/"):
		return "videos"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	default:
		return "documents"
	}
}

// extension picks a file extension from the MIME type, then the URL path,
// then the category default.
func extension(mimeType, rawURL string, t arc.AttachmentType) string {
	if ext := mimeExtension(mimeType, t); ext != "" {
		return ext
	}
	if !strings.HasPrefix(rawURL, "data:") {
		if u, err := url.Parse(rawURL); err == nil {
			if ext := strings.ToLower(path.Ext(u.Path)); isPlainExt(ext) {
				return ext
			}
		}
	}
	switch category(t, mimeType) {
	case "images":
		return ".png"
	case "videos":
		return ".mp4"
	case "audio":
		return ".mp3"
	default:
		return ".bin"
	}
}

// mimeExtension returns the registered extension of a specific MIME type,
// or "" when the type is a placeholder, unknown to mimetype, or disagrees
// with the attachment's category (a sniffed text/plain for a video).
func mimeExtension(mimeType string, t arc.AttachmentType) string {
	if isPlaceholderMime(mimeType) {
		return ""
	}
	m := mimetype.Lookup(mimeType)
	if m == nil || !m.Is(mimeType) {
		return ""
	}
	if category(t, mimeType) != category("", mimeType) {
		return ""
	}
	return m.Extension()
}

func isPlainExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

var _ arc.MediaStore = (*Store)(nil)
