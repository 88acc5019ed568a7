// Package files enforces the upload policy supplied by the marketplace
// configuration collaborator: which file extensions and MIME types may be
// attached to chat messages and how large they may be. The policy is checked
// client-side before any upload request is attempted.
package files

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// cacheTTL is how long a fetched policy stays valid before it is refreshed.
const cacheTTL = 5 * time.Minute

// FileType is one allowed file category as delivered by the configuration
// endpoint.
type FileType struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
	MimeTypes  []string `json:"mimeTypes"`
	MaxSizeMB  int64    `json:"maxSize"`
}

// DefaultTypes is the built-in policy used when the configuration
// collaborator returns no policy or cannot be reached.
func DefaultTypes() []FileType {
	return []FileType{
		{
			ID:         "images",
			Name:       "Images",
			Extensions: []string{"jpg", "jpeg", "png", "gif", "webp", "svg"},
			MimeTypes:  []string{"image/*"},
			MaxSizeMB:  10,
		},
		{
			ID:         "documents",
			Name:       "Documents",
			Extensions: []string{"pdf", "doc", "docx", "txt", "rtf", "odt"},
			MimeTypes:  []string{"application/pdf", "application/msword", "text/*"},
			MaxSizeMB:  50,
		},
		{
			ID:         "archives",
			Name:       "Archives",
			Extensions: []string{"zip", "rar", "7z", "tar", "gz"},
			MimeTypes:  []string{"application/zip", "application/x-7z-compressed"},
			MaxSizeMB:  200,
		},
		{
			ID:         "audio",
			Name:       "Audio",
			Extensions: []string{"mp3", "wav", "flac", "aac", "ogg"},
			MimeTypes:  []string{"audio/*"},
			MaxSizeMB:  100,
		},
	}
}

// Source fetches the current policy from the configuration collaborator.
// Returning a nil slice means "no policy configured, use defaults"; an empty
// non-nil slice means "all uploads blocked".
type Source func(ctx context.Context) ([]FileType, error)

// ValidationError reports why a single file was rejected. One bad file in a
// batch never blocks the other files.
type ValidationError struct {
	FileName string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("files: %s: %s", e.FileName, e.Reason)
}

// Candidate is one file offered for upload.
type Candidate struct {
	Name string
	Size int64
}

// Policy caches the allowed file types and validates upload candidates
// against them.
type Policy struct {
	source Source

	mu        sync.Mutex
	cached    []FileType
	fetchedAt time.Time
	now       func() time.Time
}

// NewPolicy creates a Policy backed by the given source. A nil source always
// yields the default types.
func NewPolicy(source Source) *Policy {
	return &Policy{source: source, now: time.Now}
}

// Types returns the active file types, fetching from the source when the
// cache has expired. Fetch failures fall back to the defaults so an outage
// of the configuration endpoint does not block uploads entirely.
func (p *Policy) Types(ctx context.Context) []FileType {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.now().Sub(p.fetchedAt) < cacheTTL {
		return p.cached
	}

	if p.source == nil {
		p.cached = DefaultTypes()
		p.fetchedAt = p.now()
		return p.cached
	}

	types, err := p.source(ctx)
	if err != nil {
		log.Printf("[files] policy fetch failed, using defaults: %v", err)
		types = DefaultTypes()
	} else if types == nil {
		types = DefaultTypes()
	}
	// An empty non-nil slice is kept as-is: the admin disabled all uploads.
	p.cached = types
	p.fetchedAt = p.now()
	return p.cached
}

// MaxSizeBytes returns the largest size the active policy admits for any
// type, or zero when all uploads are blocked.
func (p *Policy) MaxSizeBytes(ctx context.Context) int64 {
	types := p.Types(ctx)
	if len(types) == 0 {
		return 0
	}
	var max int64 = 10 // original policy floor, in MB
	for _, t := range types {
		if t.MaxSizeMB > max {
			max = t.MaxSizeMB
		}
	}
	return max << 20
}

// Validate checks one candidate against the active policy.
func (p *Policy) Validate(ctx context.Context, c Candidate) error {
	types := p.Types(ctx)
	if len(types) == 0 {
		return &ValidationError{FileName: c.Name, Reason: "file uploads are disabled"}
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(c.Name), "."))
	if ext == "" {
		return &ValidationError{FileName: c.Name, Reason: "file has no extension"}
	}

	var matched *FileType
	for i := range types {
		for _, allowed := range types[i].Extensions {
			if ext == allowed {
				matched = &types[i]
				break
			}
		}
		if matched != nil {
			break
		}
	}
	if matched == nil {
		return &ValidationError{FileName: c.Name, Reason: fmt.Sprintf("file type .%s is not allowed", ext)}
	}

	if c.Size > matched.MaxSizeMB<<20 {
		return &ValidationError{
			FileName: c.Name,
			Reason:   fmt.Sprintf("file exceeds the %d MB limit for %s", matched.MaxSizeMB, matched.Name),
		}
	}
	return nil
}

// ValidateBatch checks every candidate independently and returns the valid
// ones plus one error per rejected file. A rejected file does not block the
// valid files in the same batch.
func (p *Policy) ValidateBatch(ctx context.Context, candidates []Candidate) ([]Candidate, []*ValidationError) {
	var valid []Candidate
	var errs []*ValidationError
	for _, c := range candidates {
		if err := p.Validate(ctx, c); err != nil {
			errs = append(errs, err.(*ValidationError))
			continue
		}
		valid = append(valid, c)
	}
	return valid, errs
}
