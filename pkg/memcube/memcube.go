// Package memcube defines memory records ("cubes"): governed, versioned units
// of agent knowledge with a tiered payload and a lifecycle.
package memcube

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrInvalidRecord is returned when a record fails validation.
var ErrInvalidRecord = errors.New("invalid memory record")

// Type categorizes the content of a record.
type Type string

const (
	TypePlaintext  Type = "plaintext"
	TypeActivation Type = "activation"
	TypeParameter  Type = "parameter"
)

// Priority is the storage temperature of a record.
type Priority string

const (
	PriorityHot  Priority = "hot"
	PriorityWarm Priority = "warm"
	PriorityCold Priority = "cold"
)

// Weight returns the scheduler tier weight for the priority.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityHot:
		return 1.0
	case PriorityWarm:
		return 0.5
	case PriorityCold:
		return 0.1
	default:
		return 0
	}
}

// StorageMode is the payload placement strategy.
type StorageMode string

const (
	StorageInline     StorageMode = "inline"
	StorageCompressed StorageMode = "compressed"
	StorageCold       StorageMode = "cold"
)

const (
	// InlineLimit is the largest payload kept inline, in bytes.
	InlineLimit = 4 * 1024

	// CompressedLimit is the largest payload kept compressed in the record store.
	CompressedLimit = 64 * 1024
)

// Limit returns the size bound for mode, or -1 when unbounded.
func (m StorageMode) Limit() int {
	switch m {
	case StorageInline:
		return InlineLimit
	case StorageCompressed:
		return CompressedLimit
	default:
		return -1
	}
}

// ModeForSize picks the cheapest storage mode that can hold size bytes.
func ModeForSize(size int) StorageMode {
	switch {
	case size <= InlineLimit:
		return StorageInline
	case size <= CompressedLimit:
		return StorageCompressed
	default:
		return StorageCold
	}
}

// Governance holds access and retention policy for a record.
type Governance struct {
	ReadRoles  []string `json:"read_roles,omitempty"`
	WriteRoles []string `json:"write_roles,omitempty"`
	TTLDays    int      `json:"ttl_days,omitempty"`
	Shareable  bool     `json:"shareable"`
	License    string   `json:"license,omitempty"`
	PII        bool     `json:"pii"`
}

// CanRead reports whether any of roles appears in the read list. An empty
// read list is open to every caller.
func (g Governance) CanRead(roles []string) bool {
	return allowed(g.ReadRoles, roles)
}

// CanWrite reports whether any of roles appears in the write list. An empty
// write list is open to every caller.
func (g Governance) CanWrite(roles []string) bool {
	return allowed(g.WriteRoles, roles)
}

func allowed(list, roles []string) bool {
	if len(list) == 0 {
		return true
	}
	for _, r := range roles {
		if slices.Contains(list, r) {
			return true
		}
	}
	return false
}

// TTLExceeded reports whether the governance TTL has elapsed since created.
func (g Governance) TTLExceeded(created, now time.Time) bool {
	if g.TTLDays <= 0 {
		return false
	}
	return now.Sub(created) >= time.Duration(g.TTLDays)*24*time.Hour
}

// Payload is one version of a record's content.
type Payload struct {
	Version     int         `json:"version"`
	Content     string      `json:"content,omitempty"`
	StorageMode StorageMode `json:"storage_mode"`
	TokenCount  int         `json:"token_count"`
	Size        int         `json:"size"`
	Checksum    string      `json:"checksum"`
	BlobRef     string      `json:"blob_ref,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`

	// Data is the stored representation: raw bytes for inline, zstd frames
	// for compressed and empty for cold payloads.
	Data []byte `json:"-"`
}

// Record is a memory cube. Payload holds the current version; earlier
// versions are kept by the record store.
type Record struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	Label      string     `json:"label"`
	Type       Type       `json:"type"`
	Version    int        `json:"version"`
	Governance Governance `json:"governance"`
	Priority   Priority   `json:"priority"`
	Lifecycle  Lifecycle  `json:"lifecycle"`
	UsageHits  int        `json:"usage_hits"`
	LastUsed   *time.Time `json:"last_used,omitempty"`
	Payload    Payload    `json:"payload"`
	Tasks      []string   `json:"tasks,omitempty"`
	Embedding  []float32  `json:"embedding,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	ExpiredAt  *time.Time `json:"expired_at,omitempty"`
}

// Clone returns a deep copy so callers never share slices with a store.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Governance.ReadRoles = slices.Clone(r.Governance.ReadRoles)
	cp.Governance.WriteRoles = slices.Clone(r.Governance.WriteRoles)
	cp.Tasks = slices.Clone(r.Tasks)
	cp.Embedding = slices.Clone(r.Embedding)
	cp.Payload.Data = slices.Clone(r.Payload.Data)
	cp.LastUsed = clonePtr(r.LastUsed)
	cp.ArchivedAt = clonePtr(r.ArchivedAt)
	cp.ExpiredAt = clonePtr(r.ExpiredAt)
	return &cp
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// LinkedTo reports whether the record is explicitly linked to taskID.
func (r *Record) LinkedTo(taskID string) bool {
	return taskID != "" && slices.Contains(r.Tasks, taskID)
}

// Schedulable reports whether the record may appear in a schedule.
func (r *Record) Schedulable() bool {
	return r.Lifecycle != LifecycleArchived && r.Lifecycle != LifecycleExpired
}

// ApproxTokens estimates a token count for content: one token per four bytes.
func ApproxTokens(content string) int {
	return (len(content) + 3) / 4
}

// ValidateNew checks the caller supplied fields of a record about to be
// created.
func (r *Record) ValidateNew() error {
	var problems []string
	if strings.TrimSpace(r.ProjectID) == "" {
		problems = append(problems, "project_id is required")
	}
	if strings.TrimSpace(r.Label) == "" {
		problems = append(problems, "label is required")
	}
	switch r.Type {
	case TypePlaintext, TypeActivation, TypeParameter:
	default:
		problems = append(problems, fmt.Sprintf("unknown type %q", r.Type))
	}
	switch r.Priority {
	case PriorityHot, PriorityWarm, PriorityCold:
	default:
		problems = append(problems, fmt.Sprintf("unknown priority %q", r.Priority))
	}
	switch r.Payload.StorageMode {
	case "", StorageInline, StorageCompressed, StorageCold:
	default:
		problems = append(problems, fmt.Sprintf("unknown storage mode %q", r.Payload.StorageMode))
	}
	if r.Payload.TokenCount < 0 {
		problems = append(problems, "token_count must not be negative")
	}
	if r.Governance.TTLDays < 0 {
		problems = append(problems, "ttl_days must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(problems, "; "))
	}
	return nil
}
