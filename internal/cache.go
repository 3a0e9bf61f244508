package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CacheVersion is bumped when the transcript file layout changes
const CacheVersion = "1"

// CacheManager keeps the last synced transcript of each session on disk
type CacheManager struct {
	cacheDir string
}

// CacheMetadata stores metadata about the cache
type CacheMetadata struct {
	CacheVersion string    `json:"cache_version" yaml:"cache_version"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
}

// TranscriptIndexEntry represents a transcript entry in the index
type TranscriptIndexEntry struct {
	ID           string `yaml:"id"`
	APIBase      string `yaml:"api_base,omitempty"`
	SyncedAt     string `yaml:"synced_at,omitempty"`
	MessageCount int    `yaml:"message_count"`
}

// TranscriptIndex represents the YAML index of all cached transcripts
type TranscriptIndex struct {
	Transcripts []TranscriptIndexEntry `yaml:"transcripts"`
	Metadata    CacheMetadata          `yaml:"metadata"`
}

// NewCacheManager creates a new cache manager
func NewCacheManager(cacheDir string) *CacheManager {
	return &CacheManager{
		cacheDir: cacheDir,
	}
}

// EnsureCacheDir ensures the cache directory exists
func (cm *CacheManager) EnsureCacheDir() error {
	return os.MkdirAll(cm.cacheDir, 0755)
}

// GetCacheDir returns the cache directory path
func (cm *CacheManager) GetCacheDir() string {
	return cm.cacheDir
}

// GetIndexPath returns the path to the transcript index YAML file
func (cm *CacheManager) GetIndexPath() string {
	return filepath.Join(cm.cacheDir, "transcripts.yaml")
}

// GetTranscriptPath returns the path to a session's transcript file
func (cm *CacheManager) GetTranscriptPath(sessionID string) string {
	return filepath.Join(cm.cacheDir, fmt.Sprintf("transcript_%s.json", safeFileName(sessionID)))
}

// LoadIndex loads the transcript index. A missing index yields an empty one.
func (cm *CacheManager) LoadIndex() (*TranscriptIndex, error) {
	indexPath := cm.GetIndexPath()
	data, err := os.ReadFile(indexPath)
	if os.IsNotExist(err) {
		return &TranscriptIndex{Metadata: CacheMetadata{CacheVersion: CacheVersion}}, nil
	}
	if err != nil {
		return nil, &StorageError{Path: indexPath, Op: "read index", Err: err}
	}

	var index TranscriptIndex
	if err := yaml.Unmarshal(data, &index); err != nil {
		return nil, &ParseError{Source: indexPath, Err: fmt.Errorf("failed to unmarshal index: %w", err)}
	}

	return &index, nil
}

// SaveIndex saves the transcript index
func (cm *CacheManager) SaveIndex(index *TranscriptIndex) error {
	if err := cm.EnsureCacheDir(); err != nil {
		return &StorageError{Path: cm.cacheDir, Op: "create cache dir", Err: err}
	}

	indexPath := cm.GetIndexPath()
	data, err := yaml.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	if err := os.WriteFile(indexPath, data, 0644); err != nil {
		return &StorageError{Path: indexPath, Op: "write index", Err: err}
	}
	return nil
}

// SaveTranscript writes a transcript to its cache file and updates the index
func (cm *CacheManager) SaveTranscript(t *Transcript) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("transcript has no session id")
	}
	if err := cm.EnsureCacheDir(); err != nil {
		return &StorageError{Path: cm.cacheDir, Op: "create cache dir", Err: err}
	}

	path := cm.GetTranscriptPath(t.ID)
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &StorageError{Path: path, Op: "write transcript", Err: err}
	}

	index, err := cm.LoadIndex()
	if err != nil {
		LogWarn("Rebuilding unreadable cache index: %v", err)
		index = &TranscriptIndex{}
	}

	now := time.Now()
	if index.Metadata.CreatedAt.IsZero() {
		index.Metadata.CreatedAt = now
	}
	index.Metadata.UpdatedAt = now
	index.Metadata.CacheVersion = CacheVersion

	entry := TranscriptIndexEntry{
		ID:           t.ID,
		APIBase:      t.Metadata.APIBase,
		SyncedAt:     t.Metadata.SyncedAt,
		MessageCount: len(t.Messages),
	}
	replaced := false
	for i := range index.Transcripts {
		if index.Transcripts[i].ID == t.ID {
			index.Transcripts[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		index.Transcripts = append(index.Transcripts, entry)
	}

	// Most recently synced first
	sort.SliceStable(index.Transcripts, func(i, j int) bool {
		return index.Transcripts[i].SyncedAt > index.Transcripts[j].SyncedAt
	})

	LogDebug("Cached transcript %s (%d messages)", t.ID, len(t.Messages))
	return cm.SaveIndex(index)
}

// LoadTranscript loads a session's cached transcript
func (cm *CacheManager) LoadTranscript(sessionID string) (*Transcript, error) {
	path := cm.GetTranscriptPath(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StorageError{Path: path, Op: "read transcript", Err: err}
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &ParseError{Source: path, Key: sessionID, Err: err}
	}
	t.Source = "cache"

	return &t, nil
}

// DeleteTranscript removes a session's cached transcript and index entry.
// Deleting a transcript that was never cached is not an error.
func (cm *CacheManager) DeleteTranscript(sessionID string) error {
	path := cm.GetTranscriptPath(sessionID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &StorageError{Path: path, Op: "delete transcript", Err: err}
	}

	if _, err := os.Stat(cm.GetIndexPath()); os.IsNotExist(err) {
		return nil
	}
	index, err := cm.LoadIndex()
	if err != nil {
		return err
	}
	kept := index.Transcripts[:0]
	for _, e := range index.Transcripts {
		if e.ID != sessionID {
			kept = append(kept, e)
		}
	}
	index.Transcripts = kept
	index.Metadata.UpdatedAt = time.Now()
	return cm.SaveIndex(index)
}

// ClearCache removes all cache files
func (cm *CacheManager) ClearCache() error {
	entries, err := os.ReadDir(cm.cacheDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &StorageError{Path: cm.cacheDir, Op: "read cache dir", Err: err}
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasPrefix(name, "transcript_") || name == "transcripts.yaml") {
			continue
		}
		if err := os.Remove(filepath.Join(cm.cacheDir, name)); err != nil {
			return &StorageError{Path: filepath.Join(cm.cacheDir, name), Op: "delete", Err: err}
		}
	}

	return nil
}

// safeFileName keeps ids usable as file names on every platform
func safeFileName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
