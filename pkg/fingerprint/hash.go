package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// digestEntry is one file's digest contribution: the normalization-selected
// identity component plus the content hash. The raw backing path never
// appears here.
type digestEntry struct {
	Identity    string `json:"identity,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Dir         bool   `json:"dir,omitempty"`
}

type digestProperty struct {
	Value string        `json:"value,omitempty"`
	Files []digestEntry `json:"files,omitempty"`
}

// Digest computes the canonical hex sha256 digest of the snapshot.
//
// The digest covers the normalization-selected identity components and
// content hashes, never the raw paths the snapshot tracks for diffing:
// under name or content normalization a file moved to another directory
// must digest identically. The payload is canonical JSON (map keys sorted,
// file entries sorted) so equal resolved inputs always produce equal
// digests regardless of declaration or walk order.
func (s *Snapshot) Digest() (string, error) {
	payload, err := json.Marshal(s.digestPayload())
	if err != nil {
		return "", fmt.Errorf("marshal snapshot payload: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Snapshot) digestPayload() map[string]digestProperty {
	out := make(map[string]digestProperty, len(s.Properties))
	for name, prop := range s.Properties {
		dp := digestProperty{Value: prop.Value}
		if len(prop.Files) > 0 {
			entries := make([]digestEntry, 0, len(prop.Files))
			for _, fp := range prop.Files {
				entries = append(entries, digestEntry{
					Identity:    fp.Identity,
					ContentHash: fp.ContentHash,
					Dir:         fp.Dir,
				})
			}
			sort.Slice(entries, func(i, j int) bool {
				if entries[i].Identity != entries[j].Identity {
					return entries[i].Identity < entries[j].Identity
				}
				return entries[i].ContentHash < entries[j].ContentHash
			})
			dp.Files = entries
		}
		out[name] = dp
	}
	return out
}

// Equal reports whether two snapshots resolve to the same canonical digest.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	left, err := s.Digest()
	if err != nil {
		return false
	}
	right, err := other.Digest()
	if err != nil {
		return false
	}
	return left == right
}
