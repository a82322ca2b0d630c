package result

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *TransformResult {
	r := &TransformResult{}
	r.AddProducedDir("classes")
	r.AddProducedFile("classes/app.jar", 2048)
	r.AddInputArtifact("/inputs/app-sources.jar", 4096)
	return r
}

func TestWriteReadRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		result *TransformResult
	}{
		{"empty result", &TransformResult{}},
		{"single file", func() *TransformResult {
			r := &TransformResult{}
			r.AddProducedFile("out.txt", 12)
			return r
		}()},
		{"mixed entries", sampleResult()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "results.bin")

			require.NoError(t, WriteToFile(path, tt.result))

			got, err := ReadResultsFile(path)
			require.NoError(t, err)
			assert.True(t, tt.result.Equal(got), "round-trip must preserve entries and order")
		})
	}
}

func TestWriteOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.bin")

	first := &TransformResult{}
	first.AddProducedFile("stale.txt", 1)
	require.NoError(t, WriteToFile(path, first))

	second := sampleResult()
	require.NoError(t, WriteToFile(path, second))

	got, err := ReadResultsFile(path)
	require.NoError(t, err)
	assert.True(t, second.Equal(got))
	assert.False(t, first.Equal(got))
}

func TestReadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.bin")

	got, err := ReadResultsFile(path)
	assert.Nil(t, got)
	require.Error(t, err)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, path, decodeErr.Path)
	assert.ErrorIs(t, err, ErrMissingResults)
}

func TestReadCorruptFile(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty file", nil},
		{"truncated header", []byte("LT")},
		{"bad magic", []byte("XXXX\x01payload")},
		{"unsupported version", []byte("LTHR\xff")},
		{"garbage payload", []byte("LTHR\x01not-msgpack-at-all")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "results.bin")
			require.NoError(t, os.WriteFile(path, tt.data, 0644))

			got, err := ReadResultsFile(path)
			assert.Nil(t, got, "corrupt file must never yield a result")
			require.Error(t, err)

			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.True(t, errors.Is(err, ErrCorruptResults), "expected corrupt-results classification, got: %v", err)
		})
	}
}

func TestWriteFailureSurfacesIOError(t *testing.T) {
	dir := t.TempDir()
	// Directory path in place of a file forces a write error.
	err := WriteToFile(dir, sampleResult())
	require.Error(t, err)
}

func TestResolvePaths(t *testing.T) {
	r := sampleResult()
	paths := r.ResolvePaths("/ws/transformed")

	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join("/ws/transformed", "classes"), paths[0])
	assert.Equal(t, filepath.Join("/ws/transformed", "classes/app.jar"), paths[1])
	assert.Equal(t, "/inputs/app-sources.jar", paths[2], "input-artifact entries keep their own location")
}
