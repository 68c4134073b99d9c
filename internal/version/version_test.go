package version

import (
	"math/rand"
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runhook/internal/domain"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestComputeVersionIDOrderIndependent(t *testing.T) {
	ab := []domain.FileEntry{{Path: "a.txt", Hash: "h1", Size: 10}, {Path: "b.txt", Hash: "h2", Size: 20}}
	ba := []domain.FileEntry{{Path: "b.txt", Hash: "h2", Size: 20}, {Path: "a.txt", Hash: "h1", Size: 10}}

	first := ComputeVersionID("s1", ab)
	second := ComputeVersionID("s1", ba)

	assert.Equal(t, first, second)
	assert.Regexp(t, hex64, first)
	assert.Equal(t, "389cb068059e21aef16fa65d942e73e3de8440045e4dce75e841d758ba2ee009", first)
}

func TestComputeVersionIDPermutations(t *testing.T) {
	files := make([]domain.FileEntry, 0, 50)
	for i := 0; i < 50; i++ {
		files = append(files, domain.FileEntry{
			Path: string(rune('a'+i%26)) + "/" + string(rune('a'+i/26)) + ".bin",
			Hash: "hash",
			Size: int64(i),
		})
	}
	want := ComputeVersionID("storage", files)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]domain.FileEntry(nil), files...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, ComputeVersionID("storage", shuffled))
	}
}

func TestComputeVersionIDEmpty(t *testing.T) {
	empty := ComputeVersionID("s1", nil)
	assert.Equal(t, empty, ComputeVersionID("s1", []domain.FileEntry{}))
	assert.Equal(t, "467471a99c3c2ef0fab3caff43c079fee2a2910b0a14c1894a22dbb9ec425f65", empty)
}

func TestComputeVersionIDSensitivity(t *testing.T) {
	files := []domain.FileEntry{{Path: "a", Hash: "h", Size: 1}}
	base := ComputeVersionID("s1", files)

	assert.NotEqual(t, base, ComputeVersionID("s2", files), "storage id is part of the digest")
	assert.NotEqual(t, base, ComputeVersionID("s1", []domain.FileEntry{{Path: "a", Hash: "h2", Size: 1}}))
	assert.NotEqual(t, base, ComputeVersionID("s1", []domain.FileEntry{{Path: "a", Hash: "h", Size: 2}}))
	assert.NotEqual(t, base, ComputeVersionID("s1", []domain.FileEntry{{Path: "b", Hash: "h", Size: 1}}))
}

func TestDuplicatePathsLastWriteWins(t *testing.T) {
	dup := []domain.FileEntry{
		{Path: "a", Hash: "old", Size: 1},
		{Path: "b", Hash: "h", Size: 2},
		{Path: "a", Hash: "new", Size: 3},
	}
	clean := []domain.FileEntry{
		{Path: "a", Hash: "new", Size: 3},
		{Path: "b", Hash: "h", Size: 2},
	}

	assert.Equal(t, ComputeVersionID("s", clean), ComputeVersionID("s", dup))
	if diff := cmp.Diff(clean, Normalize(dup)); diff != "" {
		t.Fatalf("Normalize mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeIncremental(t *testing.T) {
	base := []domain.FileEntry{{Path: "a", Hash: "h", Size: 1}, {Path: "b", Hash: "h", Size: 2}}
	current := []domain.FileEntry{{Path: "b", Hash: "h2", Size: 2}}
	deleted := map[string]struct{}{"a": {}}

	got := MergeIncremental(base, current, deleted)
	if diff := cmp.Diff([]domain.FileEntry{{Path: "b", Hash: "h2", Size: 2}}, got); diff != "" {
		t.Fatalf("MergeIncremental mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeIncrementalKeepsUntouchedAndAppendsNew(t *testing.T) {
	base := []domain.FileEntry{{Path: "keep", Hash: "k", Size: 1}, {Path: "mod", Hash: "m1", Size: 1}}
	current := []domain.FileEntry{{Path: "mod", Hash: "m2", Size: 5}, {Path: "new", Hash: "n", Size: 7}}

	got := MergeIncremental(base, current, nil)
	want := []domain.FileEntry{
		{Path: "keep", Hash: "k", Size: 1},
		{Path: "mod", Hash: "m2", Size: 5},
		{Path: "new", Hash: "n", Size: 7},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("MergeIncremental mismatch (-want +got):\n%s", diff)
	}

	size, count := Totals(got)
	assert.Equal(t, int64(13), size)
	assert.Equal(t, 3, count)
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("user_1", domain.StorageTypeArtifact, "workspace", "abc", ArchiveBlob)
	assert.Equal(t, "user_1/artifact/workspace/abc/archive.tar.gz", key)
}

func TestManifestRoundTrip(t *testing.T) {
	m := NewManifest([]domain.FileEntry{{Path: "z", Hash: "1", Size: 1}, {Path: "a", Hash: "2", Size: 2}}, time.Unix(0, 0))
	assert.Equal(t, "a", m.Files[0].Path)
	assert.Equal(t, "1970-01-01T00:00:00Z", m.CreatedAt)

	_, err := DecodeManifest([]byte(`{"version":2,"files":[]}`))
	require.Error(t, err)

	got, err := DecodeManifest([]byte(`{"version":1,"files":[{"path":"a","hash":"h","size":3}],"createdAt":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, []domain.FileEntry{{Path: "a", Hash: "h", Size: 3}}, got.Files)
}
