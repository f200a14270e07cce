package textfeat

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/temuan/internal/matcherr"
)

type staticSource struct {
	docs  []string
	err   error
	calls atomic.Int32
}

func (s *staticSource) Descriptions(ctx context.Context) ([]string, error) {
	s.calls.Add(1)
	return s.docs, s.err
}

type memoryModelStore struct {
	mu    sync.Mutex
	saved *Model
}

func (m *memoryModelStore) SaveTextModel(ctx context.Context, model *Model) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *model
	m.saved = &cp
	return nil
}

func (m *memoryModelStore) LoadTextModel(ctx context.Context) (*Model, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		return nil, false, nil
	}
	cp := *m.saved
	return &cp, true, nil
}

func TestTokenizer_Preprocess(t *testing.T) {
	tok := NewTokenizer(DefaultStopwords())
	tests := []struct {
		in   string
		want string
	}{
		{"Dompet warna HITAM, berisi kartu!", "dompet hitam berisi kartu"},
		{"HP Samsung di kantin", "samsung"},
		{"lihat https://example.com/foto.jpg ya", "lihat url"},
		{"kunci nomor 1234 motor", "kunci num motor"},
		{"tas_ransel  adidas", "tas ransel adidas"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, tok.Preprocess(tt.in))
		})
	}
}

func TestTokenizer_PreprocessIdempotent(t *testing.T) {
	tok := NewTokenizer(DefaultStopwords())
	inputs := []string{
		"Dompet warna hitam berisi KTP & kartu ATM (BNI)",
		"x_123 dan 2024-01-05 www.foo.id/a",
		"Laptop ASUS silver; stiker 'anime' di belakang",
		"é123 ١٢٣ 12é34",
		"   ",
	}
	for _, in := range inputs {
		once := tok.Preprocess(in)
		assert.Equal(t, once, tok.Preprocess(once), "input %q", in)
	}
}

func TestDefaultStopwords_keepsColours(t *testing.T) {
	set := NewTokenizer(DefaultStopwords()).stop
	for _, colour := range []string{"hitam", "merah", "biru", "silver"} {
		_, ok := set[colour]
		assert.False(t, ok, "colour %q must not be a stopword", colour)
	}
	for _, w := range []string{"warna", "yang", "barang"} {
		_, ok := set[w]
		assert.True(t, ok, "%q should be a stopword", w)
	}
}

func TestLoadStopwords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stopwords.csv")
	content := "# extra words\nStiker,noun\n\nmerek\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	words, err := LoadStopwords(path)
	require.NoError(t, err)
	assert.Contains(t, words, "stiker")
	assert.Contains(t, words, "merek")
	assert.Contains(t, words, "yang")

	_, err = LoadStopwords(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestLoadSeedCorpus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.txt")
	require.NoError(t, os.WriteFile(path, []byte("dompet coklat\n\n# c\nsepatu putih\n"), 0600))
	docs, err := LoadSeedCorpus(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"dompet coklat", "sepatu putih"}, docs)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0600))
	_, err = LoadSeedCorpus(empty)
	assert.Error(t, err)
}

func TestNGrams(t *testing.T) {
	got := NGrams([]string{"tas", "ransel", "hitam"}, 1, 3)
	assert.Equal(t, []string{"tas", "ransel", "hitam", "tas ransel", "ransel hitam", "tas ransel hitam"}, got)
	assert.Empty(t, NGrams(nil, 1, 3))
}

func TestFit_pruningAndWeights(t *testing.T) {
	tok := NewTokenizer(nil)
	docs := []string{"dompet hitam", "dompet coklat", "payung hitam", "botol biru"}
	m, err := Fit(docs, tok, Params{NGramMin: 1, NGramMax: 1, MinDF: 1, MaxDF: 0.5, MaxFeatures: 100})
	require.NoError(t, err)
	// dompet and hitam appear in 2 of 4 docs: df 2 <= 0.5*4 keeps them
	assert.Contains(t, m.Terms, "dompet")
	assert.Contains(t, m.Terms, "coklat")
	assert.True(t, isSorted(m.Terms))

	m2, err := Fit(docs, tok, Params{NGramMin: 1, NGramMax: 1, MinDF: 1, MaxDF: 0.4, MaxFeatures: 100})
	require.NoError(t, err)
	assert.NotContains(t, m2.Terms, "dompet")
	assert.NotContains(t, m2.Terms, "hitam")

	idx := m.index["coklat"]
	want := math.Log(5.0/2.0) + 1
	assert.InDelta(t, want, m.IDF[idx], 1e-9)
}

func TestFit_maxFeatures(t *testing.T) {
	tok := NewTokenizer(nil)
	docs := []string{"aaa bbb", "aaa ccc", "aaa ddd", "eee fff"}
	m, err := Fit(docs, tok, Params{NGramMin: 1, NGramMax: 1, MinDF: 1, MaxDF: 1, MaxFeatures: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "bbb"}, m.Terms)
}

func TestFit_emptyVocabulary(t *testing.T) {
	_, err := Fit([]string{"sama sama"}, NewTokenizer(nil), Params{NGramMin: 1, NGramMax: 1, MinDF: 1, MaxDF: 0.5})
	assert.ErrorIs(t, err, ErrEmptyVocabulary)
	_, err = Fit(nil, NewTokenizer(nil), DefaultParams())
	assert.Error(t, err)
}

func TestModel_Transform(t *testing.T) {
	m, err := Fit(DefaultSeedCorpus(), NewTokenizer(DefaultStopwords()), DefaultParams())
	require.NoError(t, err)

	v := m.Transform("dompet hitam")
	assert.Len(t, v, m.Dimensions())
	assert.InDelta(t, 1.0, norm(v), 1e-5)

	zero := m.Transform("zzzz qqqq")
	assert.Len(t, zero, m.Dimensions())
	assert.Equal(t, 0.0, norm(zero))

	assert.Equal(t, v, m.Transform("dompet hitam"), "transform must be deterministic")
}

func TestModel_Restore(t *testing.T) {
	m, err := Fit(DefaultSeedCorpus(), NewTokenizer(DefaultStopwords()), DefaultParams())
	require.NoError(t, err)
	restored := &Model{
		Version:   m.Version,
		NGramMin:  m.NGramMin,
		NGramMax:  m.NGramMax,
		Terms:     m.Terms,
		IDF:       m.IDF,
		Stopwords: m.Stopwords,
	}
	require.NoError(t, restored.Restore())
	assert.Equal(t, m.Transform("kunci motor honda"), restored.Transform("kunci motor honda"))

	bad := &Model{Terms: []string{"a"}, IDF: nil}
	assert.Error(t, bad.Restore())
}

func TestExtractor_lazyFitOnce(t *testing.T) {
	src := &staticSource{docs: []string{"dompet warna hitam berisi kartu"}}
	e := NewExtractor(src, DefaultParams())

	_, err := e.Current()
	assert.ErrorIs(t, err, matcherr.ErrStaleModel)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, m := e.Vectorize(context.Background(), "dompet hitam")
			assert.NotNil(t, m)
			assert.Len(t, vec, m.Dimensions())
		}()
	}
	wg.Wait()

	m, err := e.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Version)
	assert.Equal(t, 1+len(DefaultSeedCorpus()), m.DocCount, "sparse corpus should be topped up with the seed")
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestExtractor_zeroVectorOnFailure(t *testing.T) {
	src := &staticSource{err: errors.New("db down")}
	e := NewExtractor(src, DefaultParams())
	vec, m := e.Vectorize(context.Background(), "dompet")
	assert.Nil(t, m)
	assert.Empty(t, vec)

	src.err = nil
	src.docs = []string{"dompet hitam"}
	first, err := e.Retrain(context.Background())
	require.NoError(t, err)

	src.err = errors.New("db down again")
	_, err = e.Retrain(context.Background())
	assert.Error(t, err)
	cur, _ := e.Current()
	assert.Same(t, first, cur, "failed retrain must keep the previous model")
}

func TestExtractor_RetrainSwapsVersion(t *testing.T) {
	src := &staticSource{docs: DefaultSeedCorpus()}
	e := NewExtractor(src, DefaultParams())
	m1, err := e.Retrain(context.Background())
	require.NoError(t, err)

	e.SetInputs(append(DefaultStopwords(), "dompet"), nil)
	m2, err := e.Retrain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, m1.Version+1, m2.Version)
	assert.NotEqual(t, m1.Fingerprint, m2.Fingerprint)
	assert.NotContains(t, m2.Terms, "dompet")
	assert.Contains(t, m1.Terms, "dompet", "old model must not be mutated")
}

func TestExtractor_LoadPersisted(t *testing.T) {
	store := &memoryModelStore{}
	src := &staticSource{docs: DefaultSeedCorpus()}
	e1 := NewExtractor(src, DefaultParams(), WithModelStore(store))
	m1, err := e1.Retrain(context.Background())
	require.NoError(t, err)

	e2 := NewExtractor(src, DefaultParams(), WithModelStore(store))
	ok, err := e2.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	loaded, err := e2.Current()
	require.NoError(t, err)
	assert.Equal(t, m1.Version, loaded.Version)
	assert.Equal(t, m1.Transform("tas ransel"), loaded.Transform("tas ransel"))

	e3 := NewExtractor(src, DefaultParams(), WithModelStore(store), WithSeedCorpus([]string{"sepatu putih"}))
	ok, err = e3.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "fingerprint mismatch must not activate the stored model")
	m3, err := e3.Retrain(context.Background())
	require.NoError(t, err)
	assert.Greater(t, m3.Version, m1.Version)
}

func isSorted(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] > s[i] {
			return false
		}
	}
	return true
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
