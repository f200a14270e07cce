package textfeat

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// defaultSeed is mixed into sparse corpora so the vocabulary covers common item words.
var defaultSeed = []string{
	"dompet hitam berisi kartu mahasiswa",
	"laptop asus warna silver dengan stiker",
	"kunci motor honda dengan gantungan",
	"buku catatan berwarna merah",
	"kartu tanda mahasiswa universitas negeri yogyakarta",
	"hp samsung warna hitam layar retak",
	"kacamata minus frame hitam",
	"jam tangan casio berwarna silver",
	"botol minum tupperware warna biru",
	"tas ransel hitam adidas",
	"jaket warna navy hoodie",
	"headphone bluetooth sony warna hitam",
	"charger laptop lenovo ujung warna kuning",
	"flash disk sandisk warna biru",
	"payung lipat warna hitam",
}

// DefaultSeedCorpus returns a copy of the bundled seed descriptions.
func DefaultSeedCorpus() []string {
	out := make([]string, len(defaultSeed))
	copy(out, defaultSeed)
	return out
}

// LoadSeedCorpus reads one description per non-empty line from path.
func LoadSeedCorpus(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed corpus: %w", err)
	}
	defer f.Close()

	var docs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		docs = append(docs, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read seed corpus: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("seed corpus %s is empty", path)
	}
	return docs, nil
}
