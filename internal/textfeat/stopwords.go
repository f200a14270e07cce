package textfeat

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// functionWords are Indonesian function words.
var functionWords = []string{
	"yang", "dan", "di", "ke", "pada", "untuk", "dengan", "adalah", "ini", "itu",
	"atau", "juga", "dari", "akan", "tidak", "telah", "dalam", "secara", "sehingga",
	"oleh", "saya", "kamu", "dia", "mereka", "kami", "kita", "ada", "bisa", "dapat",
	"sudah", "belum", "jika", "kalau", "namun", "tetapi", "maka", "sebagai", "karena",
	"ketika", "apabila", "seperti", "sebuah", "suatu", "bahwa", "sangat", "lebih", "kurang",
	"atas", "bawah", "kiri", "kanan", "depan", "belakang", "samping", "luar", "antara",
	"sekitar", "melalui", "terhadap", "tentang", "tanpa", "setelah", "sebelum", "selama",
	"sementara", "sejak", "hingga", "sampai", "saat", "waktu", "serta", "sebab", "akibat",
	"jadi", "kepada", "bagi", "mengenai",
}

// domainWords carry no signal for telling one reported item from another.
// Colours are deliberately absent: "dompet hitam" must still match on "hitam".
var domainWords = []string{
	"barang", "hilang", "temuan", "ditemukan", "kehilangan", "menemukan", "mencari",
	"warna", "berwarna", "milik", "punya", "tertinggal", "jatuh", "ketinggalan", "lupa",
	"uny", "universitas", "negeri", "yogyakarta", "kampus", "fakultas", "gedung", "ruang",
	"kelas", "laboratorium", "perpustakaan", "kantin", "rektorat", "fmipa", "fip", "fbs",
	"fik", "pascasarjana",
	"tolong", "mohon", "bantuan", "informasi", "kabar", "hubungi", "kontak", "nomor",
	"telepon", "whatsapp", "line", "instagram", "urgent", "darurat", "terima", "kasih",
	"besar", "kecil", "panjang", "pendek", "tinggi", "rendah", "tebal", "tipis", "baru",
	"lama", "bagus", "jelek", "rusak",
}

// DefaultStopwords returns the built-in stopword list, sorted.
func DefaultStopwords() []string {
	out := make([]string, 0, len(functionWords)+len(domainWords))
	out = append(out, functionWords...)
	out = append(out, domainWords...)
	return normalizeWords(out)
}

// LoadStopwords reads additional stopwords from path and merges them with the defaults.
// The file holds one word per line or comma separated words; the first CSV column
// is used when a line has several. Lines starting with # are ignored.
func LoadStopwords(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stopwords file: %w", err)
	}
	defer f.Close()

	words := DefaultStopwords()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		first, _, _ := strings.Cut(line, ",")
		words = append(words, first)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stopwords file: %w", err)
	}
	return normalizeWords(words), nil
}

func normalizeWords(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
