package commerceml

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Feed is the name of a CommerceML document family. It doubles as the
// subdirectory name the files are routed to.
type Feed string

const (
	FeedGoods            Feed = "goods"
	FeedOffers           Feed = "offers"
	FeedPrices           Feed = "prices"
	FeedRests            Feed = "rests"
	FeedPriceLists       Feed = "priceLists"
	FeedPropertiesGoods  Feed = "propertiesGoods"
	FeedPropertiesOffers Feed = "propertiesOffers"
	FeedContragents      Feed = "contragents"
)

// ImagesDir is the subdirectory holding product images
const ImagesDir = "import_files"

// Feeds lists every routed feed
var Feeds = []Feed{
	FeedGoods,
	FeedOffers,
	FeedPrices,
	FeedRests,
	FeedPriceLists,
	FeedPropertiesGoods,
	FeedPropertiesOffers,
	FeedContragents,
}

// feedPattern matches "<feed>.xml" and segmented variants such as
// offers_7.xml, goods_1_2.xml or rests___<uuid>.xml
var feedPattern = regexp.MustCompile(`(?i)^(goods|offers|prices|rests|pricelists|propertiesgoods|propertiesoffers|contragents)(?:[_\d][^/\\]*)?\.xml$`)

// rootImportPattern matches classic classifier documents written to the import root
var rootImportPattern = regexp.MustCompile(`(?i)^import[^/\\]*\.xml$`)

// FeedOf resolves the feed of a file name, case-insensitively
func FeedOf(name string) (Feed, bool) {
	m := feedPattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", false
	}
	prefix := strings.ToLower(m[1])
	for _, f := range Feeds {
		if strings.ToLower(string(f)) == prefix {
			return f, true
		}
	}
	return "", false
}

// IsRootImport reports whether name is a classifier document kept in the import root
func IsRootImport(name string) bool {
	return rootImportPattern.MatchString(filepath.Base(name))
}

// FeedFiles lists the XML files of a feed directory in natural order, so
// offers_2.xml sorts before offers_10.xml. A missing directory yields no files.
func FeedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Slice(files, func(i, j int) bool { return naturalLess(files[i], files[j]) })
	for i, name := range files {
		files[i] = filepath.Join(dir, name)
	}
	return files, nil
}

// RootImportFiles lists the import*.xml files directly under root in natural order
func RootImportFiles(root string) ([]string, error) {
	files, err := FeedFiles(root)
	if err != nil {
		return nil, err
	}
	out := files[:0]
	for _, f := range files {
		if IsRootImport(f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// naturalLess compares names chunk by chunk, digit runs numerically
func naturalLess(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	for a != "" && b != "" {
		ca, ra := nextChunk(a)
		cb, rb := nextChunk(b)
		if ca != cb {
			if isDigit(ca[0]) && isDigit(cb[0]) {
				ta, tb := strings.TrimLeft(ca, "0"), strings.TrimLeft(cb, "0")
				if len(ta) != len(tb) {
					return len(ta) < len(tb)
				}
				if ta != tb {
					return ta < tb
				}
				return len(ca) < len(cb)
			}
			return ca < cb
		}
		a, b = ra, rb
	}
	return len(a) < len(b)
}

func nextChunk(s string) (chunk, rest string) {
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
