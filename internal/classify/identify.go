package classify

import (
	"fmt"
	"io"
)

// Known is a named header signature.
type Known struct {
	Code string
	Name string
}

// knownTypes is checked in order; the first header match wins.
var knownTypes = []Known{
	{"3026B2758E66CF11", "asf"},
	{"41564920", "avi"},
	{"424D", "bmp"},
	{"CFAD12FEC5FD746F", "dbx"},
	{"D0CF11E0", "doc,xls"},
	{"504B0304", "zip"},
	{"41433130", "dwg"},
	{"44656C69766572792D646174653A", "eml"},
	{"47494638", "gif"},
	{"1F8B08", "gz"},
	{"68746D6C3E", "html"},
	{"FFD8FF", "jpeg,jpg"},
	{"5374616E64617264204A", "mdb"},
	{"4D546864", "mid"},
	{"6D6F6F76", "mov"},
	{"000001B3", "mpg"},
	{"000001BA", "mpg"},
	{"255044462D312E", "pdf"},
	{"4D5A", "pe"},
	{"89504E47", "png"},
	{"252150532D41646F6265", "ps"},
	{"38425053", "psd"},
	{"2142444E", "pst"},
	{"E3828596", "pwl"},
	{"AC9EBD8F", "qdf"},
	{"2E7261FD", "ram"},
	{"52617221", "rar"},
	{"2E524D46", "rm"},
	{"7B5C727466", "rtf"},
	{"49492A00", "tif"},
	{"57415645", "wav"},
	{"FF575043", "wpd"},
	{"3C3F786D6C", "xml"},
}

// Unknown is returned by Identify when no header matches.
var Unknown = Known{Name: "unknown"}

// IdentifyReader matches the start of r against the known header table.
func IdentifyReader(r io.ReaderAt) Known {
	for _, k := range knownTypes {
		sig, err := ParseSignature(k.Code, 0)
		if err != nil {
			continue
		}
		if sig.MatchAt(r) {
			return k
		}
	}
	return Unknown
}

// Identify names the file type of path by its header.
func (c *Classifier) Identify(path string) (Known, error) {
	f, err := c.fs.Open(path)
	if err != nil {
		return Unknown, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return IdentifyReader(f), nil
}
