package policy

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"

	"github.com/bamsammich/ftpmirror/internal/classify"
)

// Error is a missing or malformed policy file. Callers continue with the
// empty policy.
type Error struct {
	Err  error
	Path string
}

func (e *Error) Error() string {
	return fmt.Sprintf("policy %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNoPolicies is returned for a document without a Policies list.
var ErrNoPolicies = errors.New("no netFilePolicy.Policies list")

// Load reads the policy file at path and resolves the entry for host and
// port. An empty path yields the empty policy. On any error the empty
// policy is returned alongside a *Error.
func Load(fs afero.Fs, path, host string, port int) (*Policy, error) {
	if path == "" {
		return Empty(), nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Empty(), &Error{Path: path, Err: err}
	}
	p, err := Parse(data, host, port)
	if err != nil {
		return Empty(), &Error{Path: path, Err: err}
	}
	return p, nil
}

// Parse decodes a policy document and resolves the entry for host and
// port. No matching entry yields the empty policy without error.
func Parse(data []byte, host string, port int) (*Policy, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	nfp := doc.NetFilePolicy
	if doc.Data != nil && doc.Data.NetFilePolicy != nil {
		nfp = doc.Data.NetFilePolicy
	}
	if nfp == nil || nfp.Policies == nil {
		return nil, ErrNoPolicies
	}

	for i, rp := range nfp.Policies {
		if !strings.EqualFold(strings.TrimSpace(rp.ServerIP), host) || int(rp.ServerPort) != port {
			continue
		}
		p, err := rp.build()
		if err != nil {
			return nil, fmt.Errorf("policy %d: %w", i, err)
		}
		p.Host, p.Port = host, port
		return p, nil
	}
	return Empty(), nil
}

type document struct {
	Data *struct {
		NetFilePolicy *netFilePolicy `json:"netFilePolicy"`
	} `json:"data"`
	NetFilePolicy *netFilePolicy `json:"netFilePolicy"`
}

type netFilePolicy struct {
	Policies []rawPolicy `json:"Policies"`
}

type rawPolicy struct {
	ServerIP     string    `json:"serverIp"`
	FilterPolicy []rawRule `json:"filterPolicy"`
	ServerPort   flexInt   `json:"serverPort"`
	CacheDays    flexInt   `json:"cacheDays"`
}

type rawRule struct {
	SubFixAllow      flexList      `json:"subFixAllow"`
	ContentWhiteList []rawRegx     `json:"contentWhiteList"`
	ContentBlackList []rawRegx     `json:"contentBlackList"`
	FileTypeAllow    []rawFileType `json:"fileTypeAllow"`
	SizeMinKB        flexInt       `json:"sizeMinKB"`
	SizeMaxKB        flexInt       `json:"sizeMaxKB"`
}

type rawRegx struct {
	Regx string `json:"regx"`
}

type rawSignature struct {
	TypeBytes string  `json:"typeBytes"`
	Offset    flexInt `json:"offset"`
}

// rawFileType accepts both {typeBytes, offset} and
// {IdentifyBytes: [{typeBytes, offset}, ...]}.
type rawFileType struct {
	rawSignature
	IdentifyBytes []rawSignature `json:"IdentifyBytes"`
}

func (rp rawPolicy) build() (*Policy, error) {
	if rp.CacheDays < 0 {
		return nil, fmt.Errorf("negative cacheDays %d", rp.CacheDays)
	}
	p := &Policy{CacheDays: int(rp.CacheDays)}
	for i, rr := range rp.FilterPolicy {
		r, err := rr.build()
		if err != nil {
			return nil, fmt.Errorf("filterPolicy[%d]: %w", i, err)
		}
		p.Rules = append(p.Rules, r)
	}
	return p, nil
}

func (rr rawRule) build() (Rule, error) {
	r := Rule{
		SuffixAllow: []string(rr.SubFixAllow),
		SizeMinKB:   int64(rr.SizeMinKB),
		SizeMaxKB:   int64(rr.SizeMaxKB),
	}
	var err error
	if r.ContentWhiteList, err = compileAll(rr.ContentWhiteList); err != nil {
		return Rule{}, fmt.Errorf("contentWhiteList: %w", err)
	}
	if r.ContentBlackList, err = compileAll(rr.ContentBlackList); err != nil {
		return Rule{}, fmt.Errorf("contentBlackList: %w", err)
	}
	for _, ft := range rr.FileTypeAllow {
		sigs := ft.IdentifyBytes
		if len(sigs) == 0 {
			sigs = []rawSignature{ft.rawSignature}
		}
		for _, rs := range sigs {
			s, err := classify.ParseSignature(rs.TypeBytes, int64(rs.Offset))
			if err != nil {
				return Rule{}, fmt.Errorf("fileTypeAllow: %w", err)
			}
			r.FileTypeAllow = append(r.FileTypeAllow, s)
		}
	}
	return r, nil
}

func compileAll(in []rawRegx) ([]Pattern, error) {
	out := make([]Pattern, 0, len(in))
	for _, x := range in {
		p, err := CompilePattern(x.Regx)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// flexInt accepts a JSON number, a numeric string or null.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		*f = 0
		return nil
	}
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if s == "" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", b)
	}
	*f = flexInt(v)
	return nil
}

// flexList accepts a list of strings or one string delimited by commas,
// semicolons, pipes or whitespace. Entries are lower-cased with any
// leading dot removed; "*" clears the list.
type flexList []string

func (l *flexList) UnmarshalJSON(b []byte) error {
	var items []string
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		items = strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == ';' || r == '|' || unicode.IsSpace(r)
		})
	} else if err := json.Unmarshal(b, &items); err != nil {
		return err
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(it), "."))
		if it == "*" {
			*l = nil
			return nil
		}
		if it != "" {
			out = append(out, it)
		}
	}
	*l = out
	return nil
}

// IsNotExist reports whether err is a policy file that does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
