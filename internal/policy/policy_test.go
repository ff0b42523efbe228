package policy_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/ftpmirror/internal/policy"
)

const doc = `{
  "data": {
    "netFilePolicy": {
      "Policies": [
        {
          "serverIp": "10.0.0.9",
          "serverPort": 21,
          "cacheDays": 1,
          "filterPolicy": [{"subFixAllow": "log"}]
        },
        {
          "serverIp": "10.0.0.1",
          "serverPort": "21",
          "cacheDays": "7",
          "filterPolicy": [
            {
              "subFixAllow": ["TXT", ".csv"],
              "sizeMinKB": 1,
              "sizeMaxKB": "100",
              "contentWhiteList": [{"regx": "^report"}],
              "contentBlackList": [{"regx": ""}, {"regx": "secret"}]
            },
            {
              "subFixAllow": "png, jpg",
              "fileTypeAllow": [
                {"IdentifyBytes": [{"typeBytes": "89 50 4E 47", "offset": 0}]},
                {"typeBytes": "FFD8FF", "offset": "0"}
              ]
            },
            {
              "subFixAllow": "txt"
            }
          ]
        }
      ]
    }
  }
}`

func TestParse_ResolvesHostAndPort(t *testing.T) {
	p, err := policy.Parse([]byte(doc), "10.0.0.1", 21)
	require.NoError(t, err)

	assert.Equal(t, 7, p.CacheDays)
	require.Len(t, p.Rules, 3)

	r := p.Rules[0]
	assert.Equal(t, []string{"txt", "csv"}, r.SuffixAllow)
	assert.Equal(t, int64(1), r.SizeMinKB)
	assert.Equal(t, int64(100), r.SizeMaxKB)
	require.Len(t, r.ContentWhiteList, 1)
	require.Len(t, r.ContentBlackList, 2)
	assert.True(t, r.ContentBlackList[0].Empty())

	img := p.Rules[1]
	assert.Equal(t, []string{"png", "jpg"}, img.SuffixAllow)
	require.Len(t, img.FileTypeAllow, 2)
	assert.Equal(t, []byte{0x89, 0x50, 0x4E, 0x47}, img.FileTypeAllow[0].Bytes)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, img.FileTypeAllow[1].Bytes)
}

func TestParse_NoMatchingEndpoint(t *testing.T) {
	p, err := policy.Parse([]byte(doc), "10.0.0.1", 2121)
	require.NoError(t, err)
	assert.False(t, p.Filtering())
}

func TestParse_TopLevelForm(t *testing.T) {
	top := `{"netFilePolicy": {"Policies": [{"serverIp": "h", "serverPort": 22, "cacheDays": 0,
	  "filterPolicy": [{"subFixAllow": ["bin"]}]}]}}`
	p, err := policy.Parse([]byte(top), "h", 22)
	require.NoError(t, err)
	require.Len(t, p.Rules, 1)
	assert.Equal(t, []string{"bin"}, p.Rules[0].SuffixAllow)
}

func TestParse_Malformed(t *testing.T) {
	cases := map[string]string{
		"syntax":        `{"data": `,
		"no policies":   `{"data": {}}`,
		"bad regex":     `{"netFilePolicy": {"Policies": [{"serverIp": "h", "serverPort": 21, "filterPolicy": [{"contentBlackList": [{"regx": "("}]}]}]}}`,
		"bad signature": `{"netFilePolicy": {"Policies": [{"serverIp": "h", "serverPort": 21, "filterPolicy": [{"fileTypeAllow": [{"typeBytes": "XYZ"}]}]}]}}`,
		"bad number":    `{"netFilePolicy": {"Policies": [{"serverIp": "h", "serverPort": "abc"}]}}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := policy.Parse([]byte(in), "h", 21)
			require.Error(t, err)
		})
	}
}

func TestLoad_FallsBackToEmptyPolicy(t *testing.T) {
	fs := afero.NewMemMapFs()

	p, err := policy.Load(fs, "", "h", 21)
	require.NoError(t, err)
	assert.False(t, p.Filtering())

	p, err = policy.Load(fs, "/missing.json", "h", 21)
	var pe *policy.Error
	require.ErrorAs(t, err, &pe)
	assert.True(t, policy.IsNotExist(err))
	require.NotNil(t, p)
	assert.False(t, p.Filtering())

	require.NoError(t, afero.WriteFile(fs, "/bad.json", []byte("not json"), 0o644))
	p, err = policy.Load(fs, "/bad.json", "h", 21)
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "/bad.json", pe.Path)
	assert.False(t, p.Filtering())

	require.NoError(t, afero.WriteFile(fs, "/good.json", []byte(doc), 0o644))
	p, err = policy.Load(fs, "/good.json", "10.0.0.1", 21)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", p.Host)
	assert.Equal(t, 21, p.Port)
	assert.True(t, p.Filtering())
}

func TestRuleFor_FirstMatchWins(t *testing.T) {
	p, err := policy.Parse([]byte(doc), "10.0.0.1", 21)
	require.NoError(t, err)

	r, ok := p.RuleFor("TXT")
	require.True(t, ok)
	assert.Same(t, &p.Rules[0], r, "earlier rule shadows the later txt rule")

	r, ok = p.RuleFor("jpg")
	require.True(t, ok)
	assert.Same(t, &p.Rules[1], r)

	_, ok = p.RuleFor("bin")
	assert.False(t, ok)
}

func TestRuleFor_EmptyPolicyAdmitsAll(t *testing.T) {
	r, ok := policy.Empty().RuleFor("anything")
	assert.True(t, ok)
	assert.Nil(t, r)
}

func TestRuleFor_EmptySuffixSetMatchesAll(t *testing.T) {
	p := &policy.Policy{Rules: []policy.Rule{{}}}
	r, ok := p.RuleFor("")
	require.True(t, ok)
	assert.NotNil(t, r)
}

func TestRule_SizeAllowed(t *testing.T) {
	r := policy.Rule{SizeMinKB: 1, SizeMaxKB: 100}

	assert.False(t, r.SizeAllowed(0))
	assert.True(t, r.SizeAllowed(1))
	assert.True(t, r.SizeAllowed(100*1024))
	assert.False(t, r.SizeAllowed(100*1024+1), "rounds up to 101KB")

	unbounded := policy.Rule{SizeMinKB: 0, SizeMaxKB: 0}
	assert.True(t, unbounded.SizeAllowed(1<<40))
}

func TestRule_ContentLists(t *testing.T) {
	white, _ := policy.CompilePattern("^report")
	emptyW, _ := policy.CompilePattern("")
	black, _ := policy.CompilePattern("secret")
	emptyB, _ := policy.CompilePattern("")

	r := policy.Rule{ContentWhiteList: []policy.Pattern{white}, ContentBlackList: []policy.Pattern{emptyB, black}}
	assert.True(t, r.WhiteListed([]byte("report: ok")))
	assert.False(t, r.WhiteListed([]byte("other")))

	p, hit := r.BlackListed([]byte("report with secret inside"))
	assert.True(t, hit)
	assert.Equal(t, "secret", p.Source)
	_, hit = r.BlackListed([]byte("report clean"))
	assert.False(t, hit, "empty black-list pattern is ignored")

	anyWhite := policy.Rule{ContentWhiteList: []policy.Pattern{white, emptyW}}
	assert.True(t, anyWhite.WhiteListed([]byte("other")), "empty white-list pattern matches")

	none := policy.Rule{}
	assert.True(t, none.WhiteListed([]byte("x")))
}

func TestPolicy_Expired(t *testing.T) {
	now := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
	p := &policy.Policy{CacheDays: 1}

	assert.Equal(t, 1, policy.AgeDays(time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC), now))
	assert.False(t, p.Expired(time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC), now))
	assert.True(t, p.Expired(time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC), now))

	unlimited := &policy.Policy{}
	assert.False(t, unlimited.Expired(time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), now))
}
