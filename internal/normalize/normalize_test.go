package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/logfan/internal/logrecord"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New(Config{
		SensitivePattern: "(?i)(nvidia|triton)",
		FilteredStrings:  []string{"license boilerplate"},
	})
	require.NoError(t, err)
	return n
}

func decode(t *testing.T, s string) logrecord.Raw {
	t.Helper()
	r, err := logrecord.Decode([]byte(s))
	require.NoError(t, err)
	return r
}

func TestNormalizeText(t *testing.T) {
	n := newTestNormalizer(t)
	cases := []struct {
		name string
		in   string
		opts Options
		want string
	}{
		{"build prefixes and exact id", `{"identifierId":"job-42","log":"[stage]I0101 12:00:00 x.go:1] job-42 - hello world"}`, Options{Mode: ModeBuild}, "hello world"},
		{"inference prefix", `{"log":"I0101 server.py:10] ready"}`, Options{Mode: ModeInference}, "ready"},
		{"inference keeps brackets", `{"log":"[x] ready"}`, Options{Mode: ModeInference}, "[x] ready"},
		{"raw mode", `{"log":"[x] text"}`, Options{Mode: ModeRaw}, "[x] text"},
		{"sensitive blanked", `{"log":"nvidia driver loaded"}`, Options{Mode: ModeBuild}, ""},
		{"sensitive case insensitive", `{"log":"Starting TRITON server"}`, Options{Mode: ModeBuild}, ""},
		{"sensitive ignored", `{"log":"nvidia driver loaded"}`, Options{Mode: ModeBuild, Ignore: true}, "nvidia driver loaded"},
		{"filtered boilerplate", `{"log":"license boilerplate"}`, Options{Mode: ModeBuild}, ""},
		{"filtered after trim", `{"log":"  license boilerplate  "}`, Options{Mode: ModeBuild}, ""},
		{"embedded id", `{"identifierId":["job-42"],"log":"step 3 job-42 - compiling"}`, Options{Mode: ModeBuild}, "step 3 compiling"},
		{"hex id without identifier", `{"log":"0123456789abcdef0123456789abcdef - started"}`, Options{Mode: ModeBuild}, "started"},
		{"hex id glued", `{"log":"x0123456789abcdef0123456789abcdef-started"}`, Options{Mode: ModeBuild}, "xstarted"},
		{"split fallback", `{"identifierId":"job-42","log":"prefix:job-42 - done"}`, Options{Mode: ModeBuild}, "done"},
		{"first rule wins", `{"identifierId":"abc","log":"abc - abc - x"}`, Options{Mode: ModeBuild}, "abc - x"},
		{"leading dashes", `{"log":"-- hello"}`, Options{Mode: ModeBuild}, "hello"},
		{"message fallback", `{"log":"","message":"from message"}`, Options{Mode: ModeBuild}, "from message"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := n.Normalize(decode(t, tc.in), tc.opts)
			assert.Equal(t, tc.want, got.Log)
		})
	}
}

func TestNormalizeTimeAndStream(t *testing.T) {
	n := newTestNormalizer(t)

	got := n.Normalize(decode(t, `{"log":"x"}`), Options{})
	assert.Equal(t, UnknownTime, got.Time)
	assert.Equal(t, DefaultStream, got.Stream)

	got = n.Normalize(decode(t, `{"@timestamp":"ts","stream":"stderr","log":"x"}`), Options{})
	assert.Equal(t, "ts", got.Time)
	assert.Equal(t, "stderr", got.Stream)

	got = n.Normalize(decode(t, `{"time":"t1","@timestamp":"ts","log":"x"}`), Options{})
	assert.Equal(t, "t1", got.Time)
}

func TestNormalizeDeterministic(t *testing.T) {
	n := newTestNormalizer(t)
	r := decode(t, `{"identifierId":"job-42","time":"t","log":"[a] job-42 - same"}`)
	a := n.Normalize(r, Options{Mode: ModeBuild})
	b := n.Normalize(r, Options{Mode: ModeBuild})
	assert.Equal(t, a.Log, b.Log)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestNormalizeRecoversFromFailingRule(t *testing.T) {
	boom := StripRule{Name: "boom", Apply: func(string, string) (string, bool) { panic("boom") }}
	n, err := New(Config{}, WithRules([]StripRule{boom}))
	require.NoError(t, err)

	got := n.Normalize(decode(t, `{"log":"  - kept"}`), Options{Mode: ModeBuild})
	assert.Equal(t, "kept", got.Log)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeBuild, m)
	m, err = ParseMode("INFERENCE")
	require.NoError(t, err)
	assert.Equal(t, ModeInference, m)
	_, err = ParseMode("bogus")
	assert.Error(t, err)
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(Config{SensitivePattern: "("})
	assert.Error(t, err)
}
