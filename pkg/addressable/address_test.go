package addressable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		spec    string
		want    Address
		wantStr string
		wantErr bool
	}{
		{spec: "3rdparty/jvm:guava", want: NewAddress("3rdparty/jvm", "guava"), wantStr: "3rdparty/jvm:guava"},
		{spec: "src/java/simple", want: NewAddress("src/java/simple", "simple"), wantStr: "src/java/simple:simple"},
		{spec: "//src/java/simple:lib", want: NewAddress("src/java/simple", "lib"), wantStr: "src/java/simple:lib"},
		{spec: ":root", want: NewAddress("", "root"), wantStr: ":root"},
		{spec: "./src/a/../b:x", want: NewAddress("src/b", "x"), wantStr: "src/b:x"},
		{
			spec:    "src/thrift:slf4j@thrift=apache_java,jdk=8",
			want:    Address{SpecPath: "src/thrift", TargetName: "slf4j", Variants: engine.VariantsFromMap(map[string]string{"thrift": "apache_java", "jdk": "8"})},
			wantStr: "src/thrift:slf4j@jdk=8,thrift=apache_java",
		},
		{spec: "", wantErr: true},
		{spec: "src:", wantErr: true},
		{spec: "/abs:x", wantErr: true},
		{spec: "../out:x", wantErr: true},
		{spec: "src:a/b", wantErr: true},
		{spec: "src:a@novalue", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseAddress(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantStr, got.String())
		})
	}
}

func TestParseRelative(t *testing.T) {
	a, err := ParseRelative(":sibling", "src/java/lib")
	require.NoError(t, err)
	assert.Equal(t, NewAddress("src/java/lib", "sibling"), a)

	a, err = ParseRelative("3rdparty/jvm:guava", "src/java/lib")
	require.NoError(t, err)
	assert.Equal(t, NewAddress("3rdparty/jvm", "guava"), a, "absolute specs ignore the base")
}

func TestParseVariants(t *testing.T) {
	v, err := ParseVariants("resolve=latest, thrift=apache_java,resolve=stable")
	require.NoError(t, err)
	assert.Equal(t, "resolve=stable,thrift=apache_java", v.String())

	v, err = ParseVariants("")
	require.NoError(t, err)
	assert.True(t, v.IsEmpty())

	_, err = ParseVariants("=x")
	assert.Error(t, err)
}

func TestStripVariants(t *testing.T) {
	spec, variants := StripVariants("src:a@k=v")
	assert.Equal(t, "src:a", spec)
	assert.Equal(t, "k=v", variants)

	spec, variants = StripVariants("src:a")
	assert.Equal(t, "src:a", spec)
	assert.Empty(t, variants)
}

func TestAddressSplitVariants(t *testing.T) {
	a := MustParseAddress("src:a@k=v")
	subject, variants := a.SplitVariants()
	assert.Equal(t, NewAddress("src", "a"), subject)
	assert.Equal(t, "k=v", variants.String())
	assert.Equal(t, "src:a", a.Spec())
}

func TestRefs(t *testing.T) {
	unresolved := Unresolved(MustParseAddress("src:a@k=v"))
	assert.False(t, unresolved.IsResolved())
	a, ok := unresolved.Address()
	assert.True(t, ok)
	assert.Equal(t, "src:a@k=v", a.String())
	_, ok = unresolved.Value()
	assert.False(t, ok)
	subject, variants := unresolved.SplitVariants()
	assert.Equal(t, NewAddress("src", "a"), subject)
	assert.Equal(t, "k=v", variants.String())

	resolved := Resolved("inline")
	assert.True(t, resolved.IsResolved())
	v, ok := resolved.Value()
	assert.True(t, ok)
	assert.Equal(t, "inline", v)
	subject, variants = resolved.SplitVariants()
	assert.Equal(t, "inline", subject)
	assert.True(t, variants.IsEmpty())
	assert.Equal(t, "inline", resolved.String())
}

func TestParseSpec(t *testing.T) {
	s, err := ParseSpec("3rdparty/jvm::")
	require.NoError(t, err)
	assert.Equal(t, DescendantAddresses{Directory: "3rdparty/jvm"}, s)

	s, err = ParseSpec("3rdparty/jvm:")
	require.NoError(t, err)
	assert.Equal(t, SiblingAddresses{Directory: "3rdparty/jvm"}, s)

	s, err = ParseSpec("::")
	require.NoError(t, err)
	assert.Equal(t, DescendantAddresses{}, s)

	s, err = ParseSpec("3rdparty/jvm:guava")
	require.NoError(t, err)
	assert.Equal(t, NewAddress("3rdparty/jvm", "guava"), s)

	_, err = ParseSpec("../x::")
	assert.Error(t, err)
}

func TestInSpecPath(t *testing.T) {
	match := InSpecPath("src")
	assert.True(t, match(NewAddress("src", "a")))
	assert.False(t, match(NewAddress("src/sub", "a")))
	assert.False(t, match("src"))

	assert.True(t, match(SiblingAddresses{Directory: "src"}))
	assert.False(t, match(SiblingAddresses{Directory: "src/sub"}))
	assert.True(t, match(DescendantAddresses{}))
	assert.True(t, match(DescendantAddresses{Directory: "src"}))
	assert.False(t, match(DescendantAddresses{Directory: "src/sub"}))
	assert.True(t, InSpecPath("src/sub/deep")(DescendantAddresses{Directory: "src/sub"}))
	assert.False(t, InSpecPath("srcx")(DescendantAddresses{Directory: "src"}))
}
