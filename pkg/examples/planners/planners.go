package planners

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/openfroyo/rulegraph/pkg/addressable"
	"github.com/openfroyo/rulegraph/pkg/engine"
)

// JavaSources are java files and the dependencies they compile against.
type JavaSources struct {
	Files        []string
	Dependencies []addressable.Ref
}

// ThriftSources are thrift IDL files. Java is generated from them once a
// thrift variant selects a generator configuration.
type ThriftSources struct {
	Files        []string
	Dependencies []addressable.Ref
}

// ResourceSources are files copied onto the classpath as they are. Manifest
// optionally names a file listing them.
type ResourceSources struct {
	Files    []string
	Manifest engine.Path
}

// ResourceManifest is the parsed manifest of a ResourceSources.
type ResourceManifest struct {
	Path    string
	Entries []string
	// Digest is the hex BLAKE2b-256 digest of the manifest file.
	Digest string
}

// BuildPropertiesConfiguration asks for a build.properties file on the classpath.
type BuildPropertiesConfiguration struct {
	Properties map[string]string
}

// Classpath is the output of a compiler or resolver.
type Classpath struct {
	Creator string
	Entries []string
}

// Jar is a concrete third party artifact.
type Jar struct {
	Org  string
	Name string
	Rev  string
}

func (j Jar) String() string { return j.Org + "#" + j.Name + ";" + j.Rev }

// ManagedJar is a jar without a revision. A ManagedResolve picks the revision.
type ManagedJar struct {
	Org  string
	Name string
}

// ManagedResolve pins the revisions of managed jars, keyed by "org#name".
// It is selected through the "resolve" variant.
type ManagedResolve struct {
	ResolveName string
	Revs        map[string]string
}

// Name implements engine.Named.
func (r ManagedResolve) Name() string { return r.ResolveName }

// ApacheThriftJavaConfiguration configures java generation with the apache
// thrift compiler. It is selected through the "thrift" variant.
type ApacheThriftJavaConfiguration struct {
	ConfigName   string
	Rev          string
	Strict       bool
	Dependencies []addressable.Ref
}

// Name implements engine.Named.
func (c ApacheThriftJavaConfiguration) Name() string { return c.ConfigName }

var (
	_ engine.Named = ManagedResolve{}
	_ engine.Named = ApacheThriftJavaConfiguration{}
)

// GenApacheThrift generates java from thrift sources. The generated sources
// depend on whatever the thrift sources and the configuration depend on.
func GenApacheThrift(sources ThriftSources, config ApacheThriftJavaConfiguration) (JavaSources, error) {
	if config.Rev == "fail" {
		return JavaSources{}, fmt.Errorf("thrift compiler %s failed on %s",
			config.Rev, strings.Join(sources.Files, ", "))
	}
	out := JavaSources{
		Files:        make([]string, 0, len(sources.Files)),
		Dependencies: make([]addressable.Ref, 0, len(sources.Dependencies)+len(config.Dependencies)),
	}
	for _, f := range sources.Files {
		base := strings.TrimSuffix(path.Base(f), path.Ext(f))
		out.Files = append(out.Files, path.Join("gen-java", base, exportName(base)+".java"))
	}
	out.Dependencies = append(out.Dependencies, sources.Dependencies...)
	out.Dependencies = append(out.Dependencies, config.Dependencies...)
	return out, nil
}

func exportName(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// IvyResolve fetches a jar.
func IvyResolve(jar Jar) (Classpath, error) {
	return Classpath{
		Creator: "ivy_resolve",
		Entries: []string{fmt.Sprintf("%s/%s/%s-%s.jar", jar.Org, jar.Name, jar.Name, jar.Rev)},
	}, nil
}

// SelectRev pins a managed jar to the revision of resolve.
func SelectRev(jar ManagedJar, resolve ManagedResolve) (Jar, error) {
	key := jar.Org + "#" + jar.Name
	rev, ok := resolve.Revs[key]
	if !ok || rev == "" {
		return Jar{}, fmt.Errorf("resolve %s does not pin %s", resolve.ResolveName, key)
	}
	return Jar{Org: jar.Org, Name: jar.Name, Rev: rev}, nil
}

// IsolateResources puts resources on the classpath.
func IsolateResources(resources ResourceSources) (Classpath, error) {
	entries := append([]string(nil), resources.Files...)
	sort.Strings(entries)
	return Classpath{Creator: "isolate_resources", Entries: entries}, nil
}

// WriteNameFile writes build.properties.
func WriteNameFile(BuildPropertiesConfiguration) (Classpath, error) {
	return Classpath{Creator: "write_name_file", Entries: []string{"build.properties"}}, nil
}

// Javac compiles java sources. The classpath holds the compiled classes
// followed by the entries of every dependency, first occurrence wins.
func Javac(sources JavaSources, deps []any) (Classpath, error) {
	cp := Classpath{Creator: "javac"}
	seen := make(map[string]struct{})
	add := func(entry string) {
		if _, dup := seen[entry]; dup {
			return
		}
		seen[entry] = struct{}{}
		cp.Entries = append(cp.Entries, entry)
	}
	for _, f := range sources.Files {
		add(strings.TrimSuffix(f, ".java") + ".class")
	}
	for i, d := range deps {
		dc, ok := d.(Classpath)
		if !ok {
			return Classpath{}, fmt.Errorf("dependency %d is a %T, not a classpath", i, d)
		}
		for _, e := range dc.Entries {
			add(e)
		}
	}
	return cp, nil
}

// ReadManifest parses a resource manifest: one entry per line, blank lines
// and lines starting with '#' ignored.
func ReadManifest(content engine.FileContent) (ResourceManifest, error) {
	sum := blake2b.Sum256(content.Content)
	m := ResourceManifest{Path: content.Path, Digest: hex.EncodeToString(sum[:])}
	sc := bufio.NewScanner(bytes.NewReader(content.Content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m.Entries = append(m.Entries, line)
	}
	if err := sc.Err(); err != nil {
		return ResourceManifest{}, fmt.Errorf("failed to read manifest %s: %w", content.Path, err)
	}
	return m, nil
}

// Rules returns the rules of the example JVM build.
func Rules() *engine.RuleSet {
	return engine.NewRuleSet().Add(
		engine.TaskRule{
			Name:   "gen_apache_thrift",
			Output: engine.ProductOf[JavaSources](),
			Clause: []engine.Selector{
				engine.SelectOf[ThriftSources](),
				engine.SelectVariant{Product: engine.ProductOf[ApacheThriftJavaConfiguration](), VariantKey: "thrift"},
			},
			Func: engine.Func2(GenApacheThrift),
		},
		engine.TaskRule{
			Name:   "ivy_resolve",
			Output: engine.ProductOf[Classpath](),
			Clause: []engine.Selector{engine.SelectOf[Jar]()},
			Func:   engine.Func1(IvyResolve),
		},
		engine.TaskRule{
			Name:   "select_rev",
			Output: engine.ProductOf[Jar](),
			Clause: []engine.Selector{
				engine.SelectOf[ManagedJar](),
				engine.SelectVariant{Product: engine.ProductOf[ManagedResolve](), VariantKey: "resolve"},
			},
			Func: engine.Func2(SelectRev),
		},
		engine.TaskRule{
			Name:   "isolate_resources",
			Output: engine.ProductOf[Classpath](),
			Clause: []engine.Selector{engine.SelectOf[ResourceSources]()},
			Func:   engine.Func1(IsolateResources),
		},
		engine.TaskRule{
			Name:   "write_name_file",
			Output: engine.ProductOf[Classpath](),
			Clause: []engine.Selector{engine.SelectOf[BuildPropertiesConfiguration]()},
			Func:   engine.Func1(WriteNameFile),
		},
		engine.TaskRule{
			Name:   "javac",
			Output: engine.ProductOf[Classpath](),
			Clause: []engine.Selector{
				engine.SelectOf[JavaSources](),
				engine.SelectDependencies{
					Product:     engine.ProductOf[Classpath](),
					DepsProduct: engine.ProductOf[JavaSources](),
					Field:       "Dependencies",
				},
			},
			Func: engine.Func2(Javac),
		},
		engine.TaskRule{
			Name:   "read_manifest",
			Output: engine.ProductOf[ResourceManifest](),
			Clause: []engine.Selector{
				engine.SelectProjection{
					Product:          engine.ProductOf[engine.FileContent](),
					ProjectedSubject: engine.ProductOf[engine.Path](),
					Fields:           []string{"Manifest"},
					InputProduct:     engine.ProductOf[ResourceSources](),
				},
			},
			Func: engine.Func1(ReadManifest),
		},
	)
}
