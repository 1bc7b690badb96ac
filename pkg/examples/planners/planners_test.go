package planners

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/openfroyo/rulegraph/pkg/addressable"
	"github.com/openfroyo/rulegraph/pkg/config"
	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/fstree"
)

func loadBuild(t *testing.T) (*Build, *engine.Scheduler) {
	t.Helper()
	tree, err := fstree.New(filepath.Join("testdata", "build"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tree.Close() })

	loader, err := config.NewProjectLoader(tree, config.DefaultSettings().Project, nil)
	require.NoError(t, err)
	build, err := Load(context.Background(), loader)
	require.NoError(t, err)
	return build, engine.NewScheduler(build.Index, engine.WithProjectTree(tree))
}

func execute(t *testing.T, sched *engine.Scheduler, spec string, product engine.Product, opts ...engine.ExecuteOption) engine.State {
	t.Helper()
	state, err := sched.ExecuteOne(context.Background(), addressable.MustParseAddress(spec), product, opts...)
	require.NoError(t, err)
	return state
}

func requireReturn(t *testing.T, state engine.State) any {
	t.Helper()
	ret, ok := state.(engine.Return)
	require.True(t, ok, "expected Return, got %s", state)
	return ret.Value
}

func requireThrow(t *testing.T, state engine.State) error {
	t.Helper()
	throw, ok := state.(engine.Throw)
	require.True(t, ok, "expected Throw, got %s", state)
	return throw.Err
}

var (
	classpathProduct = engine.ProductOf[Classpath]()
	jarProduct       = engine.ProductOf[Jar]()
)

func TestLoadExampleBuild(t *testing.T) {
	build, _ := loadBuild(t)

	var specs []string
	for _, a := range build.Project.Mapper.Addresses() {
		specs = append(specs, a.String())
	}
	assert.Equal(t, []string{
		"3rdparty/jvm:guava",
		"3rdparty/jvm:libthrift-0.9.2",
		"3rdparty/jvm/managed:guava",
		"3rdparty/jvm/managed:hadoop-common",
		"src/java/codegen/simple:simple",
		"src/java/codegen/unconfigured:unconfigured",
		"src/java/consumes_resources:consumes_resources",
		"src/java/managed_thirdparty:managed_thirdparty",
		"src/java/multiple_classpath_entries:multiple_classpath_entries",
		"src/java/simple:simple",
		"src/resources/simple:properties",
		"src/resources/simple:simple",
		"src/thrift/codegen/simple:simple",
		"src/thrift/codegen/unconfigured:unconfigured",
	}, specs)

	for _, name := range []string{"gen_apache_thrift", "ivy_resolve", "select_rev", "javac", "read_manifest"} {
		_, ok := build.Index.Rule(name)
		assert.True(t, ok, name)
	}
}

func TestResolveJar(t *testing.T) {
	_, sched := loadBuild(t)

	jar := requireReturn(t, execute(t, sched, "3rdparty/jvm:guava", jarProduct))
	assert.Equal(t, Jar{Org: "com.google.guava", Name: "guava", Rev: "19.0"}, jar)

	cp := requireReturn(t, execute(t, sched, "3rdparty/jvm:guava", classpathProduct))
	assert.Equal(t, Classpath{
		Creator: "ivy_resolve",
		Entries: []string{"com.google.guava/guava/guava-19.0.jar"},
	}, cp)
}

func TestCompileWithThirdParty(t *testing.T) {
	_, sched := loadBuild(t)

	cp := requireReturn(t, execute(t, sched, "src/java/simple", classpathProduct))
	assert.Equal(t, Classpath{
		Creator: "javac",
		Entries: []string{
			"src/java/simple/Simple.class",
			"com.google.guava/guava/guava-19.0.jar",
		},
	}, cp)
}

func TestCodegenSimple(t *testing.T) {
	_, sched := loadBuild(t)

	cp := requireReturn(t, execute(t, sched, "src/java/codegen/simple", classpathProduct))
	assert.Equal(t, Classpath{
		Creator: "javac",
		Entries: []string{
			"src/java/codegen/simple/Simple.class",
			"gen-java/simple/Simple.class",
			"org.apache.thrift/libthrift/libthrift-0.9.2.jar",
		},
	}, cp)

	// The thrift dependency was computed with the variant of the address
	// that named it.
	thrift := addressable.MustParseAddress("src/thrift/codegen/simple")
	variants := engine.NewVariants(engine.VariantPair{Key: "thrift", Value: "apache_java"})
	gen := engine.NewSelectNode(thrift, engine.ProductOf[JavaSources](), variants, "")
	state, ok := sched.Graph().State(gen)
	require.True(t, ok, "%s is not in the graph", gen)
	sources := requireReturn(t, state).(JavaSources)
	assert.Equal(t, []string{"gen-java/simple/Simple.java"}, sources.Files)
}

func TestCodegenNeedsVariant(t *testing.T) {
	_, sched := loadBuild(t)

	state := execute(t, sched, "src/thrift/codegen/simple", engine.ProductOf[JavaSources]())
	assert.IsType(t, engine.Noop{}, state)

	broken := engine.NewVariants(engine.VariantPair{Key: "thrift", Value: "broken"})
	err := requireThrow(t, execute(t, sched, "src/thrift/codegen/simple",
		engine.ProductOf[JavaSources](), engine.WithVariants(broken)))
	assert.True(t, engine.IsTaskFailure(err), err.Error())
	assert.Contains(t, err.Error(), "thrift compiler fail failed")
}

func TestUnconfiguredCodegenDependency(t *testing.T) {
	_, sched := loadBuild(t)

	assert.IsType(t, engine.Noop{}, execute(t, sched, "src/thrift/codegen/unconfigured", classpathProduct))

	err := requireThrow(t, execute(t, sched, "src/java/codegen/unconfigured", classpathProduct))
	assert.True(t, engine.IsMissingDependency(err), err.Error())
}

func TestConsumesResources(t *testing.T) {
	_, sched := loadBuild(t)

	cp := requireReturn(t, execute(t, sched, "src/java/consumes_resources", classpathProduct))
	assert.Equal(t, Classpath{
		Creator: "javac",
		Entries: []string{
			"src/java/consumes_resources/Consumer.class",
			"src/resources/simple/a.txt",
			"src/resources/simple/b.txt",
			"src/java/simple/Simple.class",
			"com.google.guava/guava/guava-19.0.jar",
		},
	}, cp)
}

func TestWriteNameFile(t *testing.T) {
	_, sched := loadBuild(t)

	cp := requireReturn(t, execute(t, sched, "src/resources/simple:properties", classpathProduct))
	assert.Equal(t, Classpath{Creator: "write_name_file", Entries: []string{"build.properties"}}, cp)
}

func TestManagedResolve(t *testing.T) {
	_, sched := loadBuild(t)

	cp := requireReturn(t, execute(t, sched, "src/java/managed_thirdparty", classpathProduct))
	assert.Equal(t, Classpath{
		Creator: "javac",
		Entries: []string{
			"src/java/managed_thirdparty/ManagedConsumer.class",
			"com.google.guava/guava/guava-18.0.jar",
			"org.apache.hadoop/hadoop-common/hadoop-common-2.7.0.jar",
		},
	}, cp)

	latest := engine.NewVariants(engine.VariantPair{Key: "resolve", Value: "latest-hadoop"})
	jar := requireReturn(t, execute(t, sched, "3rdparty/jvm/managed:hadoop-common", jarProduct, engine.WithVariants(latest)))
	assert.Equal(t, Jar{Org: "org.apache.hadoop", Name: "hadoop-common", Rev: "2.7.0"}, jar)
}

func TestManagedResolveVariants(t *testing.T) {
	_, sched := loadBuild(t)

	// Without a resolve variant a managed jar has no revision.
	assert.IsType(t, engine.Noop{}, execute(t, sched, "3rdparty/jvm/managed:guava", jarProduct))

	stable := engine.NewVariants(engine.VariantPair{Key: "resolve", Value: "stable"})
	jar := requireReturn(t, execute(t, sched, "3rdparty/jvm/managed:guava", jarProduct, engine.WithVariants(stable)))
	assert.Equal(t, Jar{Org: "com.google.guava", Name: "guava", Rev: "16.0"}, jar)

	// A requested variant overrides the default variants of the target.
	err := requireThrow(t, execute(t, sched, "src/java/managed_thirdparty", classpathProduct, engine.WithVariants(stable)))
	assert.True(t, engine.IsTaskFailure(err), err.Error())
	assert.Contains(t, err.Error(), "does not pin org.apache.hadoop#hadoop-common")
}

func TestMultipleClasspathEntries(t *testing.T) {
	_, sched := loadBuild(t)

	err := requireThrow(t, execute(t, sched, "src/java/multiple_classpath_entries", classpathProduct))
	assert.True(t, engine.IsConflictingProducers(err), err.Error())
}

func TestReadManifest(t *testing.T) {
	_, sched := loadBuild(t)

	manifest := requireReturn(t, execute(t, sched, "src/resources/simple", engine.ProductOf[ResourceManifest]()))
	sum := blake2b.Sum256([]byte("# resources\na.txt\n\nb.txt\n"))
	assert.Equal(t, ResourceManifest{
		Path:    "src/resources/simple/MANIFEST",
		Entries: []string{"a.txt", "b.txt"},
		Digest:  hex.EncodeToString(sum[:]),
	}, manifest)
}

func TestAddressSpecs(t *testing.T) {
	_, sched := loadBuild(t)
	addresses := engine.ProductOf[addressable.Addresses]()

	state, err := sched.ExecuteOne(context.Background(), addressable.SiblingAddresses{Directory: "src/resources/simple"}, addresses)
	require.NoError(t, err)
	assert.Equal(t, addressable.Addresses{Dependencies: []addressable.Address{
		addressable.NewAddress("src/resources/simple", "properties"),
		addressable.NewAddress("src/resources/simple", "simple"),
	}}, requireReturn(t, state))

	state, err = sched.ExecuteOne(context.Background(), addressable.DescendantAddresses{Directory: "src/thrift"}, addresses)
	require.NoError(t, err)
	assert.Equal(t, addressable.Addresses{Dependencies: []addressable.Address{
		addressable.NewAddress("src/thrift/codegen/simple", "simple"),
		addressable.NewAddress("src/thrift/codegen/unconfigured", "unconfigured"),
	}}, requireReturn(t, state))
}

func TestCompileGoal(t *testing.T) {
	_, sched := loadBuild(t)

	products, err := GoalProducts("compile")
	require.NoError(t, err)
	_, err = GoalProducts("deploy")
	require.Error(t, err)

	var roots []engine.Root
	for _, spec := range []string{"src/java/simple", "src/java/multiple_classpath_entries", "src/java/consumes_resources"} {
		for _, p := range products {
			roots = append(roots, engine.Root{Subject: addressable.MustParseAddress(spec), Product: p})
		}
	}
	result, err := sched.Execute(context.Background(), engine.ExecutionRequest{Roots: roots})
	require.NoError(t, err)
	require.Len(t, result.Roots, 3)

	failed, ok := result.FirstFailure()
	require.True(t, ok)
	assert.Equal(t, roots[1].Subject, failed.Root.Subject)
	_, ok = result.Roots[2].Value()
	assert.True(t, ok)
}

func TestJavac(t *testing.T) {
	cp, err := Javac(JavaSources{Files: []string{"a/A.java", "a/B.java"}}, []any{
		Classpath{Creator: "ivy_resolve", Entries: []string{"x.jar"}},
		Classpath{Creator: "javac", Entries: []string{"b/C.class", "x.jar"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/A.class", "a/B.class", "x.jar", "b/C.class"}, cp.Entries)

	_, err = Javac(JavaSources{}, []any{Jar{}})
	require.Error(t, err)
}

func TestSelectRev(t *testing.T) {
	resolve := ManagedResolve{ResolveName: "r", Revs: map[string]string{"o#n": "1.0"}}
	jar, err := SelectRev(ManagedJar{Org: "o", Name: "n"}, resolve)
	require.NoError(t, err)
	assert.Equal(t, Jar{Org: "o", Name: "n", Rev: "1.0"}, jar)

	_, err = SelectRev(ManagedJar{Org: "o", Name: "missing"}, resolve)
	require.Error(t, err)
}
